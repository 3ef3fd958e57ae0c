package dj

import "time"

const (
	MaxCosmeticPer100ms = 20
	MaxPacketsPer100ms  = 25

	window         = 100 * time.Millisecond
	reduceCooldown = 500 * time.Millisecond
	stopCooldown   = 250 * time.Millisecond
	reduceAfterCap = 10 * time.Second
	lookSpacing    = 100 * time.Millisecond
	swingSpacing   = 150 * time.Millisecond
)

// RateLimiter estimates how many song related actions went out in the
// current 100ms window and backs off before a server's anti-automation
// checks would trigger. The zero value is usable but uses time.Now.
//
// Callers check CanSend* before sending and call the matching On*Sent after.
// It is not safe for concurrent use; the DJ task owns it.
type RateLimiter struct {
	now func() time.Time

	windowAt    time.Time
	hasWindow   bool
	count       int
	reduceUntil time.Time
	stopUntil   time.Time
	lastLookAt  time.Time
	lastSwingAt time.Time
	hasLook     bool
	hasSwing    bool
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	return &RateLimiter{now: now}
}

func (r *RateLimiter) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

// Reset forgets every window, cooldown and spacing timestamp.
func (r *RateLimiter) Reset() {
	*r = RateLimiter{now: r.now}
}

// Tick rolls the window over once 100ms have passed. Calling it more often is harmless.
func (r *RateLimiter) Tick() {
	now := r.clock()
	if !r.hasWindow || now.Sub(r.windowAt) >= window {
		r.count = 0
		r.windowAt = now
		r.hasWindow = true
	}
}

// Count is the estimated number of actions in the current window.
func (r *RateLimiter) Count() int { return r.count }

func (r *RateLimiter) OnPacketSent() {
	r.count++
	r.checkLimits()
}

func (r *RateLimiter) OnLookSent() {
	r.lastLookAt = r.clock()
	r.hasLook = true
	r.OnPacketSent()
}

func (r *RateLimiter) OnSwingSent() {
	r.lastSwingAt = r.clock()
	r.hasSwing = true
	r.OnPacketSent()
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func (r *RateLimiter) checkLimits() {
	now := r.clock()
	if r.count >= MaxCosmeticPer100ms {
		r.reduceUntil = later(r.reduceUntil, now.Add(reduceCooldown))
	}
	if r.count >= MaxPacketsPer100ms {
		logger.Printf("Stopping all song-related packets for a bit.")
		r.stopUntil = later(r.stopUntil, now.Add(stopCooldown))
		r.reduceUntil = later(r.reduceUntil, now.Add(reduceAfterCap))
	}
}

// CanSendCosmetic reports whether a look, swing or other cosmetic action may go out.
func (r *RateLimiter) CanSendCosmetic() bool {
	if !r.reduceUntil.IsZero() && !r.reduceUntil.Before(r.clock()) {
		return false
	}
	return r.count < MaxCosmeticPer100ms
}

// CanSend reports whether a functional action may go out.
func (r *RateLimiter) CanSend() bool {
	if !r.stopUntil.IsZero() && !r.stopUntil.Before(r.clock()) {
		return false
	}
	return r.count < MaxPacketsPer100ms
}

func (r *RateLimiter) CanSendLook() bool {
	if r.hasLook && r.clock().Sub(r.lastLookAt) < lookSpacing {
		return false
	}
	return r.CanSendCosmetic()
}

func (r *RateLimiter) CanSendSwing() bool {
	if r.hasSwing && r.clock().Sub(r.lastSwingAt) < swingSpacing {
		return false
	}
	return r.CanSendCosmetic()
}
