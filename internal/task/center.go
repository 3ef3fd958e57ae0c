package task

import (
	"math"
	"time"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/geom"
)

const maxCenterAttempts = 25

type centerState int

const (
	centerWaitForStandstill centerState = iota
	centerCheckAndLook
	centerStartWalk
	centerCheckWalk
	centerStartMiniTeleport
	centerCheckMiniTeleport
)

var centerStateNames = [...]string{
	"WaitForStandstill", "CheckAndLook", "StartWalk", "CheckWalk", "StartMiniTeleport", "CheckMiniTeleport",
}

// Center moves the agent onto the exact horizontal center of a block. It
// walks until close, then nudges its position directly and confirms with a
// ping round trip that the server did not correct it.
type Center struct {
	Base
	Block geom.BlockPos

	now     Clock
	attempt int
	state   centerState
	lastPos *geom.Vec3

	// CheckMiniTeleport
	startedAt  time.Time
	pingID     int64
	pingSentAt time.Time
	pingSent   bool
	teleported bool
	pong       time.Duration
	gotPong    bool
}

func NewCenter(block geom.BlockPos, now Clock) *Center {
	return &Center{Block: block, now: orNow(now)}
}

func (c *Center) String() string { return "Center" }

// State names the current step, for logs and tests.
func (c *Center) State() string { return centerStateNames[c.state] }

func (c *Center) Start(agent.Client) error {
	c.attempt = 0
	c.state = centerWaitForStandstill
	c.lastPos = nil
	return nil
}

func (c *Center) Handle(cl agent.Client, ev agent.Event) (Outcome, error) {
	switch ev.Kind {
	case agent.EventTick:
		return c.tick(cl)
	case agent.EventPacket:
		if c.state != centerCheckMiniTeleport {
			return Ongoing, nil
		}
		switch p := ev.Packet.(type) {
		case agent.Teleport:
			logger.Printf("Got a teleport to %v after starting mini teleport", p.Pos)
			c.teleported = true
		case agent.Pong:
			if c.pingSent && p.ID == c.pingID {
				if c.gotPong {
					logger.Printf("Received another pong for ping %d", p.ID)
				} else {
					c.pong = c.now().Sub(c.pingSentAt)
					c.gotPong = true
				}
			}
		}
	}
	return Ongoing, nil
}

func (c *Center) tick(cl agent.Client) (Outcome, error) {
	if c.attempt > maxCenterAttempts {
		return Failedf("Failed to center after %d tries!", maxCenterAttempts), nil
	}
	pos, ok := cl.Position()
	if !ok {
		return Ongoing, nil
	}
	target := geom.Vec3{X: float64(c.Block.X) + 0.5, Y: pos.Y, Z: float64(c.Block.Z) + 0.5}
	dist := math.Sqrt(pos.HorizontalDistanceSqr(target))

	switch c.state {
	case centerWaitForStandstill:
		if c.lastPos != nil && *c.lastPos == pos {
			c.attempt++
			c.state = centerCheckAndLook
		} else {
			c.lastPos = &pos
		}

	case centerCheckAndLook:
		desired := 0.1
		if c.attempt >= 8 {
			desired = 0.12
		}
		flat := geom.LookAt(geom.Vec3{X: pos.X, Z: pos.Z}, geom.Vec3{X: target.X, Z: target.Z})
		cl.Look(geom.LookDirection{Yaw: flat.Yaw, Pitch: 45})
		if dist <= desired {
			logger.Printf("Close enough at attempt %d (%.4f blocks off), doing mini teleport", c.attempt, dist)
			c.state = centerStartMiniTeleport
		} else {
			c.state = centerStartWalk
		}

	case centerStartWalk:
		cl.Walk(agent.WalkForward)
		c.state = centerCheckWalk

	case centerCheckWalk:
		walkAway := c.attempt == 4 || c.attempt == 18
		if (!walkAway && dist <= 0.3) || (walkAway && dist >= 0.1999) {
			cl.Walk(agent.WalkNone)
			c.lastPos = &pos
			c.state = centerWaitForStandstill
		}

	case centerStartMiniTeleport:
		c.startedAt = c.now()
		c.pingSent = false
		c.teleported = false
		c.gotPong = false
		c.state = centerCheckMiniTeleport
		cl.SetPosition(target)

	case centerCheckMiniTeleport:
		if !c.pingSent {
			c.pingID = agent.NewPingID()
			c.pingSentAt = c.now()
			c.pingSent = true
			cl.Ping(c.pingID)
		} else if c.gotPong {
			if c.teleported {
				logger.Printf("Mini teleport was corrected by the server, retrying")
				c.lastPos = &pos
				c.state = centerWaitForStandstill
			} else if c.now().Sub(c.startedAt) >= max(100*time.Millisecond, 2*c.pong) {
				logger.Printf("Mini teleport accepted, finished centering")
				return Succeeded, nil
			}
		}
	}
	return Ongoing, nil
}

func (c *Center) Stop(cl agent.Client) error {
	if c.state == centerCheckWalk {
		logger.Printf("Center task got stopped, so stopped walking")
		cl.Walk(agent.WalkNone)
	}
	return nil
}
