package task

import (
	"fmt"
	"strings"
	"time"

	"noteblockdj.ai/internal/agent"
)

// Clock returns the current time. Tasks that measure wall time take one so
// tests can drive them.
type Clock func() time.Time

func orNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// DelayTicks succeeds after n ticks.
type DelayTicks struct {
	Base
	Ticks   int
	elapsed int
}

func NewDelayTicks(n int) *DelayTicks { return &DelayTicks{Ticks: n} }

func (d *DelayTicks) String() string { return fmt.Sprintf("DelayTicks (%d)", d.Ticks) }

func (d *DelayTicks) Start(agent.Client) error {
	d.elapsed = 0
	return nil
}

func (d *DelayTicks) Handle(_ agent.Client, ev agent.Event) (Outcome, error) {
	if ev.IsTick() {
		d.elapsed++
		if d.elapsed >= d.Ticks {
			return Succeeded, nil
		}
	}
	return Ongoing, nil
}

// DelayDuration succeeds once the duration has passed since Start.
type DelayDuration struct {
	Base
	Duration  time.Duration
	now       Clock
	startedAt time.Time
}

func NewDelayDuration(d time.Duration, now Clock) *DelayDuration {
	return &DelayDuration{Duration: d, now: orNow(now)}
}

func (d *DelayDuration) String() string {
	ms := d.Duration.Milliseconds()
	mins := ms / 60000
	ms %= 60000
	secs := ms / 1000
	ms %= 1000
	var parts []string
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%02dm", mins))
	}
	if secs > 0 {
		parts = append(parts, fmt.Sprintf("%02ds", secs))
	}
	if ms > 0 {
		parts = append(parts, fmt.Sprintf("%03dms", ms))
	}
	return fmt.Sprintf("DelayDuration (%s)", strings.Join(parts, " "))
}

func (d *DelayDuration) Start(agent.Client) error {
	d.startedAt = d.now()
	return nil
}

func (d *DelayDuration) Handle(agent.Client, agent.Event) (Outcome, error) {
	if d.now().Sub(d.startedAt) >= d.Duration {
		return Succeeded, nil
	}
	return Ongoing, nil
}

// Func delegates to closures. Start and Stop may be nil.
type Func struct {
	Base
	Name     string
	OnStart  func(c agent.Client) error
	OnHandle func(c agent.Client, ev agent.Event) (Outcome, error)
	OnStop   func(c agent.Client) error
}

func NewFunc(name string, handle func(c agent.Client, ev agent.Event) (Outcome, error)) *Func {
	return &Func{Name: name, OnHandle: handle}
}

func (f *Func) String() string { return f.Name }

func (f *Func) Start(c agent.Client) error {
	if f.OnStart != nil {
		return f.OnStart(c)
	}
	return nil
}

func (f *Func) Handle(c agent.Client, ev agent.Event) (Outcome, error) {
	return f.OnHandle(c, ev)
}

func (f *Func) Stop(c agent.Client) error {
	if f.OnStop != nil {
		return f.OnStop(c)
	}
	return nil
}

// OnceFunc runs fn on the first tick and succeeds, or fails with its error.
type OnceFunc struct {
	Base
	Name string
	fn   func(c agent.Client) error
}

func NewOnceFunc(name string, fn func(c agent.Client) error) *OnceFunc {
	return &OnceFunc{Name: name, fn: fn}
}

func (o *OnceFunc) String() string { return o.Name }

func (o *OnceFunc) Handle(c agent.Client, ev agent.Event) (Outcome, error) {
	if o.fn == nil {
		return Succeeded, nil
	}
	if !ev.IsTick() {
		return Ongoing, nil
	}
	fn := o.fn
	o.fn = nil
	if err := fn(c); err != nil {
		return Failedf("OnceFunc error: Running OnceFunc (%s): %v", o.Name, err), nil
	}
	return Succeeded, nil
}

// Validate checks an expectation once on the next tick. A false result fails
// the task, an error is returned as a task error.
type Validate struct {
	Base
	Expectation string
	fn          func(c agent.Client) (bool, error)
}

func NewValidate(expectation string, fn func(c agent.Client) (bool, error)) *Validate {
	return &Validate{Expectation: expectation, fn: fn}
}

func (v *Validate) String() string { return "Validate: " + v.Expectation }

func (v *Validate) Handle(c agent.Client, ev agent.Event) (Outcome, error) {
	if v.fn == nil {
		return Succeeded, nil
	}
	if !ev.IsTick() {
		return Ongoing, nil
	}
	fn := v.fn
	v.fn = nil
	ok, err := fn(c)
	if err != nil {
		return Outcome{}, fmt.Errorf("running func of (%s): %w", v, err)
	}
	if !ok {
		return Failed("Failed to validate expectation: " + v.Expectation), nil
	}
	return Succeeded, nil
}
