package task

import (
	"fmt"
	"sync"

	"noteblockdj.ai/internal/agent"
)

type TrackedState int

const (
	NotStartedYet TrackedState = iota
	Running
	Concluded
	Errored
	Discarded
	Interrupted
)

func (s TrackedState) String() string {
	return [...]string{"NotStartedYet", "Running", "Concluded", "Errored", "Discarded", "Interrupted"}[s]
}

// TrackedStatus is a snapshot. Outcome is set when Concluded, Err when Errored.
type TrackedStatus struct {
	State   TrackedState
	Outcome Outcome
	Err     error
}

func (s TrackedStatus) String() string {
	switch s.State {
	case Concluded:
		return "Concluded: " + s.Outcome.String()
	case Errored:
		return fmt.Sprintf("Errored: %v", s.Err)
	default:
		return s.State.String()
	}
}

func (s TrackedStatus) IsRunning() bool {
	return s.State == NotStartedYet || s.State == Running
}

func (s TrackedStatus) IsNotStartedYet() bool {
	return s.State == NotStartedYet || s.State == Interrupted
}

func (s TrackedStatus) IsFinished() bool {
	return s.State == Concluded || s.State == Errored || s.State == Discarded
}

func (s TrackedStatus) IsInterrupted() bool { return s.State == Interrupted }
func (s TrackedStatus) IsAbandoned() bool   { return s.State == Discarded }

type tracked[T Task] struct {
	mu     sync.Mutex
	task   T
	status TrackedStatus
}

// Tracked wraps a task so other goroutines can observe its status. Copies
// share the same task and status.
type Tracked[T Task] struct {
	d *tracked[T]
}

func Track[T Task](t T) Tracked[T] {
	return Tracked[T]{d: &tracked[T]{task: t}}
}

func (t Tracked[T]) Valid() bool { return t.d != nil }

func (t Tracked[T]) Status() TrackedStatus {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return t.d.status
}

// With runs fn with exclusive access to the wrapped task.
func (t Tracked[T]) With(fn func(T)) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	fn(t.d.task)
}

func (t Tracked[T]) String() string {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return "T: " + t.d.task.String()
}

func (t Tracked[T]) errored(err error) error {
	t.d.status = TrackedStatus{State: Errored, Err: err}
	return err
}

func (t Tracked[T]) Start(c agent.Client) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if err := t.d.task.Start(c); err != nil {
		return t.errored(err)
	}
	t.d.status = TrackedStatus{State: Running}
	return nil
}

func (t Tracked[T]) Handle(c agent.Client, ev agent.Event) (Outcome, error) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	out, err := t.d.task.Handle(c, ev)
	if err != nil {
		return Outcome{}, t.errored(err)
	}
	if out.Finished() {
		t.d.status = TrackedStatus{State: Concluded, Outcome: out}
	}
	return out, nil
}

func (t Tracked[T]) Stop(c agent.Client) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if err := t.d.task.Stop(c); err != nil {
		return t.errored(err)
	}
	switch t.d.status.State {
	case Errored, Discarded:
	case Concluded:
		if !t.d.status.Outcome.Finished() {
			t.d.status = TrackedStatus{State: Interrupted}
		}
	default:
		t.d.status = TrackedStatus{State: Interrupted}
	}
	return nil
}

func (t Tracked[T]) Discard(c agent.Client) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if err := t.d.task.Discard(c); err != nil {
		return t.errored(err)
	}
	// Errored, Concluded and Interrupted are kept so observers still see why
	// the task ended.
	switch t.d.status.State {
	case NotStartedYet, Running:
		t.d.status = TrackedStatus{State: Discarded}
	}
	return nil
}

func (t Tracked[T]) NewTaskWaiting(c agent.Client) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	w, ok := any(t.d.task).(Waiter)
	if !ok {
		return nil
	}
	if err := w.NewTaskWaiting(c); err != nil {
		return t.errored(err)
	}
	return nil
}
