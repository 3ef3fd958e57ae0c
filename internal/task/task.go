// Package task is a cooperative, tick driven state machine runner. All
// methods of a Task are called from the single engine goroutine and must not
// block.
package task

import (
	"fmt"
	"io"
	"log"
	"os"

	"noteblockdj.ai/internal/agent"
)

type Result int

const (
	ResultOngoing Result = iota
	ResultSucceeded
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultOngoing:
		return "Ongoing"
	case ResultSucceeded:
		return "Succeeded"
	default:
		return "Failed"
	}
}

// Outcome is what Handle reports after an event. Reason is set for failures.
type Outcome struct {
	Result Result
	Reason string
}

var (
	Ongoing   = Outcome{Result: ResultOngoing}
	Succeeded = Outcome{Result: ResultSucceeded}
)

func Failed(reason string) Outcome { return Outcome{Result: ResultFailed, Reason: reason} }

func Failedf(format string, args ...any) Outcome {
	return Failed(fmt.Sprintf(format, args...))
}

func (o Outcome) Finished() bool { return o.Result != ResultOngoing }
func (o Outcome) IsFailed() bool { return o.Result == ResultFailed }

func (o Outcome) String() string {
	if o.Result == ResultFailed {
		return "Failed: " + o.Reason
	}
	return o.Result.String()
}

// Task is one unit of behaviour.
//
// Start is called once, on a tick, before the first Handle. Handle is called
// for every event until it returns a finished Outcome. Stop is called when a
// running task is pre-empted; it may be started again later. Discard is
// called when the pending queue is dropped and the task will never run again.
type Task interface {
	fmt.Stringer
	Start(c agent.Client) error
	Handle(c agent.Client, ev agent.Event) (Outcome, error)
	Stop(c agent.Client) error
	Discard(c agent.Client) error
}

// Waiter is implemented by tasks that want to yield when more work is queued behind them.
type Waiter interface {
	NewTaskWaiting(c agent.Client) error
}

// Scheduler accepts new top-level tasks. Tasks reports how many are queued
// or running.
type Scheduler interface {
	AddTask(t Task) error
	Tasks() int
}

// Base provides no-op Start, Stop and Discard.
type Base struct{}

func (Base) Start(agent.Client) error   { return nil }
func (Base) Stop(agent.Client) error    { return nil }
func (Base) Discard(agent.Client) error { return nil }

var logger = log.New(os.Stdout, "[task] ", log.LstdFlags|log.Lmicroseconds)

// SetLogger replaces the package logger. nil silences it.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	logger = l
}
