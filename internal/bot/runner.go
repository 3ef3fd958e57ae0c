// Package bot is the engine loop. It feeds events to the registered modules
// and to the root task group, all from one goroutine, and dispatches chat
// commands.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/persistence/indexdb"
	"noteblockdj.ai/internal/task"
)

var logger = log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lmicroseconds)

// SetLogger replaces the package logger. nil silences it.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	logger = l
}

// Module sees every event before the task tree does.
type Module interface {
	Handle(c agent.Client, ev agent.Event, q task.Scheduler) error
}

// Commander answers "<prefix><Command()> args...".
type Commander interface {
	Command() string
	Execute(c agent.Client, q task.Scheduler, sender string, args []string, admin bool, feedback func(string)) error
}

type Recorder interface {
	Record(kind string, data any)
}

type CommandLog interface {
	RecordCommand(c indexdb.CommandRecord)
}

type Config struct {
	// Name is the agent's own name; its chat lines are ignored.
	Name string
	// Prefix starts a command. Defaults to "!".
	Prefix string
	// Admins are matched case-insensitively. "*" makes everyone an admin.
	Admins []string

	Now func() time.Time

	Journal  Recorder
	Commands CommandLog
}

type Runner struct {
	cfg    Config
	c      agent.Client
	root   *task.Group
	admins map[string]bool
	anyone bool

	modules  []Module
	commands map[string]Commander

	started  time.Time
	allDone  bool
	lastRoot string
}

func New(c agent.Client, cfg Config) *Runner {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Runner{
		cfg:      cfg,
		c:        c,
		root:     task.NewRoot(),
		admins:   make(map[string]bool, len(cfg.Admins)),
		commands: make(map[string]Commander),
		started:  cfg.Now(),
		allDone:  true,
	}
	for _, a := range cfg.Admins {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "*" {
			r.anyone = true
		}
		if a != "" {
			r.admins[a] = true
		}
	}
	return r
}

// Register adds m. A module that is also a Commander gets its command.
func (r *Runner) Register(m Module) {
	r.modules = append(r.modules, m)
	if cmd, ok := m.(Commander); ok {
		r.commands[strings.ToLower(cmd.Command())] = cmd
	}
}

func (r *Runner) Root() *task.Group { return r.root }

func (r *Runner) AddTask(t task.Task) error {
	r.allDone = false
	return r.root.Add(r.c, t)
}

func (r *Runner) Tasks() int { return r.root.Remaining() }

func (r *Runner) IsAdmin(name string) bool {
	return r.anyone || r.admins[strings.ToLower(name)]
}

func (r *Runner) record(kind string, data any) {
	if r.cfg.Journal != nil {
		r.cfg.Journal.Record(kind, data)
	}
}

// Handle syncs the client to ev, then runs it through the modules, the
// command dispatcher and the root task group. Errors are logged, never
// returned to the loop. After a tick the client's batched actions are flushed.
func (r *Runner) Handle(ev agent.Event) {
	if sy, ok := r.c.(agent.Syncer); ok {
		sy.Sync(ev)
	}
	r.handle(ev)
	if !ev.IsTick() {
		return
	}
	if f, ok := r.c.(agent.Flusher); ok {
		if err := f.Flush(); err != nil {
			logger.Printf("Failed to flush actions: %v", err)
		}
	}
}

func (r *Runner) handle(ev agent.Event) {
	for _, m := range r.modules {
		if err := m.Handle(r.c, ev, r); err != nil {
			logger.Printf("Module failed to handle %s: %v", ev.Kind, err)
		}
	}

	switch ev.Kind {
	case agent.EventChat:
		r.dispatch(ev.Chat)
	case agent.EventDisconnect:
		if err := r.root.Stop(r.c); err != nil {
			logger.Printf("Failed to stop tasks on disconnect: %v", err)
		}
		return
	}

	if r.root.Remaining() == 0 {
		if !r.allDone {
			logger.Printf("All Tasks done")
			r.allDone = true
			r.observeRoot()
		}
		return
	}
	r.allDone = false

	out, err := r.root.Handle(r.c, ev)
	if err != nil {
		logger.Printf("Root task errored: %v", err)
		r.record("task_failed", map[string]string{"task": r.root.String(), "error": err.Error()})
		r.root.Next()
	} else if out.IsFailed() {
		logger.Printf("Root task failed: %s", out.Reason)
		r.record("task_failed", map[string]string{"task": r.root.String(), "reason": out.Reason})
		r.root.Next()
	}
	if ev.IsTick() {
		r.observeRoot()
	}
}

// observeRoot journals changes of what the root is doing.
func (r *Runner) observeRoot() {
	s := r.root.String()
	if s == r.lastRoot {
		return
	}
	r.lastRoot = s
	r.record("task_status", map[string]any{"root": s, "remaining": r.root.Remaining()})
}

// Run handles events until ctx is done or events is closed.
func (r *Runner) Run(ctx context.Context, events <-chan agent.Event) error {
	for {
		select {
		case <-ctx.Done():
			if err := r.root.Stop(r.c); err != nil {
				logger.Printf("Failed to stop tasks: %v", err)
			}
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Handle(ev)
		}
	}
}

func (r *Runner) uptime() time.Duration {
	return r.cfg.Now().Sub(r.started).Round(time.Second)
}

// cancelTasks stops the current task and drops everything queued.
func (r *Runner) cancelTasks() (int, error) {
	n := r.root.Remaining()
	if err := r.root.Stop(r.c); err != nil {
		return n, fmt.Errorf("stop root: %w", err)
	}
	if err := r.root.Discard(r.c); err != nil {
		logger.Printf("Failed to discard tasks: %v", err)
	}
	r.root = task.NewRoot()
	return n, nil
}
