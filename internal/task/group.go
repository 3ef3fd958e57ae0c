package task

import (
	"fmt"

	"noteblockdj.ai/internal/agent"
)

const (
	gcThreshold = 512
	gcDrop      = 256
)

// Group runs its subtasks one after another. The root group (no name) is the
// agent's run queue: a failing subtask is logged and skipped instead of
// failing the group.
type Group struct {
	name     string
	root     bool
	subtasks []Task
	index    int
	started  bool
}

func NewRoot() *Group { return &Group{root: true} }

func NewGroup(name string) *Group { return &Group{name: name} }

func (g *Group) Name() string {
	if g.root {
		return "<Root>"
	}
	return g.name
}

func (g *Group) IsRoot() bool { return g.root }

// With appends t and returns g, for building groups inline.
func (g *Group) With(t Task) *Group {
	g.subtasks = append(g.subtasks, t)
	return g
}

// Add queues t at the end. A running task that implements Waiter is told.
func (g *Group) Add(c agent.Client, t Task) error {
	g.subtasks = append(g.subtasks, t)
	if g.root {
		logger.Printf("Added Task: %s (%d remain)", t, g.Remaining())
	}
	if c != nil && g.started && g.index < len(g.subtasks)-1 {
		if w, ok := g.subtasks[g.index].(Waiter); ok {
			if err := w.NewTaskWaiting(c); err != nil {
				return fmt.Errorf("notify %s: %w", g.subtasks[g.index], err)
			}
		}
	}
	return nil
}

// AddNow puts t in front of the current subtask, stopping that one first.
func (g *Group) AddNow(c agent.Client, t Task) error {
	if g.index < len(g.subtasks) && g.started {
		cur := g.subtasks[g.index]
		logger.Printf("Stopping current Task: %s", g)
		if err := cur.Stop(c); err != nil {
			return fmt.Errorf("stop %s: %w", cur, err)
		}
	}
	g.subtasks = append(g.subtasks, nil)
	copy(g.subtasks[g.index+1:], g.subtasks[g.index:])
	g.subtasks[g.index] = t
	g.started = false
	if g.root {
		logger.Printf("Added Task: %s (%d remain)", t, g.Remaining())
	}
	return nil
}

// Remaining counts subtasks not yet finished, including the current one.
func (g *Group) Remaining() int {
	return max(0, len(g.subtasks)-g.index)
}

func (g *Group) Len() int { return len(g.subtasks) }

// Current is the subtask at the index, or nil when finished.
func (g *Group) Current() Task {
	if g.index >= len(g.subtasks) {
		return nil
	}
	return g.subtasks[g.index]
}

// Next skips the current subtask without stopping it.
func (g *Group) Next() {
	if g.index >= len(g.subtasks) {
		return
	}
	g.index++
	g.started = false
}

func (g *Group) String() string {
	cur := "<None>"
	if t := g.Current(); t != nil {
		cur = t.String()
	}
	if g.root {
		if r := g.Remaining(); r > 0 {
			return fmt.Sprintf("[..%d] %s", r, cur)
		}
		return "Finished"
	}
	if g.Remaining() == 0 {
		return fmt.Sprintf("%s: Finished (%d)", g.name, len(g.subtasks))
	}
	dots := "..."
	if g.started {
		dots = ""
	}
	return fmt.Sprintf("%s: [%d/%d] %s%s", g.name, g.index+1, len(g.subtasks), dots, cur)
}

// Start defers starting the current subtask to the next tick.
func (g *Group) Start(agent.Client) error {
	g.started = false
	return nil
}

func (g *Group) Handle(c agent.Client, ev agent.Event) (Outcome, error) {
	if ev.IsTick() && g.index >= gcThreshold && len(g.subtasks) > gcThreshold {
		logger.Printf("Subtasks exceeded %d, dropping the first %d", gcThreshold, gcDrop)
		clear(g.subtasks[:gcDrop])
		g.subtasks = g.subtasks[gcDrop:]
		g.index -= gcDrop
	}

	if g.index >= len(g.subtasks) {
		return Succeeded, nil
	}

	for {
		sub := g.subtasks[g.index]

		if !g.started {
			// Subtasks only start on ticks.
			if !ev.IsTick() {
				return Ongoing, nil
			}
			if g.root {
				logger.Printf("Starting Task: %s", sub)
			}
			if err := sub.Start(c); err != nil {
				return g.fail(Failedf("Failed to start %s: %v", sub, err)), nil
			}
			g.started = true
		}

		out, err := sub.Handle(c, ev)
		if err != nil {
			name := sub.String()
			logger.Printf("TaskGroup %q failed to handle subtask %s: %v", g.Name(), name, err)
			if serr := g.Stop(c); serr != nil {
				return Outcome{}, fmt.Errorf("stop after handle error: %w", serr)
			}
			return Failedf("Error when handling subtask %s: %v", name, err), nil
		}

		switch out.Result {
		case ResultOngoing:
			return Ongoing, nil
		case ResultFailed:
			return g.fail(out), nil
		default:
			g.index++
			g.started = false
			if g.index >= len(g.subtasks) {
				return Succeeded, nil
			}
		}
	}
}

// fail reports a subtask failure. The root skips to the next subtask.
func (g *Group) fail(out Outcome) Outcome {
	if g.root {
		logger.Printf("%s failed: %s", g, out.Reason)
		g.Next()
		return Ongoing
	}
	return Failedf("%s failed: %s", g, out.Reason)
}

func (g *Group) Stop(c agent.Client) error {
	if g.index < len(g.subtasks) && g.started {
		sub := g.subtasks[g.index]
		if err := sub.Stop(c); err != nil {
			return fmt.Errorf("stop %s: %w", sub, err)
		}
		g.started = false
		logger.Printf("Stopped Task: %s", sub)
	}
	return nil
}

// Discard discards every subtask that has not finished.
func (g *Group) Discard(c agent.Client) error {
	var first error
	for i := g.index; i < len(g.subtasks); i++ {
		if err := g.subtasks[i].Discard(c); err != nil && first == nil {
			first = fmt.Errorf("discard %s: %w", g.subtasks[i], err)
		}
	}
	g.index = len(g.subtasks)
	g.started = false
	return first
}

// NewTaskWaiting forwards to the running subtask.
func (g *Group) NewTaskWaiting(c agent.Client) error {
	if g.index < len(g.subtasks) && g.started {
		if w, ok := g.subtasks[g.index].(Waiter); ok {
			return w.NewTaskWaiting(c)
		}
	}
	return nil
}
