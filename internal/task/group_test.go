package task

import (
	"errors"
	"strings"
	"testing"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/agent/agenttest"
	"noteblockdj.ai/internal/geom"
)

func init() { SetLogger(nil) }

// stub is a scripted task that finishes after a fixed number of handled ticks.
type stub struct {
	Base
	name     string
	ticks    int
	fail     string
	err      error
	startErr error

	starts, handles, stops, discards int
	waiting                          int
}

func (s *stub) String() string { return s.name }

func (s *stub) Start(agent.Client) error {
	s.starts++
	return s.startErr
}

func (s *stub) Handle(_ agent.Client, ev agent.Event) (Outcome, error) {
	if !ev.IsTick() {
		return Ongoing, nil
	}
	s.handles++
	if s.handles < s.ticks {
		return Ongoing, nil
	}
	if s.err != nil {
		return Outcome{}, s.err
	}
	if s.fail != "" {
		return Failed(s.fail), nil
	}
	return Succeeded, nil
}

func (s *stub) Stop(agent.Client) error {
	s.stops++
	return nil
}

func (s *stub) Discard(agent.Client) error {
	s.discards++
	return nil
}

func (s *stub) NewTaskWaiting(agent.Client) error {
	s.waiting++
	return nil
}

func newClient() *agenttest.Client { return agenttest.New(geom.Vec3{X: 0.5, Z: 0.5}) }

func runTicks(t *testing.T, g Task, c agent.Client, n int) Outcome {
	t.Helper()
	var out Outcome
	for i := 0; i < n; i++ {
		var err error
		out, err = g.Handle(c, agent.Tick)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if out.Finished() {
			return out
		}
	}
	return out
}

func TestGroup_RunsSubtasksInOrder(t *testing.T) {
	c := newClient()
	a := &stub{name: "a", ticks: 2}
	b := &stub{name: "b", ticks: 1}
	g := NewGroup("seq").With(a).With(b)
	if err := g.Start(c); err != nil {
		t.Fatalf("start: %v", err)
	}

	out := runTicks(t, g, c, 10)
	if out != Succeeded {
		t.Fatalf("expected success, got %v", out)
	}
	if a.starts != 1 || b.starts != 1 {
		t.Fatalf("expected one start each, got a=%d b=%d", a.starts, b.starts)
	}
	if a.handles != 2 || b.handles != 1 {
		t.Fatalf("unexpected handle counts a=%d b=%d", a.handles, b.handles)
	}
	if got := g.String(); got != "seq: Finished (2)" {
		t.Fatalf("display: %q", got)
	}
}

func TestGroup_StartsOnlyOnTick(t *testing.T) {
	c := newClient()
	a := &stub{name: "a", ticks: 1}
	g := NewGroup("g").With(a)
	_ = g.Start(c)

	out, err := g.Handle(c, agent.PacketEvent(agent.Pong{ID: 1}))
	if err != nil || out != Ongoing {
		t.Fatalf("packet: out=%v err=%v", out, err)
	}
	if a.starts != 0 {
		t.Fatalf("subtask started on a packet event")
	}
	if got := g.String(); got != "g: [1/1] ...a" {
		t.Fatalf("display before start: %q", got)
	}
}

func TestGroup_FailurePropagation(t *testing.T) {
	c := newClient()

	// Root: the failing subtask is skipped and the third still runs.
	r1, r2, r3 := &stub{name: "one", ticks: 1}, &stub{name: "two", ticks: 1, fail: "nope"}, &stub{name: "three", ticks: 1}
	root := NewRoot().With(r1).With(r2).With(r3)
	_ = root.Start(c)
	for i := 0; i < 5 && root.Remaining() > 0; i++ {
		out, err := root.Handle(c, agent.Tick)
		if err != nil {
			t.Fatalf("root tick: %v", err)
		}
		if out.IsFailed() {
			t.Fatalf("root must never fail: %v", out)
		}
	}
	if r3.starts != 1 || r3.handles != 1 {
		t.Fatalf("third subtask did not run after a failure")
	}
	if got := root.String(); got != "Finished" {
		t.Fatalf("root display: %q", got)
	}

	// Named: the group fails and the third never starts.
	n1, n2, n3 := &stub{name: "one", ticks: 1}, &stub{name: "two", ticks: 1, fail: "nope"}, &stub{name: "three", ticks: 1}
	named := NewGroup("job").With(n1).With(n2).With(n3)
	_ = named.Start(c)
	out := runTicks(t, named, c, 5)
	if !out.IsFailed() {
		t.Fatalf("expected named group to fail, got %v", out)
	}
	if !strings.Contains(out.Reason, "nope") || !strings.HasPrefix(out.Reason, "job: ") {
		t.Fatalf("unexpected reason %q", out.Reason)
	}
	if n3.starts != 0 {
		t.Fatalf("third subtask started after failure")
	}
}

func TestGroup_HandleErrorStopsAndFails(t *testing.T) {
	c := newClient()
	bad := &stub{name: "bad", ticks: 1, err: errors.New("boom")}
	g := NewGroup("g").With(bad)
	_ = g.Start(c)
	out, err := g.Handle(c, agent.Tick)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Reason != "Error when handling subtask bad: boom" {
		t.Fatalf("reason: %q", out.Reason)
	}
	if bad.stops != 1 {
		t.Fatalf("expected the failing subtask to be stopped, stops=%d", bad.stops)
	}
}

func TestGroup_StartErrorFails(t *testing.T) {
	c := newClient()
	g := NewGroup("g").With(&stub{name: "x", startErr: errors.New("no")})
	_ = g.Start(c)
	out, _ := g.Handle(c, agent.Tick)
	if !out.IsFailed() || !strings.Contains(out.Reason, "Failed to start x: no") {
		t.Fatalf("unexpected outcome %v", out)
	}
}

func TestGroup_AddNowPreemptsCurrent(t *testing.T) {
	c := newClient()
	long := &stub{name: "long", ticks: 100}
	root := NewRoot().With(long)
	_ = root.Start(c)
	runTicks(t, root, c, 3)

	urgent := &stub{name: "urgent", ticks: 1}
	if err := root.AddNow(c, urgent); err != nil {
		t.Fatalf("add now: %v", err)
	}
	if long.stops != 1 {
		t.Fatalf("current subtask was not stopped")
	}
	if root.Current() != urgent {
		t.Fatalf("urgent task should be current")
	}
	runTicks(t, root, c, 2)
	if urgent.handles != 1 {
		t.Fatalf("urgent task did not run")
	}
	if long.starts != 2 {
		t.Fatalf("pre-empted task should restart, starts=%d", long.starts)
	}
}

func TestGroup_AddNotifiesWaiter(t *testing.T) {
	c := newClient()
	cur := &stub{name: "cur", ticks: 100}
	root := NewRoot().With(cur)
	_ = root.Start(c)
	runTicks(t, root, c, 1)
	if err := root.Add(c, &stub{name: "next", ticks: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if cur.waiting != 1 {
		t.Fatalf("running task was not told about the new task")
	}
}

func TestGroup_GarbageCollectsFinishedSubtasks(t *testing.T) {
	c := newClient()
	root := NewRoot()
	// Two ticks each, so one subtask completes per tick.
	for i := 0; i < 600; i++ {
		root.With(&stub{name: "s", ticks: 2})
	}
	_ = root.Start(c)
	for i := 0; i < 520; i++ {
		if _, err := root.Handle(c, agent.Tick); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if root.Len() >= 600 {
		t.Fatalf("expected finished subtasks to be dropped, len=%d", root.Len())
	}
	if root.Remaining() != 600-519 {
		t.Fatalf("remaining changed by gc: %d", root.Remaining())
	}
}

func TestGroup_DiscardDiscardsPending(t *testing.T) {
	c := newClient()
	a, b := &stub{name: "a", ticks: 5}, &stub{name: "b", ticks: 1}
	g := NewRoot().With(a).With(b)
	_ = g.Start(c)
	runTicks(t, g, c, 1)
	if err := g.Discard(c); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if a.discards != 1 || b.discards != 1 {
		t.Fatalf("expected every pending subtask discarded")
	}
	if g.Remaining() != 0 {
		t.Fatalf("remaining after discard: %d", g.Remaining())
	}
}

func TestGroup_RootDisplay(t *testing.T) {
	g := NewRoot().With(&stub{name: "a"}).With(&stub{name: "b"})
	if got := g.String(); got != "[..2] a" {
		t.Fatalf("display: %q", got)
	}
	if got := NewRoot().String(); got != "Finished" {
		t.Fatalf("empty root display: %q", got)
	}
}
