package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/agent/agenttest"
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/persistence/indexdb"
	"noteblockdj.ai/internal/task"
)

func init() {
	SetLogger(nil)
	task.SetLogger(nil)
}

type fakeJournal struct{ kinds []string }

func (j *fakeJournal) Record(kind string, _ any) { j.kinds = append(j.kinds, kind) }

func (j *fakeJournal) count(kind string) int {
	n := 0
	for _, k := range j.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type fakeCommandLog struct{ records []indexdb.CommandRecord }

func (l *fakeCommandLog) RecordCommand(c indexdb.CommandRecord) { l.records = append(l.records, c) }

// echo is a module with a command. It answers with its arguments.
type echo struct {
	events []agent.EventKind
	log    *[]string
	err    error
	admin  bool
}

func (e *echo) Handle(_ agent.Client, ev agent.Event, _ task.Scheduler) error {
	e.events = append(e.events, ev.Kind)
	if e.log != nil && ev.IsTick() {
		*e.log = append(*e.log, "module")
	}
	return nil
}

func (e *echo) Command() string { return "Echo" }

func (e *echo) Execute(_ agent.Client, _ task.Scheduler, _ string, args []string, admin bool, feedback func(string)) error {
	e.admin = admin
	if e.err != nil {
		return e.err
	}
	feedback(strings.Join(args, " "))
	return nil
}

func newRunner(t *testing.T, cfg Config) (*Runner, *agenttest.Client) {
	t.Helper()
	c := agenttest.New(geom.Vec3{X: 0.5, Y: 64, Z: 0.5})
	if cfg.Name == "" {
		cfg.Name = "dj"
	}
	return New(c, cfg), c
}

func say(r *Runner, from, text string) {
	r.Handle(agent.ChatEvent(agent.Chat{From: from, Text: text}))
}

func whispers(c *agenttest.Client) []string {
	var out []string
	for _, a := range c.Take() {
		if a.Kind == agenttest.ActWhisper {
			out = append(out, a.To+": "+a.Text)
		}
	}
	return out
}

func expectReply(t *testing.T, c *agenttest.Client, want string) {
	t.Helper()
	got := whispers(c)
	if len(got) != 1 || got[0] != want {
		t.Fatalf("replies %q, want %q", got, want)
	}
}

func TestRunner_HelpAndAdmins(t *testing.T) {
	r, c := newRunner(t, Config{Admins: []string{"Bob", " carol "}})
	r.Register(&echo{})

	say(r, "alice", "!help")
	expectReply(t, c, "alice: Commands: !admins, !canceltasks, !echo, !help, !status, !task")

	say(r, "alice", "!admins")
	expectReply(t, c, "alice: Admins: Bob, carol")

	if !r.IsAdmin("BOB") || !r.IsAdmin("Carol") || r.IsAdmin("alice") {
		t.Fatalf("admin matching is wrong")
	}
}

func TestRunner_WildcardAdmin(t *testing.T) {
	r, c := newRunner(t, Config{Admins: []string{"*"}})
	if !r.IsAdmin("anyone") {
		t.Fatalf("wildcard should match everyone")
	}
	say(r, "alice", "!admins")
	expectReply(t, c, "alice: Admins: everyone")
}

func TestRunner_AdminOnlyBuiltins(t *testing.T) {
	r, c := newRunner(t, Config{Admins: []string{"bob"}})
	say(r, "alice", "!task")
	expectReply(t, c, "alice: "+notAdmin)
	say(r, "alice", "!canceltasks")
	expectReply(t, c, "alice: "+notAdmin)

	say(r, "bob", "!task")
	expectReply(t, c, "bob: Task: Finished")
}

func TestRunner_CancelTasks(t *testing.T) {
	r, c := newRunner(t, Config{Admins: []string{"bob"}})
	if err := r.AddTask(task.NewDelayTicks(100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.AddTask(task.NewDelayTicks(100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Handle(agent.Tick)
	say(r, "bob", "!task")
	expectReply(t, c, "bob: Task: [..2] DelayTicks (100)")

	say(r, "bob", "!canceltasks")
	expectReply(t, c, "bob: Stopped and removed all tasks (2)!")
	if r.Tasks() != 0 {
		t.Fatalf("tasks left: %d", r.Tasks())
	}
	say(r, "bob", "!canceltasks")
	expectReply(t, c, "bob: Stopped and removed all tasks (0)!")
}

func TestRunner_ModulesSeeEventsFirst(t *testing.T) {
	var order []string
	r, _ := newRunner(t, Config{})
	m := &echo{log: &order}
	r.Register(m)
	err := r.AddTask(task.NewFunc("job", func(agent.Client, agent.Event) (task.Outcome, error) {
		order = append(order, "task")
		return task.Ongoing, nil
	}))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	r.Handle(agent.Init)
	r.Handle(agent.Tick)
	if len(order) != 2 || order[0] != "module" || order[1] != "task" {
		t.Fatalf("order %v", order)
	}
	if len(m.events) != 2 || m.events[0] != agent.EventInit {
		t.Fatalf("module events %v", m.events)
	}
}

// syncClient logs every Sync next to the module and task handlers.
type syncClient struct {
	*agenttest.Client
	log *[]string
}

func (c *syncClient) Sync(ev agent.Event) {
	if ev.IsTick() {
		*c.log = append(*c.log, "sync")
	}
}

func TestRunner_SyncsClientBeforeHandling(t *testing.T) {
	var order []string
	c := &syncClient{Client: agenttest.New(geom.Vec3{X: 0.5, Y: 64, Z: 0.5}), log: &order}
	r := New(c, Config{Name: "dj"})
	r.Register(&echo{log: &order})
	err := r.AddTask(task.NewFunc("job", func(agent.Client, agent.Event) (task.Outcome, error) {
		order = append(order, "task")
		return task.Ongoing, nil
	}))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	r.Handle(agent.Tick)
	r.Handle(agent.Tick)
	want := []string{"sync", "module", "task", "sync", "module", "task"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order %v want %v", order, want)
	}
}

func TestRunner_CommandsAreRecorded(t *testing.T) {
	journal := &fakeJournal{}
	cmds := &fakeCommandLog{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r, c := newRunner(t, Config{Admins: []string{"bob"}, Journal: journal, Commands: cmds, Now: func() time.Time { return now }})
	m := &echo{}
	r.Register(m)

	say(r, "bob", "!ECHO hello   world")
	expectReply(t, c, "bob: hello world")
	if !m.admin {
		t.Fatalf("admin flag not passed")
	}
	if journal.count("command") != 1 {
		t.Fatalf("journal %v", journal.kinds)
	}
	if len(cmds.records) != 1 {
		t.Fatalf("command log %v", cmds.records)
	}
	rec := cmds.records[0]
	if rec.Sender != "bob" || rec.Command != "echo" || rec.Args != "hello world" || !rec.Admin || !rec.At.Equal(now) {
		t.Fatalf("record %+v", rec)
	}
}

func TestRunner_CommandErrorIsReported(t *testing.T) {
	r, c := newRunner(t, Config{})
	r.Register(&echo{err: errors.New("boom")})
	say(r, "alice", "!echo x")
	expectReply(t, c, "alice: Oops: boom")

	say(r, "alice", "!nope")
	expectReply(t, c, "alice: Unknown command. Try !help")
}

func TestRunner_IgnoresNonCommands(t *testing.T) {
	r, c := newRunner(t, Config{Prefix: "#"})
	r.Register(&echo{})
	say(r, "alice", "!echo hi")
	say(r, "alice", "#")
	say(r, "DJ", "#echo myself")
	say(r, "", "#echo nobody")
	if got := whispers(c); len(got) != 0 {
		t.Fatalf("unexpected replies %q", got)
	}
	say(r, "alice", "  #echo hi")
	expectReply(t, c, "alice: hi")
}

func TestRunner_FailedTaskIsSkipped(t *testing.T) {
	journal := &fakeJournal{}
	r, _ := newRunner(t, Config{Journal: journal})
	ran := false
	broken := task.NewFunc("broken", func(agent.Client, agent.Event) (task.Outcome, error) {
		return task.Outcome{}, errors.New("kaputt")
	})
	next := task.NewFunc("next", func(agent.Client, agent.Event) (task.Outcome, error) {
		ran = true
		return task.Succeeded, nil
	})
	if err := r.AddTask(broken); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.AddTask(next); err != nil {
		t.Fatalf("add: %v", err)
	}

	r.Handle(agent.Tick)
	if r.Tasks() != 1 || journal.count("task_failed") != 1 {
		t.Fatalf("after failure: tasks %d, journal %v", r.Tasks(), journal.kinds)
	}
	r.Handle(agent.Tick)
	if !ran || r.Tasks() != 0 {
		t.Fatalf("next task did not run: ran=%v tasks=%d", ran, r.Tasks())
	}
	r.Handle(agent.Tick)
	if journal.count("task_status") == 0 {
		t.Fatalf("no task_status entries: %v", journal.kinds)
	}
}

func TestRunner_DisconnectStopsCurrentTask(t *testing.T) {
	r, _ := newRunner(t, Config{})
	stopped := 0
	f := task.NewFunc("long", func(agent.Client, agent.Event) (task.Outcome, error) { return task.Ongoing, nil })
	f.OnStop = func(agent.Client) error {
		stopped++
		return nil
	}
	if err := r.AddTask(f); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Handle(agent.Tick)
	r.Handle(agent.Disconnect)
	if stopped != 1 {
		t.Fatalf("stopped %d times", stopped)
	}
	if r.Tasks() != 1 {
		t.Fatalf("task should stay queued, got %d", r.Tasks())
	}
}

func TestRunner_Run(t *testing.T) {
	r, _ := newRunner(t, Config{})
	m := &echo{}
	r.Register(m)

	events := make(chan agent.Event, 3)
	events <- agent.Init
	events <- agent.Tick
	events <- agent.Tick
	close(events)
	if err := r.Run(context.Background(), events); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(m.events) != 3 {
		t.Fatalf("events %v", m.events)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx, make(chan agent.Event)); !errors.Is(err, context.Canceled) {
		t.Fatalf("run after cancel: %v", err)
	}
}
