package dj

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/agent/agenttest"
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
	"noteblockdj.ai/internal/task"
)

func init() {
	SetLogger(nil)
	task.SetLogger(nil)
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func note(tick uint16, inst nbs.Instrument, pitch nbs.Pitch) nbs.PositionedNote {
	return nbs.PositionedNote{Note: nbs.Note{Instrument: inst, Pitch: pitch}, Tick: tick}
}

func newSong(name string, tempo, length uint16, notes ...nbs.PositionedNote) *nbs.Song {
	s := &nbs.Song{
		Name:        name,
		FileName:    name + ".nbs",
		Tempo:       tempo,
		LengthTicks: length,
		Unique:      map[nbs.Note]struct{}{},
	}
	for _, n := range notes {
		s.Notes = append(s.Notes, n)
		s.Unique[n.Note] = struct{}{}
	}
	return s
}

func writeSong(t *testing.T, dir string, s *nbs.Song) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, s.FileName))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := nbs.Encode(f, s); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

// newWorld places the agent centered on block 0 64 0.
func newWorld() *agenttest.Client {
	c := agenttest.New(geom.Vec3{X: 0.5, Y: 64, Z: 0.5})
	c.TuneOnUse = true
	return c
}

// scheduler is a root group driven by the test.
type scheduler struct {
	root *task.Group
	c    agent.Client
}

func newScheduler(c agent.Client) *scheduler {
	return &scheduler{root: task.NewRoot(), c: c}
}

func (s *scheduler) AddTask(t task.Task) error { return s.root.Add(s.c, t) }
func (s *scheduler) Tasks() int                { return s.root.Remaining() }

// harness feeds ticks to a task, answers pings with pongs and keeps every action.
type harness struct {
	t       *testing.T
	c       *agenttest.Client
	clk     *fakeClock
	actions []agenttest.Action
	steps   int
	// startDestroyAt maps step number to START_DESTROY count in that step.
	startDestroyAt map[int]int
}

func newHarness(t *testing.T, c *agenttest.Client, clk *fakeClock) *harness {
	return &harness{t: t, c: c, clk: clk, startDestroyAt: map[int]int{}}
}

func (h *harness) step(tk task.Task) task.Outcome {
	h.t.Helper()
	out, err := tk.Handle(h.c, agent.Tick)
	if err != nil {
		h.t.Fatalf("handle tick: %v", err)
	}
	acts := h.c.Take()
	h.actions = append(h.actions, acts...)
	for _, a := range acts {
		switch a.Kind {
		case agenttest.ActStartDestroy:
			h.startDestroyAt[h.steps]++
		case agenttest.ActPing:
			if out.Finished() {
				continue
			}
			pout, err := tk.Handle(h.c, agent.PacketEvent(agent.Pong{ID: a.PingID}))
			if err != nil {
				h.t.Fatalf("handle pong: %v", err)
			}
			if pout.Finished() {
				out = pout
			}
		}
	}
	h.steps++
	h.clk.advance(50 * time.Millisecond)
	return out
}

func (h *harness) count(kind string) int {
	n := 0
	for _, a := range h.actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}
