package dj

import (
	"errors"
	"testing"
	"time"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/agent/agenttest"
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
)

func wanted(notes ...nbs.Note) map[nbs.Note]struct{} {
	out := make(map[nbs.Note]struct{}, len(notes))
	for _, n := range notes {
		out[n] = struct{}{}
	}
	return out
}

func TestCanReach(t *testing.T) {
	eye := geom.Vec3{X: 0.5, Y: 64 + geom.DefaultEyeHeight, Z: 0.5}
	cases := []struct {
		pos  geom.BlockPos
		want bool
	}{
		{geom.BlockPos{X: 0, Y: 63, Z: 0}, true},
		{geom.BlockPos{X: 4, Y: 64, Z: 0}, true},
		{geom.BlockPos{X: 5, Y: 64, Z: 0}, true},
		{geom.BlockPos{X: 6, Y: 64, Z: 0}, false},
		{geom.BlockPos{X: 4, Y: 68, Z: 4}, false}, // box in range, center too far
		{geom.BlockPos{X: 0, Y: 70, Z: 0}, true},
		{geom.BlockPos{X: 0, Y: 72, Z: 0}, false},
	}
	for _, tc := range cases {
		if got := CanReach(eye, tc.pos); got != tc.want {
			t.Fatalf("CanReach(%s)=%v want %v", tc.pos, got, tc.want)
		}
	}
}

func TestSearchNotes_OnlyReachable(t *testing.T) {
	c := newWorld()
	c.SetNote(geom.BlockPos{X: 2, Y: 64, Z: 0}, nbs.Harp, 3)
	c.SetNote(geom.BlockPos{X: -2, Y: 64, Z: 0}, nbs.Harp, 7)
	c.SetNote(geom.BlockPos{X: 0, Y: 63, Z: 3}, nbs.Bass, 1)
	c.SetNote(geom.BlockPos{X: 7, Y: 64, Z: 0}, nbs.Harp, 0) // out of reach
	c.Blocks[geom.BlockPos{X: 1, Y: 64, Z: 1}] = agent.Block{Name: "stone"}

	found, err := SearchNotes(c)
	if err != nil {
		t.Fatalf("SearchNotes: %v", err)
	}
	eye, _ := c.EyePosition()
	total := 0
	for _, blocks := range found {
		for _, b := range blocks {
			total++
			if !CanReach(eye, b.Pos) {
				t.Fatalf("unreachable block returned: %s", b.Pos)
			}
		}
	}
	if total != 3 {
		t.Fatalf("found %d blocks want 3: %+v", total, found)
	}
	// Discovery order is x offset 0, -1, 1, -2, 2, ...
	harps := found[nbs.Harp]
	if len(harps) != 2 || harps[0].Pos.X != -2 || harps[1].Pos.X != 2 {
		t.Fatalf("harp order: %+v", harps)
	}
}

func TestTuner_CreateJobsPicksFewestClicks(t *testing.T) {
	c := newWorld()
	a := geom.BlockPos{X: 2, Y: 64, Z: 0}
	b := geom.BlockPos{X: -2, Y: 64, Z: 0}
	c.SetNote(a, nbs.Harp, 0)
	c.SetNote(b, nbs.Harp, 3)

	tu := NewTuner(wanted(nbs.Note{Instrument: nbs.Harp, Pitch: 1}, nbs.Note{Instrument: nbs.Harp, Pitch: 3}), newFakeClock().now)
	missing, err := tu.CreateJobs(c)
	if err != nil || len(missing) != 0 {
		t.Fatalf("CreateJobs: missing=%v err=%v", missing, err)
	}
	if len(tu.jobs) != 2 {
		t.Fatalf("jobs=%d", len(tu.jobs))
	}
	// Pitch 1 is one click away from a; b already has pitch 3.
	if tu.jobs[0].pos != a || tu.jobs[0].wanted != 1 {
		t.Fatalf("first job %+v", tu.jobs[0])
	}
	if tu.jobs[1].pos != b || tu.jobs[1].wanted != 3 {
		t.Fatalf("second job %+v", tu.jobs[1])
	}
}

func TestTuner_MissingInstruments(t *testing.T) {
	c := newWorld()
	c.SetNote(geom.BlockPos{X: 2, Y: 64, Z: 0}, nbs.Harp, 0)

	tu := NewTuner(wanted(
		nbs.Note{Instrument: nbs.Harp, Pitch: 1},
		nbs.Note{Instrument: nbs.Harp, Pitch: 2},
		nbs.Note{Instrument: nbs.Bass, Pitch: 0},
		nbs.Note{Instrument: nbs.Bass, Pitch: 5},
		nbs.Note{Instrument: nbs.Snare, Pitch: 0},
	), newFakeClock().now)
	_, err := tu.Progress(c, agent.Tick)
	if !errors.Is(err, ErrMissingInstruments) {
		t.Fatalf("expected ErrMissingInstruments, got %v", err)
	}
	var me *MissingNotesError
	if !errors.As(err, &me) || len(me.Missing) != 4 {
		t.Fatalf("missing notes: %v", err)
	}
	if got := err.Error(); got != "Missing instruments: 2x Oak Planks, 1x Air, 1x Sand" {
		t.Fatalf("message: %q", got)
	}
}

func TestFormatMissing(t *testing.T) {
	got := FormatMissing([]nbs.Note{
		{Instrument: nbs.Harp},
		{Instrument: nbs.Bass},
		{Instrument: nbs.Bass, Pitch: 1},
	})
	if got != "2x Oak Planks, 1x Air" {
		t.Fatalf("FormatMissing=%q", got)
	}
	if got := FormatMissing(nil); got != "" {
		t.Fatalf("FormatMissing(nil)=%q", got)
	}
}

func TestTuner_TunesAndConfirmsWithPing(t *testing.T) {
	clk := newFakeClock()
	c := newWorld()
	a := geom.BlockPos{X: 2, Y: 64, Z: 0}
	b := geom.BlockPos{X: 0, Y: 63, Z: 2}
	c.SetNote(a, nbs.Harp, 20)
	c.SetNote(b, nbs.Bass, 0)

	tu := NewTuner(wanted(nbs.Note{Instrument: nbs.Harp, Pitch: 22}, nbs.Note{Instrument: nbs.Bass, Pitch: 1}), clk.now)

	done := false
	for i := 0; i < 200 && !done; i++ {
		var err error
		done, err = tu.Progress(c, agent.Tick)
		if err != nil {
			t.Fatalf("Progress: %v", err)
		}
		for _, act := range c.Take() {
			if act.Kind == agenttest.ActPing {
				if _, err := tu.Progress(c, agent.PacketEvent(agent.Pong{ID: act.PingID})); err != nil {
					t.Fatalf("pong: %v", err)
				}
			}
		}
		clk.advance(50 * time.Millisecond)
	}
	if !done {
		t.Fatalf("tuning never finished")
	}
	if n, _ := c.Note(a); n.Pitch != 22 {
		t.Fatalf("harp block pitch=%d want 22", n.Pitch)
	}
	if n, _ := c.Note(b); n.Pitch != 1 {
		t.Fatalf("bass block pitch=%d want 1", n.Pitch)
	}
}

func TestTuner_IgnoresForeignPong(t *testing.T) {
	clk := newFakeClock()
	c := newWorld()
	c.SetNote(geom.BlockPos{X: 2, Y: 64, Z: 0}, nbs.Harp, 5)
	tu := NewTuner(wanted(nbs.Note{Instrument: nbs.Harp, Pitch: 5}), clk.now)

	for i := 0; i < 40; i++ {
		done, err := tu.Progress(c, agent.Tick)
		if err != nil {
			t.Fatalf("Progress: %v", err)
		}
		if done {
			t.Fatalf("finished without a matching pong")
		}
		for _, act := range c.Take() {
			if act.Kind == agenttest.ActPing {
				_, _ = tu.Progress(c, agent.PacketEvent(agent.Pong{ID: act.PingID + 1}))
			}
		}
		clk.advance(50 * time.Millisecond)
	}
}

func TestTuner_UnexpectedInstrumentRebuildsJobs(t *testing.T) {
	clk := newFakeClock()
	c := newWorld()
	a := geom.BlockPos{X: 2, Y: 64, Z: 0}
	b := geom.BlockPos{X: -2, Y: 64, Z: 0}
	c.SetNote(a, nbs.Harp, 0)
	tu := NewTuner(wanted(nbs.Note{Instrument: nbs.Harp, Pitch: 5}), clk.now)

	if _, err := tu.Progress(c, agent.Tick); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if len(tu.jobs) != 1 || tu.jobs[0].pos != a {
		t.Fatalf("jobs %+v", tu.jobs)
	}

	// Someone swaps the block under a and places a tuned harp at b.
	c.SetNote(a, nbs.Bass, 0)
	c.SetNote(b, nbs.Harp, 5)
	clk.advance(400 * time.Millisecond)
	done, err := tu.Progress(c, agent.Tick)
	if err != nil || done {
		t.Fatalf("Progress: done=%v err=%v", done, err)
	}
	if len(tu.jobs) != 0 {
		t.Fatalf("jobs kept after instrument change: %+v", tu.jobs)
	}

	if _, err := tu.Progress(c, agent.Tick); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if len(tu.jobs) != 1 || tu.jobs[0].pos != b || tu.jobs[0].wanted != 5 {
		t.Fatalf("rebuilt jobs %+v", tu.jobs)
	}
}

func TestTuner_UnreachableBlockCountsAsMissing(t *testing.T) {
	c := newWorld()
	c.SetNote(geom.BlockPos{X: 2, Y: 64, Z: 0}, nbs.Harp, 6)  // C
	c.SetNote(geom.BlockPos{X: 7, Y: 64, Z: 0}, nbs.Harp, 13) // G, out of reach

	tu := NewTuner(wanted(nbs.Note{Instrument: nbs.Harp, Pitch: 6}, nbs.Note{Instrument: nbs.Harp, Pitch: 13}), newFakeClock().now)
	missing, err := tu.CreateJobs(c)
	if err != nil {
		t.Fatalf("CreateJobs: %v", err)
	}
	if len(missing) != 1 || missing[0] != (nbs.Note{Instrument: nbs.Harp, Pitch: 13}) {
		t.Fatalf("missing %v", missing)
	}
	if len(tu.jobs) != 1 || tu.jobs[0].wanted != 6 {
		t.Fatalf("jobs %+v", tu.jobs)
	}

	_, err = tu.Progress(c, agent.Tick)
	var me *MissingNotesError
	if !errors.As(err, &me) || err.Error() != "Missing instruments: 1x Air" {
		t.Fatalf("Progress err %v", err)
	}
}
