package dj

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
)

const (
	interactRange    = 5.5 // eye to block box, newer servers
	interactRangeOld = 6.0 // eye to block center, older servers
	searchRadius     = 7
)

var ErrMissingInstruments = errors.New("missing instruments")

// MissingNotesError lists wanted notes no reachable block can produce.
type MissingNotesError struct {
	Missing []nbs.Note
}

func (e *MissingNotesError) Error() string {
	return "Missing instruments: " + FormatMissing(e.Missing)
}

func (e *MissingNotesError) Unwrap() error { return ErrMissingInstruments }

// searchOffsets visits the closest offsets first: 0, -1, 1, -2, 2, ...
var searchOffsets = func() []int {
	out := []int{0}
	for i := 1; i <= searchRadius; i++ {
		out = append(out, -i, i)
	}
	return out
}()

// CanReach applies both interaction range checks servers are known to enforce.
func CanReach(eye geom.Vec3, pos geom.BlockPos) bool {
	if pos.AABB().DistanceSqr(eye) > interactRange*interactRange {
		return false
	}
	return pos.Center().DistanceSqr(eye) <= interactRangeOld*interactRangeOld
}

// FoundBlock is a reachable note block seen during a search.
type FoundBlock struct {
	Pos   geom.BlockPos
	Pitch nbs.Pitch
}

// SearchNotes returns every reachable note block around the agent, grouped
// by instrument and kept in discovery order.
func SearchNotes(w agent.WorldQuery) (map[nbs.Instrument][]FoundBlock, error) {
	own, ok := w.Position()
	if !ok {
		return nil, errors.New("no own position")
	}
	eye, ok := w.EyePosition()
	if !ok {
		return nil, errors.New("no eye position")
	}
	base := own.Block()
	found := make(map[nbs.Instrument][]FoundBlock)
	for _, dx := range searchOffsets {
		for _, dz := range searchOffsets {
			for _, dy := range searchOffsets {
				pos := base.Add(dx, dy, dz)
				if !CanReach(eye, pos) {
					continue
				}
				b, ok := w.BlockAt(pos)
				if !ok || !b.NoteBlock {
					continue
				}
				found[b.Note.Instrument] = append(found[b.Note.Instrument], FoundBlock{Pos: pos, Pitch: b.Note.Pitch})
			}
		}
	}
	return found, nil
}

// FormatMissing renders "2x Oak Planks, 1x Air", most needed block first.
func FormatMissing(notes []nbs.Note) string {
	counts := make(map[nbs.Instrument]int)
	for _, n := range notes {
		counts[n.Instrument]++
	}
	insts := make([]nbs.Instrument, 0, len(counts))
	for inst := range counts {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool {
		if counts[insts[i]] != counts[insts[j]] {
			return counts[insts[i]] > counts[insts[j]]
		}
		return insts[i] < insts[j]
	})
	parts := make([]string, len(insts))
	for i, inst := range insts {
		parts[i] = fmt.Sprintf("%dx %s", counts[inst], inst.ExampleBlock())
	}
	return strings.Join(parts, ", ")
}

type tuneJob struct {
	pos        geom.BlockPos
	instrument nbs.Instrument
	wanted     nbs.Pitch

	predicted      nbs.Pitch
	predictedUntil time.Time
	hasPrediction  bool
}

type pingState int

const (
	pingNotStarted pingState = iota
	pingPending
	pingResponded
)

// Tuner right clicks reachable note blocks until every wanted note has a
// block producing it. World reads lag behind sent actions, so every click
// leaves a prediction that masks the stale block state until it expires.
type Tuner struct {
	wanted []nbs.Note // sorted
	jobs   []tuneJob
	now    func() time.Time

	ping        pingState
	pingID      int64
	pingSentAt  time.Time
	pongAt      time.Time
	pingLatency time.Duration

	waitForLastPing bool
	waitingHit      *geom.BlockHit
}

func NewTuner(wanted map[nbs.Note]struct{}, now func() time.Time) *Tuner {
	if now == nil {
		now = time.Now
	}
	t := &Tuner{now: now, waitForLastPing: true}
	t.SetWanted(wanted)
	return t
}

// SetWanted replaces the wanted notes. Call Reset afterwards to drop jobs.
func (t *Tuner) SetWanted(wanted map[nbs.Note]struct{}) {
	t.wanted = t.wanted[:0]
	for n := range wanted {
		t.wanted = append(t.wanted, n)
	}
	sort.Slice(t.wanted, func(i, j int) bool { return t.wanted[i].Less(t.wanted[j]) })
}

func (t *Tuner) Wanted() []nbs.Note { return t.wanted }

// Reset forgets the latency probe and all jobs.
func (t *Tuner) Reset() {
	t.ping = pingNotStarted
	t.jobs = nil
}

// CreateJobs assigns each wanted pitch the reachable block of the same
// instrument that needs the fewest right clicks. Each block serves one
// pitch. Notes no block can serve are returned as missing.
func (t *Tuner) CreateJobs(w agent.WorldQuery) ([]nbs.Note, error) {
	t.jobs = t.jobs[:0]
	found, err := SearchNotes(w)
	if err != nil {
		return nil, err
	}

	var missing []nbs.Note
	// wanted is sorted by instrument, then pitch.
	for _, want := range t.wanted {
		blocks := found[want.Instrument]
		best := -1
		bestClicks := 0
		for i, b := range blocks {
			clicks := b.Pitch.RightClicksFor(want.Pitch)
			if best < 0 || clicks < bestClicks {
				best, bestClicks = i, clicks
			}
		}
		if best < 0 {
			missing = append(missing, want)
			continue
		}
		t.jobs = append(t.jobs, tuneJob{pos: blocks[best].Pos, instrument: want.Instrument, wanted: want.Pitch})
		found[want.Instrument] = append(blocks[:best:best], blocks[best+1:]...)
	}
	logger.Printf("Create Jobs: Created %d Jobs (%d missing).", len(t.jobs), len(missing))
	return missing, nil
}

func (t *Tuner) tickPing(c agent.ActionSink) {
	if t.ping != pingNotStarted {
		return
	}
	t.pingID = agent.NewPingID()
	t.pingSentAt = t.now()
	t.ping = pingPending
	c.Ping(t.pingID)
}

func (t *Tuner) safeDelay() time.Duration {
	if t.ping == pingResponded {
		return 100*time.Millisecond + 2*min(t.pingLatency, 50*time.Millisecond)
	}
	return 350 * time.Millisecond
}

// Progress advances tuning by one event. It reports true once every block
// is tuned and one extra round trip confirmed no click is still in flight.
func (t *Tuner) Progress(c agent.Client, ev agent.Event) (bool, error) {
	switch ev.Kind {
	case agent.EventPacket:
		if p, ok := ev.Packet.(agent.Pong); ok && t.ping == pingPending && p.ID == t.pingID {
			t.pongAt = t.now()
			t.pingLatency = t.pongAt.Sub(t.pingSentAt)
			t.ping = pingResponded
		}
		return false, nil
	case agent.EventTick:
	default:
		return false, nil
	}

	// The interaction goes out one tick after the look it belongs to.
	if t.waitingHit != nil {
		c.UseBlock(*t.waitingHit)
		c.Swing()
		t.waitingHit = nil
	}

	if len(t.wanted) == 0 {
		return true, nil
	}
	if len(t.wanted) != len(t.jobs) {
		t.waitForLastPing = false
		missing, err := t.CreateJobs(c)
		if err != nil {
			return false, fmt.Errorf("create jobs: %w", err)
		}
		if len(missing) > 0 {
			return false, &MissingNotesError{Missing: missing}
		}
	}

	t.tickPing(c)
	safeDelay := t.safeDelay()
	now := t.now()

	best := -1
	var bestActual nbs.Pitch
	pending := 0
	for i := range t.jobs {
		job := &t.jobs[i]
		var current nbs.Pitch
		if job.hasPrediction && !job.predictedUntil.Before(now) {
			pending++
			current = job.predicted
		} else {
			b, ok := c.BlockAt(job.pos)
			if !ok || !b.NoteBlock {
				logger.Printf("Failed to read note block state at %s. Re-starting tune...", job.pos)
				t.jobs = nil
				return false, nil
			}
			if b.Note.Instrument != job.instrument {
				logger.Printf("Expected instrument %s at %s but found %s instead. Re-starting tune...", job.instrument, job.pos, b.Note.Instrument)
				t.jobs = nil
				return false, nil
			}
			current = b.Note.Pitch
		}
		if current != job.wanted && (best < 0 || job.wanted < t.jobs[best].wanted) {
			best, bestActual = i, current
		}
	}

	if best >= 0 {
		eye, ok := c.EyePosition()
		if !ok {
			return false, nil
		}
		job := &t.jobs[best]
		look, hit, err := geom.NiceBlockHit(eye, job.pos)
		if err != nil {
			return false, fmt.Errorf("calculate block hit for %s: %w", job.pos, err)
		}
		c.Look(look)
		t.waitingHit = &hit
		job.predicted = bestActual.Next()
		job.predictedUntil = now.Add(safeDelay)
		job.hasPrediction = true
		t.waitForLastPing = false
		return false, nil
	}

	if pending > 0 {
		return false, nil
	}
	if !t.waitForLastPing {
		// Seemingly done. One more round trip drains any click still in flight.
		t.ping = pingNotStarted
		t.tickPing(c)
		t.waitForLastPing = true
		return false, nil
	}
	return t.ping == pingResponded && now.Sub(t.pongAt) >= 100*time.Millisecond, nil
}
