package dj

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
	"noteblockdj.ai/internal/task"
)

const (
	waitForSongTimeout = 15 * time.Second
	maxDriftSqr        = 0.15 * 0.15
	DefaultMaxDistance = 3000.0
)

type phase int

const (
	phaseInitializing phase = iota
	phasePathfinding
	phaseCentering
	phaseWaitForSong
	phaseTuning
	phasePlaying
)

// TaskConfig tunes a playback Task. The zero value centers on the current block.
type TaskConfig struct {
	// Pos is a fixed block to walk to and stand on before playing.
	Pos         *geom.BlockPos
	MaxDistance float64
	Now         func() time.Time
}

// Task positions the agent, tunes the nearby note blocks for the selected
// song and plays it. It follows the shared State: commands change the
// desired status and the selected song, and the task converges on them.
type Task struct {
	state   *State
	cfg     TaskConfig
	limiter *RateLimiter

	phase     phase
	pathfind  *task.Pathfind
	center    *task.Center
	waitSince time.Time

	song      *nbs.Song
	tuner     *Tuner
	positions map[nbs.Note]geom.BlockPos

	hasIndex      bool
	indexTick     float64
	index         int
	hasLastTicked bool
	lastTicked    time.Time

	anotherTaskAdded bool
}

func NewTask(state *State, cfg TaskConfig) *Task {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = DefaultMaxDistance
	}
	return &Task{state: state, cfg: cfg, limiter: NewRateLimiter(cfg.Now)}
}

func (t *Task) String() string {
	switch t.phase {
	case phasePathfinding:
		return fmt.Sprintf("SongPlayTask (Pathfinding: %s)", t.pathfind)
	case phaseCentering:
		return fmt.Sprintf("SongPlayTask (Centering: %s)", t.center)
	case phaseWaitForSong:
		return "SongPlayTask (WaitForSongAndPlayingDesire)"
	case phaseTuning:
		return fmt.Sprintf("SongPlayTask (Tuning %q)", t.song.FriendlyName())
	case phasePlaying:
		return fmt.Sprintf("SongPlayTask (Playing %q)", t.song.FriendlyName())
	default:
		return "SongPlayTask (Initializing)"
	}
}

func (t *Task) Start(agent.Client) error {
	t.state.SetActual(ActualUnknown)
	t.phase = phaseInitializing
	t.anotherTaskAdded = false
	return nil
}

func (t *Task) waitForSong() {
	t.phase = phaseWaitForSong
	t.waitSince = t.cfg.Now()
}

func (t *Task) Handle(c agent.Client, ev agent.Event) (task.Outcome, error) {
	if t.anotherTaskAdded {
		logger.Printf("Stopping task voluntarily due to another task being added.")
		if err := t.Stop(c); err != nil {
			return task.Outcome{}, err
		}
		return task.Succeeded, nil
	}

	if t.phase == phaseInitializing {
		t.state.SetActual(ActualUnknown)
		own, ok := c.Position()
		if !ok {
			return task.Ongoing, nil
		}
		if t.cfg.Pos != nil {
			if own.HorizontalDistanceSqr(t.cfg.Pos.Center()) >= t.cfg.MaxDistance*t.cfg.MaxDistance {
				return task.Failed("DJ-Pos is very far away!"), nil
			}
			t.pathfind = task.NewPathfind(*t.cfg.Pos, "Go to noteblock sphere", t.cfg.Now)
			if err := t.pathfind.Start(c); err != nil {
				return task.Outcome{}, fmt.Errorf("start pathfind subtask: %w", err)
			}
			t.phase = phasePathfinding
		} else {
			t.center = task.NewCenter(own.Block(), t.cfg.Now)
			if err := t.center.Start(c); err != nil {
				return task.Outcome{}, fmt.Errorf("start center subtask: %w", err)
			}
			t.phase = phaseCentering
		}
	}

	if t.phase == phasePathfinding {
		t.state.SetActual(ActualPositioning)
		out, err := t.pathfind.Handle(c, ev)
		if err != nil {
			return task.Outcome{}, fmt.Errorf("handle pathfind subtask: %w", err)
		}
		switch out.Result {
		case task.ResultSucceeded:
			own, _ := c.Position()
			t.center = task.NewCenter(own.Block(), t.cfg.Now)
			if err := t.center.Start(c); err != nil {
				return task.Outcome{}, fmt.Errorf("start center subtask: %w", err)
			}
			t.phase = phaseCentering
		case task.ResultFailed:
			return task.Failedf("Pathfind Subtask failed: %s", out.Reason), nil
		}
	}

	if t.phase == phaseCentering {
		t.state.SetActual(ActualPositioning)
		out, err := t.center.Handle(c, ev)
		if err != nil {
			return task.Outcome{}, fmt.Errorf("handle center subtask: %w", err)
		}
		switch out.Result {
		case task.ResultSucceeded:
			t.waitForSong()
		case task.ResultFailed:
			return task.Failedf("Center subtask failed: %s", out.Reason), nil
		}
	}

	if t.phase == phaseWaitForSong {
		var song *nbs.Song
		var playing bool
		t.state.Update(func(s *PlaybackState) {
			switch s.Actual {
			case ActualPaused, ActualStopped, ActualFinished, ActualWaitingForSong:
			default:
				logger.Printf("Actual status in phase WaitForSongAndPlayingDesire was %s, changed to WaitingForSong", s.Actual)
				s.Actual = ActualWaitingForSong
			}
			song, playing = s.Song, s.Desired == DesiredPlaying
		})
		if song != nil && playing {
			t.song = song
			t.tuner = NewTuner(song.Unique, t.cfg.Now)
			t.phase = phaseTuning
		} else if t.cfg.Now().Sub(t.waitSince) >= waitForSongTimeout {
			logger.Printf("Waited over %s for a song and/or desire to play, but never got one! Ending task in success...", waitForSongTimeout)
			return task.Succeeded, nil
		}
	}

	if t.phase == phaseTuning {
		var current *nbs.Song
		t.state.Update(func(s *PlaybackState) {
			s.Actual = ActualTuning
			current = s.Song
		})
		if current == nil {
			logger.Printf("Song was removed during tuning %q. Going back to WaitingForSong...", t.song.FriendlyName())
			t.waitForSong()
			t.state.SetActual(ActualWaitingForSong)
			return task.Ongoing, nil
		}
		if current != t.song {
			logger.Printf("Song changed from %q to %q during tuning. Re-tuning...", t.song.FriendlyName(), current.FriendlyName())
			t.song = current
			t.tuner.SetWanted(current.Unique)
			t.tuner.Reset()
		}

		done, err := t.tuner.Progress(c, ev)
		if err != nil {
			return task.Failedf("Tuning failed: %v", err), nil
		}
		if done {
			positions, err := notePositions(c, t.song)
			if err != nil {
				return task.Outcome{}, err
			}
			logger.Printf("Found %d relevant noteblocks. Playing %q", len(positions), t.song.FriendlyName())
			t.positions = positions
			t.hasIndex = false
			t.hasLastTicked = false
			t.phase = phasePlaying
		}
	}

	if t.phase == phasePlaying && ev.IsTick() {
		return t.handlePlaying(c)
	}
	return task.Ongoing, nil
}

// notePositions picks one tuned block per unique note of song.
func notePositions(c agent.WorldQuery, song *nbs.Song) (map[nbs.Note]geom.BlockPos, error) {
	found, err := SearchNotes(c)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	insts := make([]nbs.Instrument, 0, len(found))
	for inst := range found {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i] < insts[j] })

	positions := make(map[nbs.Note]geom.BlockPos, len(song.Unique))
	for _, inst := range insts {
		for _, b := range found[inst] {
			n := nbs.Note{Instrument: inst, Pitch: b.Pitch}
			if _, want := song.Unique[n]; !want {
				continue
			}
			if _, dup := positions[n]; !dup {
				positions[n] = b.Pos
			}
		}
	}
	if len(positions) != len(song.Unique) {
		return nil, fmt.Errorf("Only found %d out of %d required unique notes nearby! Was tuning done?", len(positions), len(song.Unique))
	}
	return positions, nil
}

func (t *Task) handlePlaying(c agent.Client) (task.Outcome, error) {
	out := task.Ongoing
	t.state.Update(func(s *PlaybackState) {
		if s.Desired != DesiredPlaying {
			logger.Printf("Desired status is %s. Going back to waiting...", s.Desired)
			t.waitForSong()
			if s.Desired == DesiredPaused {
				s.Actual = ActualPaused
			} else {
				s.Tick = 0
				s.Actual = ActualStopped
			}
			return
		}
		if s.Song == nil {
			logger.Printf("No more current song found. Waiting...")
			t.waitForSong()
			s.Actual = ActualWaitingForSong
			return
		}

		if pos, ok := c.Position(); ok {
			center := geom.Vec3{X: math.Floor(pos.X) + 0.5, Y: pos.Y, Z: math.Floor(pos.Z) + 0.5}
			if pos.HorizontalDistanceSqr(center) >= maxDriftSqr {
				logger.Printf("No longer centered. Positioning again...")
				t.phase = phaseInitializing
				s.Actual = ActualPositioning
				return
			}
			if t.cfg.Pos != nil && *t.cfg.Pos != pos.Block() {
				logger.Printf("No longer on DJ goal pos! Positioning again...")
				t.phase = phaseInitializing
				s.Actual = ActualPositioning
				return
			}
		}

		if s.Song != t.song {
			logger.Printf("Song changed from %q to %q during playback. Tuning again...", t.song.FriendlyName(), s.Song.FriendlyName())
			t.song = s.Song
			t.tuner = NewTuner(s.Song.Unique, t.cfg.Now)
			t.phase = phaseTuning
			return
		}

		if s.Actual != ActualFinished && s.Actual != ActualStopped {
			s.Actual = ActualPlaying
			if err := t.tickPlaying(c, s); err != nil {
				out = task.Failedf("Playback failed: %v", err)
				return
			}
		}

		if s.Actual == ActualFinished || s.Actual == ActualStopped {
			logger.Printf("Clearing song and waiting because actual status is: %s", s.Actual)
			s.Song = nil
			t.waitForSong()
		}
	})
	return out, nil
}

// tickPlaying advances the playback clock and triggers every due note.
// Notes the rate limiter holds back stay due and go out on a later tick.
func (t *Task) tickPlaying(c agent.Client, s *PlaybackState) error {
	song := t.song
	if !t.hasIndex || t.indexTick != s.Tick {
		t.index = len(song.Notes)
		for i, n := range song.Notes {
			if float64(n.Tick) >= s.Tick {
				t.index = i
				break
			}
		}
		logger.Printf("Computed tick %.02f to be note index %d of song...", s.Tick, t.index)
		t.hasIndex = true
	}

	now := t.cfg.Now()
	if t.hasLastTicked {
		elapsed := float64(now.Sub(t.lastTicked)) / float64(time.Millisecond)
		s.Tick += song.MillisToTicks(elapsed) * s.Speed
	}
	t.lastTicked = now
	t.hasLastTicked = true
	t.indexTick = s.Tick

	if mode := c.GameMode(); mode != agent.Survival {
		return fmt.Errorf("Expected GameMode survival, but got %s!", mode)
	}

	t.limiter.Tick()

	eye, ok := c.EyePosition()
	if !ok {
		return errors.New("no own eye position")
	}
	var last *geom.BlockPos
	deferred := false
	for {
		if t.index >= len(song.Notes) {
			s.Actual = ActualFinished
			break
		}
		n := song.Notes[t.index]
		if float64(n.Tick) > math.Floor(s.Tick) {
			break
		}
		pos, ok := t.positions[n.Note]
		if !ok {
			return fmt.Errorf("Failed to get position for Note %s!", n.Note)
		}
		if !CanReach(eye, pos) {
			return errors.New("Went out of range for a block!")
		}
		if !t.limiter.CanSend() {
			deferred = true
			break
		}
		face := geom.NearestDirection(pos.Center().Sub(eye)).Opposite()
		c.StartDestroy(pos, face)
		t.limiter.OnPacketSent()
		t.index++
		last = &pos
	}

	if last == nil {
		if !deferred {
			t.limiter.Reset()
		}
		return nil
	}
	if t.limiter.CanSendLook() {
		c.Look(geom.LookAt(eye, last.Center()))
		t.limiter.OnLookSent()
	}
	if t.limiter.CanSendCosmetic() {
		c.AbortDestroy(*last, geom.Down)
		t.limiter.OnPacketSent()
	}
	if t.limiter.CanSendSwing() {
		c.Swing()
		t.limiter.OnSwingSent()
	}
	return nil
}

func (t *Task) Stop(c agent.Client) error {
	logger.Printf("Got interrupted.")
	t.state.SetActual(ActualInterrupted)
	var err error
	switch t.phase {
	case phasePathfinding:
		err = t.pathfind.Stop(c)
	case phaseCentering:
		err = t.center.Stop(c)
	}
	t.phase = phaseInitializing
	return err
}

func (t *Task) Discard(c agent.Client) error {
	switch t.phase {
	case phasePathfinding:
		return t.pathfind.Discard(c)
	case phaseCentering:
		return t.center.Discard(c)
	}
	return nil
}

// NewTaskWaiting makes the task yield on its next event.
func (t *Task) NewTaskWaiting(agent.Client) error {
	t.anotherTaskAdded = true
	return nil
}

var _ task.Task = (*Task)(nil)
var _ task.Waiter = (*Task)(nil)
