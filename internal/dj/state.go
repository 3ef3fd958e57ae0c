package dj

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"noteblockdj.ai/internal/nbs"
)

// ActualStatus is what the playback task has achieved.
type ActualStatus int

const (
	ActualUnknown ActualStatus = iota
	ActualPositioning
	ActualWaitingForSong
	ActualTuning
	ActualPlaying
	ActualPaused
	ActualStopped
	ActualFinished
	ActualInterrupted
)

var actualNames = [...]string{
	"Unknown", "Positioning", "WaitingForSong", "Tuning", "Playing", "Paused", "Stopped", "Finished", "Interrupted",
}

func (s ActualStatus) String() string {
	if int(s) < len(actualNames) {
		return actualNames[s]
	}
	return fmt.Sprintf("ActualStatus(%d)", int(s))
}

// DesiredStatus is what the operator asked for.
type DesiredStatus int

const (
	DesiredStopped DesiredStatus = iota
	DesiredPlaying
	DesiredPaused
)

func (s DesiredStatus) String() string {
	switch s {
	case DesiredPlaying:
		return "Playing"
	case DesiredPaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// PlaybackState is shared between the playback task and command handlers.
// Commands change Desired; the task moves Actual towards it.
type PlaybackState struct {
	Song    *nbs.Song
	Speed   float64
	Tick    float64
	Actual  ActualStatus
	Desired DesiredStatus
}

func NewPlaybackState() PlaybackState {
	return PlaybackState{Speed: 1}
}

// FormattedState renders e.g. "Playing » Tuning: Name [00:03]".
func (s PlaybackState) FormattedState() string {
	var b strings.Builder
	desired, actual := s.Desired.String(), s.Actual.String()
	if desired != actual {
		b.WriteString(desired + " » " + actual)
	} else {
		b.WriteString(actual)
	}
	if s.Song != nil {
		pos := FormatTimestamp(millis(s.Song, s.Tick), false)
		if s.Actual == ActualPlaying || s.Actual == ActualPaused {
			fmt.Fprintf(&b, ": %s [%s/%s]", s.Song.FriendlyName(), pos, FormatTimestamp(SongLengthMillis(s.Song), false))
		} else {
			fmt.Fprintf(&b, ": %s [%s]", s.Song.FriendlyName(), pos)
		}
	}
	return b.String()
}

func millis(song *nbs.Song, ticks float64) uint64 {
	ms := math.Floor(song.TicksToMillis(ticks))
	if ms < 0 || math.IsNaN(ms) {
		return 0
	}
	return uint64(ms)
}

func SongLengthMillis(song *nbs.Song) uint64 {
	return millis(song, float64(song.LengthTicks))
}

// FormatTimestamp renders mm:ss, or mm:ss.cc with fraction.
func FormatTimestamp(ms uint64, fraction bool) string {
	if fraction {
		return fmt.Sprintf("%02d:%02d.%d", ms/60000, (ms%60000)/1000, (ms%1000)/10)
	}
	return fmt.Sprintf("%02d:%02d", ms/60000, (ms%60000)/1000)
}

// State guards a PlaybackState. Hold it only for one read-modify-write.
type State struct {
	mu sync.Mutex
	s  PlaybackState
}

func NewState() *State {
	return &State{s: NewPlaybackState()}
}

// Update runs fn with exclusive access.
func (st *State) Update(fn func(s *PlaybackState)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
}

// Snapshot returns a copy.
func (st *State) Snapshot() PlaybackState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

func (st *State) Actual() ActualStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Actual
}

func (st *State) SetActual(a ActualStatus) {
	st.mu.Lock()
	st.s.Actual = a
	st.mu.Unlock()
}
