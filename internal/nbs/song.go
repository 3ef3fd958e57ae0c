package nbs

import (
	"fmt"
	"sort"
	"strings"
)

// Note is a playable sound. Comparable, so it can be used as a map key.
type Note struct {
	Instrument Instrument
	Pitch      Pitch
}

func (n Note) String() string { return fmt.Sprintf("%s/%s", n.Instrument, n.Pitch) }

// Less orders notes by instrument, then pitch.
func (n Note) Less(o Note) bool {
	if n.Instrument != o.Instrument {
		return n.Instrument < o.Instrument
	}
	return n.Pitch < o.Pitch
}

type PositionedNote struct {
	Note
	Tick  uint16
	Layer uint16
}

// Song is a decoded score. It is never mutated after decoding and may be
// shared between goroutines.
type Song struct {
	Unique map[Note]struct{}
	Notes  []PositionedNote

	LengthTicks   uint16
	Height        uint16
	Tempo         uint16 // ticks per second * 100
	LoopStartTick uint16
	Loop          uint8
	MaxLoopCount  uint8

	FileName       string
	Name           string
	Author         string
	OriginalAuthor string
	Description    string
}

func (s *Song) speed() float64 {
	// 20 ticks per second (tempo 2000) is 1x.
	return float64(s.Tempo) / 100 / 20
}

// MillisToTicks converts elapsed real time into song ticks.
func (s *Song) MillisToTicks(ms float64) float64 {
	return ms * (1.0 / 50.0) * s.speed()
}

func (s *Song) TicksToMillis(ticks float64) float64 {
	sp := s.speed()
	if sp == 0 {
		return 0
	}
	return ticks / (1.0 / 50.0) / sp
}

func (s *Song) LengthSeconds() float64 {
	return s.TicksToMillis(float64(s.LengthTicks)) / 1000
}

// LastTick is the tick of the last note, which may exceed LengthTicks in
// files that wrap their tick counter.
func (s *Song) LastTick() uint16 {
	var last uint16
	for _, n := range s.Notes {
		if n.Tick > last {
			last = n.Tick
		}
	}
	return last
}

// UniqueNotes returns the required notes in a stable order.
func (s *Song) UniqueNotes() []Note {
	out := make([]Note, 0, len(s.Unique))
	for n := range s.Unique {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (s *Song) FriendlyName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	if s.FileName != "" {
		return s.FileName
	}
	if strings.TrimSpace(s.Description) != "" {
		return strings.NewReplacer("\r", "", "\n", "").Replace(s.Description)
	}
	return "<Unknown Song!>"
}

func (s *Song) String() string { return s.FriendlyName() }
