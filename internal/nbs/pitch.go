package nbs

import "fmt"

// Pitch is a note block pitch step, 0 (F#1) through 24 (F#3).
type Pitch uint8

const PitchCount = 25

var pitchNames = [PitchCount]string{
	"F#1", "G", "G#", "A", "A#", "B", "C", "C#", "D", "D#", "E", "F",
	"F#2", "G", "G#", "A", "A#", "B", "C", "C#", "D", "D#", "E", "F",
	"F#3",
}

func PitchFromID(id int) (Pitch, bool) {
	if id < 0 || id >= PitchCount {
		return 0, false
	}
	return Pitch(id), true
}

func (p Pitch) Valid() bool { return int(p) < PitchCount }

// Name is the musical name. Names repeat across octaves; use String for a unique label.
func (p Pitch) Name() string {
	if !p.Valid() {
		return "?"
	}
	return pitchNames[p]
}

func (p Pitch) String() string { return fmt.Sprintf("N%02d %s", uint8(p), p.Name()) }

// Next is the pitch one right click produces.
func (p Pitch) Next() Pitch { return Pitch((int(p) + 1) % PitchCount) }

// RightClicksFor counts right clicks needed to go from p to want, always in 0..24.
func (p Pitch) RightClicksFor(want Pitch) int {
	return ((int(want)-int(p))%PitchCount + PitchCount) % PitchCount
}
