// Package render previews songs offline: a WAV mixdown built from simple
// synthesized voices, or a Standard MIDI File.
package render

import (
	"math"
	"time"

	"noteblockdj.ai/internal/nbs"
)

type waveform int

const (
	waveNone waveform = iota
	waveSine
	waveSquare
	waveSaw
	waveNoise
)

type voiceSpec struct {
	// octave shifts the instrument's range relative to harp (F#3..F#5).
	octave int
	wave   waveform
	decay  time.Duration
	// fixedHz replaces the note's frequency for unpitched drums.
	fixedHz float64

	program uint8
	// drumKey routes the instrument to the General MIDI percussion channel.
	drumKey uint8
}

var voices = [nbs.InstrumentCount]voiceSpec{
	nbs.Harp:          {wave: waveSine, decay: 600 * time.Millisecond, program: 46},
	nbs.Bass:          {octave: -2, wave: waveSine, decay: 500 * time.Millisecond, program: 32},
	nbs.BaseDrum:      {wave: waveSine, decay: 120 * time.Millisecond, fixedHz: 60, drumKey: 36},
	nbs.Snare:         {wave: waveNoise, decay: 90 * time.Millisecond, drumKey: 38},
	nbs.Hat:           {wave: waveNoise, decay: 40 * time.Millisecond, drumKey: 42},
	nbs.Guitar:        {octave: -1, wave: waveSaw, decay: 400 * time.Millisecond, program: 24},
	nbs.Flute:         {octave: 1, wave: waveSine, decay: 700 * time.Millisecond, program: 73},
	nbs.Bell:          {octave: 2, wave: waveSine, decay: 900 * time.Millisecond, program: 9},
	nbs.Chime:         {octave: 2, wave: waveSine, decay: 1200 * time.Millisecond, program: 14},
	nbs.Xylophone:     {octave: 2, wave: waveSine, decay: 200 * time.Millisecond, program: 13},
	nbs.IronXylophone: {wave: waveSine, decay: 500 * time.Millisecond, program: 11},
	nbs.CowBell:       {octave: 1, wave: waveSquare, decay: 150 * time.Millisecond, program: 113},
	nbs.Didgeridoo:    {octave: -2, wave: waveSaw, decay: 700 * time.Millisecond, program: 109},
	nbs.Bit:           {wave: waveSquare, decay: 300 * time.Millisecond, program: 80},
	nbs.Banjo:         {wave: waveSaw, decay: 300 * time.Millisecond, program: 105},
	nbs.Pling:         {wave: waveSine, decay: 800 * time.Millisecond, program: 4},
}

// Playable reports whether inst has a voice. Mob heads do not.
func Playable(inst nbs.Instrument) bool {
	return int(inst) < len(voices) && voices[inst].wave != waveNone
}

// Key is the MIDI key number of n. Harp pitch 0 is F#3 (54).
func Key(n nbs.Note) int {
	return 54 + int(n.Pitch) + 12*voices[n.Instrument].octave
}

// Frequency is the equal-tempered frequency of n in Hz.
func Frequency(n nbs.Note) float64 {
	if f := voices[n.Instrument].fixedHz; f > 0 {
		return f
	}
	return 440 * math.Pow(2, float64(Key(n)-69)/12)
}

// noteOffset is when a note tick sounds, from the start of the song.
func noteOffset(s *nbs.Song, tick uint16) time.Duration {
	return time.Duration(s.TicksToMillis(float64(tick)) * float64(time.Millisecond))
}
