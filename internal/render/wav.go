package render

import (
	"errors"
	"io"
	"math"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/wav"

	"noteblockdj.ai/internal/nbs"
)

const (
	DefaultSampleRate = 44100
	voiceGain         = 0.25
	tail              = time.Second
)

type WAVOptions struct {
	SampleRate int
	// Volume scales the mix. 0 means 1.
	Volume float64
}

func (o WAVOptions) rate() beep.SampleRate {
	if o.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return beep.SampleRate(o.SampleRate)
}

// Duration is the rendered length of s: its last note plus a decay tail.
func Duration(s *nbs.Song) time.Duration {
	return noteOffset(s, s.LastTick()) + tail
}

// Samples is the number of frames WAV writes for s.
func Samples(s *nbs.Song, opts WAVOptions) int {
	return opts.rate().N(Duration(s))
}

// Stream mixes every playable note of s into one finite stream.
func Stream(s *nbs.Song, opts WAVOptions) beep.Streamer {
	rate := opts.rate()
	mixer := &beep.Mixer{}
	for i, n := range s.Notes {
		if !Playable(n.Instrument) {
			continue
		}
		v := newVoice(n.Note, rate, uint32(i)+1)
		mixer.Add(beep.Seq(beep.Silence(rate.N(noteOffset(s, n.Tick))), v))
	}
	out := beep.Take(Samples(s, opts), mixer)
	vol := opts.Volume
	if vol == 0 {
		vol = 1
	}
	if vol < 0 {
		return &effects.Volume{Streamer: out, Base: 2, Silent: true}
	}
	return &effects.Volume{Streamer: out, Base: 2, Volume: math.Log2(vol)}
}

// WAV writes s as 16 bit stereo PCM.
func WAV(w io.WriteSeeker, s *nbs.Song, opts WAVOptions) error {
	if s == nil {
		return errors.New("nil song")
	}
	format := beep.Format{SampleRate: opts.rate(), NumChannels: 2, Precision: 2}
	return wav.Encode(w, Stream(s, opts), format)
}

// voice is one struck note with an exponential decay.
type voice struct {
	freq  float64
	phase float64
	step  float64
	wave  waveform

	amp   float64
	decay float64
	left  int

	noise uint32
}

func newVoice(n nbs.Note, rate beep.SampleRate, seed uint32) *voice {
	spec := voices[n.Instrument]
	f := Frequency(n)
	samples := rate.N(spec.decay * 4)
	return &voice{
		freq:  f,
		step:  f / float64(rate),
		wave:  spec.wave,
		amp:   voiceGain,
		decay: math.Exp(-1 / float64(rate.N(spec.decay))),
		left:  samples,
		noise: seed*2654435761 | 1,
	}
}

func (v *voice) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if v.left <= 0 {
			return i, i > 0
		}
		var x float64
		switch v.wave {
		case waveSine:
			x = math.Sin(2 * math.Pi * v.phase)
		case waveSquare:
			x = 1
			if v.phase >= 0.5 {
				x = -1
			}
		case waveSaw:
			x = 2 * (v.phase - 0.5)
		case waveNoise:
			v.noise ^= v.noise << 13
			v.noise ^= v.noise >> 17
			v.noise ^= v.noise << 5
			x = float64(v.noise)/float64(math.MaxUint32)*2 - 1
		}
		x *= v.amp
		samples[i][0] = x
		samples[i][1] = x

		v.phase += v.step
		v.phase -= math.Floor(v.phase)
		v.amp *= v.decay
		v.left--
	}
	return len(samples), true
}

func (v *voice) Err() error { return nil }
