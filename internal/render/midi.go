package render

import (
	"errors"
	"io"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"noteblockdj.ai/internal/nbs"
)

const (
	ticksPerQuarter = 96
	// One song tick is a sixteenth note.
	midiTicksPerTick = ticksPerQuarter / 4
	drumChannel      = 9
	velocity         = 100
)

type midiEvent struct {
	at  uint32
	off bool
	msg []byte
}

// channels gives every used melodic instrument its own channel, skipping the
// drum channel. Instruments past the 15th share the last one.
func channels(s *nbs.Song) map[nbs.Instrument]uint8 {
	var used []nbs.Instrument
	seen := map[nbs.Instrument]bool{}
	for _, n := range s.Notes {
		if Playable(n.Instrument) && voices[n.Instrument].drumKey == 0 && !seen[n.Instrument] {
			seen[n.Instrument] = true
			used = append(used, n.Instrument)
		}
	}
	sort.Slice(used, func(i, j int) bool { return used[i] < used[j] })
	out := make(map[nbs.Instrument]uint8, len(used))
	ch := uint8(0)
	for _, inst := range used {
		out[inst] = ch
		if ch < 15 {
			ch++
			if ch == drumChannel {
				ch++
			}
		}
	}
	return out
}

// BPM is the tempo MIDI writes for s.
func BPM(s *nbs.Song) float64 {
	ticksPerSecond := float64(s.Tempo) / 100
	return ticksPerSecond * 60 / 4
}

// MIDI writes s as a single track Standard MIDI File. It returns how many
// notes had no MIDI voice and were left out.
func MIDI(w io.Writer, s *nbs.Song) (skipped int, err error) {
	if s == nil {
		return 0, errors.New("nil song")
	}
	if s.Tempo == 0 {
		return 0, errors.New("song has no tempo")
	}
	chans := channels(s)

	var events []midiEvent
	for _, n := range s.Notes {
		if !Playable(n.Instrument) {
			skipped++
			continue
		}
		at := uint32(n.Tick) * midiTicksPerTick
		ch, key := chans[n.Instrument], uint8(Key(n.Note))
		if dk := voices[n.Instrument].drumKey; dk != 0 {
			ch, key = drumChannel, dk
		}
		events = append(events,
			midiEvent{at: at, msg: midi.NoteOn(ch, key, velocity)},
			midiEvent{at: at + midiTicksPerTick, off: true, msg: midi.NoteOff(ch, key)},
		)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].off && !events[j].off
	})

	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(s.FriendlyName()))
	tr.Add(0, smf.MetaTempo(BPM(s)))
	insts := make([]nbs.Instrument, 0, len(chans))
	for inst := range chans {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i] < insts[j] })
	for _, inst := range insts {
		tr.Add(0, midi.ProgramChange(chans[inst], voices[inst].program))
	}
	var last uint32
	for _, ev := range events {
		tr.Add(ev.at-last, ev.msg)
		last = ev.at
	}
	tr.Close(0)

	f := smf.New()
	f.TimeFormat = smf.MetricTicks(ticksPerQuarter)
	if err := f.Add(tr); err != nil {
		return skipped, err
	}
	_, err = f.WriteTo(w)
	return skipped, err
}
