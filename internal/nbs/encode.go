package nbs

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"
)

const encodeVersion = 5

// Encode writes s in the versioned layout. Notes are written in tick order;
// notes sharing a tick and layer are moved to the next free layer.
func Encode(dst io.Writer, s *Song) error {
	w := bufio.NewWriter(dst)
	var err error
	put := func(v any) {
		if err == nil {
			err = binary.Write(w, binary.LittleEndian, v)
		}
	}
	str := func(v string) {
		put(uint32(len(v)))
		if err == nil {
			_, err = w.WriteString(v)
		}
	}

	put(uint16(0))
	put(uint8(encodeVersion))
	put(uint8(InstrumentCount))
	put(s.LengthTicks)
	put(s.Height)
	str(s.Name)
	str(s.Author)
	str(s.OriginalAuthor)
	str(s.Description)
	put(s.Tempo)
	put(make([]byte, 23))
	str("")
	put(s.Loop)
	put(s.MaxLoopCount)
	put(s.LoopStartTick)

	notes := append([]PositionedNote(nil), s.Notes...)
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Tick != notes[j].Tick {
			return notes[i].Tick < notes[j].Tick
		}
		return notes[i].Layer < notes[j].Layer
	})

	prevTick := -1
	prevLayer := -1
	for i, n := range notes {
		if i == 0 || int(n.Tick) != prevTick {
			if i > 0 {
				put(uint16(0))
			}
			put(uint16(int(n.Tick) - prevTick))
			prevTick = int(n.Tick)
			prevLayer = -1
		}
		layer := max(int(n.Layer), prevLayer+1)
		put(uint16(layer - prevLayer))
		prevLayer = layer
		put(uint8(n.Instrument))
		put(uint8(n.Pitch) + 33)
		put(uint8(100)) // velocity
		put(uint8(100)) // panning
		put(int16(0))   // fine pitch
	}
	if len(notes) > 0 {
		put(uint16(0))
	}
	put(uint16(0))
	if err != nil {
		return err
	}
	return w.Flush()
}
