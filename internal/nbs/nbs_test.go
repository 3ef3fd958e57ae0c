package nbs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

type testNote struct {
	tickJump  uint16
	layerJump uint16
	inst      uint8
	key       uint8
}

// songBytes builds a minimal file. Notes with tickJump 0 continue the previous tick.
func songBytes(newFormat bool, name string, tempo uint16, notes []testNote) []byte {
	var b bytes.Buffer
	u8 := func(v uint8) { b.WriteByte(v) }
	u16 := func(v uint16) { _ = binary.Write(&b, binary.LittleEndian, v) }
	u32 := func(v uint32) { _ = binary.Write(&b, binary.LittleEndian, v) }
	str := func(s string) { u32(uint32(len(s))); b.WriteString(s) }

	if newFormat {
		u16(0)
		u8(5)
		u8(16)
	}
	u16(40) // length
	u16(3)  // height
	str(name)
	str("author")
	str("")
	str("desc")
	u16(tempo)
	b.Write(make([]byte, 23))
	str("import.mid")
	if newFormat {
		u8(1)
		u8(0)
		u16(7)
	}

	open := false
	for _, n := range notes {
		if n.tickJump != 0 {
			if open {
				u16(0)
			}
			u16(n.tickJump)
			open = true
		}
		u16(n.layerJump)
		u8(n.inst)
		u8(n.key)
		if newFormat {
			u8(100)
			u8(100)
			u16(0)
		}
	}
	if open {
		u16(0)
	}
	u16(0)
	return b.Bytes()
}

func TestDecodeBothFormats(t *testing.T) {
	notes := []testNote{
		{tickJump: 1, layerJump: 1, inst: uint8(Harp), key: 33 + 12},
		{layerJump: 2, inst: uint8(Bass), key: 33},
		{tickJump: 20, layerJump: 1, inst: uint8(Harp), key: 33 + 12},
	}
	for _, newFormat := range []bool{false, true} {
		s, err := DecodeBytes(songBytes(newFormat, "Tune", 1000, notes), "tune.nbs")
		if err != nil {
			t.Fatalf("newFormat=%v: %v", newFormat, err)
		}
		if s.Name != "Tune" || s.Author != "author" || s.Tempo != 1000 || s.LengthTicks != 40 || s.Height != 3 {
			t.Fatalf("header mismatch: %+v", s)
		}
		if len(s.Notes) != 3 {
			t.Fatalf("notes=%d want 3", len(s.Notes))
		}
		if s.Notes[0].Tick != 0 || s.Notes[0].Layer != 0 || s.Notes[0].Pitch != 12 {
			t.Fatalf("first note: %+v", s.Notes[0])
		}
		if s.Notes[1].Tick != 0 || s.Notes[1].Layer != 2 || s.Notes[1].Instrument != Bass {
			t.Fatalf("second note: %+v", s.Notes[1])
		}
		if s.Notes[2].Tick != 20 {
			t.Fatalf("third note tick=%d", s.Notes[2].Tick)
		}
		if len(s.Unique) != 2 {
			t.Fatalf("unique=%d want 2", len(s.Unique))
		}
		if newFormat && (s.Loop != 1 || s.LoopStartTick != 7) {
			t.Fatalf("loop fields: %+v", s)
		}
	}
}

func TestDecodeClampsKeys(t *testing.T) {
	notes := []testNote{
		{tickJump: 1, layerJump: 1, inst: 0, key: 0},
		{layerJump: 1, inst: 0, key: 87},
		{layerJump: 1, inst: 0, key: 200}, // negative as int8
	}
	s, err := DecodeBytes(songBytes(false, "", 2000, notes), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []Pitch{0, 24, 0}
	for i, p := range want {
		if s.Notes[i].Pitch != p {
			t.Fatalf("note %d pitch=%d want %d", i, s.Notes[i].Pitch, p)
		}
	}
}

func TestDecodeToleratesTickWraparound(t *testing.T) {
	notes := []testNote{
		{tickJump: 0x8001, layerJump: 1, inst: 0, key: 40},
		{tickJump: 0x8000, layerJump: 1, inst: 1, key: 40},
	}
	s, err := DecodeBytes(songBytes(false, "", 2000, notes), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, n := range s.Notes {
		if _, ok := s.Unique[n.Note]; !ok {
			t.Fatalf("note %v missing from unique set", n.Note)
		}
	}
	// Both jumps read as negative; the ticks are stored as 0.
	if s.Notes[0].Tick != 0 || s.Notes[1].Tick != 0 {
		t.Fatalf("ticks=%d,%d want 0,0", s.Notes[0].Tick, s.Notes[1].Tick)
	}
}

func TestDecodeErrors(t *testing.T) {
	good := songBytes(true, "x", 2000, []testNote{{tickJump: 1, layerJump: 1, inst: 0, key: 40}})
	for n := 0; n < len(good)-1; n += 7 {
		_, err := DecodeBytes(good[:n], "")
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("truncated at %d: err=%v", n, err)
		}
		var de *DecodeError
		if !errors.As(err, &de) || de.Field == "" {
			t.Fatalf("expected DecodeError with field, got %T", err)
		}
	}

	bad := songBytes(false, "x", 2000, []testNote{{tickJump: 1, layerJump: 1, inst: 99, key: 40}})
	if _, err := DecodeBytes(bad, ""); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("err=%v want ErrUnknownInstrument", err)
	}
}

func TestDecodeFileZstd(t *testing.T) {
	dir := t.TempDir()
	raw := songBytes(false, "Zipped", 2000, []testNote{{tickJump: 1, layerJump: 1, inst: 0, key: 40}})

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	_, _ = enc.Write(raw)
	_ = enc.Close()
	p := filepath.Join(dir, "zipped.nbs.zst")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := DecodeFile(p)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if s.Name != "Zipped" || s.FileName != "zipped.nbs.zst" || len(s.Notes) != 1 {
		t.Fatalf("song=%+v", s)
	}
	if _, err := DecodeFile(dir); err == nil {
		t.Fatalf("expected error for directory")
	}
	if !IsSongFile(p) || IsSongFile("readme.txt") {
		t.Fatalf("IsSongFile mismatch")
	}
}

func TestRightClicksForIsCyclic(t *testing.T) {
	for a := 0; a < PitchCount; a++ {
		for b := 0; b < PitchCount; b++ {
			p, q := Pitch(a), Pitch(b)
			n := p.RightClicksFor(q)
			if n < 0 || n >= PitchCount {
				t.Fatalf("%v->%v clicks=%d", p, q, n)
			}
			cur := p
			for i := 0; i < n; i++ {
				cur = cur.Next()
			}
			if cur != q {
				t.Fatalf("%v advanced %d times = %v want %v", p, n, cur, q)
			}
		}
	}
}

func TestTempoConversionRoundTrips(t *testing.T) {
	for _, tempo := range []uint16{1, 500, 1000, 2000, 3333, 65535} {
		s := &Song{Tempo: tempo}
		for _, ms := range []float64{0, 1, 50, 1234.5, 600000} {
			got := s.TicksToMillis(s.MillisToTicks(ms))
			if math.Abs(got-ms) > 1e-6*math.Max(1, ms) {
				t.Fatalf("tempo=%d ms=%v roundtrip=%v", tempo, ms, got)
			}
		}
	}
	s := &Song{Tempo: 2000, LengthTicks: 40}
	if math.Abs(s.MillisToTicks(50)-1) > 1e-9 || math.Abs(s.LengthSeconds()-2) > 1e-9 {
		t.Fatalf("1x tempo mismatch")
	}
}

func TestFriendlyName(t *testing.T) {
	cases := []struct {
		song Song
		want string
	}{
		{Song{Name: "  Name ", FileName: "f.nbs"}, "Name"},
		{Song{FileName: "f.nbs", Description: "d"}, "f.nbs"},
		{Song{Description: "a\r\nb"}, "ab"},
		{Song{}, "<Unknown Song!>"},
	}
	for _, c := range cases {
		if got := c.song.FriendlyName(); got != c.want {
			t.Fatalf("FriendlyName=%q want %q", got, c.want)
		}
	}
}

func TestInstruments(t *testing.T) {
	if InstrumentCount != 23 {
		t.Fatalf("InstrumentCount=%d", InstrumentCount)
	}
	if !Harp.NeedsBlockBelow() || Zombie.NeedsBlockBelow() || CustomHead.NeedsBlockBelow() {
		t.Fatalf("NeedsBlockBelow mismatch")
	}
	if Bass.ExampleBlock() != "Oak Planks" {
		t.Fatalf("Bass block=%q", Bass.ExampleBlock())
	}
	for i := 0; i < InstrumentCount; i++ {
		inst := Instrument(i)
		got, ok := InstrumentByName(inst.String())
		if !ok || got != inst {
			t.Fatalf("InstrumentByName(%q)=%v,%v", inst.String(), got, ok)
		}
	}
	if _, ok := InstrumentFromID(23); ok {
		t.Fatalf("id 23 accepted")
	}
}

func TestEncodeDecodes(t *testing.T) {
	src := &Song{
		LengthTicks: 30,
		Height:      2,
		Tempo:       1500,
		Name:        "Roundtrip",
		Author:      "me",
		Description: "test",
		Loop:        1,
		Notes: []PositionedNote{
			{Note: Note{Instrument: Bass, Pitch: 24}, Tick: 10, Layer: 0},
			{Note: Note{Instrument: Harp, Pitch: 0}, Tick: 0, Layer: 1},
			{Note: Note{Instrument: Bell, Pitch: 12}, Tick: 0, Layer: 1},
		},
	}
	var b bytes.Buffer
	if err := Encode(&b, src); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s, err := DecodeBytes(b.Bytes(), "roundtrip.nbs")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Name != "Roundtrip" || s.Tempo != 1500 || s.LengthTicks != 30 || s.Loop != 1 {
		t.Fatalf("header mismatch: %+v", s)
	}
	if len(s.Notes) != 3 || len(s.Unique) != 3 {
		t.Fatalf("notes=%d unique=%d", len(s.Notes), len(s.Unique))
	}
	// The clashing layer moved up by one.
	if s.Notes[0].Instrument != Harp || s.Notes[1].Instrument != Bell || s.Notes[1].Layer != 2 {
		t.Fatalf("tick 0 notes: %+v %+v", s.Notes[0], s.Notes[1])
	}
	if s.Notes[2].Tick != 10 || s.Notes[2].Pitch != 24 {
		t.Fatalf("last note: %+v", s.Notes[2])
	}
}
