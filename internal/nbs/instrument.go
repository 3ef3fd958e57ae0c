package nbs

import (
	"fmt"
	"strings"
)

// Instrument is one of the 23 note block sounds, numbered as in the file format.
type Instrument uint8

const (
	Harp Instrument = iota
	Bass
	BaseDrum
	Snare
	Hat
	Guitar
	Flute
	Bell
	Chime
	Xylophone
	IronXylophone
	CowBell
	Didgeridoo
	Bit
	Banjo
	Pling
	Zombie
	Skeleton
	Creeper
	Dragon
	WitherSkeleton
	Piglin
	CustomHead

	InstrumentCount = int(CustomHead) + 1
)

var instrumentInfo = [InstrumentCount]struct {
	name  string
	block string
}{
	{"harp", "Air"},
	{"bass", "Oak Planks"},
	{"basedrum", "Stone"},
	{"snare", "Sand"},
	{"hat", "Glass"},
	{"guitar", "Wool"},
	{"flute", "Clay"},
	{"bell", "Gold"},
	{"chime", "Packed Ice"},
	{"xylophone", "Bone"},
	{"iron_xylophone", "Iron"},
	{"cow_bell", "Soul Sand"},
	{"didgeridoo", "Pumpkin"},
	{"bit", "Emerald"},
	{"banjo", "Hay"},
	{"pling", "Glowstone"},
	{"zombie", "Zombie Head"},
	{"skeleton", "Skeleton Head"},
	{"creeper", "Creeper Head"},
	{"dragon", "Dragon Head"},
	{"wither_skeleton", "Wither Skeleton Head"},
	{"piglin", "Piglin Head"},
	{"custom_head", "Custom Head"},
}

func InstrumentFromID(id uint8) (Instrument, bool) {
	if int(id) >= InstrumentCount {
		return 0, false
	}
	return Instrument(id), true
}

// InstrumentByName resolves the lowercase name used on the wire.
func InstrumentByName(name string) (Instrument, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "bling" {
		return Pling, true
	}
	for i, info := range instrumentInfo {
		if info.name == name {
			return Instrument(i), true
		}
	}
	return 0, false
}

func (i Instrument) Valid() bool { return int(i) < InstrumentCount }

func (i Instrument) String() string {
	if !i.Valid() {
		return fmt.Sprintf("instrument(%d)", uint8(i))
	}
	return instrumentInfo[i].name
}

// ExampleBlock names a block that produces this instrument.
func (i Instrument) ExampleBlock() string {
	if !i.Valid() {
		return "?"
	}
	return instrumentInfo[i].block
}

// NeedsBlockBelow is false for head instruments, which sit on top of the note block.
func (i Instrument) NeedsBlockBelow() bool {
	return i < Zombie
}
