// Package sandbox is a small simulated note block world for local runs and
// end-to-end tests. It speaks the gateway protocol through transport/ws.
package sandbox

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
)

type Layout struct {
	TickRateHz int        `yaml:"tick_rate_hz"`
	ObsRadius  int        `yaml:"obs_radius"`
	GameMode   string     `yaml:"game_mode"`
	Spawn      [3]float64 `yaml:"spawn"`
	// Players are names the agent can see. They never act on their own.
	Players    []string        `yaml:"players"`
	NoteBlocks []NoteBlockSpec `yaml:"note_blocks"`
}

type NoteBlockSpec struct {
	Pos        [3]int `yaml:"pos"`
	Instrument string `yaml:"instrument"`
	Note       int    `yaml:"note"`
}

// DefaultLayout places a ring of alternating harp and bass blocks two
// blocks around the spawn block, at feet height.
func DefaultLayout() Layout {
	l := Layout{
		TickRateHz: 20,
		ObsRadius:  8,
		GameMode:   "survival",
		Spawn:      [3]float64{0.5, 64, 0.5},
		Players:    []string{"alice"},
	}
	i := 0
	for dx := -2; dx <= 2; dx++ {
		for dz := -2; dz <= 2; dz++ {
			if max(abs(dx), abs(dz)) != 2 {
				continue
			}
			inst := "harp"
			if i%2 == 1 {
				inst = "bass"
			}
			l.NoteBlocks = append(l.NoteBlocks, NoteBlockSpec{Pos: [3]int{dx, 64, dz}, Instrument: inst})
			i++
		}
	}
	return l
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// LoadLayout reads a YAML layout over DefaultLayout. A file that lists
// note_blocks replaces the default ring.
func LoadLayout(path string) (Layout, error) {
	l := DefaultLayout()
	if strings.TrimSpace(path) == "" {
		return l, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	var raw Layout
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Layout{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if raw.TickRateHz > 0 {
		l.TickRateHz = raw.TickRateHz
	}
	if raw.ObsRadius > 0 {
		l.ObsRadius = raw.ObsRadius
	}
	if raw.GameMode != "" {
		l.GameMode = raw.GameMode
	}
	if raw.Spawn != ([3]float64{}) {
		l.Spawn = raw.Spawn
	}
	if raw.Players != nil {
		l.Players = raw.Players
	}
	if raw.NoteBlocks != nil {
		l.NoteBlocks = raw.NoteBlocks
	}
	return l, l.Validate()
}

func (l Layout) Validate() error {
	if l.TickRateHz <= 0 || l.TickRateHz > 100 {
		return fmt.Errorf("tick_rate_hz must be in 1..100, got %d", l.TickRateHz)
	}
	if l.ObsRadius <= 0 {
		return fmt.Errorf("obs_radius must be positive")
	}
	switch l.GameMode {
	case "survival", "creative", "adventure", "spectator":
	default:
		return fmt.Errorf("unknown game_mode %q", l.GameMode)
	}
	seen := make(map[geom.BlockPos]bool, len(l.NoteBlocks))
	for _, nb := range l.NoteBlocks {
		if _, ok := nbs.InstrumentByName(nb.Instrument); !ok {
			return fmt.Errorf("note block at %v: unknown instrument %q", nb.Pos, nb.Instrument)
		}
		if _, ok := nbs.PitchFromID(nb.Note); !ok {
			return fmt.Errorf("note block at %v: note %d out of range", nb.Pos, nb.Note)
		}
		pos := geom.BlockPosFromArray(nb.Pos)
		if seen[pos] {
			return fmt.Errorf("duplicate note block at %v", nb.Pos)
		}
		seen[pos] = true
	}
	return nil
}
