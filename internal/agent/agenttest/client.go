// Package agenttest provides an in-memory agent.Client for tests.
package agenttest

import (
	"sync"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
)

const (
	ActUseBlock     = "USE_BLOCK"
	ActStartDestroy = "START_DESTROY"
	ActAbortDestroy = "ABORT_DESTROY"
	ActLook         = "LOOK"
	ActSwing        = "SWING"
	ActPing         = "PING"
	ActSay          = "SAY"
	ActWhisper      = "WHISPER"
	ActWalk         = "WALK"
	ActSetPos       = "SET_POS"
	ActGoto         = "GOTO"
	ActStopPath     = "STOP_PATHFINDING"
)

type Action struct {
	Kind   string
	Pos    geom.BlockPos
	Face   geom.Direction
	Hit    geom.BlockHit
	Look   geom.LookDirection
	PingID int64
	Text   string
	To     string
	Walk   agent.WalkDirection
	Target geom.Vec3
}

// Client records every action and serves a static block map.
type Client struct {
	mu sync.Mutex

	Pos       geom.Vec3
	HasPos    bool
	EyeHeight float64
	Blocks    map[geom.BlockPos]agent.Block
	Mode      agent.GameMode
	Visible   map[string]bool
	Actions   []Action

	WalkDir     agent.WalkDirection
	Goal        *geom.BlockPos
	Calculating bool

	// TuneOnUse advances a note block's pitch as soon as it is used.
	TuneOnUse bool
	// ApplySetPos moves Pos on SetPosition.
	ApplySetPos bool
}

func New(pos geom.Vec3) *Client {
	return &Client{
		Pos:         pos,
		HasPos:      true,
		EyeHeight:   geom.DefaultEyeHeight,
		Blocks:      map[geom.BlockPos]agent.Block{},
		Mode:        agent.Survival,
		Visible:     map[string]bool{},
		ApplySetPos: true,
	}
}

func (c *Client) SetNote(pos geom.BlockPos, inst nbs.Instrument, pitch nbs.Pitch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Blocks[pos] = agent.Block{Name: "note_block", NoteBlock: true, Note: nbs.Note{Instrument: inst, Pitch: pitch}}
}

func (c *Client) Note(pos geom.BlockPos) (nbs.Note, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.Blocks[pos]
	return b.Note, ok && b.NoteBlock
}

func (c *Client) SetPos(pos geom.Vec3) {
	c.mu.Lock()
	c.Pos = pos
	c.HasPos = true
	c.mu.Unlock()
}

// Take returns the recorded actions and clears the log.
func (c *Client) Take() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.Actions
	c.Actions = nil
	return out
}

func (c *Client) Count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func (c *Client) Last(kind string) (Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Actions) - 1; i >= 0; i-- {
		if c.Actions[i].Kind == kind {
			return c.Actions[i], true
		}
	}
	return Action{}, false
}

func (c *Client) record(a Action) {
	c.Actions = append(c.Actions, a)
}

func (c *Client) Position() (geom.Vec3, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Pos, c.HasPos
}

func (c *Client) EyePosition() (geom.Vec3, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Pos.Add(geom.Vec3{Y: c.EyeHeight}), c.HasPos
}

func (c *Client) BlockAt(pos geom.BlockPos) (agent.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.Blocks[pos]
	if !ok {
		return agent.Block{Name: "air"}, true
	}
	return b, true
}

func (c *Client) GameMode() agent.GameMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Mode
}

func (c *Client) CanSee(player string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Visible[player]
}

func (c *Client) UseBlock(hit geom.BlockHit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActUseBlock, Pos: hit.Pos, Face: hit.Face, Hit: hit})
	if c.TuneOnUse {
		if b, ok := c.Blocks[hit.Pos]; ok && b.NoteBlock {
			b.Note.Pitch = b.Note.Pitch.Next()
			c.Blocks[hit.Pos] = b
		}
	}
}

func (c *Client) StartDestroy(pos geom.BlockPos, face geom.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActStartDestroy, Pos: pos, Face: face})
}

func (c *Client) AbortDestroy(pos geom.BlockPos, face geom.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActAbortDestroy, Pos: pos, Face: face})
}

func (c *Client) Look(dir geom.LookDirection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActLook, Look: dir})
}

func (c *Client) Swing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActSwing})
}

func (c *Client) Ping(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActPing, PingID: id})
}

func (c *Client) Say(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActSay, Text: text})
}

func (c *Client) Whisper(to, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActWhisper, To: to, Text: text})
}

func (c *Client) Walk(dir agent.WalkDirection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WalkDir = dir
	c.record(Action{Kind: ActWalk, Walk: dir})
}

func (c *Client) SetPosition(pos geom.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Action{Kind: ActSetPos, Target: pos})
	if c.ApplySetPos {
		c.Pos = pos
	}
}

func (c *Client) Goto(goal geom.BlockPos) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := goal
	c.Goal = &g
	c.Calculating = true
	c.record(Action{Kind: ActGoto, Pos: goal})
}

func (c *Client) StopPathfinding() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Goal = nil
	c.Calculating = false
	c.record(Action{Kind: ActStopPath})
}

func (c *Client) Pathfinding() (calculating, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calculating, c.Goal != nil
}

// Arrive finishes the current path and places the agent on top of the goal block.
func (c *Client) Arrive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Goal != nil {
		c.Pos = c.Goal.BottomCenter()
	}
	c.Goal = nil
	c.Calculating = false
}

var _ agent.Client = (*Client)(nil)
