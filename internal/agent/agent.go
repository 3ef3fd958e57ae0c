// Package agent defines what the engine needs from the game connection: a
// read view of the world, a sink for outgoing actions, and movement.
package agent

import (
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
)

// Block is the observed state at one position.
type Block struct {
	Name      string
	NoteBlock bool
	Note      nbs.Note // valid when NoteBlock is set
}

type GameMode string

const (
	Survival  GameMode = "survival"
	Creative  GameMode = "creative"
	Adventure GameMode = "adventure"
	Spectator GameMode = "spectator"
)

type WorldQuery interface {
	// Position is the feet position. ok is false before the first observation.
	Position() (pos geom.Vec3, ok bool)
	EyePosition() (pos geom.Vec3, ok bool)
	BlockAt(pos geom.BlockPos) (Block, bool)
	GameMode() GameMode
	CanSee(player string) bool
}

// ActionSink sends fire-and-forget actions. Results arrive later as events
// or as changes in the observed world.
type ActionSink interface {
	UseBlock(hit geom.BlockHit)
	StartDestroy(pos geom.BlockPos, face geom.Direction)
	AbortDestroy(pos geom.BlockPos, face geom.Direction)
	Look(dir geom.LookDirection)
	Swing()
	Ping(id int64)
	Say(text string)
	Whisper(to, text string)
}

type WalkDirection int

const (
	WalkNone WalkDirection = iota
	WalkForward
)

type Mover interface {
	Walk(dir WalkDirection)
	// SetPosition moves the agent directly. The server may answer with a Teleport.
	SetPosition(pos geom.Vec3)
	Goto(goal geom.BlockPos)
	StopPathfinding()
	Pathfinding() (calculating, active bool)
}

type Client interface {
	WorldQuery
	ActionSink
	Mover
}

// Flusher is implemented by clients that batch actions. The engine calls
// Flush after every tick.
type Flusher interface {
	Flush() error
}

// Syncer is implemented by clients whose world view travels with the events.
// The engine calls Sync with every event before handling it.
type Syncer interface {
	Sync(ev Event)
}
