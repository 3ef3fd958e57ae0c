package agent

import (
	"fmt"
	"math"
	"math/rand"

	"noteblockdj.ai/internal/geom"
)

type EventKind int

const (
	EventInit EventKind = iota
	EventTick
	EventPacket
	EventChat
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventInit:
		return "Init"
	case EventTick:
		return "Tick"
	case EventPacket:
		return "Packet"
	case EventChat:
		return "Chat"
	case EventDisconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one unit of engine input. Packet holds a Pong or Teleport for EventPacket.
type Event struct {
	Kind   EventKind
	Packet any
	Chat   Chat
}

func (e Event) IsTick() bool { return e.Kind == EventTick }

var (
	Init       = Event{Kind: EventInit}
	Tick       = Event{Kind: EventTick}
	Disconnect = Event{Kind: EventDisconnect}
)

// Pong answers a Ping with the same ID.
type Pong struct {
	ID int64
}

// Teleport is a server-side position correction.
type Teleport struct {
	Pos geom.Vec3
}

type Chat struct {
	From    string
	Text    string
	Whisper bool
}

func PacketEvent(p any) Event { return Event{Kind: EventPacket, Packet: p} }

func ChatEvent(c Chat) Event { return Event{Kind: EventChat, Chat: c} }

// NewPingID returns a random id from the lowest quarter of the int64 range.
func NewPingID() int64 {
	return math.MinInt64 + rand.Int63n(math.MaxInt64/4)
}
