package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
	"noteblockdj.ai/internal/protocol"
)

const (
	walkPerTick   = 0.05
	glidePerTick  = 0.2
	setPosMaxDist = 0.3
	reach         = 6.0
)

// PlayedNote is a note block an agent started to destroy.
type PlayedNote struct {
	Tick  uint64
	Agent string
	Pos   geom.BlockPos
	Note  nbs.Note
}

type ChatLine struct {
	Tick uint64
	From string
	To   string // empty for public chat
	Text string
}

type moveTask struct {
	id        string
	target    geom.BlockPos
	tolerance float64
	start     float64
}

type agentState struct {
	id    string
	name  string
	token string
	out   chan<- []byte
	ack   bool

	pos     geom.Vec3
	look    geom.LookDirection
	walking bool
	move    *moveTask

	pending []protocol.ActMsg
	events  []protocol.Event
	acks    []protocol.AckMsg

	drops uint64
}

// World implements ws.Hub. All state is guarded by mu; Step advances it by
// one tick and sends every agent its OBS.
type World struct {
	layout Layout
	log    *log.Logger

	mu      sync.Mutex
	tick    uint64
	blocks  map[geom.BlockPos]nbs.Note
	agents  map[string]*agentState
	byToken map[string]*agentState
	nextID  int
	played  []PlayedNote
	chats   []ChatLine
	inbox   []protocol.Event

	dropTotal atomic.Uint64
}

func NewWorld(l Layout, logger *log.Logger) (*World, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &World{
		layout:  l,
		log:     logger,
		blocks:  make(map[geom.BlockPos]nbs.Note, len(l.NoteBlocks)),
		agents:  map[string]*agentState{},
		byToken: map[string]*agentState{},
	}
	for _, nb := range l.NoteBlocks {
		inst, _ := nbs.InstrumentByName(nb.Instrument)
		p, _ := nbs.PitchFromID(nb.Note)
		w.blocks[geom.BlockPosFromArray(nb.Pos)] = nbs.Note{Instrument: inst, Pitch: p}
	}
	return w, nil
}

func (w *World) spawn() geom.Vec3 {
	s := w.layout.Spawn
	return geom.Vec3{X: s[0], Y: s[1], Z: s[2]}
}

// Join registers a new agent, or reattaches one whose resume token matches.
func (w *World) Join(hello protocol.HelloMsg, out chan<- []byte) (protocol.WelcomeMsg, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	a := w.byToken[strings.TrimSpace(hello.ResumeToken)]
	if a != nil && w.agents[a.id] != nil {
		return protocol.WelcomeMsg{}, fmt.Errorf("agent %s is already connected", a.id)
	}
	if a == nil {
		w.nextID++
		a = &agentState{
			id:    fmt.Sprintf("A%d", w.nextID),
			token: "resume_" + uuid.NewString(),
			pos:   w.spawn(),
		}
		w.byToken[a.token] = a
	}
	a.name = hello.AgentName
	a.out = out
	a.ack = hello.Capabilities.Ack
	a.pending, a.events, a.acks = nil, nil, nil
	a.move, a.walking = nil, false
	w.agents[a.id] = a
	w.log.Printf("join %s (%s)", a.id, a.name)

	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         a.id,
		ResumeToken:     a.token,
		WorldParams: protocol.WorldParams{
			TickRateHz: w.layout.TickRateHz,
			ObsRadius:  w.layout.ObsRadius,
			WorldID:    "SANDBOX",
		},
	}, nil
}

func (w *World) Act(agentID string, act protocol.ActMsg) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a := w.agents[agentID]; a != nil {
		a.pending = append(a.pending, act)
	}
}

func (w *World) Leave(agentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a := w.agents[agentID]; a != nil {
		a.out = nil
		delete(w.agents, agentID)
		w.log.Printf("leave %s", agentID)
	}
}

// Chat delivers a line from a sandbox player to every agent on the next tick.
func (w *World) Chat(from, text string, whisper bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inbox = append(w.inbox, protocol.Event{Type: protocol.EventChat, From: from, Text: text, Whisper: whisper})
}

func (w *World) Played() []PlayedNote {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]PlayedNote(nil), w.played...)
}

// Chats returns what agents said or whispered.
func (w *World) Chats() []ChatLine {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ChatLine(nil), w.chats...)
}

func (w *World) Note(pos geom.BlockPos) (nbs.Note, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.blocks[pos]
	return n, ok
}

func (w *World) Tick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// AgentSummary describes one connected agent.
type AgentSummary struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Pos     [3]float64 `json:"pos"`
	Walking bool       `json:"walking,omitempty"`
	Moving  bool       `json:"moving,omitempty"`
	Drops   uint64     `json:"drops,omitempty"`
}

// StateSummary is what /admin/v1/state reports.
type StateSummary struct {
	Tick       uint64         `json:"tick"`
	NoteBlocks int            `json:"note_blocks"`
	Agents     []AgentSummary `json:"agents"`
	Played     int            `json:"played"`
	Chats      int            `json:"chats"`
	Drops      uint64         `json:"drops"`
}

func (w *World) Summary() StateSummary {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := StateSummary{
		Tick:       w.tick,
		NoteBlocks: len(w.blocks),
		Agents:     []AgentSummary{},
		Played:     len(w.played),
		Chats:      len(w.chats),
		Drops:      w.dropTotal.Load(),
	}
	for _, id := range w.agentIDs() {
		a := w.agents[id]
		st.Agents = append(st.Agents, AgentSummary{
			ID:      a.id,
			Name:    a.name,
			Pos:     [3]float64{a.pos.X, a.pos.Y, a.pos.Z},
			Walking: a.walking,
			Moving:  a.move != nil,
			Drops:   a.drops,
		})
	}
	return st
}

// Drops counts OBS frames dropped because an agent's queue was full.
func (w *World) Drops() uint64 { return w.dropTotal.Load() }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.layout.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Step()
		}
	}
}

// Step applies queued actions, moves agents and sends observations.
func (w *World) Step() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick++

	inbox := w.inbox
	w.inbox = nil
	ids := w.agentIDs()
	for _, id := range ids {
		w.agents[id].events = append(w.agents[id].events, inbox...)
	}
	for _, id := range ids {
		a := w.agents[id]
		for _, act := range a.pending {
			w.applyAct(a, act)
		}
		a.pending = nil
		w.move(a)
	}
	for _, id := range ids {
		a := w.agents[id]
		for _, ack := range a.acks {
			w.send(a, ack)
		}
		a.acks = nil
		w.send(a, w.observe(a))
		a.events = nil
	}
}

func (w *World) agentIDs() []string {
	ids := make([]string, 0, len(w.agents))
	for id := range w.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *World) send(a *agentState, v any) {
	if a.out == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.log.Printf("marshal for %s: %v", a.id, err)
		return
	}
	select {
	case a.out <- b:
	default:
		a.drops++
		w.dropTotal.Add(1)
	}
}

func (w *World) reject(a *agentState, id, code, msg string) {
	a.acks = append(a.acks, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          id,
		Code:            code,
		Message:         msg,
		ServerTick:      w.tick,
	})
}

func (w *World) eye(a *agentState) geom.Vec3 {
	return a.pos.Add(geom.Vec3{Y: geom.DefaultEyeHeight})
}

func (w *World) applyAct(a *agentState, act protocol.ActMsg) {
	for _, id := range act.Cancel {
		if a.move != nil && a.move.id == id {
			a.move = nil
		}
	}
	for _, in := range act.Instants {
		w.applyInstant(a, in)
	}
	for _, t := range act.Tasks {
		if t.Type != protocol.TaskMoveTo {
			w.reject(a, t.ID, protocol.ErrBadRequest, "unknown task type "+t.Type)
			continue
		}
		target := geom.BlockPosFromArray(t.Target)
		if target.BottomCenter().DistanceSqr(a.pos) > 64*64 {
			w.reject(a, t.ID, protocol.ErrInvalidTarget, "target too far away")
			continue
		}
		a.move = &moveTask{id: t.ID, target: target, tolerance: t.Tolerance, start: math.Sqrt(target.BottomCenter().DistanceSqr(a.pos))}
		a.walking = false
		if a.ack {
			a.acks = append(a.acks, protocol.AckMsg{
				Type:            protocol.TypeAck,
				ProtocolVersion: protocol.Version,
				AckFor:          t.ID,
				Accepted:        true,
				ServerTick:      w.tick,
			})
		}
	}
}

func (w *World) applyInstant(a *agentState, in protocol.InstantReq) {
	switch in.Type {
	case protocol.InstantUseBlock, protocol.InstantStartDestroy, protocol.InstantAbortDestroy:
		if in.Pos == nil {
			w.reject(a, in.ID, protocol.ErrBadRequest, "missing pos")
			return
		}
		pos := geom.BlockPosFromArray(*in.Pos)
		if pos.AABB().DistanceSqr(w.eye(a)) > reach*reach {
			w.reject(a, in.ID, protocol.ErrOutOfReach, fmt.Sprintf("%v is out of reach", pos))
			return
		}
		note, ok := w.blocks[pos]
		if !ok {
			return
		}
		switch in.Type {
		case protocol.InstantUseBlock:
			note.Pitch = note.Pitch.Next()
			w.blocks[pos] = note
		case protocol.InstantStartDestroy:
			w.played = append(w.played, PlayedNote{Tick: w.tick, Agent: a.id, Pos: pos, Note: note})
		}
	case protocol.InstantLook:
		if in.Look != nil {
			a.look = geom.FixLook(geom.LookDirection{Yaw: in.Look.Yaw, Pitch: in.Look.Pitch})
		}
	case protocol.InstantSwing:
	case protocol.InstantPing:
		a.events = append(a.events, protocol.Event{Type: protocol.EventPong, ID: in.PingID})
	case protocol.InstantWalk:
		a.walking = in.Walk == protocol.WalkForward
	case protocol.InstantSetPos:
		if in.XYZ == nil {
			w.reject(a, in.ID, protocol.ErrBadRequest, "missing xyz")
			return
		}
		to := geom.Vec3{X: in.XYZ[0], Y: in.XYZ[1], Z: in.XYZ[2]}
		if to.DistanceSqr(a.pos) <= setPosMaxDist*setPosMaxDist {
			a.pos = to
			return
		}
		p := [3]float64{a.pos.X, a.pos.Y, a.pos.Z}
		a.events = append(a.events, protocol.Event{Type: protocol.EventTeleport, Pos: &p})
	case protocol.InstantSay:
		w.chats = append(w.chats, ChatLine{Tick: w.tick, From: a.name, Text: in.Text})
		for _, other := range w.agents {
			if other != a {
				other.events = append(other.events, protocol.Event{Type: protocol.EventChat, From: a.name, Text: in.Text})
			}
		}
	case protocol.InstantWhisper:
		w.chats = append(w.chats, ChatLine{Tick: w.tick, From: a.name, To: in.To, Text: in.Text})
		for _, other := range w.agents {
			if other != a && strings.EqualFold(other.name, in.To) {
				other.events = append(other.events, protocol.Event{Type: protocol.EventChat, From: a.name, Text: in.Text, Whisper: true})
			}
		}
	default:
		w.reject(a, in.ID, protocol.ErrBadRequest, "unknown instant type "+in.Type)
	}
}

// move advances walking and MOVE_TO gliding by one tick.
func (w *World) move(a *agentState) {
	if a.move != nil {
		goal := a.move.target.BottomCenter()
		d := goal.Sub(a.pos)
		dist := d.Length()
		if dist <= glidePerTick || dist <= a.move.tolerance {
			a.pos = goal
			a.move = nil
		} else {
			a.pos = a.pos.Add(d.Scale(glidePerTick / dist))
		}
		return
	}
	if a.walking {
		dir := geom.LookDirection{Yaw: a.look.Yaw}.Vector()
		a.pos = a.pos.Add(geom.Vec3{X: dir.X, Z: dir.Z}.Scale(walkPerTick))
	}
}

func (w *World) observe(a *agentState) protocol.ObsMsg {
	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            w.tick,
		AgentID:         a.id,
		Self: protocol.SelfObs{
			Pos:       [3]float64{a.pos.X, a.pos.Y, a.pos.Z},
			EyeHeight: geom.DefaultEyeHeight,
			GameMode:  w.layout.GameMode,
			Yaw:       a.look.Yaw,
			Pitch:     a.look.Pitch,
		},
		Players: append([]string(nil), w.layout.Players...),
		Events:  a.events,
	}
	for _, other := range w.agentIDs() {
		if other != a.id {
			obs.Players = append(obs.Players, w.agents[other].name)
		}
	}

	center := a.pos.Block()
	r := w.layout.ObsRadius
	positions := make([]geom.BlockPos, 0, len(w.blocks))
	for pos := range w.blocks {
		if abs(pos.X-center.X) <= r && abs(pos.Y-center.Y) <= r && abs(pos.Z-center.Z) <= r {
			positions = append(positions, pos)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		pi, pj := positions[i], positions[j]
		if pi.X != pj.X {
			return pi.X < pj.X
		}
		if pi.Y != pj.Y {
			return pi.Y < pj.Y
		}
		return pi.Z < pj.Z
	})
	for _, pos := range positions {
		n := w.blocks[pos]
		obs.Blocks = append(obs.Blocks, protocol.BlockObs{
			Pos:        pos.Array(),
			Block:      "note_block",
			Instrument: n.Instrument.String(),
			Note:       int(n.Pitch),
		})
	}

	if m := a.move; m != nil {
		progress := 0.0
		if m.start > 0 {
			left := math.Sqrt(m.target.BottomCenter().DistanceSqr(a.pos))
			progress = math.Max(0, math.Min(1, 1-left/m.start))
		}
		obs.Tasks = append(obs.Tasks, protocol.TaskObs{TaskID: m.id, Kind: protocol.TaskMoveTo, Target: m.target.Array(), Progress: progress})
	}
	return obs
}
