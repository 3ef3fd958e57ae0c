package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
	"noteblockdj.ai/internal/protocol"
)

var ErrNotConnected = errors.New("not connected")

type SessionConfig struct {
	URL         string
	Name        string
	ResumeToken string
	// OnWelcome is called from the reader goroutine after every handshake.
	OnWelcome func(w protocol.WelcomeMsg)
	Logger    *log.Logger
}

// Session is an agent.Client backed by a gateway connection. A reader
// goroutine turns every OBS into engine events; the observed world changes
// when the engine syncs to the tick event. Actions queue up until Flush sends
// them as one ACT. It reconnects
// with backoff until Close.
type Session struct {
	cfg SessionConfig
	log *log.Logger
	id  string

	events chan agent.Event

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	writeMu sync.Mutex

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   bool
	lastErr     string
	agentID     string
	resumeToken string
	obsRadius   int
	tick        uint64

	self    protocol.SelfObs
	hasSelf bool
	blocks  map[geom.BlockPos]agent.Block
	players map[string]bool

	goal        *geom.BlockPos
	goalID      string
	calculating bool
	goalAckTick uint64
	goalAcked   bool

	seq      uint64
	instants []protocol.InstantReq
	tasks    []protocol.TaskReq
	cancel   []string
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Name == "" {
		cfg.Name = "dj"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[session] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Session{
		cfg:         cfg,
		log:         cfg.Logger,
		id:          uuid.NewString(),
		events:      make(chan agent.Event, 256),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		resumeToken: cfg.ResumeToken,
		blocks:      map[geom.BlockPos]agent.Block{},
		players:     map[string]bool{},
	}
}

func (s *Session) ID() string { return s.id }

// Events delivers engine events in order. It is closed after Close.
func (s *Session) Events() <-chan agent.Event { return s.events }

func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.disconnect()
		s.startOnce.Do(func() {
			close(s.events)
			close(s.done)
		})
		<-s.done
	})
}

func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Session) AgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID
}

func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) disconnect() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (s *Session) emit(ev agent.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.events)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		welcomed, err := s.connectAndReadLoop()
		if welcomed {
			backoff = 200 * time.Millisecond
			s.emit(agent.Disconnect)
		}
		if err == nil {
			return
		}
		s.mu.Lock()
		s.connected = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.log.Printf("connection lost: %v (retry in %s)", err, backoff)
		select {
		case <-s.stop:
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

// connectAndReadLoop returns a nil error only when the session is closed.
func (s *Session) connectAndReadLoop() (welcomed bool, err error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(s.cfg.URL, http.Header{})
	if err != nil {
		return false, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s.mu.RLock()
	rt := strings.TrimSpace(s.resumeToken)
	s.mu.RUnlock()
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       s.cfg.Name,
		SessionID:       s.id,
		ResumeToken:     rt,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 16, Ack: true},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return false, err
	}

	s.mu.Lock()
	s.conn = conn
	s.lastErr = ""
	s.mu.Unlock()

	for {
		select {
		case <-s.stop:
			_ = conn.Close()
			return welcomed, nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			select {
			case <-s.stop:
				return welcomed, nil
			default:
			}
			return welcomed, err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			if w.ProtocolVersion != protocol.Version {
				_ = conn.Close()
				return welcomed, fmt.Errorf("unsupported protocol version %q", w.ProtocolVersion)
			}
			s.onWelcome(w)
			welcomed = true
			if !s.emit(agent.Init) {
				return welcomed, nil
			}
		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				s.log.Printf("bad OBS: %v", err)
				continue
			}
			for _, ev := range s.applyObs(&obs) {
				if !s.emit(ev) {
					return welcomed, nil
				}
			}
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			s.applyAck(ack)
		}
	}
}

func (s *Session) onWelcome(w protocol.WelcomeMsg) {
	s.mu.Lock()
	s.agentID = w.AgentID
	if w.ResumeToken != "" {
		s.resumeToken = w.ResumeToken
	}
	s.obsRadius = w.WorldParams.ObsRadius
	s.connected = true
	s.hasSelf = false
	s.goal, s.goalID, s.calculating, s.goalAcked = nil, "", false, false
	s.instants, s.tasks, s.cancel = nil, nil, nil
	s.mu.Unlock()
	s.log.Printf("WELCOME agent_id=%s tick_rate=%d obs_radius=%d", w.AgentID, w.WorldParams.TickRateHz, w.WorldParams.ObsRadius)
	if s.cfg.OnWelcome != nil {
		s.cfg.OnWelcome(w)
	}
}

// worldView is one parsed OBS. It rides on the tick event and replaces the
// session's view only when the engine gets to that tick.
type worldView struct {
	tick    uint64
	self    protocol.SelfObs
	blocks  map[geom.BlockPos]agent.Block
	players map[string]bool
	tasks   map[string]bool
}

// applyObs parses obs and returns the events it carries: packets first, then
// chat, then one tick holding the new world view. Nothing is applied here.
func (s *Session) applyObs(obs *protocol.ObsMsg) []agent.Event {
	view := &worldView{
		tick:    obs.Tick,
		self:    obs.Self,
		blocks:  make(map[geom.BlockPos]agent.Block, len(obs.Blocks)),
		players: make(map[string]bool, len(obs.Players)),
		tasks:   make(map[string]bool, len(obs.Tasks)),
	}
	for _, b := range obs.Blocks {
		pos := geom.BlockPosFromArray(b.Pos)
		blk := agent.Block{Name: b.Block}
		if inst, ok := nbs.InstrumentByName(b.Instrument); ok && b.Instrument != "" {
			if p, ok := nbs.PitchFromID(b.Note); ok {
				blk.NoteBlock = true
				blk.Note = nbs.Note{Instrument: inst, Pitch: p}
			}
		}
		view.blocks[pos] = blk
	}
	for _, p := range obs.Players {
		view.players[strings.ToLower(p)] = true
	}
	for _, t := range obs.Tasks {
		view.tasks[t.TaskID] = true
	}

	var packets, chats []agent.Event
	for _, e := range obs.Events {
		switch e.Type {
		case protocol.EventPong:
			packets = append(packets, agent.PacketEvent(agent.Pong{ID: e.ID}))
		case protocol.EventTeleport:
			if e.Pos == nil {
				continue
			}
			view.self.Pos = *e.Pos
			packets = append(packets, agent.PacketEvent(agent.Teleport{Pos: geom.Vec3{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}}))
		case protocol.EventChat:
			chats = append(chats, agent.ChatEvent(agent.Chat{From: e.From, Text: e.Text, Whisper: e.Whisper}))
		}
	}
	out := append(packets, chats...)
	return append(out, agent.Event{Kind: agent.EventTick, Packet: view})
}

// Sync swaps in the world view carried by a tick event. The runner calls it
// on the engine goroutine, so every query during a tick sees that tick's
// observation.
func (s *Session) Sync(ev agent.Event) {
	view, ok := ev.Packet.(*worldView)
	if !ev.IsTick() || !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick = view.tick
	s.self = view.self
	s.hasSelf = true
	s.blocks = view.blocks
	s.players = view.players
	if s.goal != nil && s.goalAcked && view.tick >= s.goalAckTick && !view.tasks[s.goalID] {
		s.goal, s.goalID = nil, ""
	}
}

func (s *Session) applyAck(ack protocol.AckMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ack.AckFor != "" && ack.AckFor == s.goalID {
		s.calculating = false
		if !ack.Accepted {
			s.log.Printf("MOVE_TO rejected: %s %s", ack.Code, ack.Message)
			s.goal, s.goalID = nil, ""
			return
		}
		s.goalAcked = true
		s.goalAckTick = ack.ServerTick
		return
	}
	if !ack.Accepted {
		s.log.Printf("action %s rejected: %s %s", ack.AckFor, ack.Code, ack.Message)
	}
}

// Flush sends every queued action as one ACT.
func (s *Session) Flush() error {
	s.mu.Lock()
	if len(s.instants) == 0 && len(s.tasks) == 0 && len(s.cancel) == 0 {
		s.mu.Unlock()
		return nil
	}
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            s.tick,
		AgentID:         s.agentID,
		Instants:        s.instants,
		Tasks:           s.tasks,
		Cancel:          s.cancel,
	}
	s.instants, s.tasks, s.cancel = nil, nil, nil
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(act)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) queue(r protocol.InstantReq) {
	s.mu.Lock()
	s.queueLocked(r)
	s.mu.Unlock()
}

func (s *Session) queueLocked(r protocol.InstantReq) {
	s.seq++
	r.ID = fmt.Sprintf("I_%d", s.seq)
	s.instants = append(s.instants, r)
}

func vecArray(v geom.Vec3) *[3]float64 { return &[3]float64{v.X, v.Y, v.Z} }

func posArray(p geom.BlockPos) *[3]int {
	a := p.Array()
	return &a
}

// WorldQuery

func (s *Session) Position() (geom.Vec3, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSelf {
		return geom.Vec3{}, false
	}
	return geom.Vec3{X: s.self.Pos[0], Y: s.self.Pos[1], Z: s.self.Pos[2]}, true
}

func (s *Session) EyePosition() (geom.Vec3, bool) {
	pos, ok := s.Position()
	if !ok {
		return pos, false
	}
	s.mu.RLock()
	h := s.self.EyeHeight
	s.mu.RUnlock()
	if h <= 0 {
		h = geom.DefaultEyeHeight
	}
	return pos.Add(geom.Vec3{Y: h}), true
}

// BlockAt answers from the last observation. Positions inside the
// observation radius that were not reported are air.
func (s *Session) BlockAt(pos geom.BlockPos) (agent.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.blocks[pos]; ok {
		return b, true
	}
	if !s.hasSelf || s.obsRadius <= 0 {
		return agent.Block{}, false
	}
	self := geom.Vec3{X: s.self.Pos[0], Y: s.self.Pos[1], Z: s.self.Pos[2]}.Block()
	r := s.obsRadius
	if abs(pos.X-self.X) > r || abs(pos.Y-self.Y) > r || abs(pos.Z-self.Z) > r {
		return agent.Block{}, false
	}
	return agent.Block{Name: "air"}, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Session) GameMode() agent.GameMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return agent.GameMode(s.self.GameMode)
}

func (s *Session) CanSee(player string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players[strings.ToLower(player)]
}

// ActionSink

func (s *Session) UseBlock(hit geom.BlockHit) {
	s.queue(protocol.InstantReq{Type: protocol.InstantUseBlock, Pos: posArray(hit.Pos), Face: hit.Face.String(), Hit: vecArray(hit.At)})
}

func (s *Session) StartDestroy(pos geom.BlockPos, face geom.Direction) {
	s.queue(protocol.InstantReq{Type: protocol.InstantStartDestroy, Pos: posArray(pos), Face: face.String()})
}

func (s *Session) AbortDestroy(pos geom.BlockPos, face geom.Direction) {
	s.queue(protocol.InstantReq{Type: protocol.InstantAbortDestroy, Pos: posArray(pos), Face: face.String()})
}

func (s *Session) Look(dir geom.LookDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self.Yaw, s.self.Pitch = dir.Yaw, dir.Pitch
	s.queueLocked(protocol.InstantReq{Type: protocol.InstantLook, Look: &protocol.LookReq{Yaw: dir.Yaw, Pitch: dir.Pitch}})
}

func (s *Session) Swing() { s.queue(protocol.InstantReq{Type: protocol.InstantSwing}) }

func (s *Session) Ping(id int64) {
	s.queue(protocol.InstantReq{Type: protocol.InstantPing, PingID: id})
}

func (s *Session) Say(text string) {
	s.queue(protocol.InstantReq{Type: protocol.InstantSay, Text: text})
}

func (s *Session) Whisper(to, text string) {
	s.queue(protocol.InstantReq{Type: protocol.InstantWhisper, To: to, Text: text})
}

// Mover

func (s *Session) Walk(dir agent.WalkDirection) {
	w := protocol.WalkNone
	if dir == agent.WalkForward {
		w = protocol.WalkForward
	}
	s.queue(protocol.InstantReq{Type: protocol.InstantWalk, Walk: w})
}

// SetPosition moves the local view right away, as a client would. The
// gateway answers with a TELEPORT if it disagrees.
func (s *Session) SetPosition(pos geom.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self.Pos = [3]float64{pos.X, pos.Y, pos.Z}
	s.queueLocked(protocol.InstantReq{Type: protocol.InstantSetPos, XYZ: vecArray(pos)})
}

func (s *Session) Goto(goal geom.BlockPos) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goalID != "" {
		s.cancel = append(s.cancel, s.goalID)
	}
	g := goal
	s.goal = &g
	s.goalID = "K_" + uuid.NewString()
	s.calculating = true
	s.goalAcked = false
	s.tasks = append(s.tasks, protocol.TaskReq{ID: s.goalID, Type: protocol.TaskMoveTo, Target: goal.Array(), Tolerance: 0.3})
}

func (s *Session) StopPathfinding() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goalID != "" {
		s.cancel = append(s.cancel, s.goalID)
	}
	s.goal, s.goalID = nil, ""
	s.calculating = false
	s.goalAcked = false
}

func (s *Session) Pathfinding() (calculating, active bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calculating, s.goal != nil
}

var (
	_ agent.Client  = (*Session)(nil)
	_ agent.Flusher = (*Session)(nil)
	_ agent.Syncer  = (*Session)(nil)
)
