package protocol

// OBS (server -> client), one per server tick.
type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	Self    SelfObs    `json:"self"`
	Blocks  []BlockObs `json:"blocks"`
	Players []string   `json:"players"`
	Events  []Event    `json:"events"`
	Tasks   []TaskObs  `json:"tasks"`
}

type SelfObs struct {
	Pos       [3]float64 `json:"pos"`
	EyeHeight float64    `json:"eye_height"`
	GameMode  string     `json:"game_mode"`
	Yaw       float64    `json:"yaw"`
	Pitch     float64    `json:"pitch"`
}

// BlockObs is one non-air block within the observation radius. Instrument
// and Note are set for note blocks only.
type BlockObs struct {
	Pos        [3]int `json:"pos"`
	Block      string `json:"block"`
	Instrument string `json:"instrument,omitempty"`
	Note       int    `json:"note,omitempty"`
}

// Event types.
const (
	EventPong     = "PONG"
	EventTeleport = "TELEPORT"
	EventChat     = "CHAT"
)

type Event struct {
	Type string `json:"type"`

	ID  int64       `json:"id,omitempty"`
	Pos *[3]float64 `json:"pos,omitempty"`

	From    string `json:"from,omitempty"`
	Text    string `json:"text,omitempty"`
	Whisper bool   `json:"whisper,omitempty"`
}

type TaskObs struct {
	TaskID   string  `json:"task_id"`
	Kind     string  `json:"kind"`
	Target   [3]int  `json:"target"`
	Progress float64 `json:"progress"`
}

// Instant types.
const (
	InstantUseBlock     = "USE_BLOCK"
	InstantStartDestroy = "START_DESTROY"
	InstantAbortDestroy = "ABORT_DESTROY"
	InstantLook         = "LOOK"
	InstantSwing        = "SWING"
	InstantPing         = "PING"
	InstantWalk         = "WALK"
	InstantSetPos       = "SET_POS"
	InstantSay          = "SAY"
	InstantWhisper      = "WHISPER"
)

// Task types.
const (
	TaskMoveTo = "MOVE_TO"
)

const (
	WalkForward = "FORWARD"
	WalkNone    = "NONE"
)

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
	Tasks           []TaskReq    `json:"tasks,omitempty"`
	Cancel          []string     `json:"cancel,omitempty"`
}

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Pos  *[3]int     `json:"pos,omitempty"`
	Face string      `json:"face,omitempty"`
	Hit  *[3]float64 `json:"hit,omitempty"`

	Look *LookReq `json:"look,omitempty"`

	PingID int64       `json:"ping_id,omitempty"`
	Walk   string      `json:"walk,omitempty"`
	XYZ    *[3]float64 `json:"xyz,omitempty"`

	Text string `json:"text,omitempty"`
	To   string `json:"to,omitempty"`
}

type LookReq struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]int  `json:"target"`
	Tolerance float64 `json:"tolerance,omitempty"`
}
