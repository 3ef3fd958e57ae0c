package log

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Entry is one journal line.
type Entry struct {
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Data    any       `json:"data,omitempty"`
}

// Journal records what the agent did: commands, song loads, plays and task
// failures. A nil Journal discards everything.
type Journal struct {
	w       *JSONLZstdWriter
	session string
	seq     atomic.Uint64
	errs    atomic.Uint64
}

func NewJournal(dataDir string) *Journal {
	return &Journal{
		w:       NewJSONLZstdWriter(filepath.Join(dataDir, "journal"), "journal"),
		session: uuid.NewString(),
	}
}

func (j *Journal) Session() string {
	if j == nil {
		return ""
	}
	return j.session
}

// Record appends an entry. Write errors are counted, not returned, so a full
// disk never stops playback.
func (j *Journal) Record(kind string, data any) {
	if j == nil {
		return
	}
	e := Entry{
		Session: j.session,
		Seq:     j.seq.Add(1),
		At:      j.w.now().UTC(),
		Kind:    kind,
		Data:    data,
	}
	if err := j.w.Write(e); err != nil {
		j.errs.Add(1)
	}
}

func (j *Journal) WriteErrors() uint64 {
	if j == nil {
		return 0
	}
	return j.errs.Load()
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.w.Close()
}
