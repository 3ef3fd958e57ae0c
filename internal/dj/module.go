package dj

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/geom"
	"noteblockdj.ai/internal/nbs"
	"noteblockdj.ai/internal/persistence/indexdb"
	"noteblockdj.ai/internal/task"
)

var ErrAlreadyLoading = errors.New("songs are already being loaded")

// Recorder is the durable journal.
type Recorder interface {
	Record(kind string, data any)
}

// Library is the queryable song and play index.
type Library interface {
	UpsertSongs(songs []indexdb.SongRecord) error
	RecordPlay(p indexdb.PlayRecord)
	TopSongs(limit int) ([]indexdb.SongPlays, error)
}

type ModuleConfig struct {
	SongsDir string
	// Pos is where the agent stands while playing. nil plays where it is.
	Pos       *geom.BlockPos
	AdminOnly bool
	// ResumeAfterIdle restarts an interrupted song once no other task ran
	// for this long. Zero disables it.
	ResumeAfterIdle time.Duration
	MaxDistance     float64

	Now  func() time.Time
	Rand *rand.Rand

	Journal Recorder
	Library Library
}

// Module owns the song library, the queue and the playback task. Handle and
// Execute are called from the engine goroutine; loading runs in the
// background.
type Module struct {
	cfg   ModuleConfig
	state *State

	loadWG sync.WaitGroup

	mu           sync.Mutex
	songs        []*nbs.Song
	loading      bool
	initialized  bool
	queue        *Queue
	tracked      task.Tracked[*Task]
	sendFailTo   string
	requester    string
	lastTaskSeen time.Time
	playing      *nbs.Song
}

func NewModule(cfg ModuleConfig) *Module {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Module{
		cfg:          cfg,
		state:        NewState(),
		queue:        NewQueue(cfg.Rand),
		lastTaskSeen: cfg.Now(),
	}
}

func (m *Module) State() *State { return m.state }

func (m *Module) record(kind string, data any) {
	if m.cfg.Journal != nil {
		m.cfg.Journal.Record(kind, data)
	}
}

// LoadSongs replaces the library with the songs in SongsDir. Decoding happens
// in the background; use WaitLoaded to block until it is done.
func (m *Module) LoadSongs() error {
	m.mu.Lock()
	if m.loading {
		m.mu.Unlock()
		return ErrAlreadyLoading
	}
	entries, err := os.ReadDir(m.cfg.SongsDir)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("read songs dir: %w", err)
	}
	m.loading = true
	m.songs = nil
	m.loadWG.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.loadWG.Done()
		m.loadEntries(entries)
	}()
	return nil
}

func (m *Module) loadEntries(entries []os.DirEntry) {
	start := time.Now()
	var (
		failed int
		bytes  uint64
		notes  int64
		rows   []indexdb.SongRecord
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(m.cfg.SongsDir, e.Name())
		song, err := nbs.DecodeFile(path)
		if err != nil {
			logger.Printf("Failed to load %s: %v", e.Name(), err)
			failed++
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		bytes += uint64(size)
		notes += int64(len(song.Notes))
		rows = append(rows, indexdb.SongRecord{
			File:         song.FileName,
			Name:         song.FriendlyName(),
			Author:       song.Author,
			LengthMillis: SongLengthMillis(song),
			Notes:        len(song.Notes),
			Unique:       len(song.Unique),
			Tempo:        int(song.Tempo),
			Bytes:        size,
		})

		m.mu.Lock()
		m.songs = append(m.songs, song)
		m.mu.Unlock()
	}
	took := time.Since(start)
	logger.Printf("Loaded %d NBS Songs (%d failed, %s, %s notes) in %s",
		len(rows), failed, humanize.Bytes(bytes), humanize.Comma(notes), took.Round(time.Millisecond))

	if m.cfg.Library != nil {
		if err := m.cfg.Library.UpsertSongs(rows); err != nil {
			logger.Printf("Failed to index songs: %v", err)
		}
	}
	m.record("song_loaded_summary", map[string]any{
		"loaded": len(rows),
		"failed": failed,
		"bytes":  bytes,
		"notes":  notes,
		"millis": took.Milliseconds(),
	})

	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
}

func (m *Module) WaitLoaded() { m.loadWG.Wait() }

func (m *Module) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Module) Songs() []*nbs.Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*nbs.Song(nil), m.songs...)
}

// Search matches term against the library, or against the queue.
func (m *Module) Search(term string, inQueue bool) []*nbs.Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inQueue {
		return SearchSongs(m.queue.Songs, term)
	}
	return SearchSongs(m.songs, term)
}

// Queue runs fn with exclusive access to the queue.
func (m *Module) Queue(fn func(q *Queue)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.queue)
}

// Play replaces the queue with song and starts it.
func (m *Module) Play(q task.Scheduler, song *nbs.Song, sender string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.Songs = []*nbs.Song{song}
	m.queue.Current = 0
	m.requester = sender
	return m.restartLocked(q, sender)
}

// RestartCurrent plays the queue's current song from the beginning.
func (m *Module) RestartCurrent(q task.Scheduler, sender string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restartLocked(q, sender)
}

func (m *Module) restartLocked(q task.Scheduler, sender string) bool {
	song := m.queue.CurrentSong()
	m.state.Update(func(s *PlaybackState) {
		s.Desired = DesiredPlaying
		s.Tick = 0
		s.Song = song
	})
	if song == nil {
		return false
	}
	if _, err := m.ensureTaskLocked(q, sender); err != nil {
		logger.Printf("Failed to start DJ-Task: %v", err)
	}
	return true
}

// EnsureTaskRunning schedules a playback task unless one is still running.
// It reports whether a new task was added.
func (m *Module) EnsureTaskRunning(q task.Scheduler, sender string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureTaskLocked(q, sender)
}

func (m *Module) ensureTaskLocked(q task.Scheduler, sender string) (bool, error) {
	m.sendFailTo = sender
	if m.tracked.Valid() && m.tracked.Status().IsRunning() {
		return false, nil
	}
	m.tracked = task.Track(NewTask(m.state, TaskConfig{
		Pos:         m.cfg.Pos,
		MaxDistance: m.cfg.MaxDistance,
		Now:         m.cfg.Now,
	}))
	if err := q.AddTask(m.tracked); err != nil {
		return false, fmt.Errorf("add DJ-Task: %w", err)
	}
	return true, nil
}

// Handle reacts to engine events. It is called before the task tree sees
// the event.
func (m *Module) Handle(c agent.Client, ev agent.Event, q task.Scheduler) error {
	switch ev.Kind {
	case agent.EventInit:
		m.mu.Lock()
		first := !m.initialized
		m.initialized = true
		m.mu.Unlock()
		if first {
			if err := m.LoadSongs(); err != nil && !errors.Is(err, ErrAlreadyLoading) {
				return err
			}
		}
	case agent.EventTick:
		m.tick(c, q)
	}
	return nil
}

func (m *Module) tick(c agent.Client, q task.Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.cfg.Now()

	if m.tracked.Valid() {
		st := m.tracked.Status()
		var msg, reason string
		switch {
		case st.State == task.Errored:
			msg, reason = fmt.Sprintf("DJ-Task errored: %v", st.Err), fmt.Sprintf("%v", st.Err)
		case st.State == task.Concluded && st.Outcome.IsFailed():
			msg, reason = "DJ-Task failed: "+st.Outcome.Reason, st.Outcome.Reason
		}
		if msg != "" {
			if m.sendFailTo != "" {
				c.Whisper(m.sendFailTo, msg)
			}
			m.failedLocked(reason)
			m.tracked = task.Tracked[*Task]{}
			// The group stopped the task on its way out; a dead task is not
			// an interruption idle resume should undo.
			m.state.Update(func(s *PlaybackState) {
				if s.Actual == ActualInterrupted {
					s.Actual = ActualStopped
				}
			})
		}
	}

	snap := m.state.Snapshot()
	m.observeLocked(snap, now)

	if snap.Actual == ActualFinished && m.queue.Current >= 0 {
		m.queue.Next()
		m.restartLocked(q, "")
	}

	if q.Tasks() > 0 {
		m.lastTaskSeen = now
	}

	if m.cfg.ResumeAfterIdle > 0 && snap.Actual == ActualInterrupted && snap.Desired == DesiredPlaying &&
		now.Sub(m.lastTaskSeen) >= m.cfg.ResumeAfterIdle {
		logger.Printf("Idle for %s, resuming song.", now.Sub(m.lastTaskSeen).Round(time.Second))
		if _, err := m.ensureTaskLocked(q, m.sendFailTo); err != nil {
			logger.Printf("Failed to resume: %v", err)
		}
		m.lastTaskSeen = now
	}
}

// observeLocked turns status transitions into play records.
func (m *Module) observeLocked(snap PlaybackState, now time.Time) {
	switch snap.Actual {
	case ActualPlaying:
		if snap.Song != nil && snap.Song != m.playing {
			m.playing = snap.Song
			m.playEventLocked(indexdb.PlayStarted, "", now)
			m.record("song_started", map[string]string{"file": snap.Song.FileName, "name": snap.Song.FriendlyName(), "requester": m.requester})
		}
	case ActualFinished:
		if m.playing != nil {
			m.playEventLocked(indexdb.PlayFinished, "", now)
			m.record("song_finished", map[string]string{"file": m.playing.FileName, "name": m.playing.FriendlyName()})
			m.playing = nil
		}
	case ActualStopped:
		m.playing = nil
	}
}

func (m *Module) failedLocked(reason string) {
	logger.Printf("DJ-Task failed: %s", reason)
	kind := "task_failed"
	if strings.HasPrefix(reason, "Tuning failed") {
		kind = "tuning_failed"
	}
	data := map[string]string{"reason": reason}
	if m.playing != nil {
		data["file"], data["name"] = m.playing.FileName, m.playing.FriendlyName()
	}
	m.record(kind, data)
	if m.playing != nil {
		m.playEventLocked(indexdb.PlayFailed, reason, m.cfg.Now())
		m.playing = nil
	}
}

func (m *Module) playEventLocked(ev indexdb.PlayEvent, detail string, at time.Time) {
	if m.cfg.Library == nil || m.playing == nil {
		return
	}
	m.cfg.Library.RecordPlay(indexdb.PlayRecord{
		File:      m.playing.FileName,
		Name:      m.playing.FriendlyName(),
		Event:     ev,
		Requester: m.requester,
		Detail:    detail,
		At:        at,
	})
}
