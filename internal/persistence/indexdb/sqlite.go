package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a secondary, queryable index of the song library and of
// what was played. Writes of plays and commands are queued and batched by
// one writer goroutine; the journal stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropPlay    atomic.Uint64
	dropCommand atomic.Uint64
}

type reqKind int

const (
	reqPlay reqKind = iota + 1
	reqCommand
)

type req struct {
	kind reqKind

	play    PlayRecord
	command CommandRecord
}

// SongRecord describes one decoded song file.
type SongRecord struct {
	File         string
	Name         string
	Author       string
	LengthMillis uint64
	Notes        int
	Unique       int
	Tempo        int
	Bytes        int64
}

type PlayEvent string

const (
	PlayStarted  PlayEvent = "started"
	PlayFinished PlayEvent = "finished"
	PlayFailed   PlayEvent = "failed"
)

type PlayRecord struct {
	File      string
	Name      string
	Event     PlayEvent
	Requester string
	Detail    string
	At        time.Time
}

type CommandRecord struct {
	Sender  string
	Command string
	Args    string
	Admin   bool
	At      time.Time
}

// SongPlays is one row of TopSongs.
type SongPlays struct {
	File  string
	Name  string
	Plays int
}

type Stats struct {
	DropPlayTotal    uint64
	DropCommandTotal uint64
	QueueDepth       int
	QueueCapacity    int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection for the writer goroutine, one for library upserts and reads.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS songs (
			file TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			author TEXT NOT NULL,
			length_ms INTEGER NOT NULL,
			notes INTEGER NOT NULL,
			unique_notes INTEGER NOT NULL,
			tempo INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			loaded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS plays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file TEXT NOT NULL,
			name TEXT NOT NULL,
			event TEXT NOT NULL,
			requester TEXT NOT NULL,
			detail TEXT,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_plays_file_event ON plays(file, event);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			command TEXT NOT NULL,
			args TEXT NOT NULL,
			admin INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_sender ON commands(sender, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropPlayTotal:    s.dropPlay.Load(),
		DropCommandTotal: s.dropCommand.Load(),
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
	}
}

// RecordPlay queues a play event. It never blocks; events are dropped and
// counted when the writer falls behind.
func (s *SQLiteIndex) RecordPlay(p PlayRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	if p.At.IsZero() {
		p.At = time.Now()
	}
	select {
	case s.ch <- req{kind: reqPlay, play: p}:
	default:
		s.dropPlay.Add(1)
	}
}

func (s *SQLiteIndex) RecordCommand(c CommandRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}
	select {
	case s.ch <- req{kind: reqCommand, command: c}:
	default:
		s.dropCommand.Add(1)
	}
}

// LibraryDigest is a stable digest of the song file names.
func LibraryDigest(songs []SongRecord) string {
	files := make([]string, len(songs))
	for i, r := range songs {
		files[i] = r.File
	}
	sort.Strings(files)
	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// UpsertSongs stores a library snapshot in one transaction.
func (s *SQLiteIndex) UpsertSongs(songs []SongRecord) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('library_digest',?)`, LibraryDigest(songs)); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO songs(file,name,author,length_ms,notes,unique_notes,tempo,bytes,loaded_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range songs {
		if r.File == "" {
			continue
		}
		if _, err := stmt.Exec(r.File, r.Name, r.Author, int64(r.LengthMillis), r.Notes, r.Unique, r.Tempo, r.Bytes, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TopSongs returns the most started songs, most played first.
func (s *SQLiteIndex) TopSongs(limit int) ([]SongPlays, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(`
		SELECT p.file, COALESCE(s.name, MAX(p.name)), COUNT(*) AS n
		FROM plays p LEFT JOIN songs s ON s.file = p.file
		WHERE p.event = ?
		GROUP BY p.file
		ORDER BY n DESC, p.file ASC
		LIMIT ?`, string(PlayStarted), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SongPlays
	for rows.Next() {
		var sp SongPlays
		if err := rows.Scan(&sp.File, &sp.Name, &sp.Plays); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertPlay, _ := s.db.Prepare(`INSERT INTO plays(file,name,event,requester,detail,at) VALUES(?,?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT INTO commands(sender,command,args,admin,at) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertPlay != nil {
			_ = insertPlay.Close()
		}
		if insertCommand != nil {
			_ = insertCommand.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// Plays trickle in, so an idle flush keeps the open transaction short.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-ticker.C:
			flushIfNeeded()
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqPlay:
			p := r.play
			if insertPlay != nil {
				if _, err := tx.Stmt(insertPlay).Exec(p.File, p.Name, string(p.Event), p.Requester, p.Detail, p.At.UTC().Format(time.RFC3339Nano)); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqCommand:
			c := r.command
			if insertCommand != nil {
				admin := 0
				if c.Admin {
					admin = 1
				}
				if _, err := tx.Stmt(insertCommand).Exec(c.Sender, c.Command, c.Args, admin, c.At.UTC().Format(time.RFC3339Nano)); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}
