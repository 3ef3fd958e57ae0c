package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteIndex_SongsAndPlays(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "dj.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	songs := []SongRecord{
		{File: "zelda.nbs", Name: "Zelda Theme", Author: "Koji", LengthMillis: 61000, Notes: 900, Unique: 14, Tempo: 1000, Bytes: 4096},
		{File: "tetris.nbs", Name: "Tetris", LengthMillis: 90000, Notes: 1200, Unique: 10, Tempo: 1000, Bytes: 5000},
	}
	if err := idx.UpsertSongs(songs); err != nil {
		t.Fatalf("UpsertSongs: %v", err)
	}
	// Re-loading the same library replaces rows instead of duplicating them.
	if err := idx.UpsertSongs(songs); err != nil {
		t.Fatalf("UpsertSongs again: %v", err)
	}

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		idx.RecordPlay(PlayRecord{File: "tetris.nbs", Name: "Tetris", Event: PlayStarted, Requester: "alice", At: at})
	}
	idx.RecordPlay(PlayRecord{File: "zelda.nbs", Name: "Zelda Theme", Event: PlayStarted, Requester: "bob", At: at})
	idx.RecordPlay(PlayRecord{File: "zelda.nbs", Name: "Zelda Theme", Event: PlayFinished, At: at})
	idx.RecordCommand(CommandRecord{Sender: "alice", Command: "play", Args: "tetris", At: at})

	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM songs`).Scan(&n); err != nil {
		t.Fatalf("count songs: %v", err)
	}
	if n != 2 {
		t.Fatalf("songs=%d want=2", n)
	}
	var digest string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='library_digest'`).Scan(&digest); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if digest != LibraryDigest(songs) {
		t.Fatalf("digest mismatch")
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM plays`).Scan(&n); err != nil {
		t.Fatalf("count plays: %v", err)
	}
	if n != 5 {
		t.Fatalf("plays=%d want=5", n)
	}
	var admin int
	var args string
	if err := db.QueryRow(`SELECT args, admin FROM commands WHERE sender='alice'`).Scan(&args, &admin); err != nil {
		t.Fatalf("command row: %v", err)
	}
	if args != "tetris" || admin != 0 {
		t.Fatalf("command row mismatch: args=%q admin=%d", args, admin)
	}
}

func TestSQLiteIndex_TopSongs(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "dj.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	if err := idx.UpsertSongs([]SongRecord{{File: "a.nbs", Name: "Song A"}, {File: "b.nbs", Name: "Song B"}}); err != nil {
		t.Fatalf("UpsertSongs: %v", err)
	}
	idx.RecordPlay(PlayRecord{File: "a.nbs", Name: "a", Event: PlayStarted})
	idx.RecordPlay(PlayRecord{File: "b.nbs", Name: "b", Event: PlayStarted})
	idx.RecordPlay(PlayRecord{File: "b.nbs", Name: "b", Event: PlayStarted})
	idx.RecordPlay(PlayRecord{File: "b.nbs", Name: "b", Event: PlayFailed})
	idx.RecordPlay(PlayRecord{File: "c.nbs", Name: "Gone", Event: PlayStarted})

	// Plays are written asynchronously; wait for the idle flush.
	var top []SongPlays
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		top, err = idx.TopSongs(2)
		if err != nil {
			t.Fatalf("TopSongs: %v", err)
		}
		if len(top) == 2 && top[0].Plays == 2 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(top) != 2 {
		t.Fatalf("top=%+v want 2 rows", top)
	}
	if top[0].File != "b.nbs" || top[0].Name != "Song B" || top[0].Plays != 2 {
		t.Fatalf("top[0]=%+v", top[0])
	}
	if top[1].File != "a.nbs" || top[1].Plays != 1 {
		t.Fatalf("top[1]=%+v", top[1])
	}
}

func TestLibraryDigest_OrderIndependent(t *testing.T) {
	a := LibraryDigest([]SongRecord{{File: "x.nbs"}, {File: "y.nbs"}})
	b := LibraryDigest([]SongRecord{{File: "y.nbs"}, {File: "x.nbs"}})
	if a != b {
		t.Fatalf("digest depends on order")
	}
	if a == LibraryDigest([]SongRecord{{File: "x.nbs"}}) {
		t.Fatalf("digest ignores files")
	}
}
