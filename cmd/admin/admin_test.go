package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"noteblockdj.ai/internal/persistence/indexdb"
	jlog "noteblockdj.ai/internal/persistence/log"
	"noteblockdj.ai/internal/sandbox"
)

type fakeSink struct {
	plays    []indexdb.PlayRecord
	commands []indexdb.CommandRecord
}

func (s *fakeSink) RecordPlay(p indexdb.PlayRecord)       { s.plays = append(s.plays, p) }
func (s *fakeSink) RecordCommand(c indexdb.CommandRecord) { s.commands = append(s.commands, c) }

func writeJournal(t *testing.T, dir string) string {
	t.Helper()
	j := jlog.NewJournal(dir)
	j.Record("welcome", map[string]string{"agent_id": "A1"})
	j.Record("command", map[string]any{"sender": "alice", "command": "dj", "args": []string{"play", "tiny"}, "admin": false})
	j.Record("song_started", map[string]string{"file": "tiny.nbs", "name": "Tiny", "requester": "alice"})
	j.Record("song_finished", map[string]string{"file": "tiny.nbs", "name": "Tiny"})
	j.Record("song_started", map[string]string{"file": "big.nbs", "name": "Big", "requester": "bob"})
	j.Record("tuning_failed", map[string]string{"file": "big.nbs", "name": "Big", "reason": "Tuning failed: no blocks"})
	j.Record("task_failed", map[string]string{"reason": "nothing playing"})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return j.Session()
}

func TestReplayJournal_RebuildsHistory(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir)

	var sink fakeSink
	st, err := replayJournal(dir, &sink)
	if err != nil {
		t.Fatalf("replayJournal: %v", err)
	}
	if st.Entries != 7 || st.Plays != 4 || st.Commands != 1 || st.Sessions != 1 {
		t.Fatalf("stats=%+v", st)
	}
	c := sink.commands[0]
	if c.Sender != "alice" || c.Command != "dj" || c.Args != "play tiny" || c.Admin {
		t.Fatalf("command=%+v", c)
	}
	if sink.plays[1].Event != indexdb.PlayFinished || sink.plays[1].Requester != "alice" {
		t.Fatalf("finish=%+v", sink.plays[1])
	}
	fail := sink.plays[3]
	if fail.Event != indexdb.PlayFailed || fail.File != "big.nbs" || fail.Requester != "bob" || fail.Detail != "Tuning failed: no blocks" {
		t.Fatalf("failure=%+v", fail)
	}
}

func TestReplayJournal_IntoIndex(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir)

	path := filepath.Join(t.TempDir(), "rebuilt.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := replayJournal(dir, idx); err != nil {
		t.Fatalf("replayJournal: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	var rows []any
	if err := runQuery(idx, "top", "", 5, func(v any) { rows = append(rows, v) }); err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("top rows=%+v", rows)
	}
	first := rows[0].(topRow)
	if first.Rank != 1 || first.Plays != 1 || first.File != "big.nbs" {
		t.Fatalf("top[0]=%+v", first)
	}

	rows = nil
	if err := runQuery(idx, "commands", "alice", 5, func(v any) { rows = append(rows, v) }); err != nil {
		t.Fatalf("commands: %v", err)
	}
	if len(rows) != 1 || rows[0].(commandRow).Args != "play tiny" {
		t.Fatalf("commands=%+v", rows)
	}
	if err := runQuery(idx, "bogus", "", 5, func(any) {}); err == nil {
		t.Fatalf("expected error for unknown query")
	}
}

func TestPrintJournal_Filters(t *testing.T) {
	dir := t.TempDir()
	session := writeJournal(t, dir)

	var kinds []string
	emit := func(v any) { kinds = append(kinds, v.(jlog.Entry).Kind) }
	n, err := printJournal(dir, journalFilter{Kinds: splitList(" song_started, song_finished ,")}, emit)
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v kinds=%v", n, err, kinds)
	}

	kinds = nil
	n, err = printJournal(dir, journalFilter{Session: session, Limit: 2}, emit)
	if err != nil || n != 2 || kinds[0] != "welcome" {
		t.Fatalf("limited n=%d err=%v kinds=%v", n, err, kinds)
	}

	n, err = printJournal(dir, journalFilter{Session: "other"}, emit)
	if err != nil || n != 0 {
		t.Fatalf("other session n=%d err=%v", n, err)
	}
}

func TestFetchState_FromSandbox(t *testing.T) {
	w, err := sandbox.NewWorld(sandbox.DefaultLayout(), nil)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	w.Step()
	w.Step()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(rw).Encode(w.Summary())
	}))
	defer srv.Close()

	st, body, err := fetchState(&http.Client{Timeout: 2 * time.Second}, srv.URL+"/")
	if err != nil {
		t.Fatalf("fetchState: %v (%s)", err, body)
	}
	if st.Tick != 2 || st.NoteBlocks != 16 || len(st.Agents) != 0 {
		t.Fatalf("state=%+v", st)
	}

	bad := httptest.NewServer(http.NotFoundHandler())
	defer bad.Close()
	if _, _, err := fetchState(http.DefaultClient, bad.URL); err == nil {
		t.Fatalf("expected error for 404")
	}
}
