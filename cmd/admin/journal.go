package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"noteblockdj.ai/internal/persistence/indexdb"
	jlog "noteblockdj.ai/internal/persistence/log"
)

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "", "comma separated kinds to print (optional)")
	session := fs.String("session", "", "session id filter (optional)")
	limit := fs.Int("limit", 0, "stop after this many entries (0 = all)")
	_ = fs.Parse(args)

	n, err := printJournal(*dataDir, journalFilter{Kinds: splitList(*kind), Session: *session, Limit: *limit}, printJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, "journal:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d entries\n", n)
}

func replayCmd(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db to rebuild into (must not exist)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		fmt.Fprintln(os.Stderr, "missing -db")
		os.Exit(2)
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintln(os.Stderr, "refusing to replay into existing db", path)
		os.Exit(2)
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	st, err := replayJournal(*dataDir, idx)
	if cerr := idx.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: entries=%d plays=%d commands=%d sessions=%d db=%s\n",
		st.Entries, st.Plays, st.Commands, st.Sessions, path)
}

type journalFilter struct {
	Kinds   []string
	Session string
	Limit   int
}

func (f journalFilter) match(e jlog.Entry) bool {
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

var errLimit = errors.New("limit reached")

func printJournal(dataDir string, f journalFilter, emit func(any)) (int, error) {
	n := 0
	err := jlog.ReadDir(dataDir, func(e jlog.Entry) error {
		if !f.match(e) {
			return nil
		}
		emit(e)
		n++
		if f.Limit > 0 && n >= f.Limit {
			return errLimit
		}
		return nil
	})
	if errors.Is(err, errLimit) {
		err = nil
	}
	return n, err
}

type replayStats struct {
	Entries  int
	Plays    int
	Commands int
	Sessions int
}

type replaySink interface {
	RecordPlay(p indexdb.PlayRecord)
	RecordCommand(c indexdb.CommandRecord)
}

// replayJournal rebuilds play and command history from the journal. Song
// rows are not journaled; the agent upserts them on its next load.
func replayJournal(dataDir string, sink replaySink) (replayStats, error) {
	var st replayStats
	sessions := map[string]bool{}
	// Requesters are only journaled on song_started; failures and finishes
	// inherit them per session.
	requester := map[string]string{}

	err := jlog.ReadDir(dataDir, func(e jlog.Entry) error {
		st.Entries++
		sessions[e.Session] = true
		switch e.Kind {
		case "command":
			sink.RecordCommand(indexdb.CommandRecord{
				Sender:  e.Text("sender"),
				Command: e.Text("command"),
				Args:    strings.Join(e.List("args"), " "),
				Admin:   e.Flag("admin"),
				At:      e.At,
			})
			st.Commands++
		case "song_started":
			requester[e.Session] = e.Text("requester")
			sink.RecordPlay(indexdb.PlayRecord{
				File: e.Text("file"), Name: e.Text("name"), Event: indexdb.PlayStarted,
				Requester: e.Text("requester"), At: e.At,
			})
			st.Plays++
		case "song_finished":
			sink.RecordPlay(indexdb.PlayRecord{
				File: e.Text("file"), Name: e.Text("name"), Event: indexdb.PlayFinished,
				Requester: requester[e.Session], At: e.At,
			})
			st.Plays++
		case "task_failed", "tuning_failed":
			if e.Text("file") == "" {
				return nil
			}
			sink.RecordPlay(indexdb.PlayRecord{
				File: e.Text("file"), Name: e.Text("name"), Event: indexdb.PlayFailed,
				Requester: requester[e.Session], Detail: e.Text("reason"), At: e.At,
			})
			st.Plays++
		}
		return nil
	})
	st.Sessions = len(sessions)
	return st, err
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
