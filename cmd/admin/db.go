package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"noteblockdj.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/dj.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	sender := fs.String("sender", "", "sender filter (commands)")
	_ = fs.Parse(args)

	q := "songs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = defaultDBPath(*dataDir)
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	if err := runQuery(idx, q, *sender, *limit, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		idx.Close()
		os.Exit(1)
	}
}

type songRow struct {
	File   string `json:"file"`
	Name   string `json:"name"`
	Author string `json:"author,omitempty"`
	Length string `json:"length"`
	Notes  int    `json:"notes"`
	Unique int    `json:"unique_notes"`
	Tempo  int    `json:"tempo"`
	Bytes  int64  `json:"bytes"`
}

type playRow struct {
	At        string `json:"at"`
	File      string `json:"file"`
	Name      string `json:"name"`
	Event     string `json:"event"`
	Requester string `json:"requester,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type commandRow struct {
	At      string `json:"at"`
	Sender  string `json:"sender"`
	Command string `json:"command"`
	Args    string `json:"args,omitempty"`
	Admin   bool   `json:"admin,omitempty"`
}

type topRow struct {
	Rank  int    `json:"rank"`
	File  string `json:"file"`
	Name  string `json:"name"`
	Plays int    `json:"plays"`
}

func runQuery(idx *indexdb.SQLiteIndex, q, sender string, limit int, emit func(any)) error {
	switch q {
	case "songs":
		songs, err := idx.Songs(limit)
		if err != nil {
			return err
		}
		for _, s := range songs {
			emit(songRow{
				File:   s.File,
				Name:   s.Name,
				Author: s.Author,
				Length: (time.Duration(s.LengthMillis) * time.Millisecond).String(),
				Notes:  s.Notes,
				Unique: s.Unique,
				Tempo:  s.Tempo,
				Bytes:  s.Bytes,
			})
		}
	case "plays":
		plays, err := idx.RecentPlays(limit)
		if err != nil {
			return err
		}
		for _, p := range plays {
			emit(playRow{At: formatAt(p.At), File: p.File, Name: p.Name, Event: string(p.Event), Requester: p.Requester, Detail: p.Detail})
		}
	case "commands":
		cmds, err := idx.RecentCommands(sender, limit)
		if err != nil {
			return err
		}
		for _, c := range cmds {
			emit(commandRow{At: formatAt(c.At), Sender: c.Sender, Command: c.Command, Args: c.Args, Admin: c.Admin})
		}
	case "top":
		top, err := idx.TopSongs(limit)
		if err != nil {
			return err
		}
		for i, t := range top {
			emit(topRow{Rank: i + 1, File: t.File, Name: t.Name, Plays: t.Plays})
		}
	default:
		return fmt.Errorf("unknown query (want songs, plays, commands or top)")
	}
	return nil
}

func formatAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
