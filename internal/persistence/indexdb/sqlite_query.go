package indexdb

import (
	"database/sql"
	"time"
)

// Songs lists indexed songs by name.
func (s *SQLiteIndex) Songs(limit int) ([]SongRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT file,name,author,length_ms,notes,unique_notes,tempo,bytes FROM songs ORDER BY name ASC, file ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SongRecord
	for rows.Next() {
		var r SongRecord
		var length int64
		if err := rows.Scan(&r.File, &r.Name, &r.Author, &length, &r.Notes, &r.Unique, &r.Tempo, &r.Bytes); err != nil {
			return nil, err
		}
		r.LengthMillis = uint64(length)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentPlays returns play events, newest first.
func (s *SQLiteIndex) RecentPlays(limit int) ([]PlayRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT file,name,event,requester,COALESCE(detail,''),at FROM plays ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlayRecord
	for rows.Next() {
		var p PlayRecord
		var ev, at string
		if err := rows.Scan(&p.File, &p.Name, &ev, &p.Requester, &p.Detail, &at); err != nil {
			return nil, err
		}
		p.Event = PlayEvent(ev)
		p.At = parseTime(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentCommands returns chat commands, newest first. An empty sender
// matches everyone.
func (s *SQLiteIndex) RecentCommands(sender string, limit int) ([]CommandRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if sender == "" {
		rows, err = s.db.Query(`SELECT sender,command,args,admin,at FROM commands ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT sender,command,args,admin,at FROM commands WHERE sender = ? ORDER BY id DESC LIMIT ?`, sender, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommandRecord
	for rows.Next() {
		var c CommandRecord
		var admin int
		var at string
		if err := rows.Scan(&c.Sender, &c.Command, &c.Args, &admin, &at); err != nil {
			return nil, err
		}
		c.Admin = admin != 0
		c.At = parseTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
