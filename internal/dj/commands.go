package dj

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/nbs"
	"noteblockdj.ai/internal/task"
)

const (
	usageAdmin = "Usage: !dj <play/add/playRandom/addRandom/rm/next/prev/pause/resume/stop/clear/shuffle/repeat/info/speed/top/reload>"
	usage      = "Usage: !dj <play/add/playRandom/addRandom/rm/next/prev/pause/resume/stop/clear/shuffle/repeat/info/speed/top>"

	addPrompt = "Please provide a song to add. It will behave like a search and play this song after all the others."
)

func songLabel(song *nbs.Song) string {
	return fmt.Sprintf("%q [%s]", song.FriendlyName(), FormatTimestamp(SongLengthMillis(song), false))
}

// Command is the chat command this module answers to.
func (m *Module) Command() string { return "dj" }

// Execute runs "!dj <args...>" for sender. Replies go through feedback.
// A returned error is a failure the caller should report.
func (m *Module) Execute(c agent.Client, q task.Scheduler, sender string, args []string, admin bool, feedback func(string)) error {
	if m.cfg.AdminOnly && !admin {
		feedback("You need to be specified as an admin to use this command!")
		return nil
	}
	if !admin && !c.CanSee(sender) {
		feedback("This command can only be used by people in render distance or admins.")
		return nil
	}

	sub := ""
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	term := ""
	if len(args) > 1 {
		term = strings.Join(args[1:], " ")
	}

	switch sub {
	case "play":
		if term == "" {
			feedback("Please provide a song to play. It will behave like a search and play the first result.")
			return nil
		}
		found := m.Search(term, false)
		if len(found) == 0 {
			feedback("No song found that matches your term.")
			return nil
		}
		m.Play(q, found[0], sender)
		feedback("Playing: " + songLabel(found[0]))

	case "playrandom":
		song := m.randomSong()
		if song == nil {
			feedback("No songs :(")
			return nil
		}
		m.Play(q, song, sender)
		feedback("Playing: " + songLabel(song))

	case "search":
		if term == "" {
			feedback("Please provide a search term.")
			return nil
		}
		found := m.Search(term, false)
		if len(found) == 0 {
			feedback("No matching songs found. Maybe try to generalize your term a bit more.")
			return nil
		}
		names := make([]string, len(found))
		for i, s := range found {
			names[i] = s.FriendlyName()
		}
		feedback(fmt.Sprintf("%d results: %s", len(found), strings.Join(names, ", ")))

	case "add":
		if term == "" {
			feedback(addPrompt)
			return nil
		}
		found := m.Search(term, false)
		if len(found) == 0 {
			feedback("No song found that matches your term.")
			return nil
		}
		m.add(q, found[0], sender)
		feedback("Added to queue: " + songLabel(found[0]))

	case "addrandom":
		song := m.randomSong()
		if song == nil {
			feedback("No songs :(")
			return nil
		}
		m.add(q, song, sender)
		feedback("Added to queue: " + songLabel(song))

	case "rm", "remove":
		if term == "" {
			feedback(addPrompt)
			return nil
		}
		found := m.Search(term, true)
		if len(found) == 0 {
			feedback("No song in queue found that matches your term.")
			return nil
		}
		m.mu.Lock()
		if m.queue.Remove(m.queue.IndexOf(found[0])) {
			m.restartLocked(q, sender)
		}
		m.mu.Unlock()
		feedback("Removed from queue: " + songLabel(found[0]))

	case "next", "prev", "previous":
		forward := sub == "next"
		m.mu.Lock()
		if m.queue.Current < 0 {
			m.mu.Unlock()
			feedback("Queue ended.")
			return nil
		}
		if forward {
			m.queue.Next()
		} else {
			m.queue.Previous()
		}
		song := m.queue.CurrentSong()
		m.restartLocked(q, sender)
		m.mu.Unlock()
		switch {
		case song != nil && forward:
			feedback("Playing next song: " + songLabel(song))
		case song != nil:
			feedback("Playing previous song: " + songLabel(song))
		case forward:
			feedback("No next song found!")
		default:
			feedback("No previous song found!")
		}

	case "shuffle", "repeat":
		var on *bool
		switch strings.ToLower(term) {
		case "":
		case "on", "true", "yes":
			v := true
			on = &v
		case "off", "false", "no":
			v := false
			on = &v
		default:
			feedback(fmt.Sprintf("Please specify either \"on\" or \"off\" or nothing to see whether %s is currently on.", sub))
			return nil
		}
		var now bool
		m.Queue(func(qu *Queue) {
			flag := &qu.Shuffle
			if sub == "repeat" {
				flag = &qu.Repeat
			}
			if on != nil {
				*flag = *on
			}
			now = *flag
		})
		label := "Shuffle"
		if sub == "repeat" {
			label = "Repeat"
		}
		if now {
			feedback(label + ": On")
		} else {
			feedback(label + ": Off")
		}

	case "clear":
		m.mu.Lock()
		m.state.Update(func(s *PlaybackState) { s.Desired = DesiredStopped })
		m.queue.Clear()
		m.restartLocked(q, sender)
		m.mu.Unlock()
		feedback("Cleared queue")

	case "restart":
		m.mu.Lock()
		m.queue.Activate()
		ok := m.restartLocked(q, sender)
		m.mu.Unlock()
		if ok {
			feedback("Restarted song")
		} else {
			feedback("No song to restart")
		}

	case "info":
		m.mu.Lock()
		snap := m.state.Snapshot()
		prefix := ""
		if n := len(m.queue.Songs); n > 1 {
			switch snap.Actual {
			case ActualFinished, ActualPaused, ActualPlaying, ActualStopped, ActualTuning, ActualPositioning:
				if m.queue.Current >= 0 {
					prefix = fmt.Sprintf("(%d/%d) ", m.queue.Current+1, n)
				} else {
					prefix = fmt.Sprintf("(?/%d) ", n)
				}
			}
		}
		m.mu.Unlock()
		feedback(prefix + snap.FormattedState())

	case "stop":
		m.mu.Lock()
		m.queue.Clear()
		m.mu.Unlock()
		var reply string
		m.state.Update(func(s *PlaybackState) {
			s.Tick = 0
			if s.Desired == DesiredStopped {
				reply = "Already stopped!"
				return
			}
			s.Desired = DesiredStopped
			switch s.Actual {
			case ActualPlaying, ActualPaused, ActualTuning:
				reply = "Stopped song."
			default:
				reply = fmt.Sprintf("Stopped, but might not have taken affect as current status is %s", s.Actual)
			}
		})
		feedback(reply)

	case "speed":
		if term != "" {
			v, err := strconv.ParseFloat(strings.TrimSpace(term), 64)
			if err != nil {
				return fmt.Errorf("parse speed: %w", err)
			}
			if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
				return fmt.Errorf("speed must be a positive number, got %s", term)
			}
			m.state.Update(func(s *PlaybackState) { s.Speed = v })
		}
		feedback(fmt.Sprintf("Speed: %.3f", m.state.Snapshot().Speed))

	case "pause":
		var reply string
		m.state.Update(func(s *PlaybackState) {
			s.Desired = DesiredPaused
			switch s.Actual {
			case ActualPlaying, ActualPaused, ActualTuning:
				// Tuning pauses on its first playing tick.
				reply = "Paused song."
			default:
				reply = fmt.Sprintf("Paused, but might not have taken affect as current status is %s", s.Actual)
			}
		})
		feedback(reply)

	case "resume":
		if m.state.Snapshot().Song == nil {
			feedback("There is no song to resume!")
			return nil
		}
		started, err := m.EnsureTaskRunning(q, sender)
		if err != nil {
			return err
		}
		var reply string
		m.state.Update(func(s *PlaybackState) {
			switch {
			case s.Actual == ActualPlaying:
				s.Desired = DesiredPlaying
				reply = "Already playing. Perhaps busy with other tasks."
			case s.Desired == DesiredPlaying:
				if started {
					reply = "Started DJ-Task. Song should resume soon."
				} else {
					reply = "Already wanting to play!"
				}
			default:
				wasPaused := s.Actual == ActualPaused
				s.Desired = DesiredPlaying
				if wasPaused {
					reply = "Resumed song."
				} else {
					reply = fmt.Sprintf("Resumed, but might not have taken affect as current status is %s", s.Actual)
				}
			}
		})
		feedback(reply)

	case "reload":
		if !admin {
			feedback("Only admins are allowed to reload the song list!")
			return nil
		}
		if err := m.LoadSongs(); err != nil {
			feedback(fmt.Sprintf("Reload failed: %v", err))
			return nil
		}
		feedback("Reloading songs.")

	case "top":
		if m.cfg.Library == nil {
			feedback("No play history available.")
			return nil
		}
		top, err := m.cfg.Library.TopSongs(5)
		if err != nil {
			return fmt.Errorf("top songs: %w", err)
		}
		if len(top) == 0 {
			feedback("Nothing played yet.")
			return nil
		}
		parts := make([]string, len(top))
		for i, t := range top {
			parts[i] = fmt.Sprintf("%d. %s (%d)", i+1, t.Name, t.Plays)
		}
		feedback("Most played: " + strings.Join(parts, ", "))

	default:
		if admin {
			feedback(usageAdmin)
		} else {
			feedback(usage)
		}
	}
	return nil
}

func (m *Module) randomSong() *nbs.Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.songs) == 0 {
		return nil
	}
	return m.songs[m.cfg.Rand.Intn(len(m.songs))]
}

// add appends song to the queue and starts playback if the queue was empty.
func (m *Module) add(q task.Scheduler, song *nbs.Song, sender string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.Songs = append(m.queue.Songs, song)
	if len(m.queue.Songs) == 1 {
		m.queue.Activate()
		m.requester = sender
		m.restartLocked(q, sender)
	}
}
