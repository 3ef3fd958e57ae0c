package bot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/persistence/indexdb"
)

const notAdmin = "Sorry, but you need to be specified as an admin to use this command!"

var builtins = []string{"help", "admins", "status", "task", "canceltasks"}

// dispatch parses a chat line and runs the command it names. Replies are
// whispered to the sender.
func (r *Runner) dispatch(chat agent.Chat) {
	if chat.From == "" || strings.EqualFold(chat.From, r.cfg.Name) {
		return
	}
	text := strings.TrimSpace(chat.Text)
	if !strings.HasPrefix(text, r.cfg.Prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(text, r.cfg.Prefix))
	if len(fields) == 0 {
		return
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	admin := r.IsAdmin(chat.From)
	reply := func(s string) { r.c.Whisper(chat.From, s) }

	r.record("command", map[string]any{"sender": chat.From, "command": name, "args": args, "admin": admin})
	if r.cfg.Commands != nil {
		r.cfg.Commands.RecordCommand(indexdb.CommandRecord{
			Sender:  chat.From,
			Command: name,
			Args:    strings.Join(args, " "),
			Admin:   admin,
			At:      r.cfg.Now(),
		})
	}

	switch name {
	case "help":
		reply("Commands: " + strings.Join(r.commandNames(), ", "))
	case "admins":
		if r.anyone {
			reply("Admins: everyone")
			return
		}
		names := make([]string, 0, len(r.cfg.Admins))
		for _, a := range r.cfg.Admins {
			if a = strings.TrimSpace(a); a != "" {
				names = append(names, a)
			}
		}
		if len(names) == 0 {
			reply("Admins: none")
			return
		}
		reply("Admins: " + strings.Join(names, ", "))
	case "status":
		reply(fmt.Sprintf("Up for %s, %s queued. %s", r.uptime(), plural(r.root.Remaining(), "task"), r.root))
	case "task":
		if !admin {
			reply(notAdmin)
			return
		}
		reply(fmt.Sprintf("Task: %s", r.root))
	case "canceltasks":
		if !admin {
			reply(notAdmin)
			return
		}
		n, err := r.cancelTasks()
		if err != nil {
			logger.Printf("Failed to cancel tasks: %v", err)
			reply("Oops: " + err.Error())
			return
		}
		reply(fmt.Sprintf("Stopped and removed all tasks (%d)!", n))
	default:
		cmd, ok := r.commands[name]
		if !ok {
			reply(fmt.Sprintf("Unknown command. Try %shelp", r.cfg.Prefix))
			return
		}
		if err := cmd.Execute(r.c, r, chat.From, args, admin, reply); err != nil {
			logger.Printf("Command %q from %s failed: %v", name, chat.From, err)
			reply("Oops: " + err.Error())
		}
	}
}

func (r *Runner) commandNames() []string {
	names := append([]string(nil), builtins...)
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, n := range names {
		names[i] = r.cfg.Prefix + n
	}
	return names
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}
