package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	jlog "noteblockdj.ai/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "replay":
			replayCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the journal segments of a data directory.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := jlog.Files(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var total uint64
	for _, path := range files {
		var size uint64
		if info, err := os.Stat(path); err == nil {
			size = uint64(info.Size())
		}
		total += size
		fmt.Printf("%s\t%s\n", filepath.Base(path), humanize.Bytes(size))
	}
	fmt.Printf("%d segments, %s\n", len(files), humanize.Bytes(total))
}

func defaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "dj.sqlite")
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
