package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"noteblockdj.ai/internal/sandbox"
	"noteblockdj.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		layoutPath = flag.String("layout", "", "path to a sandbox layout yaml (default: built-in ring)")
		as         = flag.String("as", "", "player name for chat typed on stdin (default: first layout player)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sandbox] ", log.LstdFlags|log.Lmicroseconds)

	layout, err := sandbox.LoadLayout(*layoutPath)
	if err != nil {
		logger.Fatalf("load layout: %v", err)
	}
	w, err := sandbox.NewWorld(layout, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(w.Summary())
	})
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world: %v", err)
		}
	}()

	player := strings.TrimSpace(*as)
	if player == "" && len(layout.Players) > 0 {
		player = layout.Players[0]
	}
	if player != "" {
		go readChat(w, player, logger)
	}
	go reportPlays(ctx, w, logger)

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.Printf("listening on %s (%d note blocks, %d Hz)", *addr, len(layout.NoteBlocks), layout.TickRateHz)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("listen: %v", err)
	}
}

// readChat sends each stdin line as chat from player. "/w <text>" whispers.
func readChat(w *sandbox.World, player string, logger *log.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		whisper := false
		if rest, ok := strings.CutPrefix(line, "/w "); ok {
			line, whisper = rest, true
		}
		w.Chat(player, line, whisper)
	}
	if err := sc.Err(); err != nil {
		logger.Printf("stdin: %v", err)
	}
}

func reportPlays(ctx context.Context, w *sandbox.World, logger *log.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var played, chats int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, c := range w.Chats()[chats:] {
			if c.To != "" {
				logger.Printf("%s -> %s: %s", c.From, c.To, c.Text)
			} else {
				logger.Printf("<%s> %s", c.From, c.Text)
			}
			chats++
		}
		n := len(w.Played())
		if n != played {
			logger.Printf("tick %s: %s notes played (+%d), %d dropped frames",
				humanize.Comma(int64(w.Tick())), humanize.Comma(int64(n)), n-played, w.Drops())
			played = n
		}
	}
}
