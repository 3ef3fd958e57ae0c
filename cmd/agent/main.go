package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"noteblockdj.ai/internal/bot"
	"noteblockdj.ai/internal/config"
	"noteblockdj.ai/internal/dj"
	"noteblockdj.ai/internal/persistence/indexdb"
	persistlog "noteblockdj.ai/internal/persistence/log"
	"noteblockdj.ai/internal/protocol"
	"noteblockdj.ai/internal/transport/ws"
)

const defaultConfig = "./configs/agent.yaml"

func main() {
	var (
		configPath = flag.String("config", defaultConfig, "agent config path")
		url        = flag.String("url", "", "gateway ws url (overrides server_url)")
		name       = flag.String("name", "", "agent name (overrides agent_name)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides data_dir)")
		songsDir   = flag.String("songs", "", "directory of .nbs files (overrides dj.songs_dir)")
		admins     = flag.String("admins", "", "comma separated admin names (overrides admins)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite play index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) && *configPath == defaultConfig {
		logger.Printf("config not found (%s); using defaults", *configPath)
		cfg, err = config.Load("")
	}
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *url != "" {
		cfg.ServerURL = *url
	}
	if *name != "" {
		cfg.AgentName = *name
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.ResumeTokenFile = ""
	}
	if *songsDir != "" {
		cfg.DJ.SongsDir = *songsDir
	}
	if *admins != "" {
		cfg.Admins = strings.Split(*admins, ",")
	}
	if *disableDB {
		cfg.DisableDB = true
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}
	pos, _ := cfg.DJ.BlockPos()

	token, err := config.ReadResumeToken(cfg.ResumeTokenFile)
	if err != nil {
		logger.Printf("read resume token: %v", err)
	}

	journal := persistlog.NewJournal(cfg.DataDir)
	defer journal.Close()

	var idx *indexdb.SQLiteIndex
	if !cfg.DisableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index", "dj.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	sess := ws.NewSession(ws.SessionConfig{
		URL:         cfg.ServerURL,
		Name:        cfg.AgentName,
		ResumeToken: token,
		OnWelcome: func(w protocol.WelcomeMsg) {
			journal.Record("welcome", map[string]any{"agent_id": w.AgentID, "world_id": w.WorldParams.WorldID})
			if w.ResumeToken == "" || w.ResumeToken == token {
				return
			}
			if err := config.WriteResumeToken(cfg.ResumeTokenFile, w.ResumeToken); err != nil {
				logger.Printf("persist resume token: %v", err)
			}
		},
	})

	modCfg := dj.ModuleConfig{
		SongsDir:        cfg.DJ.SongsDir,
		Pos:             pos,
		AdminOnly:       cfg.DJ.AdminOnly,
		ResumeAfterIdle: cfg.DJ.ResumeAfterIdle(),
		MaxDistance:     cfg.DJ.MaxDistance,
		Journal:         journal,
	}
	botCfg := bot.Config{
		Name:    cfg.AgentName,
		Prefix:  cfg.CommandPrefix,
		Admins:  cfg.Admins,
		Journal: journal,
	}
	if idx != nil {
		modCfg.Library = idx
		botCfg.Commands = idx
	}

	runner := bot.New(sess, botCfg)
	runner.Register(dj.NewModule(modCfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Printf("connecting to %s as %s (session=%s)", cfg.ServerURL, cfg.AgentName, sess.ID())
	sess.Start()
	err = runner.Run(ctx, sess.Events())
	sess.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("runner: %v", err)
	}
	if n := journal.WriteErrors(); n > 0 {
		logger.Printf("journal write errors: %d", n)
	}
	if idx != nil {
		st := idx.Stats()
		if st.DropPlayTotal > 0 || st.DropCommandTotal > 0 {
			logger.Printf("index drops: plays=%d commands=%d", st.DropPlayTotal, st.DropCommandTotal)
		}
	}
	logger.Printf("bye")
}
