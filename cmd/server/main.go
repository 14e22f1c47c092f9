package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dtymkiv/patty/internal/config"
	"github.com/dtymkiv/patty/internal/httpapi"
	"github.com/dtymkiv/patty/internal/hub"
	"github.com/dtymkiv/patty/internal/room"
	"github.com/dtymkiv/patty/internal/snapshot"
	"github.com/dtymkiv/patty/internal/wordlist"
)

func main() {
	cfg := config.Load()

	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	store := openStore(cfg, log)
	words := loadWords(cfg, log)

	ctx := context.Background()
	h := hub.NewHub(ctx, room.Deps{Store: store, Words: words, Log: log})

	handler := httpapi.SetupRoutes(h, log)

	log.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(lvl)
	log, err := c.Build()
	if err != nil {
		panic(err)
	}
	return log
}

// openStore picks the snapshot backend: Postgres when a DSN is configured,
// a local file store otherwise, memory as the last resort.
func openStore(cfg config.Config, log *zap.Logger) snapshot.Store {
	if cfg.SnapshotDSN != "" {
		s, err := snapshot.OpenSQL(cfg.SnapshotDSN)
		if err != nil {
			log.Fatal("open sql snapshot store", zap.Error(err))
		}
		log.Info("snapshot store: postgres")
		return s
	}

	s, err := snapshot.OpenFile(cfg.SnapshotApp)
	if err != nil {
		log.Warn("file snapshot store unavailable, using memory", zap.Error(err))
		return snapshot.NewMemory()
	}
	log.Info("snapshot store: file", zap.String("app", cfg.SnapshotApp))
	return s
}

func loadWords(cfg config.Config, log *zap.Logger) wordlist.Library {
	if cfg.WordlistPath == "" {
		return wordlist.Default()
	}
	words, err := wordlist.LoadFile(cfg.WordlistPath)
	if err != nil {
		log.Warn("wordlist load failed, using defaults",
			zap.String("path", cfg.WordlistPath), zap.Error(err))
		return wordlist.Default()
	}
	return words
}
