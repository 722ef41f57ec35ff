package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/thevivotran/studytest/internal/config"
	"github.com/thevivotran/studytest/internal/decksync"
	"github.com/thevivotran/studytest/internal/importer"
	"github.com/thevivotran/studytest/internal/progress"
	"github.com/thevivotran/studytest/internal/session"
	"github.com/thevivotran/studytest/internal/storage"
	"github.com/thevivotran/studytest/internal/web"
)

func main() {
	cfg, err := config.LoadFromArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	slog.Info("Database opened", "path", cfg.Database.Path)

	tracker := progress.NewFileTracker(cfg.Progress.Path)
	imp := importer.New(db)
	nav := session.New(db, tracker)
	syncer := decksync.New(db, imp, cfg.Sync.CacheDir)

	if cfg.Sync.OnStart {
		if err := syncer.Run(context.Background()); err != nil {
			slog.Error("Startup deck sync failed", "error", err)
		}
	}

	server := web.NewServer(db, imp, nav, tracker, syncer)

	slog.Info("Listening", "addr", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, server); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
