package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/catalog"
	"github.com/polarfoxDev/ballast/internal/config"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/retention"
	"github.com/polarfoxDev/ballast/internal/scheduler"
	"github.com/polarfoxDev/ballast/internal/source"
	"github.com/polarfoxDev/ballast/internal/storage"
)

// Manager daemon: drives scheduled backups and retention cleanup
func main() {
	configPath := flag.String("config", envDefault("BALLAST_CONFIG", "/etc/ballast/ballast.yml"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("init database")
	}
	defer db.Close()

	// Anything left pending or in progress did not survive the last
	// shutdown; mark it failed before scheduling new work.
	if n, err := db.CleanupInterrupted(ctx); err != nil {
		logger.Error().Err(err).Msg("cleanup interrupted jobs")
	} else if n > 0 {
		logger.Warn().Int("count", n).Msg("marked interrupted jobs as failed")
	}

	store, err := storage.NewFileStore(cfg.Storage.Root)
	if err != nil {
		logger.Fatal().Err(err).Msg("init storage")
	}

	src, appDB, err := buildSource(cfg.Source)
	if err != nil {
		logger.Fatal().Err(err).Msg("init source")
	}
	defer appDB.Close()

	log := activity.NewLog(db, logger)
	defer log.Close()

	backups := catalog.NewService(db, store, src, log, logger)
	ret := retention.NewEngine(db, log, logger)
	sched := scheduler.New(db, backups, ret, logger)

	if err := sched.RefreshNextRun(ctx, time.Now()); err != nil {
		logger.Error().Err(err).Msg("refresh next run")
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	logger.Info().Msg("ballast manager started")
	sched.Run(ctx, ticker.C)
	logger.Info().Msg("ballast manager stopped")
}

// buildSource wires the application database and optional file trees into
// one composite source.
func buildSource(cfg config.SourceConfig) (source.Source, *sql.DB, error) {
	appDB, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open application database: %w", err)
	}
	if err := appDB.PingContext(context.Background()); err != nil {
		appDB.Close()
		return nil, nil, fmt.Errorf("ping application database: %w", err)
	}

	sqlSrc := source.NewSQLSource(appDB, cfg.Database.Exclude...)
	sources := []source.Source{sqlSrc}
	routes := map[model.ItemType]source.Source{model.ItemTable: sqlSrc}

	if cfg.Files.Root != "" {
		files := source.NewFileSource(cfg.Files.Root, model.ItemFile)
		sources = append(sources, files)
		routes[model.ItemFile] = files
	}
	if cfg.Config.Root != "" {
		confs := source.NewFileSource(cfg.Config.Root, model.ItemConfig)
		sources = append(sources, confs)
		routes[model.ItemConfig] = confs
	}

	composite := source.NewComposite(sources...)
	for t, s := range routes {
		composite.Route(t, s)
	}
	return composite, appDB, nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "ballast-manager").Logger()
}

func envDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
