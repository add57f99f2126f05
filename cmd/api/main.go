package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/auth"
	"github.com/polarfoxDev/ballast/internal/catalog"
	"github.com/polarfoxDev/ballast/internal/config"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/labels"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/retention"
	"github.com/polarfoxDev/ballast/internal/rollback"
	"github.com/polarfoxDev/ballast/internal/settings"
	"github.com/polarfoxDev/ballast/internal/source"
	"github.com/polarfoxDev/ballast/internal/storage"
	"github.com/polarfoxDev/ballast/internal/verify"
)

// API server exposing the backup control plane over HTTP
func main() {
	configPath := flag.String("config", envDefault("BALLAST_CONFIG", "/etc/ballast/ballast.yml"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	db, err := database.InitDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("init database")
	}
	defer db.Close()

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

	deps := &handlerDeps{
		backups:   catalog.NewService(db, store, src, log, logger),
		rollbacks: rollback.NewEngine(db, store, src, log, logger),
		verifier:  verify.NewVerifier(db, store, src, log, logger),
		retention: retention.NewEngine(db, log, logger),
		labels:    labels.NewService(db, log, logger),
		settings:  settings.NewService(db, log, logger),
		activity:  log,
		store:     store,
		db:        db,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(auth.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.API.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", auth.ActorIDHeader, auth.ActorNameHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth())
		r.Get("/stats", handleStats(deps))

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", handleListBackups(deps))
			r.Post("/", handleCreateBackup(deps))
			r.Get("/{id}", handleGetBackup(deps))
			r.Delete("/{id}", handleDeleteBackup(deps))
			r.Put("/{id}/notes", handleUpdateNotes(deps))
			r.Get("/{id}/items", handleGetItems(deps))
			r.Get("/{id}/items/{itemID}/download", handleDownloadItem(deps))
			r.Post("/{id}/verify", handleVerifyBackup(deps))
			r.Get("/{id}/labels", handleBackupLabels(deps))
			r.Put("/{id}/labels/{labelID}", handleAssignLabel(deps))
			r.Delete("/{id}/labels/{labelID}", handleRemoveLabel(deps))
			r.Get("/{id}/rollbacks", handleListRollbacks(deps))
		})

		r.Route("/rollbacks", func(r chi.Router) {
			r.Get("/", handleListRollbacks(deps))
			r.Post("/", handleStartRollback(deps))
			r.Get("/{id}", handleGetRollback(deps))
			r.Post("/{id}/execute", handleExecuteRollback(deps))
			r.Post("/{id}/cancel", handleCancelRollback(deps))
		})

		r.Route("/labels", func(r chi.Router) {
			r.Get("/", handleListLabels(deps))
			r.Post("/", handleCreateLabel(deps))
			r.Delete("/{id}", handleDeleteLabel(deps))
			r.Get("/{id}/backups", handleLabelBackups(deps))
		})

		r.Route("/retention", func(r chi.Router) {
			r.Get("/", handleGetRetention(deps))
			r.Put("/", handleUpdateRetention(deps))
			r.Get("/preview", handleRetentionPreview(deps))
			r.Post("/run", handleRetentionRun(deps))
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", handleGetSchedule(deps))
			r.Put("/", handleUpdateSchedule(deps))
		})

		r.Route("/activity", func(r chi.Router) {
			r.Get("/", handleListActivity(deps))
			r.Get("/stats", handleActivityStats(deps))
			r.Get("/export", handleExportActivity(deps))
		})
	})

	logger.Info().Str("addr", cfg.API.Listen).Msg("starting ballast API server")
	if err := http.ListenAndServe(cfg.API.Listen, r); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
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
	return logger.Level(level).With().Timestamp().Str("service", "ballast-api").Logger()
}

func envDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
