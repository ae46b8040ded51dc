package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/ledger"
	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/internal/tally"
	"github.com/wonny/tally/internal/visibility"
	"github.com/wonny/tally/pkg/config"
	"github.com/wonny/tally/pkg/database"
	"github.com/wonny/tally/pkg/logger"
	"github.com/wonny/tally/pkg/redis"
)

// engine wires the stores and services shared by every command
// ⭐ SSOT: 컴포넌트 조립은 여기서만
type engine struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *database.DB
	redis *redis.Client

	source    catalog.Source
	holder    *catalog.Holder
	refresher *catalog.Refresher
	store     contracts.LedgerRepository
	flags     contracts.PublicationRepository
	gate      *publication.Gate
	svc       *tally.Service
	auditor   *tally.Auditor
}

// loadConfig loads config and creates the logger
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)
	if !verbose {
		log = logger.NewWithWriter(consoleWriter(), zerolog.WarnLevel)
	}
	return cfg, log, nil
}

// openEngine connects the configured stores and builds the services.
// Redis is optional: a failed connection disables the result cache.
func openEngine(ctx context.Context, cfg *config.Config, log *logger.Logger, sinks ...publication.Sink) (*engine, error) {
	e := &engine{cfg: cfg, log: log}

	mode, err := publication.ParseGateMode(cfg.Tally.PublicationGateMode)
	if err != nil {
		return nil, err
	}

	if cfg.UsesPostgres() {
		db, err := database.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		e.db = db
		e.source = catalog.NewRepository(db.Pool, cfg.Tally.Election)
		e.store = ledger.NewRepository(db.Pool)
		e.flags = publication.NewRepository(db.Pool)
	} else {
		e.source = catalog.FileSource{Path: cfg.Tally.SeedFile}
		e.store = ledger.NewMemoryStore()
		e.flags = publication.NewMemoryFlagStore()
	}

	holder, err := catalog.Open(ctx, e.source)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.holder = holder
	e.refresher = catalog.NewRefresher(e.source, holder, log)

	rc, err := redis.New(cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, result cache disabled")
		rc = redis.Disabled()
	}
	e.redis = rc

	e.gate = publication.NewGate(e.flags, mode, log, sinks...)
	e.svc = tally.NewService(tally.Deps{
		Catalog:  holder,
		Ledger:   e.store,
		Importer: ledger.NewImporter(e.store, holder, log),
		Scoper:   visibility.NewScoper(log),
		Gate:     e.gate,
		Cache:    redis.NewCache(rc, "tally"),
		CacheTTL: cfg.Tally.ResultCacheTTL,
		Logger:   log,
	})
	e.auditor = tally.NewAuditor(holder, e.store, log)

	stats := holder.Current().Stats()
	log.WithFields(logger.Fields{
		"store":      cfg.Tally.StoreDriver,
		"gate_mode":  string(mode),
		"cells":      stats.Cells,
		"candidates": stats.Candidates,
		"redis":      rc.Enabled(),
	}).Info("Engine ready")

	return e, nil
}

// Close releases connections
func (e *engine) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}
