package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/authcore/internal/config"
	"github.com/sakif/authcore/internal/repository"
	"github.com/sakif/authcore/internal/repository/memory"
	pgRepo "github.com/sakif/authcore/internal/repository/postgres"
	redisRepo "github.com/sakif/authcore/internal/repository/redis"
	sqliteRepo "github.com/sakif/authcore/internal/repository/sqlite"
)

// Stores bundles the storage adapters selected by the configuration.
//
// OWNERSHIP:
// Whoever calls OpenStores owns the connections and must call Close. The
// server does this during shutdown; the prune-sessions command does it
// before exiting.
type Stores struct {
	Users    repository.UserDirectory
	Sessions repository.SessionStore

	// Checks feeds /healthz: dependency name → Pinger.
	Checks map[string]repository.Pinger

	// NeedsJanitor is true when the session store keeps expired rows until
	// something deletes them (the SQL adapters).
	NeedsJanitor bool

	closers []func() error
}

// OpenStores connects the user directory and the session store.
//
//	storage.driver   sessions.driver
//	sqlite         → sqlite | redis | memory
//	postgres       → postgres | redis | memory
//
// SQL sessions always share the directory's database.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Stores, err error) {
	s := &Stores{Checks: make(map[string]repository.Pinger)}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	var (
		sqliteDB *sqliteRepo.DB
		pgDB     *pgRepo.DB
	)

	// === USER DIRECTORY ===
	switch cfg.Storage.Driver {
	case "sqlite":
		// The data directory is created on first run, like `mkdir -p`.
		if dir := filepath.Dir(cfg.Storage.SQLitePath); cfg.Storage.SQLitePath != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		sqliteDB, err = sqliteRepo.New(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sqliteDB.Close)
		s.Users = sqliteDB.Users()
		s.Checks["directory"] = sqliteDB

	case "postgres":
		pgDB, err = pgRepo.Open(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { pgDB.Close(); return nil })
		s.Users = pgDB.Users()
		s.Checks["directory"] = pgDB

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	// === SESSION STORE ===
	ttl := cfg.Sessions.TTL
	switch cfg.Sessions.Driver {
	case "sqlite":
		if sqliteDB == nil {
			return nil, errors.New("sqlite sessions need the sqlite storage driver")
		}
		s.Sessions = sqliteDB.Sessions(ttl)
		s.NeedsJanitor = true

	case "postgres":
		if pgDB == nil {
			return nil, errors.New("postgres sessions need the postgres storage driver")
		}
		s.Sessions = pgDB.Sessions(ttl)
		s.NeedsJanitor = true

	case "redis":
		rs, err := redisRepo.Connect(ctx, redisRepo.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, ttl)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rs.Close)
		s.Sessions = rs
		s.Checks["sessions"] = rs

	case "memory":
		logger.Warn("in-memory sessions are lost on restart and not shared between instances")
		ms := memory.NewSessionStore(ttl, cfg.Sessions.PruneInterval, logger)
		s.closers = append(s.closers, ms.Close)
		s.Sessions = ms

	default:
		return nil, fmt.Errorf("unknown sessions driver %q", cfg.Sessions.Driver)
	}

	return s, nil
}

// Close releases every connection in reverse order of opening.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
