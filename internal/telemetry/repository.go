package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/turbine"

	_ "github.com/mattn/go-sqlite3"
)

type Repository interface {
	Store(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

var modesByName = func() map[string]turbine.Mode {
	out := make(map[string]turbine.Mode)
	for _, m := range turbine.Modes() {
		out[m.String()] = m
	}
	return out
}()

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	log.Debug().Msgf("Initializing transition journal at: %s", cfg.DBPath)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL")
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{
		db: db,
	}, nil
}

func (r *sqliteRepository) Store(ctx context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO transitions (run_id, timestamp_ms, from_mode, to_mode, reason)
        VALUES (?, ?, ?, ?, ?)
    `,
		entry.RunID,
		entry.Timestamp.UnixMilli(),
		entry.From.String(),
		entry.To.String(),
		entry.Reason,
	)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	return nil
}

// Recent returns up to limit stored transitions, newest first.
func (r *sqliteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `
        SELECT run_id, timestamp_ms, from_mode, to_mode, reason
        FROM transitions
        ORDER BY id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			ts       int64
			from, to string
		)
		if err := rows.Scan(&e.RunID, &ts, &from, &to, &e.Reason); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.From = modesByName[from]
		e.To = modesByName[to]
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return entries, nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}
