package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"siegebot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	profile_id TEXT PRIMARY KEY,
	saved_at   TEXT NOT NULL,
	state      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id       TEXT PRIMARY KEY,
	profile  TEXT NOT NULL,
	kind     TEXT NOT NULL,
	distinct_key TEXT,
	started  TEXT NOT NULL,
	dur_ms   INTEGER NOT NULL,
	outcome  TEXT NOT NULL,
	err      TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_profile_started ON runs(profile, started);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadProfile(ctx context.Context, profileID string) (ProfileState, bool, error) {
	if s == nil || s.db == nil {
		return ProfileState{}, false, ErrDisabled
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM profiles WHERE profile_id = ?`, profileID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileState{}, false, nil
	}
	if err != nil {
		return ProfileState{}, false, err
	}
	var st ProfileState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return ProfileState{}, false, err
	}
	return st, true, nil
}

func (s *sqliteStore) SaveProfile(ctx context.Context, st ProfileState) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(st.ProfileID) == "" {
		return errors.New("profile id is required")
	}
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now()
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles(profile_id, saved_at, state) VALUES(?,?,?)
		 ON CONFLICT(profile_id) DO UPDATE SET saved_at=excluded.saved_at, state=excluded.state`,
		st.ProfileID, st.SavedAt.Format(time.RFC3339Nano), string(raw),
	)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, profile, kind, distinct_key, started, dur_ms, outcome, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Profile, r.Kind, nullStr(r.Distinct),
		r.Started.Format(time.RFC3339Nano), r.Duration.Milliseconds(), r.Outcome, nullStr(r.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
