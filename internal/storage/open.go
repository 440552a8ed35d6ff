package storage

import (
	"context"
	"errors"
	"strings"

	"siegebot/pkg/logx"
)

// Store is the minimal persistence API consumed by the scheduling core.
type Store interface {
	LoadProfile(ctx context.Context, profileID string) (ProfileState, bool, error)
	SaveProfile(ctx context.Context, st ProfileState) error
	AppendRun(ctx context.Context, r RunRecord) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
