package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"siegebot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl     (append-only JSON Lines audit)
//   - <prefix>.profiles.json  (snapshot of all profile states, atomic rename)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsFile     *os.File
	snapshotPath string
	profiles     map[string]ProfileState
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	snapPath := prefix + ".profiles.json"

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	profiles := map[string]ProfileState{}
	if err := loadSnapshot(snapPath, profiles); err != nil && !os.IsNotExist(err) {
		log.Warn("profile snapshot unreadable; starting fresh", logx.String("path", snapPath), logx.Err(err))
	}

	return &fileStore{
		log:          log,
		runsFile:     rf,
		snapshotPath: snapPath,
		profiles:     profiles,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile != nil {
		err := s.runsFile.Close()
		s.runsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) LoadProfile(ctx context.Context, profileID string) (ProfileState, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.profiles[profileID]
	return st, ok, nil
}

func (s *fileStore) SaveProfile(ctx context.Context, st ProfileState) error {
	_ = ctx
	if strings.TrimSpace(st.ProfileID) == "" {
		return errors.New("profile id is required")
	}
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[st.ProfileID] = st
	return s.writeSnapshotLocked()
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("runs file closed")
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

// writeSnapshotLocked writes the full profile map via temp-file + rename so a
// crash mid-write never corrupts the snapshot.
func (s *fileStore) writeSnapshotLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.profiles); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func loadSnapshot(path string, out map[string]ProfileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]ProfileState
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
