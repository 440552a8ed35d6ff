package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"siegebot/pkg/logx"
)

func TestFileStoreProfileRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "store")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx := context.Background()
	if _, ok, err := st.LoadProfile(ctx, "main"); err != nil || ok {
		t.Fatalf("LoadProfile on empty store = (ok=%v, err=%v)", ok, err)
	}

	state := ProfileState{
		ProfileID: "main",
		Stamina:   StaminaState{Value: 87, UpdatedAt: time.Now()},
		Duties: map[string]json.RawMessage{
			"tribute": json.RawMessage(`{"last_claim_day":"2026-08-30"}`),
		},
	}
	if err := st.SaveProfile(ctx, state); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: snapshot must survive.
	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, ok, err := st2.LoadProfile(ctx, "main")
	if err != nil || !ok {
		t.Fatalf("LoadProfile after reopen = (ok=%v, err=%v)", ok, err)
	}
	if got.Stamina.Value != 87 {
		t.Fatalf("Stamina.Value = %d, want 87", got.Stamina.Value)
	}
	if string(got.Duties["tribute"]) != `{"last_claim_day":"2026-08-30"}` {
		t.Fatalf("duty blob = %s", got.Duties["tribute"])
	}
	if got.SavedAt.IsZero() {
		t.Fatal("SavedAt should be stamped on save")
	}
}

func TestFileStoreAppendRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	r := RunRecord{
		ID:       "run-1",
		Profile:  "main",
		Kind:     "arena",
		Started:  time.Now(),
		Duration: 3 * time.Second,
		Outcome:  "ok",
	}
	if err := st.AppendRun(context.Background(), r); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	if st, err := Open(Config{}, logx.Nop()); err != nil || st != nil {
		t.Fatalf("disabled = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
