package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voiceia/internal/domain"
	"voiceia/internal/ports"
)

func TestJSONStoreMissingFileReturnsEmpty(t *testing.T) {
	t.Parallel()

	store := NewJSONStore(filepath.Join(t.TempDir(), "nope", "state.json"), "audioTranscription")
	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.CurrentJob != nil || len(state.History) != 0 {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestJSONStoreKeepsOtherNamespaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cfg", "state.json")
	first := NewJSONStore(path, "first")
	second := NewJSONStore(path, "second")

	job := domain.NewJob("j1", "demo.mp3", domain.ModelBase, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := first.Save(context.Background(), ports.PersistedState{CurrentJob: &job}); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := second.Save(context.Background(), ports.PersistedState{Settings: domain.Settings{Model: domain.ModelTiny}}); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := first.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.CurrentJob == nil || got.CurrentJob.ID != "j1" || got.CurrentJob.Status != domain.JobStatusPending {
		t.Fatalf("unexpected first state: %+v", got)
	}
	other, err := second.Load(context.Background())
	if err != nil {
		t.Fatalf("load second: %v", err)
	}
	if other.Settings.Model != domain.ModelTiny {
		t.Fatalf("unexpected second state: %+v", other)
	}
}

func TestJSONStoreCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewJSONStore(path, "audioTranscription")
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := store.Save(context.Background(), ports.PersistedState{}); err != nil {
		t.Fatalf("save over corrupt file: %v", err)
	}
	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load after rewrite: %v", err)
	}
}
