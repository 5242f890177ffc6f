package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/ports"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(p ports.Persister, limit int) *Store {
	return New(Options{
		HistoryLimit: limit,
		Persister:    p,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return fixedNow },
	})
}

func status(s domain.JobStatus) *domain.JobStatus { return &s }
func text(s string) *string                       { return &s }

func TestMergeUpdateTouchesCurrentAndHistory(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil, 5)
	job := domain.NewJob("j1", "demo.mp3", domain.ModelBase, fixedNow)
	other := domain.NewJob("j0", "old.mp3", domain.ModelBase, fixedNow)
	s.AddToHistory(other)
	s.SetCurrent(job)
	s.AddToHistory(job)

	if !s.MergeUpdate(domain.JobUpdate{ID: "j1", Status: status(domain.JobStatusCompleted), Result: text("hi")}) {
		t.Fatalf("expected update to apply")
	}

	current, ok := s.Current()
	if !ok || current.Status != domain.JobStatusCompleted || current.Result != "hi" {
		t.Fatalf("unexpected current: %+v", current)
	}
	history := s.History()
	if history[0].ID != "j1" || history[0].Result != "hi" {
		t.Fatalf("history entry not merged: %+v", history[0])
	}
	if history[1].Status != domain.JobStatusPending {
		t.Fatalf("unrelated history entry mutated: %+v", history[1])
	}
}

func TestMergeUpdateUnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil, 5)
	s.SetCurrent(domain.NewJob("j1", "demo.mp3", domain.ModelBase, fixedNow))
	if s.MergeUpdate(domain.JobUpdate{ID: "zzz", Status: status(domain.JobStatusFailed)}) {
		t.Fatalf("expected no change")
	}
	if s.MergeUpdate(domain.JobUpdate{Status: status(domain.JobStatusFailed)}) {
		t.Fatalf("expected update without id to be ignored")
	}
	current, _ := s.Current()
	if current.Status != domain.JobStatusPending {
		t.Fatalf("current mutated: %+v", current)
	}
}

func TestAddToHistoryDedupesAndCaps(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil, 3)
	for i := 0; i < 5; i++ {
		s.AddToHistory(domain.NewJob(fmt.Sprintf("j%d", i), "f.mp3", domain.ModelBase, fixedNow))
	}
	s.AddToHistory(domain.NewJob("j3", "again.mp3", domain.ModelBase, fixedNow))

	history := s.History()
	if len(history) != 3 {
		t.Fatalf("expected cap 3, got %d", len(history))
	}
	want := []string{"j3", "j4", "j2"}
	for i, id := range want {
		if history[i].ID != id {
			t.Fatalf("history[%d] = %s, want %s", i, history[i].ID, id)
		}
	}
	if history[0].Filename != "again.mp3" {
		t.Fatalf("expected newest copy to win")
	}
}

func TestRemoveFromHistoryAndViewJob(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil, 5)
	s.AddToHistory(domain.NewJob("a", "a.mp3", domain.ModelBase, fixedNow))
	s.AddToHistory(domain.NewJob("b", "b.mp3", domain.ModelBase, fixedNow))

	if !s.ViewJob("a") {
		t.Fatalf("expected view to succeed")
	}
	if current, _ := s.Current(); current.ID != "a" {
		t.Fatalf("unexpected current: %+v", current)
	}
	if s.ViewJob("missing") {
		t.Fatalf("expected view of unknown id to fail")
	}

	s.RemoveFromHistory("a")
	s.RemoveFromHistory("missing")
	history := s.History()
	if len(history) != 1 || history[0].ID != "b" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestFindPrefersCurrent(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil, 5)
	s.AddToHistory(domain.NewJob("j1", "a.mp3", domain.ModelBase, fixedNow))
	s.SetCurrent(domain.NewJob("j2", "b.mp3", domain.ModelBase, fixedNow))

	if job, ok := s.Find("j1"); !ok || job.Filename != "a.mp3" {
		t.Fatalf("history lookup failed: %+v", job)
	}
	if job, ok := s.Find("j2"); !ok || job.Filename != "b.mp3" {
		t.Fatalf("current lookup failed: %+v", job)
	}
	if _, ok := s.Find("nope"); ok {
		t.Fatalf("expected miss")
	}
}

func TestCommitPersistsAndNotifies(t *testing.T) {
	t.Parallel()

	p := &memPersister{}
	s := newTestStore(p, 5)

	var mu sync.Mutex
	var seen []ports.PersistedState
	s.Subscribe(func(state ports.PersistedState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, state)
	})

	s.SetSettings(domain.Settings{Model: domain.ModelSmall})
	s.SetCurrent(domain.NewJob("j1", "demo.mp3", domain.ModelSmall, fixedNow))
	s.ClearCurrent()
	s.ClearCurrent()

	if p.saves != 3 {
		t.Fatalf("expected 3 saves, got %d", p.saves)
	}
	if p.state.CurrentJob != nil || p.state.Settings.Model != domain.ModelSmall {
		t.Fatalf("unexpected persisted state: %+v", p.state)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(seen))
	}
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	s := newTestStore(&memPersister{saveErr: errors.New("disk full")}, 5)
	s.SetCurrent(domain.NewJob("j1", "demo.mp3", domain.ModelBase, fixedNow))
	if _, ok := s.Current(); !ok {
		t.Fatalf("mutation must apply even when persistence fails")
	}
}

func TestHydrate(t *testing.T) {
	t.Parallel()

	job := domain.NewJob("j1", "demo.mp3", domain.ModelTurbo, fixedNow)
	p := &memPersister{state: ports.PersistedState{
		CurrentJob: &job,
		History:    []domain.Job{job, job, domain.NewJob("j2", "x.mp3", domain.ModelBase, fixedNow)},
		Settings:   domain.Settings{Model: domain.ModelTurbo},
	}}
	s := newTestStore(p, 5)
	s.Hydrate(context.Background())

	if current, ok := s.Current(); !ok || current.ID != "j1" {
		t.Fatalf("current not hydrated")
	}
	if len(s.History()) != 2 {
		t.Fatalf("expected duplicate history entries dropped, got %d", len(s.History()))
	}
	if s.Settings().Model != domain.ModelTurbo {
		t.Fatalf("settings not hydrated")
	}

	broken := newTestStore(&memPersister{loadErr: errors.New("garbled")}, 5)
	broken.Hydrate(context.Background())
	if _, ok := broken.Current(); ok {
		t.Fatalf("expected empty state on load error")
	}
	if broken.Settings().Model != domain.DefaultModel {
		t.Fatalf("expected default settings")
	}
}

type memPersister struct {
	mu      sync.Mutex
	state   ports.PersistedState
	saves   int
	saveErr error
	loadErr error
}

func (m *memPersister) Load(_ context.Context) (ports.PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.loadErr
}

func (m *memPersister) Save(_ context.Context, state ports.PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = state
	return nil
}
