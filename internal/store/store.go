package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/ports"
)

// DefaultHistoryLimit is how many past jobs are kept for display.
const DefaultHistoryLimit = 20

const persistTimeout = 2 * time.Second

// Listener observes committed state after every mutation.
type Listener func(state ports.PersistedState)

// Options configures a Store.
type Options struct {
	HistoryLimit int
	Persister    ports.Persister
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Store is the single authoritative holder of the current job, the job
// history and the settings. Every mutation is synchronous and never fails;
// persistence errors are logged.
type Store struct {
	limit     int
	persister ports.Persister
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	current   *domain.Job
	history   []domain.Job
	settings  domain.Settings
	listeners []Listener

	commitMu sync.Mutex
}

func New(opts Options) *Store {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		limit:     opts.HistoryLimit,
		persister: opts.Persister,
		log:       opts.Logger,
		now:       opts.Now,
		settings:  domain.DefaultSettings(),
	}
}

// Hydrate replaces in-memory state with the persisted snapshot. A snapshot
// that cannot be read is logged and treated as empty.
func (s *Store) Hydrate(ctx context.Context) {
	if s.persister == nil {
		return
	}
	state, err := s.persister.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("persisted state unreadable, starting empty")
		return
	}

	s.mu.Lock()
	if state.CurrentJob != nil && state.CurrentJob.ID != "" {
		job := *state.CurrentJob
		s.current = &job
	}
	s.history = dedupe(state.History, s.limit)
	if state.Settings.Model != "" {
		if m, err := domain.ParseModel(string(state.Settings.Model)); err == nil {
			s.settings = domain.Settings{Model: m}
		}
	}
	s.mu.Unlock()

	s.log.Debug().
		Bool("current", state.CurrentJob != nil).
		Int("history", len(state.History)).
		Msg("persisted state loaded")
}

// Subscribe registers fn to be called after each committed mutation.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetCurrent makes job the current job, superseding any previous one.
func (s *Store) SetCurrent(job domain.Job) {
	s.mu.Lock()
	s.current = &job
	s.mu.Unlock()
	s.commit()
}

// MergeUpdate applies a partial update to the current job and to every
// history entry with the same id. It reports whether anything changed.
func (s *Store) MergeUpdate(update domain.JobUpdate) bool {
	if update.ID == "" {
		s.log.Debug().Msg("ignoring job update without id")
		return false
	}
	now := s.now()

	s.mu.Lock()
	changed := false
	if s.current != nil && s.current.ID == update.ID {
		if next, ok := update.Apply(*s.current, now); ok {
			s.current = &next
			changed = true
		}
	}
	for i := range s.history {
		if s.history[i].ID != update.ID {
			continue
		}
		if next, ok := update.Apply(s.history[i], now); ok {
			s.history[i] = next
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.commit()
	}
	return changed
}

// ClearCurrent drops the current job. History is untouched.
func (s *Store) ClearCurrent() {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()
	if had {
		s.commit()
	}
}

// AddToHistory prepends job, replacing any entry with the same id, and
// truncates the history to the configured limit.
func (s *Store) AddToHistory(job domain.Job) {
	s.mu.Lock()
	s.history = dedupe(append([]domain.Job{job}, s.history...), s.limit)
	s.mu.Unlock()
	s.commit()
}

// RemoveFromHistory deletes the history entry with the given id, if any.
func (s *Store) RemoveFromHistory(id string) {
	s.mu.Lock()
	out := s.history[:0:0]
	for _, job := range s.history {
		if job.ID != id {
			out = append(out, job)
		}
	}
	removed := len(out) != len(s.history)
	s.history = out
	s.mu.Unlock()
	if removed {
		s.commit()
	}
}

// ViewJob makes a history entry the current job. It reports false when no
// entry has the id.
func (s *Store) ViewJob(id string) bool {
	s.mu.Lock()
	var found *domain.Job
	for i := range s.history {
		if s.history[i].ID == id {
			job := s.history[i]
			found = &job
			break
		}
	}
	if found != nil {
		s.current = found
	}
	s.mu.Unlock()
	if found != nil {
		s.commit()
	}
	return found != nil
}

// SetSettings replaces the persisted settings.
func (s *Store) SetSettings(settings domain.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.commit()
}

// Current returns a copy of the current job.
func (s *Store) Current() (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Job{}, false
	}
	return *s.current, true
}

// History returns the history, most recent first.
func (s *Store) History() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Job, len(s.history))
	copy(out, s.history)
	return out
}

// Find looks a job up by id, preferring the current record over history.
func (s *Store) Find(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current != nil && s.current.ID == id {
		return *s.current, true
	}
	for _, job := range s.history {
		if job.ID == id {
			return job, true
		}
	}
	return domain.Job{}, false
}

func (s *Store) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Snapshot returns a deep-enough copy of the persisted part of the state.
func (s *Store) Snapshot() ports.PersistedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := ports.PersistedState{
		History:  make([]domain.Job, len(s.history)),
		Settings: s.settings,
	}
	copy(state.History, s.history)
	if s.current != nil {
		job := *s.current
		state.CurrentJob = &job
	}
	return state
}

// commit persists the latest snapshot and notifies listeners. Snapshots are
// taken under commitMu so the last save always reflects the newest state.
func (s *Store) commit() {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	state := s.Snapshot()
	if s.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.persister.Save(ctx, state); err != nil {
			s.log.Error().Err(err).Msg("failed to persist state")
		}
		cancel()
	}

	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(state)
	}
}

func dedupe(jobs []domain.Job, limit int) []domain.Job {
	seen := make(map[string]struct{}, len(jobs))
	out := make([]domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			continue
		}
		if _, ok := seen[job.ID]; ok {
			continue
		}
		seen[job.ID] = struct{}{}
		out = append(out, job)
		if len(out) == limit {
			break
		}
	}
	return out
}
