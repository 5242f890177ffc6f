package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/metrics"
	"voiceia/internal/ports"
)

const (
	msgSubmitFailed = "Failed to start transcription"
	msgSelectFirst  = "Please select a file first"
)

// errSubmissionCancelled reports a job creation abandoned by a cancel.
var errSubmissionCancelled = domain.NewError(domain.KindPrecondition, "Transcription was cancelled", nil)

// Connector attaches the realtime channel to a job.
type Connector interface {
	Connect(jobID string)
}

// Submission is what the backend needs to create a job.
type Submission struct {
	Filename string
	FileURL  string
	Model    domain.Model
}

// Submitter creates transcription jobs. At most one creation request is in
// flight at any time.
type Submitter struct {
	backend ports.Backend
	store   ports.JobStore
	channel Connector
	log     zerolog.Logger
	now     func() time.Time

	inFlight atomic.Bool
	// seedMu covers the cancel check together with seeding the store and
	// attaching the channel.
	seedMu sync.Mutex
}

func NewSubmitter(backend ports.Backend, store ports.JobStore, channel Connector, log zerolog.Logger) *Submitter {
	return &Submitter{
		backend: backend,
		store:   store,
		channel: channel,
		log:     log.With().Str("component", "submitter").Logger(),
		now:     time.Now,
	}
}

// InFlight reports whether a submission is running.
func (s *Submitter) InFlight() bool { return s.inFlight.Load() }

// Begin claims the in-flight flag. It returns false when another submission
// already holds it; callers that get true must call End.
func (s *Submitter) Begin() bool { return s.inFlight.CompareAndSwap(false, true) }

// End releases the in-flight flag.
func (s *Submitter) End() { s.inFlight.Store(false) }

// Settle waits until no submission is seeding the store. A submission whose
// context is cancelled before Settle returns never seeds it.
func (s *Submitter) Settle() {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
}

// StartTranscription creates a job for an already uploaded file. It returns
// (nil, nil) without calling the backend when a submission is in flight.
func (s *Submitter) StartTranscription(ctx context.Context, sub Submission) (*domain.Job, error) {
	if !s.Begin() {
		s.log.Debug().Msg("submission already in flight")
		return nil, nil
	}
	defer s.End()
	return s.submit(ctx, sub, nil)
}

// submit performs the creation request; the caller holds the in-flight flag.
// The job is dropped when ctx is done or live reports false once the
// backend answers.
func (s *Submitter) submit(ctx context.Context, sub Submission, live func() bool) (*domain.Job, error) {
	if sub.FileURL == "" || sub.Filename == "" {
		return nil, domain.NewError(domain.KindValidation, msgSelectFirst, nil)
	}
	model := sub.Model
	if model == "" {
		model = domain.DefaultModel
	}

	id, err := s.backend.Submit(ctx, ports.SubmitRequest{
		Filename: sub.Filename,
		FileURL:  sub.FileURL,
		Model:    model,
	})
	if err != nil {
		if ctx.Err() != nil {
			s.log.Info().Str("filename", sub.Filename).Msg("job creation cancelled")
			return nil, errSubmissionCancelled
		}
		s.log.Warn().Err(err).Str("filename", sub.Filename).Msg("job creation failed")
		return nil, domain.NewError(domain.KindNetwork, domain.Message(err, msgSubmitFailed), err)
	}

	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if ctx.Err() != nil || (live != nil && !live()) {
		s.log.Info().Str("job_id", id).Msg("job created after cancel, not tracking it")
		return nil, errSubmissionCancelled
	}

	job := domain.NewJob(id, sub.Filename, model, s.now())
	s.store.SetCurrent(job)
	s.store.AddToHistory(job)
	metrics.IncJobSubmitted(string(model))
	s.log.Info().Str("job_id", id).Str("model", string(model)).Msg("job created")

	s.channel.Connect(id)
	return &job, nil
}
