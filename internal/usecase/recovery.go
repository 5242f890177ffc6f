package usecase

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/metrics"
	"voiceia/internal/ports"
)

const msgRecoveryFailed = "Failed to recover job. Please start a new transcription."

// Recovery resumes tracking of an in-flight job persisted by a previous run.
type Recovery struct {
	backend ports.Backend
	store   ports.JobStore
	channel Connector
	events  ports.EventSink
	log     zerolog.Logger

	// claimed is set by the first attempt of this mount and never cleared,
	// so it doubles as the in-progress guard.
	claimed atomic.Bool
}

func NewRecovery(backend ports.Backend, store ports.JobStore, channel Connector, events ports.EventSink, log zerolog.Logger) *Recovery {
	return &Recovery{
		backend: backend,
		store:   store,
		channel: channel,
		events:  events,
		log:     log.With().Str("component", "recovery").Logger(),
	}
}

// Run recovers the current job. Only the first call does any work; later or
// concurrent calls return immediately.
func (r *Recovery) Run(ctx context.Context) {
	job, ok := r.store.Current()
	if !ok {
		return
	}
	if job.Status.IsTerminal() {
		r.log.Debug().Str("job_id", job.ID).Msg("persisted job already finished")
		metrics.IncRecovery(metrics.RecoverySkipped)
		return
	}

	if !r.claimed.CompareAndSwap(false, true) {
		r.log.Debug().Str("job_id", job.ID).Msg("recovery already attempted")
		return
	}

	log := r.log.With().Str("job_id", job.ID).Logger()
	report, err := r.backend.Status(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to recover job")
		metrics.IncRecovery(metrics.RecoveryFailed)
		r.events.ClientError(domain.ErrorCodeRecovery, msgRecoveryFailed)
		r.store.ClearCurrent()
		return
	}

	if report.Status.IsTerminal() {
		r.store.MergeUpdate(updateFromStatus(job.ID, report))
		metrics.IncRecovery(metrics.RecoveryFinalized)
		metrics.IncJobFinished(string(report.Status))
		log.Info().Str("status", string(report.Status)).Msg("recovered finished job")
		return
	}

	r.store.MergeUpdate(updateFromStatus(job.ID, report))
	metrics.IncRecovery(metrics.RecoveryReattached)
	log.Info().Str("status", string(report.Status)).Msg("re-attaching channel")
	r.channel.Connect(job.ID)
}
