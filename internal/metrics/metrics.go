package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceia_uploads_total",
			Help: "Direct-to-storage uploads by outcome.",
		},
		[]string{"outcome"},
	)

	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceia_upload_bytes_total",
			Help: "Bytes successfully uploaded to storage.",
		},
	)

	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceia_jobs_submitted_total",
			Help: "Transcription jobs submitted per model.",
		},
		[]string{"model"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceia_jobs_finished_total",
			Help: "Jobs observed reaching a terminal status.",
		},
		[]string{"status"},
	)

	channelCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceia_channel_closes_total",
			Help: "Realtime channel closures by close code.",
		},
		[]string{"code"},
	)

	channelReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceia_channel_reconnects_total",
			Help: "Reconnect attempts scheduled after abnormal closures.",
		},
	)

	recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceia_recoveries_total",
			Help: "Job recoveries after restart by outcome.",
		},
		[]string{"outcome"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			uploadsTotal, uploadBytes, jobsSubmitted, jobsFinished,
			channelCloses, channelReconnects, recoveries,
		)
	})
}

func ObserveUpload(success bool, bytes int64) {
	if success {
		uploadsTotal.WithLabelValues("success").Inc()
		uploadBytes.Add(float64(bytes))
		return
	}
	uploadsTotal.WithLabelValues("failure").Inc()
}

func IncJobSubmitted(model string) {
	jobsSubmitted.WithLabelValues(model).Inc()
}

func IncJobFinished(status string) {
	jobsFinished.WithLabelValues(status).Inc()
}

// JobsFinished returns the finished-jobs counter for status.
func JobsFinished(status string) prometheus.Counter {
	return jobsFinished.WithLabelValues(status)
}

func IncChannelClose(code int) {
	channelCloses.WithLabelValues(strconv.Itoa(code)).Inc()
}

func IncReconnect() {
	channelReconnects.Inc()
}

// Recovery outcomes.
const (
	RecoveryFinalized  = "finalized"
	RecoveryReattached = "reattached"
	RecoveryFailed     = "failed"
	RecoverySkipped    = "skipped"
)

func IncRecovery(outcome string) {
	recoveries.WithLabelValues(outcome).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
