package devbackend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"voiceia/internal/domain"
)

// TranscribeInput is the audio handed to a Transcriber.
type TranscribeInput struct {
	Filename    string
	ContentType string
	Data        []byte
	Model       domain.Model
}

// Transcript is a Transcriber result.
type Transcript struct {
	Text                string
	Language            string
	LanguageProbability float64
}

// Transcriber turns uploaded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, in TranscribeInput) (Transcript, error)
}

// EchoTranscriber produces a deterministic description of the upload.
type EchoTranscriber struct{}

func (EchoTranscriber) Transcribe(_ context.Context, in TranscribeInput) (Transcript, error) {
	if len(in.Data) == 0 {
		return Transcript{}, errors.New("audio file is empty")
	}
	detected := mimetype.Detect(in.Data)
	return Transcript{
		Text: fmt.Sprintf("Transcription of %s (%s, %d bytes) with the %s model.",
			in.Filename, detected.String(), len(in.Data), in.Model),
		Language:            "en",
		LanguageProbability: 0.99,
	}, nil
}

// work drives one job through processing to a terminal state.
func (s *Server) work(j *job) {
	defer s.wg.Done()
	log := s.log.With().Str("job_id", j.id).Logger()
	started := time.Now()

	fail := func(reason string) {
		j.advance(time.Now(), func(st *jobState) {
			st.Status = domain.JobStatusFailed
			st.Error = reason
			st.ProcessingTime = elapsedSeconds(started)
		})
		log.Warn().Str("reason", reason).Msg("job failed")
	}

	for _, progress := range []float64{0, 40} {
		if !s.pause() {
			return
		}
		j.advance(time.Now(), func(st *jobState) {
			st.Status = domain.JobStatusProcessing
			st.Progress = progress
		})
	}

	u, err := s.uploadFor(j.url)
	if err != nil {
		fail("Uploaded file not found")
		return
	}
	s.mu.Lock()
	input := TranscribeInput{Filename: j.filename, ContentType: u.contentType, Data: u.data, Model: j.model}
	s.mu.Unlock()

	transcript, err := s.opts.Transcriber.Transcribe(s.ctx, input)
	if err != nil {
		fail("Transcription failed: " + err.Error())
		return
	}

	if !s.pause() {
		return
	}
	j.advance(time.Now(), func(st *jobState) { st.Progress = 80 })
	if !s.pause() {
		return
	}
	j.advance(time.Now(), func(st *jobState) {
		st.Status = domain.JobStatusCompleted
		st.Progress = 100
		st.Result = transcript.Text
		st.Language = transcript.Language
		st.LanguageProbability = transcript.LanguageProbability
		st.ProcessingTime = elapsedSeconds(started)
	})
	log.Info().Msg("job completed")
}

// pause waits one simulated step; it returns false on shutdown.
func (s *Server) pause() bool {
	timer := time.NewTimer(s.opts.StepDelay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func elapsedSeconds(since time.Time) float64 {
	return math.Round(time.Since(since).Seconds()*100) / 100
}
