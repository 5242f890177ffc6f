package domain

import "time"

// Job is the client-side record of one transcription request.
type Job struct {
	ID                    string     `json:"id"`
	Filename              string     `json:"filename"`
	Status                JobStatus  `json:"status"`
	Model                 Model      `json:"whisperModel"`
	Result                string     `json:"result,omitempty"`
	ErrorMessage          string     `json:"error,omitempty"`
	Progress              *float64   `json:"progress,omitempty"`
	Language              string     `json:"language,omitempty"`
	LanguageConfidence    *float64   `json:"languageProbability,omitempty"`
	ProcessingTimeSeconds *float64   `json:"processingTime,omitempty"`
	DownloadFilename      string     `json:"downloadFilename,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
}

// NewJob builds the pending record created right after submission.
func NewJob(id, filename string, model Model, createdAt time.Time) Job {
	return Job{
		ID:        id,
		Filename:  filename,
		Status:    JobStatusPending,
		Model:     model,
		CreatedAt: createdAt.UTC(),
	}
}

// ResultFilename is the suggested name when saving the transcript locally.
func (j Job) ResultFilename() string {
	if j.DownloadFilename != "" {
		return j.DownloadFilename
	}
	return j.Filename + "_transcription.txt"
}

// JobUpdate is a partial change to a Job. Nil fields are left untouched.
type JobUpdate struct {
	ID                    string
	Status                *JobStatus
	Result                *string
	ErrorMessage          *string
	Progress              *float64
	Language              *string
	LanguageConfidence    *float64
	ProcessingTimeSeconds *float64
	Model                 *Model
	CompletedAt           *time.Time
}

// IsEmpty reports whether the update carries no field at all.
func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.Result == nil && u.ErrorMessage == nil && u.Progress == nil &&
		u.Language == nil && u.LanguageConfidence == nil && u.ProcessingTimeSeconds == nil &&
		u.Model == nil && u.CompletedAt == nil
}

// Apply merges u into job and reports whether anything changed.
//
// Status only moves forward. A terminal record only accepts updates that
// confirm the same terminal status; those may refresh result fields but
// never the status or completion time. Result and error are kept mutually
// exclusive and unset while the job is in flight.
func (u JobUpdate) Apply(job Job, now time.Time) (Job, bool) {
	if u.ID != "" && u.ID != job.ID {
		return job, false
	}

	next := job
	wasTerminal := job.Status.IsTerminal()
	if wasTerminal {
		if u.Status == nil || *u.Status != job.Status {
			return job, false
		}
	} else if u.Status != nil && u.Status.Valid() && u.Status.rank() >= job.Status.rank() {
		next.Status = *u.Status
	}

	if u.Progress != nil && !wasTerminal {
		p := clampPercent(*u.Progress)
		next.Progress = &p
	}
	if u.Model != nil && next.Model == "" {
		next.Model = *u.Model
	}

	switch next.Status {
	case JobStatusCompleted:
		if u.Result != nil {
			next.Result = *u.Result
		}
		next.ErrorMessage = ""
		if u.Language != nil {
			next.Language = *u.Language
		}
		if u.LanguageConfidence != nil {
			v := *u.LanguageConfidence
			next.LanguageConfidence = &v
		}
		if u.ProcessingTimeSeconds != nil {
			v := *u.ProcessingTimeSeconds
			next.ProcessingTimeSeconds = &v
		}
	case JobStatusFailed:
		if u.ErrorMessage != nil {
			next.ErrorMessage = *u.ErrorMessage
		}
		next.Result = ""
	}

	if next.Status.IsTerminal() && next.CompletedAt == nil {
		at := now.UTC()
		if u.CompletedAt != nil {
			at = u.CompletedAt.UTC()
		}
		next.CompletedAt = &at
	}

	return next, !sameJob(job, next)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func sameJob(a, b Job) bool {
	return a.ID == b.ID &&
		a.Filename == b.Filename &&
		a.Status == b.Status &&
		a.Model == b.Model &&
		a.Result == b.Result &&
		a.ErrorMessage == b.ErrorMessage &&
		sameFloat(a.Progress, b.Progress) &&
		a.Language == b.Language &&
		sameFloat(a.LanguageConfidence, b.LanguageConfidence) &&
		sameFloat(a.ProcessingTimeSeconds, b.ProcessingTimeSeconds) &&
		a.DownloadFilename == b.DownloadFilename &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		sameTime(a.CompletedAt, b.CompletedAt)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
