package usecase

import (
	"strings"
	"time"

	"voiceia/internal/domain"
)

var updateDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
}

// updateFromMessage converts a job_update frame into a partial update for jobID.
// It returns false when the frame names a different job.
func updateFromMessage(jobID string, msg domain.ChannelMessage) (domain.JobUpdate, bool) {
	if msg.JobID != "" && msg.JobID != jobID {
		return domain.JobUpdate{}, false
	}
	update := domain.JobUpdate{
		ID:                    jobID,
		Result:                msg.Result,
		ErrorMessage:          msg.Error,
		Progress:              msg.Progress,
		Language:              msg.Language,
		LanguageConfidence:    msg.LanguageProbability,
		ProcessingTimeSeconds: msg.ProcessingTime,
	}
	if msg.Status != nil && msg.Status.Valid() {
		update.Status = msg.Status
	}
	return update, true
}

// updateFromStatus converts a status report into a partial update for jobID.
func updateFromStatus(jobID string, report domain.StatusReport) domain.JobUpdate {
	update := domain.JobUpdate{
		ID:                    jobID,
		ErrorMessage:          report.ErrorMessage,
		Language:              report.Language,
		LanguageConfidence:    report.LanguageProbability,
		ProcessingTimeSeconds: report.ProcessingTimeSeconds,
		Model:                 report.WhisperModel,
	}
	if report.Status.Valid() {
		status := report.Status
		update.Status = &status
	}
	// An empty result_text must not wipe a result already delivered over the channel.
	if report.ResultText != nil && *report.ResultText != "" {
		update.Result = report.ResultText
	}
	if report.UpdateDate != nil {
		if at, ok := parseUpdateDate(*report.UpdateDate); ok {
			update.CompletedAt = &at
		}
	}
	return update
}

func parseUpdateDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range updateDateLayouts {
		if at, err := time.Parse(layout, value); err == nil {
			return at.UTC(), true
		}
	}
	return time.Time{}, false
}
