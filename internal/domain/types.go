package domain

import "strings"

// JobStatus models the backend lifecycle of one transcription job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether the status is one the backend is allowed to send.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// rank orders statuses so transitions only move forward.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// Model is the transcription model parameter chosen before submission.
type Model string

const (
	ModelTiny    Model = "tiny"
	ModelBase    Model = "base"
	ModelSmall   Model = "small"
	ModelMedium  Model = "medium"
	ModelLargeV3 Model = "large-v3"
	ModelTurbo   Model = "turbo"

	DefaultModel = ModelBase
)

// Models lists the selectable models in display order.
func Models() []Model {
	return []Model{ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLargeV3, ModelTurbo}
}

// ParseModel validates a user-provided model name.
func ParseModel(value string) (Model, error) {
	candidate := Model(strings.ToLower(strings.TrimSpace(value)))
	for _, m := range Models() {
		if m == candidate {
			return m, nil
		}
	}
	return "", NewError(KindValidation, "Unknown transcription model: "+value, nil)
}

// Settings is the small persisted preference record.
type Settings struct {
	Model Model `json:"whisperModel"`
}

// DefaultSettings returns the settings used on first launch.
func DefaultSettings() Settings {
	return Settings{Model: DefaultModel}
}

// ChannelState models the realtime channel attachment lifecycle.
type ChannelState string

const (
	ChannelStateIdle         ChannelState = "idle"
	ChannelStateConnecting   ChannelState = "connecting"
	ChannelStateOpen         ChannelState = "open"
	ChannelStateReconnecting ChannelState = "reconnecting"
	ChannelStateClosed       ChannelState = "closed"
)

// ChannelCloseReason distinguishes why a channel reached ChannelStateClosed.
type ChannelCloseReason string

const (
	ChannelReasonNone     ChannelCloseReason = ""
	ChannelReasonTerminal ChannelCloseReason = "terminal"
	ChannelReasonManual   ChannelCloseReason = "manual"
	ChannelReasonGaveUp   ChannelCloseReason = "gave_up"
)

// ErrorCode identifies which part of the client raised a user-facing error.
type ErrorCode string

const (
	ErrorCodeStartup   ErrorCode = "startup"
	ErrorCodeUpload    ErrorCode = "upload"
	ErrorCodeSubmit    ErrorCode = "submit"
	ErrorCodeChannel   ErrorCode = "channel"
	ErrorCodeRecovery  ErrorCode = "recovery"
	ErrorCodeEmail     ErrorCode = "email"
	ErrorCodeClipboard ErrorCode = "clipboard"
	ErrorCodeDownload  ErrorCode = "download"
)

// MessageType classifies frames received on the realtime channel.
type MessageType string

const (
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
	MessageTypeJobUpdate MessageType = "job_update"
	MessageTypeError     MessageType = "error"
	MessageTypeConnected MessageType = "connected"
	MessageTypeEcho      MessageType = "echo"
)

// ChannelMessage is one decoded inbound realtime frame. Optional fields are
// nil when the frame did not carry them.
type ChannelMessage struct {
	Type                MessageType `json:"type"`
	JobID               string      `json:"job_id,omitempty"`
	Status              *JobStatus  `json:"status,omitempty"`
	Progress            *float64    `json:"progress,omitempty"`
	Result              *string     `json:"result,omitempty"`
	Error               *string     `json:"error,omitempty"`
	Message             *string     `json:"message,omitempty"`
	Language            *string     `json:"language,omitempty"`
	LanguageProbability *float64    `json:"language_probability,omitempty"`
	ProcessingTime      *float64    `json:"processing_time,omitempty"`
}

// UploadTarget is the pre-authorized storage location for one file.
type UploadTarget struct {
	URL string `json:"url"`
}

// StatusReport is the point-in-time job status returned by the backend.
type StatusReport struct {
	Status                JobStatus `json:"status"`
	ResultText            *string   `json:"result_text,omitempty"`
	ErrorMessage          *string   `json:"error_message,omitempty"`
	ProcessingTimeSeconds *float64  `json:"processing_time_seconds,omitempty"`
	Language              *string   `json:"language,omitempty"`
	LanguageProbability   *float64  `json:"language_probability,omitempty"`
	WhisperModel          *Model    `json:"whisper_model,omitempty"`
	UpdateDate            *string   `json:"update_date,omitempty"`
}

// UploadSession is the ephemeral, non-persisted state of a file selection.
type UploadSession struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	TargetURL   string `json:"targetUrl,omitempty"`
	PreviewRef  string `json:"previewRef,omitempty"`
	Progress    int    `json:"progress"`
	Uploading   bool   `json:"uploading"`
	Uploaded    bool   `json:"uploaded"`
}

// Status summarizes the controller state for the UI.
type Status struct {
	CurrentJob   *Job          `json:"currentJob,omitempty"`
	Upload       UploadSession `json:"upload"`
	HasFile      bool          `json:"hasFile"`
	Submitting   bool          `json:"submitting"`
	ChannelState ChannelState  `json:"channelState"`
	Settings     Settings      `json:"settings"`
}
