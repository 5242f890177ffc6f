package ports

import (
	"context"
	"fmt"
	"io"

	"voiceia/internal/domain"
)

// PresignRequest describes the file a pre-authorized upload target is requested for.
type PresignRequest struct {
	Filename    string
	ContentType string
	Size        int64
}

// UploadRequest is one direct-to-storage transfer.
type UploadRequest struct {
	TargetURL   string
	ContentType string
	Size        int64
	Body        io.Reader
}

// SubmitRequest asks the backend to create a transcription job.
type SubmitRequest struct {
	Filename string       `json:"filename"`
	FileURL  string       `json:"url"`
	Model    domain.Model `json:"mode"`
}

// ProgressFunc receives upload progress as a percentage.
type ProgressFunc func(percent int)

// Backend is the request/response side of the transcription service.
type Backend interface {
	Presign(ctx context.Context, req PresignRequest) (domain.UploadTarget, error)
	Upload(ctx context.Context, req UploadRequest, progress ProgressFunc) error
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, jobID string) (domain.StatusReport, error)
	SendEmail(ctx context.Context, jobID string, email string) error
}

// Close codes used on the realtime channel.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// CloseError reports that the remote side (or the transport) closed the channel.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("channel closed: code=%d reason=%q", e.Code, e.Reason)
}

// ChannelConn is one open realtime connection for a single job.
type ChannelConn interface {
	// Read blocks until the next decoded message or returns a *CloseError
	// once the connection is gone.
	Read() (domain.ChannelMessage, error)
	SendPong() error
	Close(code int) error
}

// ChannelDialer opens realtime connections.
type ChannelDialer interface {
	Dial(ctx context.Context, jobID string) (ChannelConn, error)
}

// PersistedState is the part of the client state that survives restarts.
type PersistedState struct {
	CurrentJob *domain.Job     `json:"currentJob"`
	History    []domain.Job    `json:"jobs"`
	Settings   domain.Settings `json:"settings"`
}

// Persister stores PersistedState under a fixed namespace.
type Persister interface {
	Load(ctx context.Context) (PersistedState, error)
	Save(ctx context.Context, state PersistedState) error
}

// LocalFile is a user-selected file that can be re-opened for upload.
type LocalFile struct {
	Path        string
	Name        string
	ContentType string
	Size        int64
}

// FileOpener opens local files for reading.
type FileOpener interface {
	Open(path string) (io.ReadCloser, error)
}

// PreviewRegistry hands out revocable local preview references.
type PreviewRegistry interface {
	Create(file LocalFile) (string, error)
	Release(ref string)
}

// EventSink emits client state changes to the presentation layer.
type EventSink interface {
	JobChanged(job *domain.Job)
	UploadProgress(percent int)
	ChannelStateChanged(state domain.ChannelState, reason domain.ChannelCloseReason)
	ClientError(code domain.ErrorCode, message string)
}

// JobStore is the single shared holder of job records and settings.
type JobStore interface {
	SetCurrent(job domain.Job)
	MergeUpdate(update domain.JobUpdate) bool
	ClearCurrent()
	AddToHistory(job domain.Job)
	RemoveFromHistory(id string)
	ViewJob(id string) bool
	SetSettings(settings domain.Settings)
	Current() (domain.Job, bool)
	Find(id string) (domain.Job, bool)
	Settings() domain.Settings
}
