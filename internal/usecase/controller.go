package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/ports"
)

const (
	msgInvalidEmail    = "Please enter a valid email address"
	msgEmailFailed     = "Failed to send email. Please try again."
	msgNoResult        = "No transcription result available"
	msgJobNotInHistory = "Job not found in history"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Config controls upload limits and channel timers.
type Config struct {
	MaxUploadBytes int64
	Channel        ChannelConfig
}

// Deps are the adapters a Controller drives.
type Deps struct {
	Backend  ports.Backend
	Dialer   ports.ChannelDialer
	Store    ports.JobStore
	Files    ports.FileOpener
	Previews ports.PreviewRegistry
	Inspect  func(path string) (ports.LocalFile, error)
	Events   ports.EventSink
	Logger   zerolog.Logger
}

// Controller is the entry point for every user action. Errors meant for the
// user are emitted on the event sink and also returned.
type Controller struct {
	backend   ports.Backend
	store     ports.JobStore
	events    ports.EventSink
	inspect   func(path string) (ports.LocalFile, error)
	log       zerolog.Logger
	uploads   *UploadManager
	submitter *Submitter
	channel   *Channel
	recovery  *Recovery

	mu sync.Mutex
	// abort cancels the running StartTranscription, if any.
	abort context.CancelFunc
}

func NewController(deps Deps, cfg Config) *Controller {
	log := deps.Logger
	channel := NewChannel(deps.Dialer, deps.Backend, deps.Store, deps.Events, log, cfg.Channel)
	return &Controller{
		backend:   deps.Backend,
		store:     deps.Store,
		events:    deps.Events,
		inspect:   deps.Inspect,
		log:       log.With().Str("component", "controller").Logger(),
		uploads:   NewUploadManager(deps.Backend, deps.Files, deps.Previews, deps.Events, log, cfg.MaxUploadBytes),
		submitter: NewSubmitter(deps.Backend, deps.Store, channel, log),
		channel:   channel,
		recovery:  NewRecovery(deps.Backend, deps.Store, channel, deps.Events, log),
	}
}

// Mount runs job recovery for the persisted current job, once.
func (c *Controller) Mount(ctx context.Context) domain.Status {
	c.recovery.Run(ctx)
	return c.Status()
}

// SelectFile inspects and validates a local file and prepares its upload.
func (c *Controller) SelectFile(ctx context.Context, path string) error {
	file, err := c.inspect(path)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("cannot read selected file")
		return c.fail(domain.ErrorCodeUpload, domain.NewError(domain.KindValidation, msgInvalidType, err))
	}
	if err := c.uploads.SelectFile(ctx, file); err != nil {
		return c.fail(domain.ErrorCodeUpload, err)
	}
	return nil
}

// Upload transfers the selected file without creating a job.
func (c *Controller) Upload(ctx context.Context) (string, error) {
	target, err := c.uploads.UploadFile(ctx)
	if err != nil {
		if errors.Is(err, errSelectionReplaced) {
			return "", err
		}
		return "", c.fail(domain.ErrorCodeUpload, err)
	}
	return target, nil
}

// StartTranscription uploads the selected file and creates a job for it.
// A call made while another is in flight returns (nil, nil).
func (c *Controller) StartTranscription(ctx context.Context) (*domain.Job, error) {
	if !c.submitter.Begin() {
		c.log.Debug().Msg("submission already in flight")
		return nil, nil
	}
	defer c.submitter.End()

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.abort = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.abort = nil
		c.mu.Unlock()
		cancel()
	}()

	file, ok := c.uploads.Selected()
	if !ok || c.uploads.Session().TargetURL == "" {
		return nil, c.fail(domain.ErrorCodeSubmit, domain.NewError(domain.KindValidation, msgSelectFirst, nil))
	}

	fileURL, gen, err := c.uploads.uploadFile(ctx)
	if err != nil {
		if quiet := discarded(ctx, err); quiet != nil {
			return nil, quiet
		}
		return nil, c.fail(domain.ErrorCodeUpload, err)
	}

	job, err := c.submitter.submit(ctx, Submission{
		Filename: file.Name,
		FileURL:  fileURL,
		Model:    c.store.Settings().Model,
	}, func() bool { return c.uploads.isCurrent(gen) })
	if err != nil {
		if quiet := discarded(ctx, err); quiet != nil {
			return nil, quiet
		}
		return nil, c.fail(domain.ErrorCodeSubmit, err)
	}
	return job, nil
}

// discarded maps failures caused by the user abandoning the attempt to the
// error returned without notifying the sink. It returns nil for real
// failures.
func discarded(ctx context.Context, err error) error {
	if errors.Is(err, errSelectionReplaced) || errors.Is(err, errSubmissionCancelled) {
		return err
	}
	if ctx.Err() != nil {
		return errSubmissionCancelled
	}
	return nil
}

// Cancel stops a running upload or submission, then closes the channel,
// clears the current job and resets the upload, in that order, whatever
// state the job is in.
func (c *Controller) Cancel() {
	if job, ok := c.store.Current(); ok {
		c.log.Info().Str("job_id", job.ID).Msg("cancelling job")
	}
	c.mu.Lock()
	abort := c.abort
	c.mu.Unlock()
	if abort != nil {
		abort()
	}
	c.submitter.Settle()

	c.channel.Disconnect()
	c.store.ClearCurrent()
	c.uploads.ResetFile()
}

// StartNew discards the current job and file so a new one can be picked.
func (c *Controller) StartNew() {
	c.Cancel()
}

// ResetFile clears the selected file without touching the current job.
func (c *Controller) ResetFile() {
	c.uploads.ResetFile()
}

// SetModel changes the model used for the next submission.
func (c *Controller) SetModel(value string) error {
	model, err := domain.ParseModel(value)
	if err != nil {
		return err
	}
	settings := c.store.Settings()
	settings.Model = model
	c.store.SetSettings(settings)
	return nil
}

// ViewJob shows a finished history entry as the current job.
func (c *Controller) ViewJob(id string) error {
	if !c.store.ViewJob(id) {
		return domain.NewError(domain.KindValidation, msgJobNotInHistory, nil)
	}
	if job, ok := c.store.Current(); ok && !job.Status.IsTerminal() {
		c.channel.Connect(job.ID)
	}
	return nil
}

func (c *Controller) RemoveFromHistory(id string) {
	c.store.RemoveFromHistory(id)
}

// SendEmail asks the backend to deliver the current job's transcript.
func (c *Controller) SendEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) {
		return c.fail(domain.ErrorCodeEmail, domain.NewError(domain.KindValidation, msgInvalidEmail, nil))
	}
	job, ok := c.store.Current()
	if !ok || job.Status != domain.JobStatusCompleted {
		return c.fail(domain.ErrorCodeEmail, domain.NewError(domain.KindPrecondition, msgNoResult, nil))
	}
	if err := c.backend.SendEmail(ctx, job.ID, email); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.ID).Msg("email delivery failed")
		return c.fail(domain.ErrorCodeEmail, domain.NewError(domain.KindNetwork, domain.Message(err, msgEmailFailed), err))
	}
	c.log.Info().Str("job_id", job.ID).Msg("transcript emailed")
	return nil
}

// CurrentResult returns the finished transcript and its suggested filename.
func (c *Controller) CurrentResult() (text string, filename string, err error) {
	job, ok := c.store.Current()
	if !ok || job.Status != domain.JobStatusCompleted || job.Result == "" {
		return "", "", domain.NewError(domain.KindPrecondition, msgNoResult, nil)
	}
	return job.Result, job.ResultFilename(), nil
}

// Shutdown closes the realtime channel and releases the preview.
func (c *Controller) Shutdown() {
	c.channel.Disconnect()
	c.uploads.ResetFile()
}

// Status returns a snapshot for the UI.
func (c *Controller) Status() domain.Status {
	status := domain.Status{
		Upload:       c.uploads.Session(),
		Submitting:   c.submitter.InFlight(),
		ChannelState: c.channel.State(),
		Settings:     c.store.Settings(),
	}
	status.HasFile = status.Upload.Filename != ""
	if job, ok := c.store.Current(); ok {
		status.CurrentJob = &job
	}
	return status
}

// fail emits err to the event sink under code and returns it.
func (c *Controller) fail(code domain.ErrorCode, err error) error {
	c.events.ClientError(code, domain.Message(err, err.Error()))
	return err
}
