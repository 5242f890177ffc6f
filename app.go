package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voiceia/internal/bootstrap"
	"voiceia/internal/domain"
	"voiceia/internal/media"
)

const (
	eventJob     = "voiceia:job"
	eventUpload  = "voiceia:upload"
	eventChannel = "voiceia:channel"
	eventError   = "voiceia:error"
)

var audioFilter = runtime.FileFilter{
	DisplayName: "Audio files (MP3, WAV, M4A, FLAC, OGG, AAC, MP4, OPUS)",
	Pattern:     "*.mp3;*.wav;*.m4a;*.flac;*.ogg;*.aac;*.mp4;*.opus",
}

// desktop is the part of the Wails runtime the bound methods use.
type desktop interface {
	OpenFile(ctx context.Context) (string, error)
	SaveFile(ctx context.Context, defaultName string) (string, error)
	SetClipboard(ctx context.Context, text string) error
	Emit(ctx context.Context, event string, payload any)
}

// App is the Wails application root.
type App struct {
	ctx     context.Context
	desktop desktop

	services bootstrap.Services
	previews atomic.Pointer[media.Previews]
	bootErr  error
}

func NewApp() *App {
	return &App{desktop: wailsDesktop{}}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.ClientError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services
	a.previews.Store(services.Previews)

	status := services.Controller.Mount(ctx)
	a.ChannelStateChanged(status.ChannelState, domain.ChannelReasonNone)
}

func (a *App) shutdown(context.Context) {
	if a.services.Controller != nil {
		a.services.Close()
	}
}

// servePreview serves local preview references to the webview.
func (a *App) servePreview(w http.ResponseWriter, r *http.Request) {
	previews := a.previews.Load()
	if previews == nil || !strings.HasPrefix(r.URL.Path, media.PreviewPrefix) {
		http.NotFound(w, r)
		return
	}
	previews.ServeHTTP(w, r)
}

// PickFile opens the native file dialog and selects the chosen file.
func (a *App) PickFile() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	path, err := a.desktop.OpenFile(a.ctx)
	if err != nil {
		a.ClientError(domain.ErrorCodeUpload, err.Error())
		return a.GetStatus(), err
	}
	if path == "" {
		return a.GetStatus(), nil
	}
	err = a.services.Controller.SelectFile(a.ctx, path)
	return a.GetStatus(), err
}

// SelectFile selects a file by path, as dropped onto the window.
func (a *App) SelectFile(path string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	err := a.services.Controller.SelectFile(a.ctx, path)
	return a.GetStatus(), err
}

// UploadFile transfers the selected file without creating a job.
func (a *App) UploadFile() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if _, err := a.services.Controller.Upload(a.ctx); err != nil {
		return a.GetStatus(), err
	}
	return a.GetStatus(), nil
}

// StartTranscription uploads the selected file and submits the job.
func (a *App) StartTranscription() (*domain.Job, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Controller.StartTranscription(a.ctx)
}

func (a *App) Cancel() domain.Status {
	if a.requireReady() == nil {
		a.services.Controller.Cancel()
	}
	return a.GetStatus()
}

func (a *App) StartNew() domain.Status {
	if a.requireReady() == nil {
		a.services.Controller.StartNew()
	}
	return a.GetStatus()
}

func (a *App) ResetFile() domain.Status {
	if a.requireReady() == nil {
		a.services.Controller.ResetFile()
	}
	return a.GetStatus()
}

// SetModel changes the transcription model for the next submission.
func (a *App) SetModel(model string) (domain.Settings, error) {
	if err := a.requireReady(); err != nil {
		return domain.Settings{}, err
	}
	if err := a.services.Controller.SetModel(model); err != nil {
		return a.services.Store.Settings(), err
	}
	return a.services.Store.Settings(), nil
}

// Models lists the selectable transcription models.
func (a *App) Models() []domain.Model {
	return domain.Models()
}

// History returns past jobs, most recent first.
func (a *App) History() []domain.Job {
	if a.requireReady() != nil {
		return nil
	}
	return a.services.Store.History()
}

func (a *App) ViewJob(id string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	err := a.services.Controller.ViewJob(id)
	return a.GetStatus(), err
}

func (a *App) RemoveFromHistory(id string) []domain.Job {
	if a.requireReady() != nil {
		return nil
	}
	a.services.Controller.RemoveFromHistory(id)
	return a.services.Store.History()
}

// SendEmail asks the backend to mail the current transcript.
func (a *App) SendEmail(email string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Controller.SendEmail(a.ctx, email)
}

// CopyResult writes the current transcript to the clipboard.
func (a *App) CopyResult() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	text, _, err := a.services.Controller.CurrentResult()
	if err != nil {
		return err
	}
	if err := a.desktop.SetClipboard(a.ctx, text); err != nil {
		a.ClientError(domain.ErrorCodeClipboard, err.Error())
		return err
	}
	return nil
}

// DownloadResult saves the current transcript through the native save
// dialog and returns the written path, or "" when the user cancelled.
func (a *App) DownloadResult() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	text, filename, err := a.services.Controller.CurrentResult()
	if err != nil {
		return "", err
	}
	path, err := a.desktop.SaveFile(a.ctx, filename)
	if err != nil || path == "" {
		return "", err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		a.ClientError(domain.ErrorCodeDownload, err.Error())
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

// GetStatus returns the current client status.
func (a *App) GetStatus() domain.Status {
	if a.services.Controller == nil {
		return domain.Status{ChannelState: domain.ChannelStateIdle, Settings: domain.DefaultSettings()}
	}
	return a.services.Controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	cfg := a.services.Config
	return map[string]string{
		"api":          cfg.API.Endpoint(),
		"realtime":     cfg.API.WSEndpoint(),
		"stateBackend": cfg.State.Backend,
		"maxUploadMB":  fmt.Sprint(cfg.Upload.MaxSizeMB),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// JobChanged emits the current job after every store mutation.
func (a *App) JobChanged(job *domain.Job) {
	a.emit(eventJob, map[string]any{"job": job})
}

// UploadProgress emits upload progress percentages.
func (a *App) UploadProgress(percent int) {
	a.emit(eventUpload, map[string]int{"progress": percent})
}

// ChannelStateChanged emits realtime channel lifecycle updates.
func (a *App) ChannelStateChanged(state domain.ChannelState, reason domain.ChannelCloseReason) {
	a.emit(eventChannel, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": channelMessage(state, reason),
	})
}

// ClientError emits user-facing errors.
func (a *App) ClientError(code domain.ErrorCode, message string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"title":   errorTitle(code),
		"message": message,
	})
}

func (a *App) emit(event string, payload any) {
	if a.ctx == nil || a.desktop == nil {
		return
	}
	a.desktop.Emit(a.ctx, event, payload)
}

func channelMessage(state domain.ChannelState, reason domain.ChannelCloseReason) string {
	switch state {
	case domain.ChannelStateConnecting:
		return "Connecting..."
	case domain.ChannelStateOpen:
		return "Connected"
	case domain.ChannelStateReconnecting:
		return "Connection lost. Reconnecting..."
	case domain.ChannelStateClosed:
		switch reason {
		case domain.ChannelReasonTerminal:
			return "Transcription finished"
		case domain.ChannelReasonGaveUp:
			return "Connection lost"
		default:
			return ""
		}
	default:
		return ""
	}
}

func errorTitle(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeUpload:
		return "Upload failed"
	case domain.ErrorCodeSubmit:
		return "Transcription request failed"
	case domain.ErrorCodeChannel:
		return "Connection issue"
	case domain.ErrorCodeRecovery:
		return "Recovery failed"
	case domain.ErrorCodeEmail:
		return "Email failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodeDownload:
		return "Download failed"
	default:
		return "Error"
	}
}

type wailsDesktop struct{}

func (wailsDesktop) OpenFile(ctx context.Context) (string, error) {
	return runtime.OpenFileDialog(ctx, runtime.OpenDialogOptions{
		Title:   "Select an audio file",
		Filters: []runtime.FileFilter{audioFilter},
	})
}

func (wailsDesktop) SaveFile(ctx context.Context, defaultName string) (string, error) {
	return runtime.SaveFileDialog(ctx, runtime.SaveDialogOptions{
		Title:           "Save transcription",
		DefaultFilename: defaultName,
		Filters:         []runtime.FileFilter{{DisplayName: "Text files", Pattern: "*.txt"}},
	})
}

func (wailsDesktop) SetClipboard(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}

func (wailsDesktop) Emit(ctx context.Context, event string, payload any) {
	runtime.EventsEmit(ctx, event, payload)
}
