package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/metrics"
	"voiceia/internal/ports"
)

// DefaultMaxUploadBytes is the largest accepted file (10 MB).
const DefaultMaxUploadBytes int64 = 10 * 1024 * 1024

var allowedContentTypes = map[string]struct{}{
	"audio/mpeg":  {},
	"audio/wav":   {},
	"audio/mp4":   {},
	"audio/x-m4a": {},
	"audio/flac":  {},
	"audio/ogg":   {},
	"audio/aac":   {},
	"video/mp4":   {},
	"audio/opus":  {},
}

var allowedExtensions = regexp.MustCompile(`(?i)\.(mp3|wav|m4a|flac|ogg|aac|mp4|opus)$`)

const (
	msgInvalidType    = "Please select a valid audio file (MP3, WAV, M4A, FLAC, OGG, AAC, MP4, OPUS)"
	msgPrepareFailed  = "Failed to prepare file upload"
	msgUploadFailed   = "Failed to upload file"
	msgNoFileOrTarget = "No file selected or presigned URL not available"
)

// errSelectionReplaced reports a transfer whose file was reset or replaced
// before it finished.
var errSelectionReplaced = domain.NewError(domain.KindPrecondition, "The selected file was replaced during upload", nil)

// UploadManager owns the ephemeral upload session: the selected file, its
// pre-authorized target, the preview reference and transfer progress.
type UploadManager struct {
	backend  ports.Backend
	files    ports.FileOpener
	previews ports.PreviewRegistry
	events   ports.EventSink
	log      zerolog.Logger
	maxBytes int64

	mu      sync.Mutex
	file    *ports.LocalFile
	target  string
	preview string
	// gen changes on every select/reset so a transfer finishing late cannot
	// resurrect a session the user already discarded.
	gen       uint64
	progress  int
	uploading bool
	uploaded  bool
}

func NewUploadManager(
	backend ports.Backend,
	files ports.FileOpener,
	previews ports.PreviewRegistry,
	events ports.EventSink,
	log zerolog.Logger,
	maxBytes int64,
) *UploadManager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &UploadManager{
		backend:  backend,
		files:    files,
		previews: previews,
		events:   events,
		log:      log.With().Str("component", "upload").Logger(),
		maxBytes: maxBytes,
	}
}

// Validate checks a candidate file against the type and size limits.
func (m *UploadManager) Validate(file ports.LocalFile) error {
	if !acceptedType(file) {
		return domain.NewError(domain.KindValidation, msgInvalidType, nil)
	}
	if file.Size > m.maxBytes {
		return domain.NewError(domain.KindValidation,
			fmt.Sprintf("File size must be less than %dMB", m.maxBytes/(1024*1024)), nil)
	}
	return nil
}

// SelectFile validates file, swaps the preview reference and requests an
// upload target. The selection is kept even when the presign request fails.
func (m *UploadManager) SelectFile(ctx context.Context, file ports.LocalFile) error {
	if err := m.Validate(file); err != nil {
		m.log.Info().Str("filename", file.Name).Int64("size", file.Size).Str("content_type", file.ContentType).
			Msg("file rejected")
		return err
	}

	m.mu.Lock()
	previous := m.preview
	m.gen++
	gen := m.gen
	selected := file
	m.file = &selected
	m.preview = ""
	m.target = ""
	m.progress = 0
	m.uploading = false
	m.uploaded = false
	m.mu.Unlock()

	if previous != "" {
		m.previews.Release(previous)
	}
	ref, err := m.previews.Create(file)
	if err != nil {
		m.log.Warn().Err(err).Str("filename", file.Name).Msg("preview unavailable")
	}

	target, presignErr := m.backend.Presign(ctx, ports.PresignRequest{
		Filename:    file.Name,
		ContentType: file.ContentType,
		Size:        file.Size,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		if ref != "" {
			m.previews.Release(ref)
		}
		return domain.NewError(domain.KindPrecondition, "File selection was replaced", nil)
	}
	m.preview = ref
	if presignErr != nil {
		m.log.Warn().Err(presignErr).Str("filename", file.Name).Msg("presign failed")
		return domain.NewError(domain.KindUpload, domain.Message(presignErr, msgPrepareFailed), presignErr)
	}
	m.target = target.URL
	m.log.Debug().Str("filename", file.Name).Int64("size", file.Size).Msg("upload target ready")
	return nil
}

// UploadFile transfers the selected file to its target and returns the
// target URL. Progress reported to the event sink never decreases.
func (m *UploadManager) UploadFile(ctx context.Context) (string, error) {
	target, _, err := m.uploadFile(ctx)
	return target, err
}

// uploadFile is UploadFile that also returns the session generation the
// transfer belonged to.
func (m *UploadManager) uploadFile(ctx context.Context) (string, uint64, error) {
	m.mu.Lock()
	if m.file == nil || m.target == "" {
		m.mu.Unlock()
		return "", 0, domain.NewError(domain.KindPrecondition, msgNoFileOrTarget, nil)
	}
	file := *m.file
	target := m.target
	gen := m.gen
	m.progress = 0
	m.uploading = true
	m.uploaded = false
	m.mu.Unlock()

	body, err := m.files.Open(file.Path)
	if err != nil {
		m.finishUpload(gen, false)
		metrics.ObserveUpload(false, 0)
		m.log.Error().Err(err).Str("path", file.Path).Msg("failed to open file for upload")
		return "", gen, domain.NewError(domain.KindUpload, msgUploadFailed, err)
	}
	defer body.Close()

	err = m.backend.Upload(ctx, ports.UploadRequest{
		TargetURL:   target,
		ContentType: file.ContentType,
		Size:        file.Size,
		Body:        body,
	}, func(percent int) { m.reportProgress(gen, percent) })
	if err != nil {
		metrics.ObserveUpload(false, 0)
		if !m.finishUpload(gen, false) {
			m.log.Info().Err(err).Str("filename", file.Name).Msg("upload abandoned after reset")
			return "", gen, errSelectionReplaced
		}
		m.log.Warn().Err(err).Str("filename", file.Name).Msg("upload failed")
		return "", gen, domain.NewError(domain.KindUpload, domain.Message(err, msgUploadFailed), err)
	}

	m.reportProgress(gen, 100)
	metrics.ObserveUpload(true, file.Size)
	if !m.finishUpload(gen, true) {
		m.log.Info().Str("filename", file.Name).Msg("upload finished for a discarded selection")
		return "", gen, errSelectionReplaced
	}
	m.log.Info().Str("filename", file.Name).Int64("size", file.Size).Msg("upload complete")
	return target, gen, nil
}

// ResetFile releases the preview and clears the whole session. Safe to call
// at any time, any number of times.
func (m *UploadManager) ResetFile() {
	m.mu.Lock()
	ref := m.preview
	m.gen++
	m.file = nil
	m.target = ""
	m.preview = ""
	m.progress = 0
	m.uploading = false
	m.uploaded = false
	m.mu.Unlock()

	if ref != "" {
		m.previews.Release(ref)
	}
}

// Selected returns the selected file, if any.
func (m *UploadManager) Selected() (ports.LocalFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ports.LocalFile{}, false
	}
	return *m.file, true
}

// Session returns a snapshot of the upload session for display.
func (m *UploadManager) Session() domain.UploadSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := domain.UploadSession{
		TargetURL:  m.target,
		PreviewRef: m.preview,
		Progress:   m.progress,
		Uploading:  m.uploading,
		Uploaded:   m.uploaded,
	}
	if m.file != nil {
		s.Filename = m.file.Name
		s.ContentType = m.file.ContentType
		s.Size = m.file.Size
	}
	return s
}

func (m *UploadManager) reportProgress(gen uint64, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	m.mu.Lock()
	if m.gen != gen || percent < m.progress || (percent == m.progress && percent != 0) {
		m.mu.Unlock()
		return
	}
	m.progress = percent
	m.mu.Unlock()
	m.events.UploadProgress(percent)
}

// finishUpload records the outcome; it reports false when the session moved
// on since gen.
func (m *UploadManager) finishUpload(gen uint64, ok bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.uploading = false
	m.uploaded = ok
	return true
}

// isCurrent reports whether gen is still the live session.
func (m *UploadManager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func acceptedType(file ports.LocalFile) bool {
	ct := strings.ToLower(strings.TrimSpace(file.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if _, ok := allowedContentTypes[ct]; ok {
		return true
	}
	return allowedExtensions.MatchString(file.Name)
}
