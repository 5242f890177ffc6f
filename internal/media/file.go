package media

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"voiceia/internal/ports"
)

// Inspect stats a local file and determines its content type, preferring
// the type sniffed from the file header over the extension.
func Inspect(path string) (ports.LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ports.LocalFile{}, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return ports.LocalFile{}, fmt.Errorf("%q is a directory", path)
	}

	return ports.LocalFile{
		Path:        path,
		Name:        filepath.Base(path),
		ContentType: detectContentType(path),
		Size:        info.Size(),
	}, nil
}

func detectContentType(path string) string {
	if detected, err := mimetype.DetectFile(path); err == nil && detected != nil {
		if ct := baseType(detected.String()); ct != "" && ct != "application/octet-stream" {
			return ct
		}
	}
	return baseType(mime.TypeByExtension(strings.ToLower(filepath.Ext(path))))
}

func baseType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(contentType)
	}
	return mediaType
}

// OSOpener opens files from the local filesystem.
type OSOpener struct{}

var _ ports.FileOpener = OSOpener{}

func (OSOpener) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
