package media

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"voiceia/internal/ports"
)

// PreviewPrefix is the URL path under which preview references are served.
const PreviewPrefix = "/preview/"

// Previews hands out revocable references that let the UI play a selected
// file before it is uploaded.
type Previews struct {
	mu    sync.RWMutex
	files map[string]ports.LocalFile
}

var _ ports.PreviewRegistry = (*Previews)(nil)

func NewPreviews() *Previews {
	return &Previews{files: make(map[string]ports.LocalFile)}
}

func (p *Previews) Create(file ports.LocalFile) (string, error) {
	id := uuid.NewString()
	p.mu.Lock()
	p.files[id] = file
	p.mu.Unlock()
	return PreviewPrefix + id, nil
}

func (p *Previews) Release(ref string) {
	id := strings.TrimPrefix(ref, PreviewPrefix)
	p.mu.Lock()
	delete(p.files, id)
	p.mu.Unlock()
}

// Len reports how many references are live.
func (p *Previews) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.files)
}

// ServeHTTP streams the file behind a live reference; released references
// answer 404.
func (p *Previews) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, PreviewPrefix)
	p.mu.RLock()
	file, ok := p.files[id]
	p.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if file.ContentType != "" {
		w.Header().Set("Content-Type", file.ContentType)
	}
	http.ServeFile(w, r, file.Path)
}
