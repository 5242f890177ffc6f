package api

import (
	"io"
	"math"
	"sync"

	"voiceia/internal/ports"
)

// progressReader reports rounded, monotonically non-decreasing percentages
// as the request body is consumed.
type progressReader struct {
	r      io.Reader
	total  int64
	notify ports.ProgressFunc

	mu   sync.Mutex
	read int64
	last int
}

func newProgressReader(r io.Reader, total int64, notify ports.ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, notify: notify, last: -1}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		total := p.total
		if total <= 0 {
			total = p.read
		}
		pct := int(math.Round(float64(p.read) * 100 / float64(total)))
		p.mu.Unlock()
		// Reaching 100 is reserved for finish so a failed response never
		// looks complete.
		if pct > 99 {
			pct = 99
		}
		p.report(pct)
	}
	return n, err
}

func (p *progressReader) start()  { p.report(0) }
func (p *progressReader) finish() { p.report(100) }

func (p *progressReader) report(pct int) {
	if p.notify == nil {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	p.mu.Lock()
	if pct <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = pct
	p.mu.Unlock()
	p.notify(pct)
}
