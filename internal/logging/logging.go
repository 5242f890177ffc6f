package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, output format and sampling.
type Config struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // sample repetitive events outside dev
}

// New creates a zerolog logger writing to stderr.
func New(cfg Config, dev bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, cfg, dev)
}

// NewWithWriter creates a zerolog logger configured from cfg writing to out.
func NewWithWriter(out io.Writer, cfg Config, dev bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if strings.EqualFold(cfg.Format, "console") || dev {
		base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		base = zerolog.New(out)
	}
	base = base.Level(level).With().Timestamp().Str("app", "voiceia").Logger()

	if cfg.Sampling && !dev {
		// warn and above are never sampled
		sampler := &zerolog.BasicSampler{N: 100}
		return base.Sample(zerolog.LevelSampler{
			TraceSampler: sampler,
			DebugSampler: sampler,
			InfoSampler:  sampler,
		})
	}
	return base
}
