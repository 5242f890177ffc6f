package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/metrics"
	"voiceia/internal/ports"
)

const (
	DefaultConnectDebounce = 100 * time.Millisecond
	DefaultReconnectDelay  = 3 * time.Second
)

const (
	msgFinalFetchFailed = "Failed to fetch final transcription result"
	msgChannelGaveUp    = "Lost connection to transcription updates. Please check the job again later."
)

// ChannelConfig tunes the realtime channel timers.
type ChannelConfig struct {
	ConnectDebounce time.Duration
	ReconnectDelay  time.Duration
	// MaxReconnects caps consecutive reconnect attempts; 0 retries forever.
	MaxReconnects int
}

// ShouldReconnect decides whether a closed channel is re-opened.
func ShouldReconnect(code int, terminal, manual bool) bool {
	return !manual && !terminal && code != ports.CloseNormal
}

// Channel keeps at most one realtime attachment to a job alive and merges
// its updates into the job store.
type Channel struct {
	dialer  ports.ChannelDialer
	backend ports.Backend
	store   ports.JobStore
	events  ports.EventSink
	log     zerolog.Logger
	cfg     ChannelConfig

	// connectMu serializes Connect/Disconnect so teardown of the previous
	// attachment always completes before the next one starts.
	connectMu sync.Mutex

	mu    sync.Mutex
	att   *attachment
	state domain.ChannelState
}

type attachment struct {
	jobID  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.Mutex
	conn   ports.ChannelConn
}

func NewChannel(
	dialer ports.ChannelDialer,
	backend ports.Backend,
	store ports.JobStore,
	events ports.EventSink,
	log zerolog.Logger,
	cfg ChannelConfig,
) *Channel {
	if cfg.ConnectDebounce <= 0 {
		cfg.ConnectDebounce = DefaultConnectDebounce
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Channel{
		dialer:  dialer,
		backend: backend,
		store:   store,
		events:  events,
		log:     log.With().Str("component", "channel").Logger(),
		cfg:     cfg,
		state:   domain.ChannelStateIdle,
	}
}

// Connect attaches to jobID after closing any existing attachment.
func (c *Channel) Connect(jobID string) {
	if jobID == "" {
		return
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.teardown()

	ctx, cancel := context.WithCancel(context.Background())
	att := &attachment{jobID: jobID, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.att = att
	c.mu.Unlock()

	c.setState(att, domain.ChannelStateConnecting, domain.ChannelReasonNone)
	go c.run(att)
}

// Disconnect closes the current attachment and suppresses any reconnect.
// After it returns no further message is processed.
func (c *Channel) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.teardown() {
		c.mu.Lock()
		c.state = domain.ChannelStateClosed
		c.mu.Unlock()
		c.events.ChannelStateChanged(domain.ChannelStateClosed, domain.ChannelReasonManual)
	}
}

// State returns the current channel state.
func (c *Channel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JobID returns the job the channel is attached to, or "".
func (c *Channel) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.att == nil {
		return ""
	}
	return c.att.jobID
}

// teardown stops the current attachment and waits for its goroutine. It
// reports whether an attachment was still running.
func (c *Channel) teardown() bool {
	c.mu.Lock()
	att := c.att
	c.att = nil
	c.mu.Unlock()
	if att == nil {
		return false
	}

	select {
	case <-att.done:
		return false
	default:
	}

	att.cancel()
	att.closeConn(ports.CloseNormal)
	<-att.done
	c.log.Debug().Str("job_id", att.jobID).Msg("channel detached")
	return true
}

func (c *Channel) run(att *attachment) {
	defer close(att.done)
	log := c.log.With().Str("job_id", att.jobID).Logger()

	attempts := 0
	delay := c.cfg.ConnectDebounce
	for {
		timer := time.NewTimer(delay)
		select {
		case <-att.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		code, terminal, opened := c.attach(att, log)
		if opened {
			attempts = 0
		}
		if att.ctx.Err() != nil {
			return
		}
		metrics.IncChannelClose(code)

		if code == ports.CloseNormal {
			c.confirm(att, log)
			if att.ctx.Err() != nil {
				return
			}
			reason := domain.ChannelReasonNone
			if c.jobTerminal(att.jobID) {
				reason = domain.ChannelReasonTerminal
			}
			c.setState(att, domain.ChannelStateClosed, reason)
			return
		}

		terminal = terminal || c.jobTerminal(att.jobID)
		if !ShouldReconnect(code, terminal, false) {
			log.Debug().Int("code", code).Msg("channel closed for finished job")
			c.setState(att, domain.ChannelStateClosed, domain.ChannelReasonTerminal)
			return
		}

		attempts++
		if c.cfg.MaxReconnects > 0 && attempts > c.cfg.MaxReconnects {
			log.Warn().Int("attempts", attempts-1).Msg("giving up on realtime channel")
			c.events.ClientError(domain.ErrorCodeChannel, msgChannelGaveUp)
			c.setState(att, domain.ChannelStateClosed, domain.ChannelReasonGaveUp)
			return
		}

		log.Info().Int("code", code).Dur("delay", c.cfg.ReconnectDelay).Int("attempt", attempts).
			Msg("channel closed abnormally, reconnecting")
		metrics.IncReconnect()
		c.setState(att, domain.ChannelStateReconnecting, domain.ChannelReasonNone)
		delay = c.cfg.ReconnectDelay
	}
}

// attach dials and pumps one connection until it closes. It returns the
// close code, whether a terminal update was seen and whether the dial
// succeeded.
func (c *Channel) attach(att *attachment, log zerolog.Logger) (int, bool, bool) {
	c.setState(att, domain.ChannelStateConnecting, domain.ChannelReasonNone)

	conn, err := c.dialer.Dial(att.ctx, att.jobID)
	if err != nil {
		if att.ctx.Err() == nil {
			log.Warn().Err(err).Msg("channel dial failed")
		}
		return ports.CloseAbnormal, false, false
	}
	if !att.setConn(conn) {
		_ = conn.Close(ports.CloseNormal)
		return ports.CloseNormal, false, false
	}
	defer att.setConn(nil)

	c.setState(att, domain.ChannelStateOpen, domain.ChannelReasonNone)
	log.Info().Msg("channel open")

	for {
		msg, err := conn.Read()
		if att.ctx.Err() != nil {
			return ports.CloseNormal, false, true
		}
		if err != nil {
			code := ports.CloseAbnormal
			var closeErr *ports.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			}
			log.Info().Int("code", code).Msg("channel closed")
			return code, false, true
		}

		switch msg.Type {
		case domain.MessageTypePing:
			if err := conn.SendPong(); err != nil {
				log.Warn().Err(err).Msg("failed to send pong")
			}
		case domain.MessageTypeJobUpdate:
			update, ok := updateFromMessage(att.jobID, msg)
			if !ok {
				log.Debug().Str("message_job_id", msg.JobID).Msg("ignoring update for another job")
				continue
			}
			c.store.MergeUpdate(update)
			if update.Status != nil && update.Status.IsTerminal() {
				log.Info().Str("status", string(*update.Status)).Msg("job reached terminal state")
				metrics.IncJobFinished(string(*update.Status))
				att.closeConn(ports.CloseNormal)
				return ports.CloseNormal, true, true
			}
		case domain.MessageTypeError:
			text := ""
			if msg.Error != nil {
				text = *msg.Error
			} else if msg.Message != nil {
				text = *msg.Message
			}
			log.Warn().Str("error", text).Msg("channel reported error")
			if text != "" {
				c.events.ClientError(domain.ErrorCodeChannel, text)
			}
		default:
			log.Debug().Str("type", string(msg.Type)).Msg("ignoring channel message")
		}
	}
}

// confirm fetches the final status once and merges it into the store.
func (c *Channel) confirm(att *attachment, log zerolog.Logger) {
	report, err := c.backend.Status(att.ctx, att.jobID)
	if err != nil {
		if att.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("confirmatory status fetch failed")
		c.events.ClientError(domain.ErrorCodeChannel, msgFinalFetchFailed)
		return
	}
	if att.ctx.Err() != nil {
		return
	}
	wasTerminal := c.jobTerminal(att.jobID)
	c.store.MergeUpdate(updateFromStatus(att.jobID, report))
	if !wasTerminal && report.Status.IsTerminal() {
		metrics.IncJobFinished(string(report.Status))
	}
	log.Debug().Str("status", string(report.Status)).Msg("final status merged")
}

func (c *Channel) jobTerminal(jobID string) bool {
	job, ok := c.store.Find(jobID)
	return ok && job.Status.IsTerminal()
}

// setState records and emits a transition, unless att is no longer current.
func (c *Channel) setState(att *attachment, state domain.ChannelState, reason domain.ChannelCloseReason) {
	c.mu.Lock()
	if c.att != att || att.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.state == state && reason == domain.ChannelReasonNone {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.events.ChannelStateChanged(state, reason)
}

// setConn installs conn; it reports false when the attachment is already cancelled.
func (a *attachment) setConn(conn ports.ChannelConn) bool {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if conn != nil && a.ctx.Err() != nil {
		return false
	}
	a.conn = conn
	return true
}

func (a *attachment) closeConn(code int) {
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn != nil {
		_ = conn.Close(code)
	}
}
