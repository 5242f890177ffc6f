package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/ports"
)

const (
	defaultBaseURL      = "ws://localhost:3203/api/v1"
	defaultPathTemplate = "/job/ws/{id}"
	jobIDPlaceholder    = "{id}"
	writeTimeout        = 5 * time.Second
)

// Config controls realtime websocket settings.
type Config struct {
	BaseURL          string
	PathTemplate     string
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

// Dialer implements ports.ChannelDialer with gorilla/websocket.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

var _ ports.ChannelDialer = (*Dialer)(nil)

func NewDialer(cfg Config) *Dialer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.PathTemplate) == "" {
		cfg.PathTemplate = defaultPathTemplate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = cfg.HandshakeTimeout
	return &Dialer{cfg: cfg, dialer: &d}
}

func (d *Dialer) Dial(ctx context.Context, jobID string) (ports.ChannelConn, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.NewError(domain.KindChannel, "Failed to establish WebSocket connection", errors.New("empty job id"))
	}
	wsURL, err := buildJobURL(d.cfg.BaseURL, d.cfg.PathTemplate, jobID)
	if err != nil {
		return nil, domain.NewError(domain.KindChannel, "Failed to establish WebSocket connection", err)
	}

	headers := http.Header{}
	headers.Set("X-Request-ID", uuid.NewString())

	wsConn, resp, err := d.dialer.DialContext(ctx, wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, domain.NewError(domain.KindChannel, "Failed to establish WebSocket connection",
			fmt.Errorf("dial %s: %w", wsURL, err))
	}

	log := d.cfg.Logger.With().Str("job_id", jobID).Logger()
	log.Debug().Str("url", wsURL).Msg("websocket connected")
	return &conn{ws: wsConn, log: log}, nil
}

type conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Read returns the next decodable message. Frames that fail to decode are
// logged and skipped.
func (c *conn) Read() (domain.ChannelMessage, error) {
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return domain.ChannelMessage{}, asCloseError(err)
		}

		msg, err := decodeMessage(payload)
		if err != nil {
			c.log.Warn().Err(err).Msg("error parsing websocket message")
			continue
		}
		return msg, nil
	}
}

func (c *conn) SendPong() error {
	payload, err := json.Marshal(pongMessage{
		Type:      domain.MessageTypePong,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame with code and tears down the connection. It is
// safe to call more than once.
func (c *conn) Close(code int) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

type pongMessage struct {
	Type      domain.MessageType `json:"type"`
	Timestamp string             `json:"timestamp"`
}

func decodeMessage(payload []byte) (domain.ChannelMessage, error) {
	var msg domain.ChannelMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.ChannelMessage{}, err
	}
	if msg.Type == "" {
		return domain.ChannelMessage{}, errors.New("message without type")
	}
	return msg, nil
}

func asCloseError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return &ports.CloseError{Code: closeErr.Code, Reason: closeErr.Text}
	}
	return &ports.CloseError{Code: ports.CloseAbnormal, Reason: err.Error()}
}

func buildJobURL(base, template, jobID string) (string, error) {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	path := strings.ReplaceAll(template, jobIDPlaceholder, url.PathEscape(jobID))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	parsed, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("invalid websocket base URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("unsupported websocket scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}
