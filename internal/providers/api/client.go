package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/ports"
)

const (
	defaultBaseURL = "http://localhost:3203/api/v1"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10

	requestIDHeader = "X-Request-ID"
)

// Config controls the backend HTTP client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  zerolog.Logger
	// HTTPClient overrides the client used for API calls. Uploads always use
	// a client without an overall timeout and rely on the context instead.
	HTTPClient *http.Client
}

// Client implements ports.Backend over the service's HTTP API.
type Client struct {
	base   string
	http   *http.Client
	upload *http.Client
	log    zerolog.Logger
}

var _ ports.Backend = (*Client)(nil)

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	uploadClient := &http.Client{Transport: httpClient.Transport}
	return &Client{base: base, http: httpClient, upload: uploadClient, log: cfg.Logger}
}

type presignResponse struct {
	URL string `json:"url"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Presign asks the backend for a pre-authorized upload target.
func (c *Client) Presign(ctx context.Context, req ports.PresignRequest) (domain.UploadTarget, error) {
	query := url.Values{}
	query.Set("filename", req.Filename)
	query.Set("content_type", req.ContentType)
	query.Set("file_size", strconv.FormatInt(req.Size, 10))

	var out presignResponse
	if err := c.doJSON(ctx, http.MethodGet, "/audio/get_presigned_url?"+query.Encode(), nil, &out,
		domain.KindNetwork, "Failed to prepare file upload"); err != nil {
		return domain.UploadTarget{}, err
	}
	if strings.TrimSpace(out.URL) == "" {
		return domain.UploadTarget{}, domain.NewError(domain.KindNetwork, "Failed to prepare file upload", errors.New("empty presigned url"))
	}
	return domain.UploadTarget{URL: out.URL}, nil
}

// Upload PUTs the body directly to the pre-authorized target.
func (c *Client) Upload(ctx context.Context, req ports.UploadRequest, progress ports.ProgressFunc) error {
	const fallback = "Failed to upload file"

	body := newProgressReader(req.Body, req.Size, progress)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, req.TargetURL, body)
	if err != nil {
		return domain.NewError(domain.KindUpload, fallback, err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Size > 0 {
		httpReq.ContentLength = req.Size
	}

	body.start()
	started := time.Now()
	resp, err := c.upload.Do(httpReq)
	if err != nil {
		c.log.Warn().Err(err).Str("method", http.MethodPut).Msg("upload failed")
		return transportError(domain.KindUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp, domain.KindUpload, fallback)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	body.finish()
	c.log.Debug().Int64("bytes", req.Size).Dur("duration", time.Since(started)).Msg("upload finished")
	return nil
}

// Submit creates a transcription job and returns its id.
func (c *Client) Submit(ctx context.Context, req ports.SubmitRequest) (string, error) {
	var out submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/job/transcribe", req, &out,
		domain.KindNetwork, "Failed to start transcription"); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", domain.NewError(domain.KindNetwork, "Failed to start transcription", errors.New("empty job id"))
	}
	return out.ID, nil
}

// Status fetches the point-in-time status of a job.
func (c *Client) Status(ctx context.Context, jobID string) (domain.StatusReport, error) {
	var out domain.StatusReport
	if err := c.doJSON(ctx, http.MethodGet, "/job/status/"+url.PathEscape(jobID), nil, &out,
		domain.KindNetwork, "Failed to fetch job status"); err != nil {
		return domain.StatusReport{}, err
	}
	return out, nil
}

// SendEmail asks the backend to deliver a finished transcript by email.
func (c *Client) SendEmail(ctx context.Context, jobID string, email string) error {
	payload := map[string]string{"id": jobID, "email": email}
	return c.doJSON(ctx, http.MethodPost, "/audio/send_transcription_email", payload, nil,
		domain.KindNetwork, "Failed to send email. Please try again.")
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, kind domain.ErrorKind, fallback string) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return domain.NewError(kind, fallback, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return domain.NewError(kind, fallback, err)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().Str("method", method).Str("path", path).Str("request_id", requestID).Msg("backend request")
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Str("request_id", requestID).Msg("backend request failed")
		return transportError(kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := responseError(resp, kind, fallback)
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Str("request_id", requestID).
			Str("detail", apiErr.Error()).Msg("backend responded with error")
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewError(kind, fallback, fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// responseError extracts backend-provided detail, falling back to a
// status-specific or generic message.
func responseError(resp *http.Response, kind domain.ErrorKind, fallback string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("unexpected status %d", resp.StatusCode)

	var parsed errorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && len(parsed.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(parsed.Detail, &detail); err == nil && strings.TrimSpace(detail) != "" {
			return domain.NewError(kind, detail, cause)
		}
	}

	switch resp.StatusCode {
	case http.StatusRequestEntityTooLarge:
		return domain.NewError(kind, "File too large. Please select a smaller file.", cause)
	case http.StatusUnsupportedMediaType:
		return domain.NewError(kind, "Unsupported file type. Please select a valid audio file.", cause)
	default:
		return domain.NewError(kind, fallback, cause)
	}
}

func transportError(kind domain.ErrorKind, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewError(kind, "Request timeout. Please try again.", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewError(kind, "Request cancelled.", err)
	}
	return domain.NewError(kind, "Network error. Please check your connection.", err)
}
