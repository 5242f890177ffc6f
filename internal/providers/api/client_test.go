package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/ports"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/api/v1/", Logger: zerolog.Nop()}), srv
}

func TestPresignSendsFileParameters(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/audio/get_presigned_url" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("filename") != "demo.mp3" || q.Get("content_type") != "audio/mpeg" || q.Get("file_size") != "4194304" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if r.Header.Get(requestIDHeader) == "" {
			t.Errorf("missing request id header")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://storage.example/put/abc"})
	}))

	target, err := client.Presign(context.Background(), ports.PresignRequest{Filename: "demo.mp3", ContentType: "audio/mpeg", Size: 4 << 20})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if target.URL != "https://storage.example/put/abc" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestSubmitUsesBackendDetailOnError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["filename"] != "demo.mp3" || body["url"] != "https://storage/x" || body["mode"] != "base" {
			t.Errorf("unexpected body: %v", body)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Queue is full"}`))
	}))

	_, err := client.Submit(context.Background(), ports.SubmitRequest{Filename: "demo.mp3", FileURL: "https://storage/x", Model: domain.ModelBase})
	if !domain.IsKind(err, domain.KindNetwork) {
		t.Fatalf("expected network kind, got %v", err)
	}
	if err.Error() != "Queue is full" {
		t.Fatalf("expected backend detail, got %q", err.Error())
	}
}

func TestSubmitFallbackMessages(t *testing.T) {
	t.Parallel()

	cases := map[int]string{
		http.StatusRequestEntityTooLarge: "File too large. Please select a smaller file.",
		http.StatusUnsupportedMediaType:  "Unsupported file type. Please select a valid audio file.",
		http.StatusInternalServerError:   "Failed to start transcription",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
				_, _ = w.Write([]byte(`{"detail":[{"loc":["body"],"msg":"x"}]}`))
			}))
			_, err := client.Submit(context.Background(), ports.SubmitRequest{})
			if err == nil || err.Error() != want {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSubmitRejectsEmptyID(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":""}`))
	}))
	if _, err := client.Submit(context.Background(), ports.SubmitRequest{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestStatusDecodesSnakeCase(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/job/status/j1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"completed","result_text":"hello world","language":"en","language_probability":0.97,"processing_time_seconds":3.5,"whisper_model":"base"}`))
	}))

	report, err := client.Status(context.Background(), "j1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != domain.JobStatusCompleted || report.ResultText == nil || *report.ResultText != "hello world" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.LanguageProbability == nil || *report.LanguageProbability != 0.97 {
		t.Fatalf("unexpected probability: %+v", report)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := NewClient(Config{BaseURL: srv.URL, Logger: zerolog.Nop()})

	_, err := client.Status(context.Background(), "j1")
	if !domain.IsKind(err, domain.KindNetwork) || err.Error() != "Network error. Please check your connection." {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeoutMessage(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	client.http.Timeout = 20 * time.Millisecond

	_, err := client.Status(context.Background(), "j1")
	if err == nil || err.Error() != "Request timeout. Please try again." {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUploadReportsMonotonicProgress(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("a", 256<<10)
	var gotType string
	var gotLen int
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", r.Method)
		}
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotLen = len(data)
	}))

	var mu sync.Mutex
	var seen []int
	err := client.Upload(context.Background(), ports.UploadRequest{
		TargetURL:   srv.URL + "/put/abc",
		ContentType: "audio/mpeg",
		Size:        int64(len(payload)),
		Body:        strings.NewReader(payload),
	}, func(p int) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotType != "audio/mpeg" || gotLen != len(payload) {
		t.Fatalf("unexpected upload: type=%q len=%d", gotType, gotLen)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[0] != 0 || seen[len(seen)-1] != 100 {
		t.Fatalf("unexpected progress sequence: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] || seen[i] > 100 {
			t.Fatalf("progress not monotonic: %v", seen)
		}
	}
}

func TestUploadFailureDoesNotReachHundred(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"Signature expired"}`))
	}))

	var last atomic.Int32
	last.Store(-1)
	err := client.Upload(context.Background(), ports.UploadRequest{
		TargetURL: srv.URL + "/put/abc",
		Size:      4,
		Body:      strings.NewReader("abcd"),
	}, func(p int) { last.Store(int32(p)) })
	if !domain.IsKind(err, domain.KindUpload) || err.Error() != "Signature expired" {
		t.Fatalf("unexpected error: %v", err)
	}
	if last.Load() == 100 {
		t.Fatalf("failed upload reported completion")
	}
}

func TestSendEmail(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/audio/send_transcription_email" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["id"] != "j1" || body["email"] != "a@b.co" {
			t.Errorf("unexpected body: %v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	if err := client.SendEmail(context.Background(), "j1", "a@b.co"); err != nil {
		t.Fatalf("send email: %v", err)
	}
}
