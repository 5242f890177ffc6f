package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voiceia/internal/domain"
	"voiceia/internal/ports"
	"voiceia/internal/store"
)

var fastChannel = ChannelConfig{ConnectDebounce: time.Millisecond, ReconnectDelay: 5 * time.Millisecond}

func newTestStore() *store.Store {
	return store.New(store.Options{Logger: zerolog.Nop()})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusOf(s domain.JobStatus) *domain.JobStatus { return &s }
func strOf(s string) *string                        { return &s }
func floatOf(f float64) *float64                    { return &f }

// orderLog records dial/close events across fakes.
type orderLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *orderLog) add(entry string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *orderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeBackend struct {
	mu sync.Mutex

	presignCalls int
	presignURL   string
	presignErr   error

	uploadCalls int
	uploadSteps []int
	uploadErr   error
	uploadGate  chan struct{}
	uploaded    []string

	submitCalls int
	submitted   []ports.SubmitRequest
	submitID    string
	submitErr   error
	submitGate  chan struct{}

	statusCalls int
	status      domain.StatusReport
	statusErr   error
	statusGate  chan struct{}

	emails   []string
	emailErr error
}

func (f *fakeBackend) Presign(_ context.Context, req ports.PresignRequest) (domain.UploadTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presignCalls++
	if f.presignErr != nil {
		return domain.UploadTarget{}, f.presignErr
	}
	url := f.presignURL
	if url == "" {
		url = "https://storage.test/" + req.Filename
	}
	return domain.UploadTarget{URL: url}, nil
}

func (f *fakeBackend) Upload(ctx context.Context, req ports.UploadRequest, progress ports.ProgressFunc) error {
	f.mu.Lock()
	f.uploadCalls++
	steps := append([]int(nil), f.uploadSteps...)
	err := f.uploadErr
	gate := f.uploadGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	body, readErr := io.ReadAll(req.Body)
	if readErr != nil {
		return readErr
	}
	for _, step := range steps {
		progress(step)
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.uploaded = append(f.uploaded, string(body))
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Submit(_ context.Context, req ports.SubmitRequest) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	f.submitted = append(f.submitted, req)
	gate := f.submitGate
	id, err := f.submitID, f.submitErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	if id == "" {
		id = "j1"
	}
	return id, nil
}

func (f *fakeBackend) Status(ctx context.Context, _ string) (domain.StatusReport, error) {
	f.mu.Lock()
	f.statusCalls++
	gate := f.statusGate
	report, err := f.status, f.statusErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.StatusReport{}, ctx.Err()
		}
	}
	return report, err
}

func (f *fakeBackend) SendEmail(_ context.Context, jobID string, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emailErr != nil {
		return f.emailErr
	}
	f.emails = append(f.emails, jobID+":"+email)
	return nil
}

func (f *fakeBackend) counts() (presign, upload, submit, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presignCalls, f.uploadCalls, f.submitCalls, f.statusCalls
}

type readResult struct {
	msg domain.ChannelMessage
	err error
}

type fakeConn struct {
	jobID  string
	log    *orderLog
	in     chan readResult
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	pongs     int
	pongErr   error
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan readResult, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read() (domain.ChannelMessage, error) {
	select {
	case r := <-c.in:
		return r.msg, r.err
	case <-c.closed:
		return domain.ChannelMessage{}, &ports.CloseError{Code: c.code()}
	}
}

func (c *fakeConn) SendPong() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongs++
	return c.pongErr
}

func (c *fakeConn) Close(code int) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		c.log.add("close:" + c.jobID)
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) send(msg domain.ChannelMessage) { c.in <- readResult{msg: msg} }

func (c *fakeConn) closeRemote(code int) {
	c.in <- readResult{err: &ports.CloseError{Code: code}}
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) pongCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pongs
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	log *orderLog

	mu    sync.Mutex
	conns []*fakeConn
	dials []string
}

func (d *fakeDialer) queue(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conns...)
}

func (d *fakeDialer) Dial(_ context.Context, jobID string) (ports.ChannelConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, jobID)
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	conn.jobID = jobID
	conn.log = d.log
	d.log.add("dial:" + jobID)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

type stateEvent struct {
	state  domain.ChannelState
	reason domain.ChannelCloseReason
}

type errEvent struct {
	code    domain.ErrorCode
	message string
}

type fakeEventSink struct {
	mu       sync.Mutex
	jobs     []*domain.Job
	progress []int
	states   []stateEvent
	errors   []errEvent
}

func (f *fakeEventSink) JobChanged(job *domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
}

func (f *fakeEventSink) UploadProgress(percent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, percent)
}

func (f *fakeEventSink) ChannelStateChanged(state domain.ChannelState, reason domain.ChannelCloseReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) ClientError(code domain.ErrorCode, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, message: message})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errEvent(nil), f.errors...)
}

func (f *fakeEventSink) snapshotProgress() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.progress...)
}

func (f *fakeEventSink) lastState() (stateEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return stateEvent{}, false
	}
	return f.states[len(f.states)-1], true
}

func (f *fakeEventSink) hasState(state domain.ChannelState, reason domain.ChannelCloseReason) bool {
	for _, ev := range f.snapshotStates() {
		if ev.state == state && ev.reason == reason {
			return true
		}
	}
	return false
}

type fakeOpener struct {
	contents map[string]string
}

func (f *fakeOpener) Open(path string) (io.ReadCloser, error) {
	body, ok := f.contents[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type fakePreviews struct {
	mu       sync.Mutex
	next     int
	active   map[string]ports.LocalFile
	released []string
}

func newFakePreviews() *fakePreviews {
	return &fakePreviews{active: make(map[string]ports.LocalFile)}
}

func (f *fakePreviews) Create(file ports.LocalFile) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	ref := fmt.Sprintf("preview-%d", f.next)
	f.active[ref] = file
	return ref, nil
}

func (f *fakePreviews) Release(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[ref]; ok {
		delete(f.active, ref)
		f.released = append(f.released, ref)
	}
}

func (f *fakePreviews) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

type recordingConnector struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingConnector) Connect(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
}

func (r *recordingConnector) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

var errTest = errors.New("test failure")

var fixedTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
