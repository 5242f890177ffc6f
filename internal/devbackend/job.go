package devbackend

import (
	"sync"
	"time"

	"voiceia/internal/domain"
)

type jobState struct {
	Status              domain.JobStatus
	Progress            float64
	Result              string
	Error               string
	Language            string
	LanguageProbability float64
	ProcessingTime      float64
	UpdatedAt           time.Time
}

type job struct {
	id        string
	filename  string
	url       string
	model     domain.Model
	createdAt time.Time

	mu    sync.Mutex
	state jobState
	subs  map[chan domain.ChannelMessage]struct{}
}

func newJob(id, filename, url string, model domain.Model, now time.Time) *job {
	return &job{
		id:        id,
		filename:  filename,
		url:       url,
		model:     model,
		createdAt: now,
		state:     jobState{Status: domain.JobStatusPending, UpdatedAt: now},
		subs:      make(map[chan domain.ChannelMessage]struct{}),
	}
}

func (j *job) snapshot() jobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// report renders the status endpoint payload.
func (j *job) report() domain.StatusReport {
	st := j.snapshot()
	model := j.model
	updated := st.UpdatedAt.UTC().Format(time.RFC3339Nano)
	r := domain.StatusReport{
		Status:       st.Status,
		WhisperModel: &model,
		UpdateDate:   &updated,
	}
	switch st.Status {
	case domain.JobStatusCompleted:
		r.ResultText = &st.Result
		r.Language = &st.Language
		r.LanguageProbability = &st.LanguageProbability
		r.ProcessingTimeSeconds = &st.ProcessingTime
	case domain.JobStatusFailed:
		r.ErrorMessage = &st.Error
		r.ProcessingTimeSeconds = &st.ProcessingTime
	}
	return r
}

// message renders a job_update frame for st.
func (j *job) message(st jobState) domain.ChannelMessage {
	status := st.Status
	msg := domain.ChannelMessage{Type: domain.MessageTypeJobUpdate, JobID: j.id, Status: &status}
	switch st.Status {
	case domain.JobStatusProcessing:
		progress := st.Progress
		msg.Progress = &progress
	case domain.JobStatusCompleted:
		result, lang := st.Result, st.Language
		prob, elapsed := st.LanguageProbability, st.ProcessingTime
		msg.Result = &result
		msg.Language = &lang
		msg.LanguageProbability = &prob
		msg.ProcessingTime = &elapsed
	case domain.JobStatusFailed:
		errText := st.Error
		msg.Error = &errText
	}
	return msg
}

// subscribe registers a listener and returns the current state as a frame.
func (j *job) subscribe() (chan domain.ChannelMessage, domain.ChannelMessage) {
	ch := make(chan domain.ChannelMessage, 32)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.subs[ch] = struct{}{}
	return ch, j.message(j.state)
}

func (j *job) unsubscribe(ch chan domain.ChannelMessage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.subs, ch)
}

// advance mutates the state and fans the resulting frame out to listeners.
// Terminal states are never left.
func (j *job) advance(now time.Time, mutate func(*jobState)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Status.IsTerminal() {
		return
	}
	mutate(&j.state)
	j.state.UpdatedAt = now
	msg := j.message(j.state)
	for ch := range j.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
