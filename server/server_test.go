package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/nimbus/archive"
	"github.com/c360studio/nimbus/job"
	"github.com/c360studio/nimbus/pipeline"
	"github.com/c360studio/nimbus/server"
	"github.com/c360studio/nimbus/store"
)

type fakeJobStore struct {
	jobs    map[string]*job.Job
	keys    map[string]store.LogKeys
	created []*job.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*job.Job{}, keys: map[string]store.LogKeys{}}
}

func (s *fakeJobStore) CreateJob(ctx context.Context, j *job.Job) error {
	s.created = append(s.created, j)
	s.jobs[j.ID] = j
	return nil
}

func (s *fakeJobStore) GetJob(ctx context.Context, id string) (*job.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j, nil
}

func (s *fakeJobStore) ListJobs(ctx context.Context, limit int) ([]job.ListItem, error) {
	items := []job.ListItem{}
	for _, j := range s.jobs {
		items = append(items, job.ListItem{ID: j.ID, Prompt: j.Prompt, Model: j.Model, Status: j.Status})
	}
	return items, nil
}

func (s *fakeJobStore) GetJobLogKeys(ctx context.Context, id string) (store.LogKeys, error) {
	if _, ok := s.jobs[id]; !ok {
		return store.LogKeys{}, store.ErrNotFound
	}
	return s.keys[id], nil
}

type fakeLogs struct {
	objects map[string]string
}

func (l *fakeLogs) Get(ctx context.Context, key string) (string, error) {
	content, ok := l.objects[key]
	if !ok {
		return "", archive.ErrNotFound
	}
	return content, nil
}

// fakeRunner emits a canned event sequence.
type fakeRunner struct {
	events []job.Event
}

func (r *fakeRunner) Run(ctx context.Context, j *job.Job, sink pipeline.Sink) {
	for _, ev := range r.events {
		sink.Send(ev)
	}
}

func newTestServer(st *fakeJobStore, logs *fakeLogs, runner server.Runner) *httptest.Server {
	if logs == nil {
		logs = &fakeLogs{}
	}
	s := server.New(":0", st, logs, runner, "anthropic/claude-sonnet-4", "sekrit")
	return httptest.NewServer(s.Handler())
}

func TestCreateJob_StreamsEvents(t *testing.T) {
	st := newFakeJobStore()
	runner := &fakeRunner{events: []job.Event{
		{Type: job.EventGenerating},
		{Type: job.EventComplete, DeployedURL: "https://nimbus-x.example.workers.dev"},
	}}
	ts := newTestServer(st, nil, runner)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/jobs", "application/json",
		strings.NewReader(`{"prompt": "a landing page"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	require.Len(t, frames, 3)

	var first job.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first))
	assert.Equal(t, job.EventJobCreated, first.Type)
	assert.True(t, strings.HasPrefix(first.JobID, "job_"))

	var last job.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[2], "data: ")), &last))
	assert.Equal(t, job.EventComplete, last.Type)

	// The accepted row was persisted with the default model.
	require.Len(t, st.created, 1)
	assert.Equal(t, "anthropic/claude-sonnet-4", st.created[0].Model)
	assert.Equal(t, job.StatusPending, st.created[0].Status)
}

func TestCreateJob_BuildAlias(t *testing.T) {
	st := newFakeJobStore()
	ts := newTestServer(st, nil, &fakeRunner{events: []job.Event{{Type: job.EventComplete}}})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/build", "application/json",
		strings.NewReader(`{"prompt": "p", "model": "custom/model"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, st.created, 1)
	assert.Equal(t, "custom/model", st.created[0].Model)
}

func TestCreateJob_EmptyPrompt(t *testing.T) {
	ts := newTestServer(newFakeJobStore(), nil, &fakeRunner{})
	defer ts.Close()

	for _, body := range []string{`{}`, `{"prompt": "  "}`, `not json`} {
		resp, err := http.Post(ts.URL+"/api/jobs", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %q", body)
	}
}

func TestGetJob(t *testing.T) {
	st := newFakeJobStore()
	st.jobs["job_ab12cd34"] = &job.Job{ID: "job_ab12cd34", Prompt: "p", Model: "m", Status: job.StatusCompleted}
	ts := newTestServer(st, nil, &fakeRunner{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs/job_ab12cd34")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var j job.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&j))
	assert.Equal(t, "job_ab12cd34", j.ID)
	assert.Equal(t, job.StatusCompleted, j.Status)

	missing, err := http.Get(ts.URL + "/api/jobs/job_nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListJobs(t *testing.T) {
	st := newFakeJobStore()
	st.jobs["job_1"] = &job.Job{ID: "job_1", Prompt: "p", Model: "m", Status: job.StatusPending}
	ts := newTestServer(st, nil, &fakeRunner{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Jobs []job.ListItem `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Jobs, 1)
	assert.Equal(t, "job_1", payload.Jobs[0].ID)
}

func TestGetLogs_AuthMatrix(t *testing.T) {
	st := newFakeJobStore()
	buildKey := "jobs/job_1/build.log"
	st.jobs["job_1"] = &job.Job{ID: "job_1"}
	st.keys["job_1"] = store.LogKeys{BuildLogKey: &buildKey}
	logs := &fakeLogs{objects: map[string]string{buildKey: "bun install ok\n"}}
	ts := newTestServer(st, logs, &fakeRunner{})
	defer ts.Close()

	get := func(auth string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/jobs/job_1/logs?type=build", nil)
		if auth != "" {
			req.Header.Set("Auth", auth)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	missing := get("")
	missing.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, missing.StatusCode)

	wrong := get("nope")
	wrong.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)

	ok := get("sekrit")
	defer ok.Body.Close()
	require.Equal(t, http.StatusOK, ok.StatusCode)
	assert.Contains(t, ok.Header.Get("Content-Type"), "text/plain")
	content, _ := io.ReadAll(ok.Body)
	assert.Equal(t, "bun install ok\n", string(content))
}

func TestGetLogs_Validation(t *testing.T) {
	st := newFakeJobStore()
	st.jobs["job_1"] = &job.Job{ID: "job_1"}
	ts := newTestServer(st, nil, &fakeRunner{})
	defer ts.Close()

	do := func(path string) int {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		req.Header.Set("Auth", "sekrit")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, do("/api/jobs/job_1/logs"))
	assert.Equal(t, http.StatusBadRequest, do("/api/jobs/job_1/logs?type=install"))
	// Job exists but the log was never archived.
	assert.Equal(t, http.StatusNotFound, do("/api/jobs/job_1/logs?type=build"))
	assert.Equal(t, http.StatusNotFound, do("/api/jobs/job_nope/logs?type=build"))
}

func TestCORS(t *testing.T) {
	ts := newTestServer(newFakeJobStore(), nil, &fakeRunner{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/jobs", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Auth")

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, "*", health.Header.Get("Access-Control-Allow-Origin"))

	var status map[string]string
	require.NoError(t, json.NewDecoder(health.Body).Decode(&status))
	assert.Equal(t, "ok", status["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(newFakeJobStore(), nil, &fakeRunner{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// A slow pipeline keeps running after its client goes away, and its sink
// goes dead instead of writing into the recycled ResponseWriter.
func TestCreateJob_ClientDisconnect(t *testing.T) {
	st := newFakeJobStore()
	started := make(chan struct{})
	disconnected := make(chan struct{})
	finished := make(chan struct{})
	var sendErr error
	runner := runnerFunc(func(ctx context.Context, j *job.Job, sink pipeline.Sink) {
		defer close(finished)
		close(started)
		<-disconnected
		assert.NoError(t, ctx.Err(), "pipeline context must not be canceled")
		// The handler may still be unwinding; keep sending until the
		// stream reports the client gone.
		deadline := time.Now().Add(2 * time.Second)
		for sendErr == nil && time.Now().Before(deadline) {
			sendErr = sink.Send(job.Event{Type: job.EventGenerating})
			if sendErr == nil {
				time.Sleep(5 * time.Millisecond)
			}
		}
	})
	ts := newTestServer(st, nil, runner)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/jobs",
		strings.NewReader(`{"prompt": "p"}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	<-started
	cancel()
	resp.Body.Close()
	close(disconnected)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish after client disconnect")
	}
	assert.Error(t, sendErr, "sends after disconnect must fail")
}

type runnerFunc func(ctx context.Context, j *job.Job, sink pipeline.Sink)

func (f runnerFunc) Run(ctx context.Context, j *job.Job, sink pipeline.Sink) {
	f(ctx, j, sink)
}
