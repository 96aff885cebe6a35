package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dispatchlab/dispatch/internal/api/dto"
	"github.com/dispatchlab/dispatch/internal/job"
	"github.com/dispatchlab/dispatch/internal/notify"
	"github.com/dispatchlab/dispatch/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory JobStore recording call order alongside the
// fake publisher via the shared event log.
type fakeStore struct {
	mu              sync.Mutex
	jobs            map[string]job.Job
	order           []string
	createErr       error
	events          *eventLog
	stampedByCaller bool
}

func newFakeStore(events *eventLog) *fakeStore {
	return &fakeStore{
		jobs:   make(map[string]job.Job),
		events: events,
	}
}

func (f *fakeStore) CreateJob(ctx context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}

	// The store owns both timestamps, like the real insert's NOW()
	if !j.CreatedAt.IsZero() || !j.UpdatedAt.IsZero() {
		f.stampedByCaller = true
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	f.jobs[j.JobID] = *j
	f.order = append(f.order, j.JobID)
	f.events.add("store_write")
	return nil
}

func (f *fakeStore) GetJobByID(ctx context.Context, jobID string) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j, ok := f.jobs[jobID]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return &j, nil
}

func (f *fakeStore) ListJobsByUser(ctx context.Context, userID string, limit int) ([]job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []job.Job
	for _, j := range f.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakePublisher struct {
	mu         sync.Mutex
	published  [][]byte
	publishErr error
	events     *eventLog
}

func (f *fakePublisher) Publish(ctx context.Context, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishErr != nil {
		return f.publishErr
	}

	f.published = append(f.published, body)
	f.events.add("queue_publish")
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(name string) {
	e.mu.Lock()
	e.events = append(e.events, name)
	e.mu.Unlock()
}

func newTestHandler(t *testing.T) (*JobHandler, *fakeStore, *fakePublisher, *eventLog) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	events := &eventLog{}
	store := newFakeStore(events)
	publisher := &fakePublisher{events: events}

	log := logger.NewDefault().Logger
	h := NewJobHandler(&Dependencies{
		Logger:    log,
		Store:     store,
		Publisher: publisher,
		Hub:       notify.NewHub(log),
	})

	return h, store, publisher, events
}

func newTestRouter(h *JobHandler) *gin.Engine {
	r := gin.New()
	r.POST("/submit", h.Submit)
	r.GET("/api/v1/jobs", h.ListJobs)
	r.GET("/api/v1/jobs/:job_id", h.GetJob)
	return r
}

func postSubmit(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmit_Accepted(t *testing.T) {
	h, store, publisher, events := newTestHandler(t)
	r := newTestRouter(h)

	w := postSubmit(r, `{"repoUrl":"https://github.com/acme/widgets","userId":"u1"}`)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp dto.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Job accepted for analysis.", resp.Message)
	assert.Equal(t, "https://github.com/acme/widgets", resp.RepoURL)
	require.NotEmpty(t, resp.JobID)
	_, err := uuid.Parse(resp.JobID)
	assert.NoError(t, err)

	// Exactly one Pending job record
	require.Equal(t, 1, store.jobCount())
	created, err := store.GetJobByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, created.Status)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "https://github.com/acme/widgets", created.RepoURL)
	assert.True(t, created.UpdatedAt.Equal(created.CreatedAt))

	// Timestamps are the store's to assign, not the API clock's
	assert.False(t, store.stampedByCaller)

	// Exactly one queue message, carrying the job id
	require.Equal(t, 1, publisher.count())
	msg, err := job.DecodeMessage(publisher.published[0])
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, msg.JobID)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "https://github.com/acme/widgets", msg.RepoURL)

	// Store write happens before queue publish
	assert.Equal(t, []string{"store_write", "queue_publish"}, events.events)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing repoUrl", body: `{"repoUrl":"","userId":"u1"}`},
		{name: "missing userId", body: `{"repoUrl":"https://github.com/a/b","userId":""}`},
		{name: "empty body", body: `{}`},
		{name: "malformed json", body: `{"repoUrl":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store, publisher, _ := newTestHandler(t)
			r := newTestRouter(h)

			w := postSubmit(r, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Message)

			// No side effects at all on rejection
			assert.Equal(t, 0, store.jobCount())
			assert.Equal(t, 0, publisher.count())
		})
	}
}

func TestSubmit_UnparseableURLAccepted(t *testing.T) {
	h, store, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	w := postSubmit(r, `{"repoUrl":"not a url at all","userId":"u1"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, store.jobCount())
}

func TestSubmit_DuplicatesCreateIndependentJobs(t *testing.T) {
	h, store, publisher, _ := newTestHandler(t)
	r := newTestRouter(h)

	body := `{"repoUrl":"https://github.com/acme/widgets","userId":"u1"}`

	w1 := postSubmit(r, body)
	w2 := postSubmit(r, body)

	require.Equal(t, http.StatusAccepted, w1.Code)
	require.Equal(t, http.StatusAccepted, w2.Code)

	var r1, r2 dto.SubmitResponse
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &r1))
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &r2))

	assert.NotEqual(t, r1.JobID, r2.JobID)
	assert.Equal(t, 2, store.jobCount())
	assert.Equal(t, 2, publisher.count())
}

func TestSubmit_StoreWriteFails(t *testing.T) {
	h, store, publisher, _ := newTestHandler(t)
	store.createErr = errors.New("connection reset")
	r := newTestRouter(h)

	w := postSubmit(r, `{"repoUrl":"https://github.com/acme/widgets","userId":"u1"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// No orphan queue message without a backing job record
	assert.Equal(t, 0, publisher.count())
	assert.Equal(t, 0, store.jobCount())
}

func TestSubmit_PublishFailsAfterStoreWrite(t *testing.T) {
	h, store, publisher, _ := newTestHandler(t)
	publisher.publishErr = errors.New("channel closed")
	r := newTestRouter(h)

	w := postSubmit(r, `{"repoUrl":"https://github.com/acme/widgets","userId":"u1"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The store write is not rolled back: the job stays Pending for the
	// reconciler to re-enqueue
	require.Equal(t, 1, store.jobCount())
	for id := range store.jobs {
		j, err := store.GetJobByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusPending, j.Status)
	}
}

func TestSubmit_ConcurrentSubmissions(t *testing.T) {
	h, store, publisher, _ := newTestHandler(t)
	r := newTestRouter(h)

	const n = 20
	ids := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := postSubmit(r, `{"repoUrl":"https://github.com/acme/widgets","userId":"u1"}`)
			require.Equal(t, http.StatusAccepted, w.Code)

			var resp dto.SubmitResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			ids <- resp.JobID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "job id %s issued twice", id)
		seen[id] = true
	}

	assert.Equal(t, n, store.jobCount())
	assert.Equal(t, n, publisher.count())
}

func TestGetJob(t *testing.T) {
	h, store, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	j := job.Job{
		JobID:        uuid.New().String(),
		UserID:       "u1",
		RepoURL:      "https://github.com/acme/widgets",
		Status:       job.StatusError,
		ErrorDetails: sql.NullString{String: "clone failed", Valid: true},
		CreatedAt:    created,
		UpdatedAt:    created.Add(time.Minute),
	}
	store.jobs[j.JobID] = j

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+j.JobID, nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, j.JobID, resp.JobID)
		assert.Equal(t, job.StatusError, resp.Status)
		assert.Equal(t, "clone failed", resp.ErrorDetails)
		assert.Equal(t, "2025-06-01T10:00:00Z", resp.CreatedAt)
		assert.Equal(t, "2025-06-01T10:01:00Z", resp.UpdatedAt)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListJobs(t *testing.T) {
	h, store, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		j := job.Job{
			JobID:     uuid.New().String(),
			UserID:    "u1",
			RepoURL:   "https://github.com/acme/widgets",
			Status:    job.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		store.jobs[j.JobID] = j
	}

	t.Run("missing user_id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("newest first", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?user_id=u1", nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 3)
		assert.Equal(t, "2025-06-01T10:02:00Z", resp.Jobs[0].CreatedAt)
		assert.Equal(t, "2025-06-01T10:00:00Z", resp.Jobs[2].CreatedAt)
	})

	t.Run("other user sees nothing", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?user_id=u2", nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Jobs)
	})
}
