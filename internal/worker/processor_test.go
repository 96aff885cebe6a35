package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dispatchlab/dispatch/internal/job"
	"github.com/dispatchlab/dispatch/shared/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	claimed   map[string]*job.Job
	claimErr  error
	failErr   error
	completed map[string][]byte
	failed    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		claimed:   make(map[string]*job.Job),
		completed: make(map[string][]byte),
		failed:    make(map[string]string),
	}
}

func (f *fakeStore) ClaimJob(ctx context.Context, jobID string) (*job.Job, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	j, ok := f.claimed[jobID]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	if j.Status != job.StatusPending {
		return nil, job.ErrJobAlreadyClaimed
	}
	j.Status = job.StatusProcessing
	return j, nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, jobID string, report []byte) error {
	f.completed[jobID] = report
	f.claimed[jobID].Status = job.StatusComplete
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, jobID string, details string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.failed[jobID] = details
	f.claimed[jobID].Status = job.StatusError
	return nil
}

type fakeAnalyzer struct {
	report []byte
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, repoURL string) ([]byte, error) {
	return f.report, f.err
}

func newTestWorker(store Store, an Analyzer) *Worker {
	return NewWorker(&Config{
		Logger:      logger.NewDefault().Logger,
		Store:       store,
		Analyzer:    an,
		Concurrency: 1,
		JobTimeout:  time.Minute,
	})
}

func pendingJob(store *fakeStore) *job.Job {
	j := &job.Job{
		JobID:   uuid.New().String(),
		UserID:  "u1",
		RepoURL: "https://github.com/acme/widgets",
		Status:  job.StatusPending,
	}
	store.claimed[j.JobID] = j
	return j
}

func messageFor(j *job.Job) *job.Message {
	return &job.Message{
		JobID:       j.JobID,
		RepoURL:     j.RepoURL,
		UserID:      j.UserID,
		SubmittedAt: time.Now().UTC(),
	}
}

func TestProcessJob_Complete(t *testing.T) {
	store := newFakeStore()
	j := pendingJob(store)

	w := newTestWorker(store, &fakeAnalyzer{report: []byte(`{"security":{}}`)})

	err := w.processJob(context.Background(), messageFor(j))
	require.NoError(t, err)

	assert.Equal(t, job.StatusComplete, j.Status)
	assert.Equal(t, []byte(`{"security":{}}`), store.completed[j.JobID])
}

func TestProcessJob_AnalysisFailureMarksError(t *testing.T) {
	store := newFakeStore()
	j := pendingJob(store)

	w := newTestWorker(store, &fakeAnalyzer{err: errors.New("cannot clone repository")})

	// Analysis failures consume the message: the job is terminal
	err := w.processJob(context.Background(), messageFor(j))
	require.NoError(t, err)

	assert.Equal(t, job.StatusError, j.Status)
	assert.Contains(t, store.failed[j.JobID], "cannot clone repository")
}

func TestProcessJob_DuplicateDeliveryIsNoOp(t *testing.T) {
	store := newFakeStore()
	j := pendingJob(store)
	j.Status = job.StatusComplete

	w := newTestWorker(store, &fakeAnalyzer{report: []byte(`{}`)})

	err := w.processJob(context.Background(), messageFor(j))
	require.NoError(t, err)

	// Terminal state untouched by the duplicate
	assert.Equal(t, job.StatusComplete, j.Status)
	assert.NotContains(t, store.completed, j.JobID)
}

func TestProcessJob_RedeliveryForClaimedJobIsConsumed(t *testing.T) {
	store := newFakeStore()
	j := pendingJob(store)
	j.Status = job.StatusProcessing

	w := newTestWorker(store, &fakeAnalyzer{report: []byte(`{}`)})

	// Another worker owns the claim (or died holding it); this delivery is
	// consumed without touching the job. Recovery of a dead claimer's job is
	// the reconciler's release sweep, not a redelivery loop.
	err := w.processJob(context.Background(), messageFor(j))
	require.NoError(t, err)

	assert.Equal(t, job.StatusProcessing, j.Status)
	assert.NotContains(t, store.completed, j.JobID)
	assert.NotContains(t, store.failed, j.JobID)
}

func TestProcessJob_UnknownJobIsNotRequeued(t *testing.T) {
	store := newFakeStore()
	w := newTestWorker(store, &fakeAnalyzer{})

	msg := &job.Message{
		JobID:   uuid.New().String(),
		RepoURL: "https://github.com/acme/widgets",
		UserID:  "u1",
	}

	err := w.processJob(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, w.shouldRequeueJob(err))
}

func TestProcessJob_TransientClaimFailureIsRequeued(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("connection refused")

	w := newTestWorker(store, &fakeAnalyzer{})

	err := w.processJob(context.Background(), &job.Message{
		JobID:   uuid.New().String(),
		RepoURL: "https://github.com/acme/widgets",
		UserID:  "u1",
	})
	require.Error(t, err)
	assert.True(t, w.shouldRequeueJob(err))
}

func TestProcessJob_FailJobErrorIsRequeued(t *testing.T) {
	store := newFakeStore()
	j := pendingJob(store)
	store.failErr = errors.New("connection refused")

	w := newTestWorker(store, &fakeAnalyzer{err: errors.New("scan crashed")})

	err := w.processJob(context.Background(), messageFor(j))
	require.Error(t, err)
	assert.True(t, w.shouldRequeueJob(err))
}
