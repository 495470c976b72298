package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/internal/service"
	"github.com/rendis/taskweave/internal/store"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

// mockJobStore keeps jobs in memory.
type mockJobStore struct {
	mu   sync.Mutex
	jobs map[string]*store.ScheduledJob
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[string]*store.ScheduledJob)}
}

func (m *mockJobStore) CreateScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockJobStore) get(id string) *store.ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.jobs[id]
	return &cp
}

func (m *mockJobStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	if update.Enabled != nil {
		j.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		j.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		j.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		j.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockJobStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ScheduledJob
	for _, j := range m.jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.Workflow != "" && j.Workflow != filter.Workflow {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	return result, nil
}

// mockRunner records ExecuteStored calls.
type mockRunner struct {
	mu     sync.Mutex
	calls  []runCall
	status schema.ExecutionStatus
	err    error
	noRes  bool
}

type runCall struct {
	Workflow string
	Inputs   map[string]string
}

func (r *mockRunner) ExecuteStored(_ context.Context, name string, inputs map[string]string) (*service.ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{Workflow: name, Inputs: inputs})
	if r.noRes {
		return nil, r.err
	}
	status := r.status
	if status == "" {
		status = schema.ExecutionStatusCompleted
	}
	return &service.ExecutionResult{ExecutionID: "exec-1", Workflow: name, Status: status, Result: "ok"}, r.err
}

func (r *mockRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestScheduler(s JobStore, runner WorkflowRunner, opts ...Option) *Scheduler {
	return NewScheduler(s, runner, slog.Default(), opts...)
}

func dueJob(id, workflow string) *store.ScheduledJob {
	past := time.Now().UTC().Add(-time.Hour)
	return &store.ScheduledJob{
		ID:             id,
		Workflow:       workflow,
		CronExpression: "0 * * * *",
		Enabled:        true,
		NextRunAt:      &past,
	}
}

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(newMockJobStore(), &mockRunner{})
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	next, err := sched.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("@daily", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("invalid cron", from)
	require.Error(t, err)
}

func TestTickRunsDueJobs(t *testing.T) {
	ms := newMockJobStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	job := dueJob("job-1", "report")
	job.Inputs = map[string]string{"env": "staging"}
	require.NoError(t, ms.CreateScheduledJob(ctx, job))

	sched.tick(ctx)

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, runCall{Workflow: "report", Inputs: map[string]string{"env": "staging"}}, runner.calls[0])

	got := ms.get("job-1")
	assert.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC().Add(-time.Second)))
	assert.Equal(t, "completed", got.LastRunStatus)
}

func TestTickSkipsNotDueAndDisabled(t *testing.T) {
	ms := newMockJobStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	notDue := dueJob("job-future", "report")
	notDue.NextRunAt = &future
	require.NoError(t, ms.CreateScheduledJob(ctx, notDue))

	disabled := dueJob("job-disabled", "report")
	disabled.Enabled = false
	require.NoError(t, ms.CreateScheduledJob(ctx, disabled))

	sched.tick(ctx)
	assert.Equal(t, 0, runner.callCount())
}

func TestTickWithNilNextRunAt(t *testing.T) {
	ms := newMockJobStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	job := dueJob("job-nil-next", "report")
	job.NextRunAt = nil
	require.NoError(t, ms.CreateScheduledJob(ctx, job))

	sched.tick(ctx)
	assert.Equal(t, 1, runner.callCount())
}

func TestJobRunStatus(t *testing.T) {
	tests := []struct {
		name   string
		runner *mockRunner
		want   string
	}{
		{"failed execution", &mockRunner{status: schema.ExecutionStatusFailed, err: assert.AnError}, "failed"},
		{"runner error without result", &mockRunner{noRes: true, err: assert.AnError}, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newMockJobStore()
			sched := newTestScheduler(ms, tt.runner)
			ctx := context.Background()
			require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job", "report")))

			sched.tick(ctx)

			got := ms.get("job")
			assert.Equal(t, tt.want, got.LastRunStatus)
			assert.NotNil(t, got.NextRunAt)
		})
	}
}

func TestMissedRecovery(t *testing.T) {
	ms := newMockJobStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-missed", "cleanup")))
	never := dueJob("job-never", "cleanup")
	never.NextRunAt = nil
	require.NoError(t, ms.CreateScheduledJob(ctx, never))

	require.NoError(t, sched.RecoverMissed(ctx))

	assert.Equal(t, 1, runner.callCount())
	got := ms.get("job-missed")
	assert.Equal(t, "completed", got.LastRunStatus)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}

func TestDedupPreventsDoubleRun(t *testing.T) {
	ms := newMockJobStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-dedup", "report")))

	assert.True(t, sched.tryAcquire("job-dedup"))
	sched.tick(ctx)
	assert.Equal(t, 0, runner.callCount())

	sched.releaseJob("job-dedup")
	sched.tick(ctx)
	assert.Equal(t, 1, runner.callCount())

	// Released after the run: due again once NextRunAt is reset.
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, ms.UpdateScheduledJob(ctx, "job-dedup", store.ScheduledJobUpdate{NextRunAt: &past}))
	sched.tick(ctx)
	assert.Equal(t, 2, runner.callCount())
}

func TestSchedule(t *testing.T) {
	ms := newMockJobStore()
	sched := newTestScheduler(ms, &mockRunner{})
	ctx := context.Background()

	job := &store.ScheduledJob{Workflow: "report", CronExpression: "*/5 * * * *", Enabled: true}
	require.NoError(t, sched.Schedule(ctx, job))

	assert.NotEmpty(t, job.ID)
	assert.False(t, job.CreatedAt.IsZero())
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()))
	assert.Equal(t, "report", ms.get(job.ID).Workflow)

	err := sched.Schedule(ctx, &store.ScheduledJob{Workflow: "report", CronExpression: "every day"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestScheduleTriggeredEvent(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{
		EventTypes: []string{schema.EventScheduleTriggered},
	})
	require.NoError(t, err)
	defer cancel()

	ms := newMockJobStore()
	sched := newTestScheduler(ms, &mockRunner{}, WithHub(hub))
	ctx := context.Background()
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-ev", "report")))

	sched.tick(ctx)

	select {
	case ev := <-ch:
		assert.Equal(t, "report", ev.Workflow)
		assert.Equal(t, "exec-1", ev.ExecutionID)
		payload := ev.Payload.(map[string]any)
		assert.Equal(t, "job-ev", payload["job_id"])
		assert.Equal(t, "completed", payload["status"])
	case <-time.After(time.Second):
		t.Fatal("no schedule_triggered event")
	}
}

func TestStartStop(t *testing.T) {
	sched := newTestScheduler(newMockJobStore(), &mockRunner{}, WithInterval(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))

	err := sched.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}

// TestRunsStoredWorkflow drives a real Runner over a file store.
func TestRunsStoredWorkflow(t *testing.T) {
	ctx := context.Background()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	wf, err := schema.ParseWorkflow([]byte(`{
		"entry_point": "main",
		"tasks": {"main": {"steps": [{"length": "@{word}"}]}}
	}`))
	require.NoError(t, err)
	require.NoError(t, fs.PutWorkflow(ctx, &store.WorkflowRecord{Name: "measure", Workflow: wf}))

	runner := service.NewRunner(service.Config{
		Store:  fs,
		Inputs: expressions.NewMapInputs(map[string]string{"word": "abc"}),
	})
	sched := newTestScheduler(fs, runner)

	job := &store.ScheduledJob{
		Workflow:       "measure",
		CronExpression: "@hourly",
		Inputs:         map[string]string{"word": "abcdef"},
		Enabled:        true,
	}
	require.NoError(t, sched.Schedule(ctx, job))
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, fs.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{NextRunAt: &past}))

	sched.tick(ctx)

	got, err := fs.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.LastRunStatus)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}
