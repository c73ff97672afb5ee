package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/pkg/logger"
)

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Description() string           { return "test job " + j.name }
func (j *funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

type recordingObserver struct {
	mu   sync.Mutex
	runs map[string][]error
}

func (o *recordingObserver) JobFinished(name string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = make(map[string][]error)
	}
	o.runs[name] = append(o.runs[name], err)
}

func (o *recordingObserver) count(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs[name])
}

func newTestScheduler(obs Observer) *Scheduler {
	return NewScheduler(SchedulerConfig{
		Logger:       logger.Discard(),
		JobTimeout:   time.Second,
		Observer:     obs,
		TickInterval: 5 * time.Millisecond,
	})
}

func TestScheduler_RegisterRejectsDuplicates(t *testing.T) {
	s := newTestScheduler(nil)
	job := &funcJob{name: "a", fn: func(context.Context) error { return nil }}

	require.NoError(t, s.Register(job, Every(time.Minute)))
	assert.ErrorIs(t, s.Register(job, Every(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
}

func TestScheduler_RunNowReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(obs)
	boom := errors.New("boom")
	require.NoError(t, s.Register(&funcJob{name: "fails", fn: func(context.Context) error { return boom }}, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "fails")

	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)
	assert.Equal(t, 1, obs.count("fails"))

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].FailCount)
	assert.False(t, infos[0].Running)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := newTestScheduler(nil)
	require.NoError(t, s.Register(&funcJob{name: "panics", fn: func(context.Context) error { panic("bad") }}, Every(time.Hour)))

	_, err := s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanic)
}

func TestScheduler_RunsDueJobsAndStops(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(obs)
	var runs atomic.Int32
	require.NoError(t, s.Register(&funcJob{name: "tick", fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, Every(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.GreaterOrEqual(t, obs.count("tick"), 2)
}

func TestScheduler_JobDoesNotOverlapItself(t *testing.T) {
	s := newTestScheduler(nil)
	release := make(chan struct{})
	var concurrent, maxConcurrent atomic.Int32
	require.NoError(t, s.Register(&funcJob{name: "slow", fn: func(ctx context.Context) error {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			m := maxConcurrent.Load()
			if n <= m || maxConcurrent.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return concurrent.Load() == 1 }, time.Second, time.Millisecond)

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobBusy)

	time.Sleep(30 * time.Millisecond)
	close(release)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestScheduler_SetEnabled(t *testing.T) {
	s := newTestScheduler(nil)
	require.NoError(t, s.Register(&funcJob{name: "a", fn: func(context.Context) error { return nil }}, Every(time.Minute)))

	require.NoError(t, s.SetEnabled("a", false))
	assert.False(t, s.ListJobs()[0].Enabled)
	assert.ErrorIs(t, s.SetEnabled("b", true), ErrJobNotFound)
}
