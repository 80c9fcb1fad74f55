package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/brokkr/internal/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(Config{}, testLogger())
	assert.Contains(t, w.config.WorkerID, "worker-")
	assert.Equal(t, time.Hour, w.config.PollInterval)
	assert.Equal(t, 2, w.config.MaxConcurrency)
}

func TestWorker_RunOnce(t *testing.T) {
	var ran []string
	ok := jobs.Job{Type: "ok", Run: func(ctx context.Context) error {
		ran = append(ran, "ok")
		return nil
	}}
	failing := jobs.Job{Type: "failing", Run: func(ctx context.Context) error {
		ran = append(ran, "failing")
		return errors.New("boom")
	}}
	never := jobs.Job{Type: "never", Run: func(ctx context.Context) error {
		ran = append(ran, "never")
		return nil
	}}

	err := NewWorker(Config{}, testLogger(), ok, failing, never).RunOnce(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"ok", "failing"}, ran)
}

func TestWorker_ProcessAppliesTimeout(t *testing.T) {
	job := jobs.Job{Type: "slow", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	err := NewWorker(Config{}, testLogger()).process(context.Background(), job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorker_ProcessRecoversPanics(t *testing.T) {
	job := jobs.Job{Type: "panics", Run: func(ctx context.Context) error {
		panic("nil map")
	}}

	err := NewWorker(Config{}, testLogger()).process(context.Background(), job)
	assert.ErrorContains(t, err, "job panics panicked: nil map")
}

func TestWorker_StartRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	job := jobs.Job{Type: "count", Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(Config{PollInterval: 5 * time.Millisecond}, testLogger(), job)

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
