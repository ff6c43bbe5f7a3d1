package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every six hours", time.Minute, func(context.Context) error { return nil }, zap.NewNop())
	assert.Error(t, err)
}

func TestSchedulerRunNow(t *testing.T) {
	var (
		calls       int
		hadDeadline bool
	)
	job := func(ctx context.Context) error {
		calls++
		_, hadDeadline = ctx.Deadline()
		return errors.New("upstream unavailable")
	}

	s, err := NewScheduler("@every 6h", time.Minute, job, zap.NewNop())
	require.NoError(t, err)

	// a failing job is logged, not propagated
	assert.True(t, s.RunNow())
	assert.Equal(t, 1, calls)
	assert.True(t, hadDeadline)
}

func TestSchedulerNeverOverlapsRuns(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		calls   int
	)
	started := make(chan struct{})
	release := make(chan struct{})
	job := func(ctx context.Context) error {
		mu.Lock()
		active++
		calls++
		if active > maxSeen {
			maxSeen = active
		}
		first := calls == 1
		mu.Unlock()

		if first {
			close(started)
			<-release
		}

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	s, err := NewScheduler("@every 6h", time.Minute, job, zap.NewNop())
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- s.RunNow() }()
	<-started

	// neither a manual run nor a cron tick starts while the first is going
	assert.False(t, s.RunNow())
	s.tick()

	close(release)
	assert.True(t, <-done)

	mu.Lock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, maxSeen)
	mu.Unlock()

	assert.True(t, s.RunNow())
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler("@every 6h", 0, func(context.Context) error { return nil }, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool {
		next := s.Next()
		return !next.IsZero() && time.Until(next) > 5*time.Hour
	}, time.Second, 10*time.Millisecond)

	<-s.Stop().Done()
}
