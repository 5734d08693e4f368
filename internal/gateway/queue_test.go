package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/jobdance/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

// drive steps fc whenever a timer is pending so queue waits complete in
// fake time.
func drive(fc *clocktesting.FakeClock, step time.Duration) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if fc.HasWaiters() {
				fc.Step(step)
			} else {
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func TestQueueSpacingGrowsFromSecondConsecutiveThrottle(t *testing.T) {
	fc := clocktesting.NewFakeClock(epoch)
	q := NewQueue(QueueConfig{
		BaseSpacing:    time.Second,
		MaxSpacing:     30 * time.Second,
		Growth:         2,
		Decay:          0.5,
		MaxAttempts:    1,
		InitialBackoff: 100 * time.Millisecond,
	}, fc, logger.Discard())
	stop := drive(fc, 10*time.Millisecond)
	defer stop()

	var dispatched []time.Time
	throttled := func(context.Context) (string, error) {
		dispatched = append(dispatched, fc.Now())
		return "", ErrRateLimited
	}

	ctx := context.Background()
	var spacings []time.Duration
	for i := 0; i < 3; i++ {
		_, err := Run(ctx, q, throttled)
		require.ErrorIs(t, err, ErrRateLimited)
		spacings = append(spacings, q.Spacing())
	}

	assert.Equal(t, time.Second, spacings[0], "a single throttle keeps the baseline")
	assert.Greater(t, spacings[1], spacings[0])
	assert.Greater(t, spacings[2], spacings[1])
	assert.Equal(t, 3, q.Throttled())

	out, err := Run(ctx, q, func(context.Context) (string, error) {
		dispatched = append(dispatched, fc.Now())
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.LessOrEqual(t, q.Spacing(), spacings[2], "success must not grow spacing")
	assert.Equal(t, 0, q.Throttled())

	require.Len(t, dispatched, 4)
	for i := 1; i < len(dispatched); i++ {
		gap := dispatched[i].Sub(dispatched[i-1])
		assert.GreaterOrEqual(t, gap, spacings[i-1], "gap before dispatch %d", i)
	}
}

func TestQueueSuccessDecaysToBaseline(t *testing.T) {
	fc := clocktesting.NewFakeClock(epoch)
	q := NewQueue(QueueConfig{
		BaseSpacing: time.Second,
		MaxSpacing:  8 * time.Second,
		Growth:      4,
		Decay:       0.5,
		MaxAttempts: 1,
	}, fc, logger.Discard())
	stop := drive(fc, 50*time.Millisecond)
	defer stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = Run(ctx, q, func(context.Context) (int, error) { return 0, ErrRateLimited })
	}
	assert.Equal(t, 8*time.Second, q.Spacing(), "capped at MaxSpacing")

	for i := 0; i < 5; i++ {
		_, err := Run(ctx, q, func(context.Context) (int, error) { return 1, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, time.Second, q.Spacing())
}

func TestRunRetriesRateLimitedOnly(t *testing.T) {
	fc := clocktesting.NewFakeClock(epoch)
	q := NewQueue(QueueConfig{
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     time.Second,
		Jitter:         0.5,
	}, fc, logger.Discard())
	stop := drive(fc, 10*time.Millisecond)
	defer stop()

	t.Run("recovers after throttles", func(t *testing.T) {
		calls := 0
		out, err := Run(context.Background(), q, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("provider: %w", ErrRateLimited)
			}
			return "question", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "question", out)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		_, err := Run(context.Background(), q, func(context.Context) (string, error) {
			calls++
			return "", status.Error(codes.ResourceExhausted, "slow down")
		})
		require.Error(t, err)
		assert.True(t, IsRateLimited(err))
		assert.Equal(t, 4, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		boom := errors.New("invalid api key")
		calls := 0
		_, err := Run(context.Background(), q, func(context.Context) (string, error) {
			calls++
			return "", boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})
}

func TestRunHonoursContextWhileWaitingForSlot(t *testing.T) {
	fc := clocktesting.NewFakeClock(epoch)
	q := NewQueue(QueueConfig{BaseSpacing: time.Minute, MaxSpacing: time.Minute, MaxAttempts: 1}, fc, logger.Discard())

	_, err := Run(context.Background(), q, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, q, func(context.Context) (int, error) { return 2, nil })
		done <- err
	}()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("wrap: %w", ErrRateLimited), true},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), false},
		{"googleapi 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"googleapi 500", &googleapi.Error{Code: http.StatusInternalServerError, Message: "backend"}, false},
		{"http text", errors.New("POST /v1/chat: 429 Too Many Requests"), true},
		{"plain", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRateLimited(tc.err))
		})
	}
}
