package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

type QueueConfig struct {
	BaseSpacing time.Duration // minimum gap between dispatches
	MaxSpacing  time.Duration
	Growth      float64 // spacing multiplier per throttle from the 2nd in a row
	Decay       float64 // spacing multiplier per success

	MaxAttempts    int // per request, including the first
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         float64 // backoff randomization factor
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		BaseSpacing:    time.Second,
		MaxSpacing:     10 * time.Second,
		Growth:         1.5,
		Decay:          0.8,
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Jitter:         0.5,
	}
}

// Queue is the single lane every upstream call goes through. It enforces
// an adaptive minimum spacing between dispatches and retries rate-limited
// calls with exponential backoff. Share one Queue per upstream account.
type Queue struct {
	cfg   QueueConfig
	clock clock.Clock
	log   logrus.FieldLogger
	lane  chan struct{}

	mu           sync.Mutex
	spacing      time.Duration
	throttled    int
	lastDispatch time.Time
}

func NewQueue(cfg QueueConfig, clk clock.Clock, log logrus.FieldLogger) *Queue {
	def := DefaultQueueConfig()
	if cfg.BaseSpacing < 0 {
		cfg.BaseSpacing = 0
	}
	if cfg.MaxSpacing < cfg.BaseSpacing {
		cfg.MaxSpacing = cfg.BaseSpacing
	}
	if cfg.Growth <= 1 {
		cfg.Growth = def.Growth
	}
	if cfg.Decay <= 0 || cfg.Decay > 1 {
		cfg.Decay = def.Decay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Queue{
		cfg:     cfg,
		clock:   clk,
		log:     log,
		lane:    make(chan struct{}, 1),
		spacing: cfg.BaseSpacing,
	}
}

// Spacing is the current minimum gap between dispatches.
func (q *Queue) Spacing() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.spacing
}

// Throttled is the number of consecutive rate-limited responses.
func (q *Queue) Throttled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.throttled
}

// Run dispatches fn through q. Rate-limited failures are retried up to
// MaxAttempts; any other error is returned as is after one attempt.
func Run[T any](ctx context.Context, q *Queue, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	select {
	case q.lane <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-q.lane }()

	attempt := 0
	op := func() (T, error) {
		attempt++
		if err := q.awaitSlot(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}
		v, err := fn(ctx)
		q.observe(err)
		if err != nil && !IsRateLimited(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		q.log.WithError(err).WithFields(logrus.Fields{
			"attempt":    attempt,
			"retry_in":   next.String(),
			"spacing_ms": q.Spacing().Milliseconds(),
		}).Warn("upstream throttled, backing off")
	}

	return backoff.RetryNotifyWithTimerAndData(op, q.policy(ctx), notify, &clockTimer{clock: q.clock})
}

func (q *Queue) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialBackoff
	b.MaxInterval = q.cfg.MaxBackoff
	b.RandomizationFactor = q.cfg.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Clock = q.clock
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(q.cfg.MaxAttempts-1)), ctx)
}

func (q *Queue) awaitSlot(ctx context.Context) error {
	q.mu.Lock()
	wait := q.spacing - q.clock.Since(q.lastDispatch)
	q.mu.Unlock()

	if wait > 0 {
		t := q.clock.NewTimer(wait)
		select {
		case <-t.C():
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	q.mu.Lock()
	q.lastDispatch = q.clock.Now()
	q.mu.Unlock()
	return nil
}

func (q *Queue) observe(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case err == nil:
		q.throttled = 0
		q.spacing = time.Duration(float64(q.spacing) * q.cfg.Decay)
		if q.spacing < q.cfg.BaseSpacing {
			q.spacing = q.cfg.BaseSpacing
		}
	case IsRateLimited(err):
		q.throttled++
		if q.throttled >= 2 {
			q.spacing = time.Duration(float64(q.spacing) * q.cfg.Growth)
			if q.spacing == 0 {
				q.spacing = q.cfg.InitialBackoff
			}
			if q.spacing > q.cfg.MaxSpacing {
				q.spacing = q.cfg.MaxSpacing
			}
		}
	}
}

// clockTimer adapts a clock.Clock to backoff.Timer.
type clockTimer struct {
	clock clock.Clock
	timer clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.NewTimer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.timer.C() }
