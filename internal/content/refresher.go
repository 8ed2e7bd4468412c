package content

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hearthlist/wpcache/internal/metrics"
	"github.com/hearthlist/wpcache/internal/upstream"
)

const (
	DefaultRefreshTimeout     = 30 * time.Second
	DefaultRefreshConcurrency = 32
	refreshErrorBuffer        = 64
)

// RefreshError is delivered on the refresher's internal error channel.
type RefreshError struct {
	Key string
	Err error
}

func (e RefreshError) Error() string { return fmt.Sprintf("refresh %s: %v", e.Key, e.Err) }

func (e RefreshError) Unwrap() error { return e.Err }

type refreshFunc func(ctx context.Context, key string, req upstream.Request) error

// Refresher runs detached background refreshes. At most one refresh per key
// is in flight, and submissions beyond the concurrency limit are dropped.
type Refresher struct {
	run     refreshFunc
	timeout time.Duration
	sem     *semaphore.Weighted
	log     *zap.Logger
	metrics *metrics.Metrics
	onError func(RefreshError)

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
	wg       sync.WaitGroup

	errs    chan RefreshError
	drained chan struct{}
}

func newRefresher(run refreshFunc, timeout time.Duration, concurrency int, log *zap.Logger, m *metrics.Metrics, onError func(RefreshError)) *Refresher {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	if concurrency <= 0 {
		concurrency = DefaultRefreshConcurrency
	}
	r := &Refresher{
		run:      run,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		log:      log,
		metrics:  m,
		onError:  onError,
		inflight: map[string]struct{}{},
		errs:     make(chan RefreshError, refreshErrorBuffer),
		drained:  make(chan struct{}),
	}
	go r.drain()
	return r
}

// Submit schedules a refresh and returns immediately. It reports whether a
// task was started.
func (r *Refresher) Submit(key string, req upstream.Request) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		return false
	}
	if !r.sem.TryAcquire(1) {
		r.mu.Unlock()
		r.metrics.RecordRefresh("skipped")
		r.log.Debug("refresh queue full, skipping", zap.String("key", key))
		return false
	}
	r.inflight[key] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		defer func() {
			r.mu.Lock()
			delete(r.inflight, key)
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.run(ctx, key, req); err != nil {
			r.report(RefreshError{Key: key, Err: err})
			return
		}
		r.metrics.RecordRefresh("ok")
	}()
	return true
}

func (r *Refresher) report(e RefreshError) {
	select {
	case r.errs <- e:
	default:
		r.log.Warn("refresh error dropped, channel full", zap.String("key", e.Key), zap.Error(e.Err))
	}
}

func (r *Refresher) drain() {
	defer close(r.drained)
	for e := range r.errs {
		r.metrics.RecordRefresh("error")
		r.log.Warn("background refresh failed", zap.String("key", e.Key), zap.Error(e.Err))
		if r.onError != nil {
			r.onError(e)
		}
	}
}

// Wait blocks until every started refresh has finished.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	close(r.errs)
	<-r.drained
}
