package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/metrics"
	"github.com/hearthlist/wpcache/internal/origin"
	"github.com/hearthlist/wpcache/internal/upstream"
)

const DefaultTimeout = 10 * time.Second

// replayHeaders are the upstream headers kept alongside a payload.
var replayHeaders = []string{
	"Content-Type",
	"X-WP-Total",
	"X-WP-TotalPages",
	"Link",
	"Last-Modified",
	"ETag",
}

type Resolver interface {
	Resolve(logicalPath string) []origin.Origin
}

type Result struct {
	Payload json.RawMessage
	Header  http.Header
	Status  int
	Source  cache.Source
	Origin  string
}

type Dependencies struct {
	Resolver Resolver
	Fetcher  upstream.Fetcher
	Timeout  time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

type Engine struct {
	resolver Resolver
	fetcher  upstream.Fetcher
	timeout  time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewEngine(deps Dependencies) *Engine {
	e := &Engine{
		resolver: deps.Resolver,
		fetcher:  deps.Fetcher,
		timeout:  deps.Timeout,
		log:      deps.Logger,
		metrics:  deps.Metrics,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.resolver == nil {
		e.resolver = origin.NewResolver("", nil, nil)
	}
	return e
}

// FetchWithFailover walks the resolved candidates once, in order, and returns
// the first success. Each attempt is bounded by the engine timeout.
func (e *Engine) FetchWithFailover(ctx context.Context, req upstream.Request) (Result, error) {
	candidates := e.resolver.Resolve(req.Path)
	failed := &AllOriginsFailedError{Path: req.Path, Attempts: make([]Attempt, 0, len(candidates))}

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			for _, rest := range candidates[i:] {
				failed.Attempts = append(failed.Attempts, Attempt{
					Origin: rest,
					Err:    &OriginUnreachableError{Origin: rest.BaseURL, Err: err},
				})
			}
			break
		}

		res, err := e.attempt(ctx, c, req)
		if err == nil {
			e.metrics.RecordAttempt(string(c.Source), "ok")
			return res, nil
		}
		e.metrics.RecordAttempt(string(c.Source), attemptResult(err))
		e.log.Debug("origin attempt failed",
			zap.String("origin", c.BaseURL),
			zap.String("source", string(c.Source)),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		failed.Attempts = append(failed.Attempts, Attempt{Origin: c, Err: err})
	}
	return Result{}, failed
}

func (e *Engine) attempt(ctx context.Context, c origin.Origin, req upstream.Request) (Result, error) {
	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.fetcher.Fetch(actx, c.BaseURL, req)
	if err != nil {
		return Result{}, &OriginUnreachableError{
			Origin:  c.BaseURL,
			Timeout: isTimeout(actx, err),
			Err:     err,
		}
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return Result{}, &OriginRejectedError{Origin: c.BaseURL, Status: resp.Status}
	}

	var payload json.RawMessage
	switch {
	case len(resp.Body) == 0 && (req.Method == http.MethodHead || resp.Status == http.StatusNoContent):
	case json.Valid(resp.Body):
		payload = json.RawMessage(resp.Body)
	default:
		return Result{}, &OriginRejectedError{Origin: c.BaseURL, Status: resp.Status, Err: ErrUndecodable}
	}

	return Result{
		Payload: payload,
		Header:  pickHeaders(resp.Header),
		Status:  resp.Status,
		Source:  c.Source,
		Origin:  c.BaseURL,
	}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func attemptResult(err error) string {
	var unreachable *OriginUnreachableError
	if errors.As(err, &unreachable) {
		if unreachable.Timeout {
			return "timeout"
		}
		return "unreachable"
	}
	return "rejected"
}

func pickHeaders(h http.Header) http.Header {
	out := http.Header{}
	for _, k := range replayHeaders {
		if vv := h.Values(k); len(vv) > 0 {
			out[http.CanonicalHeaderKey(k)] = append([]string(nil), vv...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
