// Package content is the read path in front of the content API: cache
// lookup, stale-while-revalidate, failover and degraded fallbacks.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearthlist/wpcache/internal/broadcast"
	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/fetch"
	"github.com/hearthlist/wpcache/internal/metrics"
	"github.com/hearthlist/wpcache/internal/upstream"
)

type State string

const (
	StateHit      State = "HIT"
	StateStale    State = "STALE"
	StateMiss     State = "MISS"
	StateRefresh  State = "REFRESH"
	StateBypass   State = "BYPASS"
	StateDegraded State = "DEGRADED"
)

type ReadOptions struct {
	// NoCache skips the store lookup. A successful fetch is still stored.
	NoCache bool
}

type Result struct {
	Key       string
	Payload   json.RawMessage
	Header    http.Header
	Status    int
	Source    cache.Source
	Origin    string
	State     State
	Degraded  bool
	FetchedAt time.Time
	Age       time.Duration
}

type ClearResult struct {
	RemovedCount int    `json:"removedCount"`
	Category     string `json:"category,omitempty"`
}

type Engine interface {
	FetchWithFailover(ctx context.Context, req upstream.Request) (fetch.Result, error)
}

type Dependencies struct {
	Store              *cache.Store
	Engine             Engine
	Publisher          broadcast.Publisher
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
	RefreshTimeout     time.Duration
	RefreshConcurrency int
	OnRefreshError     func(RefreshError)
}

type Service struct {
	store     *cache.Store
	engine    Engine
	publisher broadcast.Publisher
	log       *zap.Logger
	metrics   *metrics.Metrics
	refresher *Refresher
}

func NewService(deps Dependencies) *Service {
	s := &Service{
		store:     deps.Store,
		engine:    deps.Engine,
		publisher: deps.Publisher,
		log:       deps.Logger,
		metrics:   deps.Metrics,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.publisher == nil {
		s.publisher = broadcast.Nop{}
	}
	s.refresher = newRefresher(s.refresh, deps.RefreshTimeout, deps.RefreshConcurrency, s.log, s.metrics, deps.OnRefreshError)
	return s
}

// Read serves a GET for a logical path such as "/properties?page=1".
func (s *Service) Read(ctx context.Context, logicalPath string, opts ReadOptions) (Result, error) {
	req, err := ParseLogical(logicalPath)
	if err != nil {
		return Result{}, err
	}
	return s.Do(ctx, req, opts)
}

func (s *Service) Do(ctx context.Context, req upstream.Request, opts ReadOptions) (Result, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Path = cache.NormalizePath(req.Path)

	if !req.Idempotent() {
		res, err := s.engine.FetchWithFailover(ctx, req)
		if err != nil {
			s.metrics.RecordRead("ERROR")
			return Result{}, err
		}
		s.metrics.RecordRead(string(StateBypass))
		return fromFetch("", res, StateBypass, time.Time{}), nil
	}

	key := cache.Key(req.Method, req.Path, req.Query)
	var expired *cache.Entry
	if !opts.NoCache {
		if ent, ok := s.store.Get(key); ok {
			switch s.store.Classify(ent) {
			case cache.Fresh:
				s.metrics.RecordRead(string(StateHit))
				return s.fromEntry(ent, StateHit), nil
			case cache.StaleUsable:
				bg := req
				bg.Header = req.Header.Clone()
				s.refresher.Submit(key, bg)
				s.metrics.RecordRead(string(StateStale))
				return s.fromEntry(ent, StateStale), nil
			default:
				expired = &ent
			}
		}
	}

	res, err := s.engine.FetchWithFailover(ctx, req)
	if err != nil {
		if expired != nil && errors.Is(err, fetch.ErrAllOriginsFailed) {
			s.log.Warn("serving expired entry, all origins failed", zap.String("key", key), zap.Error(err))
			s.metrics.RecordRead(string(StateDegraded))
			out := s.fromEntry(*expired, StateDegraded)
			out.Degraded = true
			return out, nil
		}
		s.metrics.RecordRead("ERROR")
		return Result{}, err
	}

	ent := s.store.Set(key, res.Payload, res.Header, res.Source, res.Origin)
	s.metrics.SetEntries(s.store.Len())

	state := StateMiss
	if opts.NoCache {
		state = StateRefresh
	}
	s.metrics.RecordRead(string(state))
	return fromFetch(key, res, state, ent.FetchedAt), nil
}

func (s *Service) refresh(ctx context.Context, key string, req upstream.Request) error {
	res, err := s.engine.FetchWithFailover(ctx, req)
	if err != nil {
		return err
	}
	s.store.Set(key, res.Payload, res.Header, res.Source, res.Origin)
	s.metrics.SetEntries(s.store.Len())
	s.log.Debug("background refresh stored", zap.String("key", key), zap.String("origin", res.Origin))
	return nil
}

// ClearCache removes every entry, or those in category tag, and tells the
// other replicas to do the same.
func (s *Service) ClearCache(ctx context.Context, tag string) ClearResult {
	tag = strings.TrimSpace(tag)
	n := s.applyClear(tag)
	if err := s.publisher.PublishClear(ctx, tag); err != nil {
		s.log.Warn("failed to publish clear", zap.String("category", tag), zap.Error(err))
	}
	return ClearResult{RemovedCount: n, Category: tag}
}

// ApplyRemoteClear handles a clear received from another replica.
func (s *Service) ApplyRemoteClear(ev broadcast.ClearEvent) int {
	return s.applyClear(strings.TrimSpace(ev.Category))
}

func (s *Service) applyClear(tag string) int {
	n := s.store.Clear(tag)
	s.metrics.RecordCleared(n)
	s.metrics.SetEntries(s.store.Len())
	s.log.Info("cache cleared", zap.String("category", tag), zap.Int("removed", n))
	return n
}

func (s *Service) Stats() cache.Stats {
	return s.store.Stats()
}

// WaitRefreshes blocks until in-flight background refreshes are done.
func (s *Service) WaitRefreshes() {
	s.refresher.Wait()
}

func (s *Service) Close() {
	s.refresher.Close()
}

func (s *Service) fromEntry(ent cache.Entry, state State) Result {
	return Result{
		Key:       ent.Key,
		Payload:   ent.Payload,
		Header:    ent.Header.Clone(),
		Status:    http.StatusOK,
		Source:    ent.Source,
		Origin:    ent.Origin,
		State:     state,
		FetchedAt: ent.FetchedAt,
		Age:       s.store.Age(ent),
	}
}

func fromFetch(key string, res fetch.Result, state State, fetchedAt time.Time) Result {
	return Result{
		Key:       key,
		Payload:   res.Payload,
		Header:    res.Header,
		Status:    res.Status,
		Source:    res.Source,
		Origin:    res.Origin,
		State:     state,
		FetchedAt: fetchedAt,
	}
}

// ParseLogical splits "/path?query" into a GET request with tracking
// parameters removed.
func ParseLogical(raw string) (upstream.Request, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return upstream.Request{}, err
	}
	q := CleanQuery(u.Query())
	return upstream.Request{
		Method: http.MethodGet,
		Path:   cache.NormalizePath(u.Path),
		Query:  q,
	}, nil
}

// CleanQuery drops utm_* tracking parameters. It returns nil when nothing
// is left.
func CleanQuery(q url.Values) url.Values {
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	if len(q) == 0 {
		return nil
	}
	return q
}
