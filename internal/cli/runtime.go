package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hearthlist/wpcache/internal/broadcast"
	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/config"
	"github.com/hearthlist/wpcache/internal/content"
	"github.com/hearthlist/wpcache/internal/fetch"
	"github.com/hearthlist/wpcache/internal/metrics"
	"github.com/hearthlist/wpcache/internal/origin"
	"github.com/hearthlist/wpcache/internal/upstream"
)

const idleConnTimeout = 90 * time.Second

// runtime holds the long-lived components behind the content service.
type runtime struct {
	store   *cache.Store
	service *content.Service
	redis   *redis.Client
	bus     *broadcast.Redis
}

type runtimeOptions struct {
	// Broadcast connects the Redis clear fan-out when RedisAddr is set.
	Broadcast bool
	Metrics   *metrics.Metrics
}

func buildRuntime(ctx context.Context, cfg config.Config, log *zap.Logger, opts runtimeOptions) (*runtime, error) {
	store, err := cache.NewStore(cfg.Windows())
	if err != nil {
		return nil, err
	}

	fetcher, err := buildFetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := fetch.NewEngine(fetch.Dependencies{
		Resolver: origin.NewResolver(cfg.PrimaryOrigin, cfg.FallbackOrigins, cfg.Routes),
		Fetcher:  fetcher,
		Timeout:  cfg.RequestTimeout,
		Logger:   log.Named("fetch"),
		Metrics:  opts.Metrics,
	})

	rt := &runtime{store: store}
	var publisher broadcast.Publisher = broadcast.Nop{}
	if opts.Broadcast && cfg.RedisAddr != "" {
		rt.redis = broadcast.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		rt.bus, err = broadcast.NewRedis(rt.redis, cfg.RedisChannel, log.Named("broadcast"))
		if err != nil {
			_ = rt.redis.Close()
			return nil, err
		}
		publisher = rt.bus
	}

	rt.service = content.NewService(content.Dependencies{
		Store:              store,
		Engine:             engine,
		Publisher:          publisher,
		Logger:             log.Named("content"),
		Metrics:            opts.Metrics,
		RefreshTimeout:     cfg.RefreshTimeout,
		RefreshConcurrency: cfg.RefreshConcurrency,
	})
	return rt, nil
}

// buildFetcher registers http(s) and, when any origin needs it, the S3 mirror.
func buildFetcher(ctx context.Context, cfg config.Config) (upstream.Fetcher, error) {
	client := upstream.NewClient(upstream.NewHTTPClient(idleConnTimeout))
	mux := upstream.NewMux().Handle("http", client).Handle("https", client)
	if !cfg.HasS3Origins() {
		return mux, nil
	}
	s3Client, err := upstream.NewS3Client(ctx, upstream.S3Options{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return mux.Handle("s3", upstream.NewS3Mirror(s3Client)), nil
}

// ready reports whether the optional dependencies are reachable.
func (rt *runtime) ready(ctx context.Context) error {
	if rt.bus == nil {
		return nil
	}
	return rt.bus.Ping(ctx)
}

func (rt *runtime) Close() {
	rt.service.Close()
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}
