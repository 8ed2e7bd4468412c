package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearthlist/wpcache/internal/broadcast"
	"github.com/hearthlist/wpcache/internal/config"
	httpx "github.com/hearthlist/wpcache/internal/http"
	"github.com/hearthlist/wpcache/internal/logger"
	"github.com/hearthlist/wpcache/internal/metrics"
	"github.com/hearthlist/wpcache/internal/purge"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the caching HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rt, err := buildRuntime(ctx, cfg, log, runtimeOptions{Broadcast: true, Metrics: m})
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.bus != nil {
		go subscribeClears(ctx, rt, log)
	}

	purgeHandler := &purge.Handler{
		Content:         rt.service,
		DownstreamPurge: cfg.DownstreamPurgeURL,
		HTTPClient:      &http.Client{Timeout: cfg.RequestTimeout},
		Log:             log.Named("purge"),
	}
	router := httpx.NewRouter(httpx.RouterDeps{
		Content: httpx.NewHandler(rt.service, log.Named("http")),
		Clear:   purgeHandler,
		Stats:   http.HandlerFunc(purgeHandler.Stats),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:   rt.ready,
		Logger:  log.Named("access"),
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Strings("origins", cfg.AllOrigins()),
			zap.Duration("fresh_window", cfg.FreshWindow),
			zap.Duration("stale_window", cfg.StaleWindow),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// subscribeClears applies clears from other replicas, reconnecting until ctx
// is done.
func subscribeClears(ctx context.Context, rt *runtime, log *zap.Logger) {
	for {
		err := rt.bus.Subscribe(ctx, func(ev broadcast.ClearEvent) {
			n := rt.service.ApplyRemoteClear(ev)
			log.Info("applied remote clear", zap.String("category", ev.Category), zap.Int("removed", n))
		})
		if ctx.Err() != nil {
			return
		}
		log.Warn("clear subscription ended, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
