package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Content *Handler
	Clear   http.Handler
	Stats   http.Handler
	Metrics http.Handler
	// Ready is optional. A non-nil error fails /readyz.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteSuccess(w, http.StatusOK, "", map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				WriteError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		WriteSuccess(w, http.StatusOK, "", map[string]string{"status": "ready"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	if deps.Content != nil {
		r.Handle(restPrefix+"/*", deps.Content)
		r.Get(proxyPath, deps.Content.ServeHTTP)
		r.Head(proxyPath, deps.Content.ServeHTTP)
	}

	if deps.Clear != nil {
		r.Method(http.MethodPost, "/api/cache/clear", deps.Clear)
	}
	if deps.Stats != nil {
		r.Method(http.MethodGet, "/api/cache/stats", deps.Stats)
	}
	return r
}
