package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hearthlist/wpcache/internal/content"
	"github.com/hearthlist/wpcache/internal/fetch"
	"github.com/hearthlist/wpcache/internal/upstream"
)

const (
	HeaderCache  = "X-Wpcache-Cache"
	HeaderOrigin = "X-Wpcache-Origin"

	staleWarning = `110 - "Response is Stale"`
)

type ContentService interface {
	Do(ctx context.Context, req upstream.Request, opts content.ReadOptions) (content.Result, error)
}

type Handler struct {
	Content ContentService
	Log     *zap.Logger
}

func NewHandler(svc ContentService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Content: svc, Log: log}
}

type attemptView struct {
	Origin string `json:"origin"`
	Error  string `json:"error"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info, err := ClassifyRequest(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		WriteError(w, status, err.Error())
		return
	}

	res, err := h.Content.Do(r.Context(), info.Request, content.ReadOptions{NoCache: info.NoCache})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeResult(w, r, res)
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	h.Log.Warn("content request failed",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)

	var failed *fetch.AllOriginsFailedError
	if !errors.As(err, &failed) {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	attempts := make([]attemptView, 0, len(failed.Attempts))
	for _, a := range failed.Attempts {
		attempts = append(attempts, attemptView{Origin: a.Origin.BaseURL, Error: a.Err.Error()})
	}
	writeJSON(w, http.StatusBadGateway, map[string]any{
		"success":  false,
		"message":  "all origins failed",
		"attempts": attempts,
	})
}

func writeResult(w http.ResponseWriter, r *http.Request, res content.Result) {
	for k, vv := range res.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.Header().Set(HeaderCache, string(res.State))
	if res.Source != "" {
		w.Header().Set(HeaderOrigin, string(res.Source))
	}
	w.Header().Set("Age", strconv.Itoa(int(res.Age.Seconds())))
	if res.Degraded {
		w.Header().Set("Warning", staleWarning)
	}

	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(res.Payload)
	}
}
