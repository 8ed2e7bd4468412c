// Package purge serves the administrative cache endpoints: clear and stats.
package purge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/content"
	httpx "github.com/hearthlist/wpcache/internal/http"
)

const categoryHeader = "X-Cache-Category"

var ErrBadRequest = errors.New("malformed clear request")

type Clearer interface {
	ClearCache(ctx context.Context, tag string) content.ClearResult
	Stats() cache.Stats
}

type Handler struct {
	Content Clearer
	// DownstreamPurge, when set, receives a PURGE after every clear so an
	// edge cache in front of this service drops its copies too.
	DownstreamPurge string
	HTTPClient      *http.Client
	Log             *zap.Logger
}

type clearPayload struct {
	Category string `json:"category"`
	Tag      string `json:"tag"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	category, err := readCategory(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.Content.ClearCache(r.Context(), category)
	message := clearMessage(res)
	if err := h.purgeDownstream(r.Context(), res.Category); err != nil {
		h.logger().Warn("downstream purge failed", zap.String("category", res.Category), zap.Error(err))
		message += "; downstream purge failed"
	}
	httpx.WriteSuccess(w, http.StatusOK, message, res)
}

// Stats serves the current store size and keys.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteSuccess(w, http.StatusOK, "", h.Content.Stats())
}

func clearMessage(res content.ClearResult) string {
	if res.Category == "" {
		return fmt.Sprintf("cleared %d entries", res.RemovedCount)
	}
	return fmt.Sprintf("cleared %d entries in category %q", res.RemovedCount, res.Category)
}

// readCategory looks at the query string, then the header, then a JSON body.
// A missing category means clear everything.
func readCategory(r *http.Request) (string, error) {
	if v := strings.TrimSpace(r.URL.Query().Get("category")); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(r.Header.Get(categoryHeader)); v != "" {
		return v, nil
	}
	if r.Body == nil {
		return "", nil
	}
	defer r.Body.Close()
	var payload clearPayload
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload)
	switch {
	case errors.Is(err, io.EOF):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if v := strings.TrimSpace(payload.Category); v != "" {
		return v, nil
	}
	return strings.TrimSpace(payload.Tag), nil
}

func (h *Handler) purgeDownstream(ctx context.Context, category string) error {
	if strings.TrimSpace(h.DownstreamPurge) == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, "PURGE", h.DownstreamPurge, nil)
	if err != nil {
		return err
	}
	if category != "" {
		req.Header.Set(categoryHeader, category)
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("downstream purge: status %d", resp.StatusCode)
	}
	return nil
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
