package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/content"
)

const defaultServer = "http://localhost:8080"

// adminClient talks to the admin routes of a running instance.
type adminClient struct {
	base string
	http *http.Client
}

type adminEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newAdminClient(base string) *adminClient {
	return &adminClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *adminClient) Stats(ctx context.Context) (cache.Stats, error) {
	var stats cache.Stats
	_, err := c.do(ctx, http.MethodGet, "/api/cache/stats", nil, &stats)
	return stats, err
}

func (c *adminClient) Clear(ctx context.Context, category string) (content.ClearResult, string, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	var res content.ClearResult
	msg, err := c.do(ctx, http.MethodPost, "/api/cache/clear", q, &res)
	return res, msg, err
}

func (c *adminClient) do(ctx context.Context, method, path string, q url.Values, out any) (string, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var env adminEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err)
	}
	if !env.Success || resp.StatusCode >= 300 {
		return env.Message, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, env.Message)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return env.Message, err
		}
	}
	return env.Message, nil
}
