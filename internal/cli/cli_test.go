package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigCmd(t *testing.T) {
	out, err := run(t, "config",
		"--primary-origin", "https://cms.example.com/wp-json",
		"--fallback-origins", "https://10.0.0.5/wp-json,https://backup.example.com/wp-json",
		"--fresh-window", "5m",
		"--stale-window", "30m",
	)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "https://cms.example.com/wp-json", got["primary_origin"])
	assert.Equal(t, []any{"https://10.0.0.5/wp-json", "https://backup.example.com/wp-json"}, got["fallback_origins"])
	assert.Equal(t, "5m0s", got["fresh_window"])
	assert.Equal(t, "30m0s", got["stale_window"])
}

func TestConfigCmd_Invalid(t *testing.T) {
	_, err := run(t, "config", "--fresh-window", "1h", "--stale-window", "30m")
	assert.Error(t, err)
}

func TestFetchCmd_FailsOver(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"properties":[],"totalCount":42}`)
	}))
	defer fallback.Close()

	out, err := run(t, "fetch", "/properties?page=1",
		"--primary-origin", primary.URL,
		"--fallback-origins", fallback.URL,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "MISS")
	assert.Contains(t, out, "fallback")
	assert.Contains(t, out, "key=GET:/properties?page=1")
	assert.Contains(t, out, `"totalCount": 42`)
}

func TestFetchCmd_AllFailed(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	out, err := run(t, "fetch", "/posts", "--primary-origin", down.URL)
	require.Error(t, err)
	assert.Contains(t, out, "all origins failed for /posts")
	assert.Contains(t, out, "status 502")
}

func TestStatsCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/cache/stats", r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true,"result":{"size":2,"keys":["GET:/posts","GET:/properties?page=1"]}}`)
	}))
	defer srv.Close()

	out, err := run(t, "stats", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "2 entries")
	assert.Contains(t, out, "GET:/properties?page=1")
	assert.Contains(t, out, "properties")
}

func TestClearCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "properties", r.URL.Query().Get("category"))
		_, _ = io.WriteString(w, `{"success":true,"message":"cleared 2 entries in category \"properties\"","result":{"removedCount":2,"category":"properties"}}`)
	}))
	defer srv.Close()

	out, err := run(t, "clear", "--server", srv.URL, "--category", "properties")
	require.NoError(t, err)
	assert.Contains(t, out, `cleared 2 entries in category "properties"`)
}

func TestClearCmd_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"success":false,"message":"malformed clear request"}`)
	}))
	defer srv.Close()

	_, err := run(t, "clear", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed clear request")
}
