package purge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/content"
)

func newService(t *testing.T, keys ...string) (*content.Service, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(cache.Windows{Fresh: time.Minute, Stale: time.Hour})
	require.NoError(t, err)
	for _, k := range keys {
		store.Set(k, json.RawMessage(`{}`), nil, cache.SourcePrimary, "http://origin")
	}
	svc := content.NewService(content.Dependencies{Store: store})
	t.Cleanup(svc.Close)
	return svc, store
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestClear_All(t *testing.T) {
	svc, store := newService(t, "a", "b", "c")
	h := &Handler{Content: svc}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "cleared 3 entries", env.Message)
	assert.JSONEq(t, `{"removedCount":3}`, string(env.Result))
	assert.Equal(t, 0, store.Len())
}

func TestClear_CategorySources(t *testing.T) {
	keys := []string{"GET:/properties?page=1", "GET:/properties?page=2", "GET:/posts"}

	cases := map[string]func(*http.Request){
		"query":  func(r *http.Request) { r.URL.RawQuery = "category=properties" },
		"header": func(r *http.Request) { r.Header.Set("X-Cache-Category", "properties") },
	}
	for name, prepare := range cases {
		t.Run(name, func(t *testing.T) {
			svc, store := newService(t, keys...)
			h := &Handler{Content: svc}
			req := httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil)
			prepare(req)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"removedCount":2,"category":"properties"}`, string(decode(t, rec).Result))
			assert.Equal(t, 1, store.Len())
		})
	}

	for _, body := range []string{`{"category":"properties"}`, `{"tag":"properties"}`} {
		t.Run(body, func(t *testing.T) {
			svc, store := newService(t, keys...)
			h := &Handler{Content: svc}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/clear", strings.NewReader(body)))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, 1, store.Len())
		})
	}
}

func TestClear_MalformedBody(t *testing.T) {
	svc, store := newService(t, "a")
	h := &Handler{Content: svc}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/clear", strings.NewReader(`{nope`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decode(t, rec).Success)
	assert.Equal(t, 1, store.Len())
}

func TestClear_DownstreamPurge(t *testing.T) {
	var gotMethod, gotCategory string
	edge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCategory = r.Header.Get("X-Cache-Category")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer edge.Close()

	svc, _ := newService(t, "GET:/posts")
	h := &Handler{Content: svc, DownstreamPurge: edge.URL + "/purge"}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/clear?category=posts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PURGE", gotMethod)
	assert.Equal(t, "posts", gotCategory)
	assert.Equal(t, `cleared 1 entries in category "posts"`, decode(t, rec).Message)
}

func TestClear_DownstreamPurgeFailureStillClears(t *testing.T) {
	edge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer edge.Close()

	svc, store := newService(t, "a")
	h := &Handler{Content: svc, DownstreamPurge: edge.URL}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec).Message, "downstream purge failed")
	assert.Equal(t, 0, store.Len())
}

func TestStats(t *testing.T) {
	svc, _ := newService(t, "GET:/b", "GET:/a")
	h := &Handler{Content: svc}

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"size":2,"keys":["GET:/a","GET:/b"]}`, string(env.Result))
}

func TestReadCategory_Precedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/cache/clear?category=query", strings.NewReader(`{"category":"body"}`))
	req.Header.Set("X-Cache-Category", "header")
	got, err := readCategory(req)
	require.NoError(t, err)
	assert.Equal(t, "query", got)
}
