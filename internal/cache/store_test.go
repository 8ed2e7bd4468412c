package cache

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewStore(Windows{Fresh: 15 * time.Minute, Stale: 60 * time.Minute}, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestNewStore_RejectsInvalidWindows(t *testing.T) {
	_, err := NewStore(Windows{Fresh: time.Hour, Stale: time.Hour})
	assert.ErrorIs(t, err, ErrInvalidWindows)

	_, err = NewStore(Windows{Fresh: time.Hour, Stale: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidWindows)
}

func TestStore_ClassifyBoundaries(t *testing.T) {
	s, clock := newTestStore(t)
	ent := s.Set("GET:/posts", json.RawMessage(`[]`), nil, SourcePrimary, "http://a")

	assert.Equal(t, Fresh, s.Classify(ent))

	clock.Advance(15*time.Minute - time.Nanosecond)
	assert.Equal(t, Fresh, s.Classify(ent))

	clock.Advance(time.Nanosecond)
	assert.Equal(t, StaleUsable, s.Classify(ent), "exactly freshWindow is stale-usable")

	clock.Advance(45*time.Minute - time.Nanosecond)
	assert.Equal(t, StaleUsable, s.Classify(ent))

	clock.Advance(time.Nanosecond)
	assert.Equal(t, Expired, s.Classify(ent), "exactly staleWindow is expired")
}

func TestStore_SetReplacesEntry(t *testing.T) {
	s, clock := newTestStore(t)
	s.Set("GET:/posts", json.RawMessage(`{"v":1}`), http.Header{"X-Wp-Total": {"1"}}, SourcePrimary, "http://a")
	clock.Advance(time.Minute)
	s.Set("GET:/posts", json.RawMessage(`{"v":2}`), nil, SourceFallback, "http://b")

	ent, ok := s.Get("GET:/posts")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(ent.Payload))
	assert.Equal(t, SourceFallback, ent.Source)
	assert.Equal(t, "http://b", ent.Origin)
	assert.Nil(t, ent.Header)
	assert.Equal(t, clock.Now(), ent.FetchedAt)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ConcurrentSetsKeepOneEntry(t *testing.T) {
	s, clock := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			s.Set("GET:/properties", json.RawMessage(`{}`), nil, SourcePrimary, "http://a")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
	ent, ok := s.Get("GET:/properties")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), ent.FetchedAt)
}

func TestStore_ClearAll(t *testing.T) {
	s, _ := newTestStore(t)
	for _, k := range []string{"a", "b", "c"} {
		s.Set(k, json.RawMessage(`1`), nil, SourcePrimary, "")
	}

	assert.Equal(t, 3, s.Clear(""))
	for _, k := range []string{"a", "b", "c"} {
		_, ok := s.Get(k)
		assert.False(t, ok, k)
	}
}

func TestStore_ClearByTag(t *testing.T) {
	s, _ := newTestStore(t)
	s.Set("GET:/properties?page=1", json.RawMessage(`1`), nil, SourcePrimary, "")
	s.Set("GET:/properties/7", json.RawMessage(`1`), nil, SourcePrimary, "")
	s.Set("GET:/wp/v2/posts", json.RawMessage(`1`), nil, SourcePrimary, "")

	assert.Equal(t, 2, s.Clear("properties"))
	assert.Equal(t, []string{"GET:/wp/v2/posts"}, s.Stats().Keys)
	assert.Equal(t, 0, s.Clear("pages"))
}

func TestStore_Stats(t *testing.T) {
	s, _ := newTestStore(t)
	s.Set("GET:/b", json.RawMessage(`1`), nil, SourcePrimary, "")
	s.Set("GET:/a", json.RawMessage(`1`), nil, SourcePrimary, "")

	st := s.Stats()
	assert.Equal(t, 2, st.Size)
	assert.Equal(t, []string{"GET:/a", "GET:/b"}, st.Keys)
}

func TestKey(t *testing.T) {
	q := url.Values{"page": {"1"}, "order": {"desc"}}
	assert.Equal(t, "GET:/properties?order=desc&page=1", Key("get", "properties/", q))
	assert.Equal(t, "GET:/properties?page=1", Key("GET", "/properties", url.Values{"page": {"1"}}))
	assert.Equal(t, "HEAD:/", Key("HEAD", "", nil))
	assert.Equal(t, "GET:/wp/v2/posts", Key("GET", "/wp/v2//posts/../posts", nil))
}

func TestCategory(t *testing.T) {
	cases := map[string]string{
		"GET:/properties?page=1":       "properties",
		"GET:/wp/v2/posts/12":          "posts",
		"GET:/wp-json/wp/v2/media?x=1": "media",
		"GET:/acf/v3/options":          "options",
		"GET:/":                        "",
	}
	for key, want := range cases {
		assert.Equal(t, want, Category(key), key)
	}
	assert.True(t, MatchesTag("GET:/wp/v2/Posts", "posts"))
	assert.True(t, MatchesTag("GET:/anything", ""))
}
