package origin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthlist/wpcache/internal/cache"
)

func TestResolve_PrimaryThenFallbacks(t *testing.T) {
	r := NewResolver("https://cms.example.com/wp-json/", []string{"http://10.0.0.5/wp-json", "https://cms.example.com/wp-json"}, nil)

	got := r.Resolve("/properties?page=1")
	assert.Equal(t, []Origin{
		{BaseURL: "https://cms.example.com/wp-json", Source: cache.SourcePrimary},
		{BaseURL: "http://10.0.0.5/wp-json", Source: cache.SourceFallback},
	}, got)
}

func TestResolve_DefaultWhenUnconfigured(t *testing.T) {
	r := NewResolver("", nil, nil)
	assert.Equal(t, []Origin{{BaseURL: DefaultOrigin, Source: cache.SourcePrimary}}, r.Resolve("/anything"))
}

func TestResolve_FirstFallbackBecomesPrimary(t *testing.T) {
	r := NewResolver("  ", []string{"http://mirror"}, nil)
	assert.Equal(t, []Origin{{BaseURL: "http://mirror", Source: cache.SourcePrimary}}, r.Resolve("/x"))
}

func TestResolve_Rules(t *testing.T) {
	rules := []Rule{
		{Prefixes: []string{"/wp/v2"}, Priority: 10, Origins: []string{"http://wp"}},
		{Prefixes: []string{"/properties", "/agents"}, Priority: 1, Origins: []string{"http://listings", "s3://snapshots/listings"}},
		{Prefixes: []string{"/ignored"}, Priority: 0},
	}
	r := NewResolver("http://default", nil, rules)

	assert.Equal(t, []Origin{
		{BaseURL: "http://listings", Source: cache.SourcePrimary},
		{BaseURL: "s3://snapshots/listings", Source: cache.SourceFallback},
	}, r.Resolve("/properties/12?x=1"))
	assert.Equal(t, "http://wp", r.Resolve("wp/v2/posts")[0].BaseURL)
	assert.Equal(t, "http://default", r.Resolve("/ignored/path")[0].BaseURL)
}

func TestResolve_ReturnsCopy(t *testing.T) {
	r := NewResolver("http://a", []string{"http://b"}, nil)
	got := r.Resolve("/")
	got[0].BaseURL = "mutated"
	assert.Equal(t, "http://a", r.Resolve("/")[0].BaseURL)
}
