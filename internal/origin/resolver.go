// Package origin turns a logical content path into the ordered list of
// upstream base URLs that may answer it.
package origin

import (
	"sort"
	"strings"

	"github.com/hearthlist/wpcache/internal/cache"
)

// DefaultOrigin is used when no primary origin is configured.
const DefaultOrigin = "http://localhost:8080/wp-json"

type Origin struct {
	BaseURL string
	Source  cache.Source
}

// Rule overrides the origin list for paths under any of its prefixes.
// Rules are tried in ascending Priority order.
type Rule struct {
	Prefixes []string `mapstructure:"prefixes" yaml:"prefixes" validate:"required,min=1,dive,startswith=/"`
	Priority int      `mapstructure:"priority" yaml:"priority"`
	Origins  []string `mapstructure:"origins" yaml:"origins" validate:"required,min=1,dive,url"`
}

func (r Rule) Matches(path string) bool {
	for _, p := range r.Prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

type Resolver struct {
	defaults []Origin
	rules    []ruleOrigins
}

type ruleOrigins struct {
	rule    Rule
	origins []Origin
}

func NewResolver(primary string, fallbacks []string, rules []Rule) *Resolver {
	r := &Resolver{defaults: buildList(append([]string{primary}, fallbacks...))}
	if len(r.defaults) == 0 {
		r.defaults = buildList([]string{DefaultOrigin})
	}

	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	for _, rule := range sorted {
		list := buildList(rule.Origins)
		if len(list) == 0 || len(rule.Prefixes) == 0 {
			continue
		}
		r.rules = append(r.rules, ruleOrigins{rule: rule, origins: list})
	}
	return r
}

// Resolve never returns an empty list. The slice is a copy.
func (r *Resolver) Resolve(logicalPath string) []Origin {
	p := cache.NormalizePath(stripQuery(logicalPath))
	for _, ro := range r.rules {
		if ro.rule.Matches(p) {
			return append([]Origin(nil), ro.origins...)
		}
	}
	return append([]Origin(nil), r.defaults...)
}

func buildList(urls []string) []Origin {
	seen := make(map[string]struct{}, len(urls))
	out := make([]Origin, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		src := cache.SourceFallback
		if len(out) == 0 {
			src = cache.SourcePrimary
		}
		out = append(out, Origin{BaseURL: u, Source: src})
	}
	return out
}

func stripQuery(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
