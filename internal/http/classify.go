package httpx

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/content"
	"github.com/hearthlist/wpcache/internal/upstream"
)

const (
	restPrefix    = "/wp-json"
	proxyPath     = "/api/wordpress"
	maxBypassBody = 10 << 20
)

var (
	ErrMissingEndpoint = errors.New("endpoint parameter required")
	ErrBodyTooLarge    = errors.New("request body too large")
)

type RequestInfo struct {
	Request upstream.Request
	NoCache bool
	Reason  string
}

func (i RequestInfo) Cacheable() bool { return i.Request.Idempotent() }

// ClassifyRequest maps an inbound request to the logical content request
// behind it. Only GET and HEAD are served through the cache.
func ClassifyRequest(r *http.Request) (RequestInfo, error) {
	q := r.URL.Query()
	info := RequestInfo{NoCache: wantsNoCache(r.Header, q)}
	q.Del("nocache")

	var logical string
	switch {
	case r.URL.Path == proxyPath:
		endpoint := strings.TrimSpace(q.Get("endpoint"))
		if endpoint == "" {
			return info, ErrMissingEndpoint
		}
		q.Del("endpoint")
		u, err := url.Parse(endpoint)
		if err != nil {
			return info, err
		}
		for k, vv := range u.Query() {
			for _, v := range vv {
				q.Add(k, v)
			}
		}
		logical = u.Path
	default:
		logical = strings.TrimPrefix(r.URL.Path, restPrefix)
	}

	req := upstream.Request{
		Method: r.Method,
		Path:   cache.NormalizePath(logical),
		Query:  content.CleanQuery(q),
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		// HEAD shares the GET entry; the body is dropped when writing.
		req.Method = http.MethodGet
		info.Reason = "cacheable"
	default:
		body, err := readBody(r)
		if err != nil {
			return info, err
		}
		req.Header = r.Header.Clone()
		req.Body = body
		info.Reason = "method-not-get"
	}
	info.Request = req
	return info, nil
}

func wantsNoCache(h http.Header, q url.Values) bool {
	for _, v := range h.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(d), "no-cache") {
				return true
			}
		}
	}
	switch strings.ToLower(q.Get("nocache")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBypassBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBypassBody {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
