package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBodyBytes = 32 << 20

// Request is an origin-independent description of an outbound call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Idempotent reports whether the request may be served from cache.
func (r Request) Idempotent() bool {
	switch strings.ToUpper(r.Method) {
	case "", http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher performs a single request against one origin base URL.
type Fetcher interface {
	Fetch(ctx context.Context, origin string, req Request) (Response, error)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	http HTTPDoer
}

// NewClient has no client-level timeout; callers bound each attempt through ctx.
func NewClient(doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{http: doer}
}

func NewHTTPClient(idleTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.IdleConnTimeout = idleTimeout
	return &http.Client{Transport: tr}
}

func (c *Client) Fetch(ctx context.Context, origin string, req Request) (Response, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return Response{}, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + req.Path
	u.RawQuery = req.Query.Encode()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return Response{}, err
	}
	copyHeaders(hreq.Header, req.Header)
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Response{}, err
	}
	if len(data) > maxBodyBytes {
		return Response{}, fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)
	}
	return Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Host":                {},
	"Keep-Alive":          {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Accept-Encoding":     {},
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(k)]; hop {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

var ErrUnsupportedScheme = errors.New("unsupported origin scheme")

// Mux routes each origin to the fetcher registered for its URL scheme.
type Mux struct {
	byScheme map[string]Fetcher
}

func NewMux() *Mux {
	return &Mux{byScheme: map[string]Fetcher{}}
}

func (m *Mux) Handle(scheme string, f Fetcher) *Mux {
	m.byScheme[strings.ToLower(scheme)] = f
	return m
}

func (m *Mux) Fetch(ctx context.Context, origin string, req Request) (Response, error) {
	scheme := "http"
	if i := strings.Index(origin, "://"); i > 0 {
		scheme = strings.ToLower(origin[:i])
	}
	f, ok := m.byScheme[scheme]
	if !ok || f == nil {
		return Response{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return f.Fetch(ctx, origin, req)
}
