package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/reviewdash/remote"
)

// HTTPSource fetches the dataset from an HTTP endpoint. The freshness probe is
// a HEAD request reading Last-Modified.
type HTTPSource struct {
	url       string
	format    Format
	collector *colly.Collector
}

// NewHTTPSource builds a source for rawURL with a per-request timeout.
func NewHTTPSource(rawURL string, timeout time.Duration, userAgent string) (*HTTPSource, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse dataset url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("dataset url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(userAgent),
	)
	collector.MaxBodySize = 0
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &HTTPSource{
		url:       rawURL,
		format:    FormatFromName(parsed.Path),
		collector: collector,
	}, nil
}

type httpResult struct {
	body     []byte
	modified string
	status   int
	err      error
}

// do issues one request on a clone of the base collector so callbacks do not
// accumulate across calls.
func (s *HTTPSource) do(ctx context.Context, method string) httpResult {
	if err := ctx.Err(); err != nil {
		return httpResult{err: err}
	}

	c := s.collector.Clone()
	var res httpResult
	c.OnResponse(func(r *colly.Response) {
		res.body = r.Body
		res.status = r.StatusCode
		if r.Headers != nil {
			res.modified = r.Headers.Get("Last-Modified")
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- c.Head(s.url)
			return
		}
		done <- c.Visit(s.url)
	}()

	select {
	case <-ctx.Done():
		return httpResult{err: ctx.Err()}
	case err := <-done:
		res.err = err
		return res
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) (Blob, error) {
	res := s.do(ctx, http.MethodGet)
	if res.err != nil || res.status >= http.StatusBadRequest {
		return Blob{}, remote.Unavailable("fetch dataset", res.err, res.status)
	}
	blob := Blob{Data: res.body}
	if res.modified != "" {
		if t, err := http.ParseTime(res.modified); err == nil {
			blob.LastModified = t
		}
	}
	return blob, nil
}

// LastModified returns the zero time when the endpoint sends no
// Last-Modified header; callers then fall back to the cache TTL.
func (s *HTTPSource) LastModified(ctx context.Context) (time.Time, error) {
	res := s.do(ctx, http.MethodHead)
	if res.err != nil || res.status >= http.StatusBadRequest {
		return time.Time{}, remote.Unavailable("probe dataset", res.err, res.status)
	}
	if res.modified == "" {
		slog.Debug("dataset endpoint sent no Last-Modified header", slog.String("url", s.url))
		return time.Time{}, nil
	}
	t, err := http.ParseTime(res.modified)
	if err != nil {
		return time.Time{}, fmt.Errorf("probe dataset: %w", err)
	}
	return t, nil
}

func (s *HTTPSource) Format() Format { return s.format }

func (s *HTTPSource) String() string { return s.url }
