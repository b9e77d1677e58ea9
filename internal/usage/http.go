package usage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"
)

// Response bodies larger than this are rejected.
const maxBodyBytes = 1 << 20

// HTTPSource polls a JSON endpoint. Repeated failures open a circuit breaker
// so a dead endpoint fails fast until it has had time to recover.
type HTTPSource struct {
	url     string
	paths   Paths
	client  *http.Client
	header  http.Header
	breaker *gobreaker.CircuitBreaker
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithClient replaces the default client.
func WithClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithHeader adds a request header, typically Authorization.
func WithHeader(key, value string) HTTPOption {
	return func(s *HTTPSource) { s.header.Add(key, value) }
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(failures uint32, openFor time.Duration) HTTPOption {
	return func(s *HTTPSource) { s.breaker = newBreaker(s.url, failures, openFor) }
}

// NewHTTPSource creates a source reading url.
func NewHTTPSource(url string, paths Paths, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url:    url,
		paths:  paths,
		client: &http.Client{Timeout: 10 * time.Second},
		header: http.Header{},
	}
	s.breaker = newBreaker(url, 5, time.Minute)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newBreaker(name string, failures uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (Usage, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return Usage{}, err
	}
	return res.(Usage), nil
}

// State reports the breaker state.
func (s *HTTPSource) State() gobreaker.State {
	return s.breaker.State()
}

func (s *HTTPSource) fetch(ctx context.Context) (Usage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to build usage request: %w", err)
	}
	for k, vs := range s.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := s.client.Do(req)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to fetch usage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Usage{}, fmt.Errorf("usage endpoint returned %s", resp.Status)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return Usage{}, err
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read usage response: %w", err)
	}
	return Parse(data, s.paths)
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode gzip response: %w", err)
		}
		return zr, nil
	default:
		return resp.Body, nil
	}
}
