// Package httpclient builds the http.Clients the services use to talk to
// their upstreams.
package httpclient

import (
	"net/http"
	"time"
)

// Service-to-service defaults. Calls sitting inside a turn's deadline budget
// take the short timeout; background work takes the medium one.
const (
	TimeoutShort  = 10 * time.Second
	TimeoutMedium = 30 * time.Second
)

type Option func(*http.Client)

func WithTimeout(d time.Duration) Option {
	return func(c *http.Client) { c.Timeout = d }
}

// WithTransport swaps the transport, usually for otelhttp instrumentation.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *http.Client) { c.Transport = rt }
}

// New returns a client tuned for repeated JSON calls to one upstream: pooled
// keep-alive connections and the medium timeout unless an option says
// otherwise.
func New(opts ...Option) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16

	c := &http.Client{
		Timeout:   TimeoutMedium,
		Transport: transport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewShort is New with the short timeout.
func NewShort(opts ...Option) *http.Client {
	return New(append([]Option{WithTimeout(TimeoutShort)}, opts...)...)
}
