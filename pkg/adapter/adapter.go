package adapter

import (
	"context"
	"net/http"
)

// Kind separates backends running on this host from hosted APIs.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Adapter defines the interface for text-generation backends.
type Adapter interface {
	// Generate sends a prompt to the model and returns its reply.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Kind reports whether the adapter talks to a local or remote backend.
	Kind() Kind

	// Models returns the list of supported models.
	Models() []string
}

// Streamer is implemented by adapters that can emit a reply incrementally.
// emit is called once per text chunk; a non-nil error from emit aborts the stream.
type Streamer interface {
	GenerateStream(ctx context.Context, model string, prompt string, emit func(chunk string) error) (*Response, error)
}

// Pinger is implemented by adapters that can probe backend availability.
type Pinger interface {
	Ping(ctx context.Context, model string) error
}

// Ping probes a when it supports probing. Adapters without a probe are
// considered available once constructed.
func Ping(ctx context.Context, a Adapter, model string) error {
	if p, ok := a.(Pinger); ok {
		return p.Ping(ctx, model)
	}
	return nil
}

// Option configures adapter construction.
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
	maxTokens  int
}

// WithBaseURL points the adapter at a non-default endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient overrides the HTTP client used by raw HTTP adapters.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		o.maxTokens = n
	}
}

func buildOptions(opts []Option) options {
	o := options{maxTokens: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	if o.maxTokens <= 0 {
		o.maxTokens = 1000
	}
	return o
}
