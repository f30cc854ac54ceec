package provider

import (
	"net/http"

	"github.com/fogfish/opts"
)

// Options configure an adapter. Every adapter accepts the same set and ignores what
// it has no use for.
type Options struct {
	credential Credential
	baseURL    string
	httpClient *http.Client
	maxTokens  int64
	maxRetries int
}

var (
	// WithCredential sets the API key the adapter authenticates with.
	WithCredential = opts.ForName[Options, Credential]("credential")
	// WithBaseURL points the adapter at a different endpoint, mostly for tests.
	WithBaseURL    = opts.ForName[Options, string]("baseURL")
	WithHTTPClient = opts.ForName[Options, *http.Client]("httpClient")
	// WithMaxTokens caps the reply length for backends that need an explicit limit.
	WithMaxTokens  = opts.ForName[Options, int64]("maxTokens")
	WithMaxRetries = opts.ForName[Options, int]("maxRetries")
)

// DefaultMaxTokens is the reply cap used when none is configured.
const DefaultMaxTokens = 1500

// NewOptions applies options over the defaults.
func NewOptions(options ...opts.Option[Options]) (Options, error) {
	o := Options{
		maxTokens:  DefaultMaxTokens,
		maxRetries: -1,
	}
	if err := opts.Apply(&o, options); err != nil {
		return Options{}, err
	}
	return o, nil
}

func (o Options) Credential() Credential   { return o.credential }
func (o Options) BaseURL() string          { return o.baseURL }
func (o Options) HTTPClient() *http.Client { return o.httpClient }
func (o Options) MaxTokens() int64         { return o.maxTokens }

// MaxRetries returns the configured retry count and whether one was set.
func (o Options) MaxRetries() (int, bool) {
	return o.maxRetries, o.maxRetries >= 0
}
