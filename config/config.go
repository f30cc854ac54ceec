// Package config reads process configuration from the environment once at startup.
// Nothing in it changes after Load returns.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/casualjim/garden/history"
	"github.com/casualjim/garden/pkg/slogx"
	"github.com/casualjim/garden/provider"
	"github.com/casualjim/garden/provider/anthropic"
	"github.com/casualjim/garden/provider/gemini"
	"github.com/casualjim/garden/provider/openai"
	"github.com/casualjim/garden/provider/perplexity"
	"github.com/joho/godotenv"
)

const (
	DefaultTemperature = 0.7
	DefaultHTTPAddr    = ":8080"
	DefaultHistoryKind = history.KindNone
	DefaultSessionKind = "memory"
	DefaultEventsKind  = "local"
)

// LookupFunc reads one variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type Config struct {
	Credentials map[provider.AdapterID]provider.Credential

	DefaultTemperature float64

	History        history.BackendSpec
	SessionBackend string
	RedisURL       string

	// EventsBackend is where session events fan out: "local" or "nats".
	EventsBackend string
	NATSURL       string

	HTTPAddr string
	LogLevel slog.Level
}

// FromEnvironment loads .env, when present, and reads the process environment.
func FromEnvironment() (*Config, error) {
	_ = godotenv.Load(".env")
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup.
func Load(lookup LookupFunc) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{
		Credentials: map[provider.AdapterID]provider.Credential{},
		HTTPAddr:    DefaultHTTPAddr,
	}
	for id, name := range credentialNames {
		cfg.Credentials[id] = provider.Credential{Name: name, Value: get(name)}
	}

	temp, err := parseTemperature(get("DEFAULT_TEMPERATURE"))
	if err != nil {
		return nil, err
	}
	cfg.DefaultTemperature = temp

	bucket := get("HISTORY_BUCKET")
	if bucket == "" {
		bucket = get("GCS_BUCKET_NAME")
	}
	kind := strings.ToLower(get("HISTORY_BACKEND"))
	if kind == "" {
		kind = DefaultHistoryKind
		if bucket != "" {
			kind = history.KindNATS
		}
	}
	cfg.RedisURL = get("REDIS_URL")
	cfg.NATSURL = get("NATS_URL")
	cfg.History = history.BackendSpec{
		Kind:      kind,
		Bucket:    bucket,
		NATSURL:   cfg.NATSURL,
		RedisURL:  cfg.RedisURL,
		PebbleDir: get("PEBBLE_DIR"),
	}

	cfg.SessionBackend = strings.ToLower(get("SESSION_BACKEND"))
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = DefaultSessionKind
	}

	cfg.EventsBackend = strings.ToLower(get("EVENTS_BACKEND"))
	if cfg.EventsBackend == "" {
		cfg.EventsBackend = DefaultEventsKind
	}

	if addr := get("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	cfg.LogLevel = slogx.ParseLevel(get("LOG_LEVEL"), slog.LevelInfo)
	return cfg, nil
}

var credentialNames = map[provider.AdapterID]string{
	provider.Gemini:     gemini.CredentialName,
	provider.OpenAI:     openai.CredentialName,
	provider.Anthropic:  anthropic.CredentialName,
	provider.Perplexity: perplexity.CredentialName,
}

func parseTemperature(raw string) (float64, error) {
	if raw == "" {
		return DefaultTemperature, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("DEFAULT_TEMPERATURE: %w", err)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("DEFAULT_TEMPERATURE must be between 0 and 1, got %v", v)
	}
	return v, nil
}

// Configured reports whether the adapter has a credential.
func (c *Config) Configured(id provider.AdapterID) bool {
	return c.Credentials[id].Value != ""
}

// Providers builds every adapter. Adapters without a credential are still built: they
// answer each turn with a configuration error instead of calling their backend.
func (c *Config) Providers() ([]provider.Provider, error) {
	gem, err := gemini.New(provider.WithCredential(c.Credentials[provider.Gemini]))
	if err != nil {
		return nil, err
	}
	oa, err := openai.New(provider.WithCredential(c.Credentials[provider.OpenAI]))
	if err != nil {
		return nil, err
	}
	an, err := anthropic.New(provider.WithCredential(c.Credentials[provider.Anthropic]))
	if err != nil {
		return nil, err
	}
	px, err := perplexity.New(provider.WithCredential(c.Credentials[provider.Perplexity]))
	if err != nil {
		return nil, err
	}
	return []provider.Provider{gem, oa, an, px}, nil
}
