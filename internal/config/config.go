// Package config loads satpass settings from defaults, an optional config
// file, SATPASS_* environment variables and bound command-line flags, in
// increasing order of precedence.
//
// Invalid values never stop the process: each one is logged at Warn and
// replaced by its default. The only hard failure is enabling auth without a
// token.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/star/satpass/internal/api"
	"github.com/star/satpass/internal/auth"
	"github.com/star/satpass/internal/catalog"
	"github.com/star/satpass/internal/passes"
	"github.com/star/satpass/internal/propagation"
	"github.com/star/satpass/internal/provider"
	"github.com/star/satpass/internal/stream"
	"github.com/star/satpass/internal/tracker"
)

// EnvPrefix prefixes every environment variable, e.g. SATPASS_HTTP_ADDR.
const EnvPrefix = "SATPASS"

// Archive drivers.
const (
	ArchiveFile   = "file"
	ArchiveSQLite = "sqlite"
	ArchiveNone   = "none"
)

// Config is the full process configuration.
type Config struct {
	HTTP     HTTPConfig
	Auth     auth.Config
	Provider ProviderConfig
	Elements ElementsConfig
	Archive  ArchiveConfig
	Search   SearchConfig
	Cache    CacheConfig
	Stream   stream.Config
	Log      LogConfig
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr              string
	TrustProxy        bool
	RequestsPerSecond float64 // Per client IP; zero disables limiting.
	Burst             int
}

// ProviderConfig configures the upstream clients.
type ProviderConfig struct {
	CelesTrakURL      string
	GeocodeURL        string
	GeocodeAPIKey     string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// ElementsConfig configures element set caching and age limits.
type ElementsConfig struct {
	TTL         time.Duration
	IDsTTL      time.Duration
	FallbackTTL time.Duration
	Freshness   time.Duration
	MaxAge      time.Duration
}

// ArchiveConfig selects where fetched element sets are kept.
type ArchiveConfig struct {
	Driver   string
	Dir      string
	DSN      string
	MaxFiles int
}

// SearchConfig configures the pass search engine.
type SearchConfig struct {
	Step                time.Duration
	Tolerance           time.Duration
	GrazeMargin         float64
	MaxSamples          int
	MaxHorizon          time.Duration
	MaxLookback         time.Duration
	LeadingPolicy       passes.LeadingPolicy
	Workers             int
	DefaultMinElevation float64
	DefaultHours        float64
}

// CacheConfig configures result caching.
type CacheConfig struct {
	JanitorInterval time.Duration
	TransitTTL      time.Duration
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  slog.Level
	Format string // "json" or "text"
}

// Default returns the built-in configuration.
func Default() Config {
	search := passes.DefaultConfig()
	cat := catalog.DefaultConfig()
	trk := tracker.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Provider: ProviderConfig{
			CelesTrakURL:      provider.DefaultCelesTrakURL,
			GeocodeURL:        provider.DefaultGeocodeURL,
			Timeout:           provider.DefaultTimeout,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Elements: ElementsConfig{
			TTL:         cat.ElementsTTL,
			IDsTTL:      cat.NamesTTL,
			FallbackTTL: cat.FallbackTTL,
			Freshness:   trk.FreshnessThreshold,
			MaxAge:      propagation.DefaultMaxAge,
		},
		Archive: ArchiveConfig{
			Driver:   ArchiveFile,
			Dir:      "/tmp/satpass/elements",
			DSN:      "file:/tmp/satpass/elements.db",
			MaxFiles: 5,
		},
		Search: SearchConfig{
			Step:                search.Step,
			Tolerance:           search.Tolerance,
			GrazeMargin:         search.GrazeMarginDeg,
			MaxSamples:          search.MaxSamples,
			MaxHorizon:          search.MaxHorizon,
			MaxLookback:         search.MaxLookback,
			LeadingPolicy:       search.Leading,
			DefaultMinElevation: trk.DefaultMinElevationDeg,
			DefaultHours:        trk.DefaultHorizon.Hours(),
		},
		Cache: CacheConfig{
			JanitorInterval: time.Minute,
			TransitTTL:      trk.TransitTTL,
		},
		Stream: stream.DefaultConfig(),
		Log: LogConfig{
			Level:  slog.LevelInfo,
			Format: "json",
		},
	}
}

// New returns a viper instance wired for satpass: SATPASS_ environment
// variables with "." mapped to "_".
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. path names an explicit config file; when
// empty, satpass.yaml is looked up in the working directory and
// $HOME/.config/satpass, and its absence is not an error.
func Load(v *viper.Viper, path string, logger *slog.Logger) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("satpass")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/satpass")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	} else {
		logger.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	d := Default()
	l := loader{v: v, logger: logger}
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:              l.str("http.addr", d.HTTP.Addr),
			TrustProxy:        l.boolean("http.trust_proxy", d.HTTP.TrustProxy),
			RequestsPerSecond: l.float("http.requests_per_second", d.HTTP.RequestsPerSecond, 0, 1e6),
			Burst:             l.positiveInt("http.burst", d.HTTP.Burst),
		},
		Auth: auth.Config{
			Enabled: l.boolean("auth.enabled", false),
			Token:   l.str("auth.token", ""),
		},
		Provider: ProviderConfig{
			CelesTrakURL:      l.str("provider.celestrak_url", d.Provider.CelesTrakURL),
			GeocodeURL:        l.str("provider.geocode_url", d.Provider.GeocodeURL),
			GeocodeAPIKey:     l.str("provider.geocode_api_key", ""),
			Timeout:           l.duration("provider.timeout", d.Provider.Timeout),
			RequestsPerSecond: l.float("provider.requests_per_second", d.Provider.RequestsPerSecond, 0, 1e6),
			Burst:             l.positiveInt("provider.burst", d.Provider.Burst),
		},
		Elements: ElementsConfig{
			TTL:         l.duration("elements.ttl", d.Elements.TTL),
			IDsTTL:      l.duration("elements.ids_ttl", d.Elements.IDsTTL),
			FallbackTTL: l.duration("elements.fallback_ttl", d.Elements.FallbackTTL),
			Freshness:   l.duration("elements.freshness", d.Elements.Freshness),
			MaxAge:      l.duration("elements.max_age", d.Elements.MaxAge),
		},
		Archive: ArchiveConfig{
			Driver:   l.oneOf("archive.driver", d.Archive.Driver, ArchiveFile, ArchiveSQLite, ArchiveNone),
			Dir:      l.str("archive.dir", d.Archive.Dir),
			DSN:      l.str("archive.dsn", d.Archive.DSN),
			MaxFiles: l.positiveInt("archive.max_files", d.Archive.MaxFiles),
		},
		Search: SearchConfig{
			Step:                l.duration("search.step", d.Search.Step),
			Tolerance:           l.duration("search.tolerance", d.Search.Tolerance),
			GrazeMargin:         l.float("search.graze_margin", d.Search.GrazeMargin, 0, 90),
			MaxSamples:          l.positiveInt("search.max_samples", d.Search.MaxSamples),
			MaxHorizon:          l.duration("search.max_horizon", d.Search.MaxHorizon),
			MaxLookback:         l.duration("search.max_lookback", d.Search.MaxLookback),
			LeadingPolicy:       l.leading("search.leading_policy", d.Search.LeadingPolicy),
			Workers:             l.nonNegativeInt("search.workers", d.Search.Workers),
			DefaultMinElevation: l.float("search.default_min_elevation", d.Search.DefaultMinElevation, -90, 90),
			DefaultHours:        l.float("search.default_hours", d.Search.DefaultHours, 0.001, 7*24),
		},
		Cache: CacheConfig{
			JanitorInterval: l.duration("cache.janitor_interval", d.Cache.JanitorInterval),
			TransitTTL:      l.duration("cache.transit_ttl", d.Cache.TransitTTL),
		},
		Stream: stream.Config{
			MaxConcurrentPerIP: l.positiveInt("stream.max_concurrent", d.Stream.MaxConcurrentPerIP),
			KeepaliveInterval:  l.duration("stream.keepalive", d.Stream.KeepaliveInterval),
			Interval:           l.duration("stream.interval", d.Stream.Interval),
		},
		Log: LogConfig{
			Level:  l.level("log.level", d.Log.Level),
			Format: l.oneOf("log.format", d.Log.Format, "json", "text"),
		},
	}

	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		return Config{}, errors.New("auth.token (SATPASS_AUTH_TOKEN) is required when auth is enabled")
	}
	if cfg.Search.Step < cfg.Search.Tolerance {
		logger.Warn("search.step is finer than search.tolerance, using defaults",
			"step", cfg.Search.Step, "tolerance", cfg.Search.Tolerance)
		cfg.Search.Step, cfg.Search.Tolerance = d.Search.Step, d.Search.Tolerance
	}
	return cfg, nil
}

// loader reads typed values, falling back to a default (with a warning)
// when a value does not parse or is out of range.
type loader struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (l loader) raw(key string) string {
	return strings.TrimSpace(l.v.GetString(key))
}

func (l loader) invalid(key, value string, def any) {
	l.logger.Warn("invalid config value, using default", "key", key, "value", value, "default", def)
}

func (l loader) str(key, def string) string {
	if s := l.raw(key); s != "" {
		return s
	}
	return def
}

func (l loader) boolean(key string, def bool) bool {
	s := l.raw(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		l.invalid(key, s, def)
		return def
	}
	return b
}

// duration accepts Go duration strings ("90s", "2h") or a bare number of
// seconds. Values must be positive.
func (l loader) duration(key string, def time.Duration) time.Duration {
	s := l.raw(key)
	if s == "" {
		return def
	}
	d, err := parseDuration(s)
	if err != nil || d <= 0 {
		l.invalid(key, s, def.String())
		return def
	}
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func (l loader) positiveInt(key string, def int) int {
	s := l.raw(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		l.invalid(key, s, def)
		return def
	}
	return n
}

func (l loader) nonNegativeInt(key string, def int) int {
	s := l.raw(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		l.invalid(key, s, def)
		return def
	}
	return n
}

func (l loader) float(key string, def, lo, hi float64) float64 {
	s := l.raw(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < lo || f > hi {
		l.invalid(key, s, def)
		return def
	}
	return f
}

func (l loader) oneOf(key, def string, allowed ...string) string {
	s := strings.ToLower(l.raw(key))
	if s == "" {
		return def
	}
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	l.invalid(key, s, def)
	return def
}

func (l loader) leading(key string, def passes.LeadingPolicy) passes.LeadingPolicy {
	s := l.raw(key)
	if s == "" {
		return def
	}
	p, err := passes.ParseLeadingPolicy(s)
	if err != nil {
		l.invalid(key, s, def)
		return def
	}
	return p
}

func (l loader) level(key string, def slog.Level) slog.Level {
	s := l.raw(key)
	if s == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		l.invalid(key, s, def.String())
		return def
	}
	return lvl
}

// NewLogger builds the process logger.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Log.Level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// PassesConfig returns the search engine settings.
func (c Config) PassesConfig() passes.Config {
	return passes.Config{
		Step:           c.Search.Step,
		Tolerance:      c.Search.Tolerance,
		GrazeMarginDeg: c.Search.GrazeMargin,
		MaxSamples:     c.Search.MaxSamples,
		MaxHorizon:     c.Search.MaxHorizon,
		MaxLookback:    c.Search.MaxLookback,
		Leading:        c.Search.LeadingPolicy,
	}
}

// PropagationConfig returns the propagator settings.
func (c Config) PropagationConfig() propagation.Config {
	return propagation.Config{MaxAge: c.Elements.MaxAge, Workers: c.Search.Workers}
}

// CatalogConfig returns the element store settings.
func (c Config) CatalogConfig() catalog.Config {
	return catalog.Config{
		ElementsTTL: c.Elements.TTL,
		NamesTTL:    c.Elements.IDsTTL,
		FallbackTTL: c.Elements.FallbackTTL,
		Retry:       provider.DefaultRetry(),
	}
}

// TrackerConfig returns the request defaults.
func (c Config) TrackerConfig() tracker.Config {
	return tracker.Config{
		DefaultMinElevationDeg: c.Search.DefaultMinElevation,
		DefaultHorizon:         time.Duration(c.Search.DefaultHours * float64(time.Hour)),
		FreshnessThreshold:     c.Elements.Freshness,
		TransitTTL:             c.Cache.TransitTTL,
	}
}

// ProviderOptions returns the options for one upstream client.
func (c Config) ProviderOptions(baseURL string) provider.Options {
	return provider.Options{
		BaseURL:           baseURL,
		Timeout:           c.Provider.Timeout,
		RequestsPerSecond: c.Provider.RequestsPerSecond,
		Burst:             c.Provider.Burst,
	}
}

// APIConfig returns the HTTP server settings.
func (c Config) APIConfig() api.Config {
	return api.Config{
		Addr:              c.HTTP.Addr,
		TrustProxy:        c.HTTP.TrustProxy,
		RequestsPerSecond: c.HTTP.RequestsPerSecond,
		Burst:             c.HTTP.Burst,
		Auth:              c.Auth,
	}
}
