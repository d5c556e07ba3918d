// Package config reads proxy and video service settings from an INI file.
//
//	[proxy]
//	capacity = 10
//	eviction_policy = lru
//	ttl = 10m
//	cleanup_interval = 1m
//	init_timeout = 5s
//	warm_concurrency = 4
//
//	[video]
//	startup_delay = 2s
//	fetch_delay = 1.5s
//
// Options that are absent keep their defaults. Durations use Go syntax.
package config

import (
	"time"

	"github.com/barrett370/lazycache"
	"github.com/barrett370/lazycache/proxy"
	"github.com/barrett370/lazycache/videoservice"
	"github.com/hashicorp/go-multierror"
	"github.com/jmgilman/go/errors"
	goconfig "github.com/robfig/config"
)

// Sections of the config file.
const (
	ProxySection = "proxy"
	VideoSection = "video"
)

// Config file keys
const (
	Capacity        = "capacity"
	EvictionPolicy  = "eviction_policy"
	TTL             = "ttl"
	CleanupInterval = "cleanup_interval"
	InitTimeout     = "init_timeout"
	WarmConcurrency = "warm_concurrency"

	StartupDelay = "startup_delay"
	FetchDelay   = "fetch_delay"
)

const defaultWarmConcurrency = 4

type Config struct {
	Capacity        int
	Policy          cache.Policy
	TTL             time.Duration
	CleanupInterval time.Duration
	InitTimeout     time.Duration
	WarmConcurrency int

	Video videoservice.Config
}

func Default() Config {
	return Config{
		Capacity:        cache.DefaultCapacity,
		Policy:          cache.EvictLRU,
		TTL:             cache.NoExpiration,
		WarmConcurrency: defaultWarmConcurrency,
		Video:           videoservice.DefaultConfig(),
	}
}

// Load reads the file at path over the defaults. Every malformed or invalid
// value is reported, not just the first.
func Load(path string) (Config, error) {
	c, err := goconfig.ReadDefault(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "cannot read config file %s", path)
	}

	cfg := Default()
	r := reader{c: c}
	r.getInt(ProxySection, Capacity, &cfg.Capacity)
	r.getPolicy(ProxySection, EvictionPolicy, &cfg.Policy)
	r.getDuration(ProxySection, TTL, &cfg.TTL)
	r.getDuration(ProxySection, CleanupInterval, &cfg.CleanupInterval)
	r.getDuration(ProxySection, InitTimeout, &cfg.InitTimeout)
	r.getInt(ProxySection, WarmConcurrency, &cfg.WarmConcurrency)
	r.getDuration(VideoSection, StartupDelay, &cfg.Video.StartupDelay)
	r.getDuration(VideoSection, FetchDelay, &cfg.Video.FetchDelay)
	if r.errs != nil {
		return Config{}, r.errs
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that all values are usable.
func (cfg Config) Validate() error {
	var errs error
	if cfg.Capacity < 1 {
		errs = multierror.Append(errs, invalid(ProxySection, Capacity, "must be positive"))
	}
	if cfg.Policy != cache.EvictLRU && cfg.Policy != cache.DeclineWhenFull {
		errs = multierror.Append(errs, invalid(ProxySection, EvictionPolicy, "unknown policy"))
	}
	if cfg.TTL < 0 && cfg.TTL != cache.NoExpiration {
		errs = multierror.Append(errs, invalid(ProxySection, TTL, "must not be negative"))
	}
	if cfg.CleanupInterval < 0 {
		errs = multierror.Append(errs, invalid(ProxySection, CleanupInterval, "must not be negative"))
	}
	if cfg.InitTimeout < 0 {
		errs = multierror.Append(errs, invalid(ProxySection, InitTimeout, "must not be negative"))
	}
	if cfg.WarmConcurrency < 1 {
		errs = multierror.Append(errs, invalid(ProxySection, WarmConcurrency, "must be positive"))
	}
	if cfg.Video.StartupDelay < 0 {
		errs = multierror.Append(errs, invalid(VideoSection, StartupDelay, "must not be negative"))
	}
	if cfg.Video.FetchDelay < 0 {
		errs = multierror.Append(errs, invalid(VideoSection, FetchDelay, "must not be negative"))
	}
	return errs
}

// ProxyOptions returns the proxy options described by cfg.
func (cfg Config) ProxyOptions() []proxy.Option {
	return []proxy.Option{
		proxy.WithCapacity(cfg.Capacity),
		proxy.WithPolicy(cfg.Policy),
		proxy.WithTTL(cfg.TTL),
		proxy.WithCleanupInterval(cfg.CleanupInterval),
		proxy.WithInitTimeout(cfg.InitTimeout),
		proxy.WithWarmConcurrency(cfg.WarmConcurrency),
	}
}

// NewProxy builds a proxy in front of the demo video service using cfg.
func (cfg Config) NewProxy() (*proxy.Proxy, error) {
	return proxy.New(videoservice.NewFactory(cfg.Video), cfg.ProxyOptions()...)
}

func invalid(section, option, reason string) error {
	return errors.Newf(errors.CodeInvalidConfig, "%s.%s %s", section, option, reason)
}

// reader collects parse errors so that all of them can be reported together.
type reader struct {
	c    *goconfig.Config
	errs error
}

func (r *reader) getString(section, option string) (string, bool) {
	if !r.c.HasOption(section, option) {
		return "", false
	}
	s, err := r.c.String(section, option)
	if err != nil {
		r.errs = multierror.Append(r.errs, errors.Wrapf(err, errors.CodeInvalidConfig, "%s.%s", section, option))
		return "", false
	}
	return s, true
}

func (r *reader) getInt(section, option string, dst *int) {
	if !r.c.HasOption(section, option) {
		return
	}
	n, err := r.c.Int(section, option)
	if err != nil {
		r.errs = multierror.Append(r.errs, errors.Wrapf(err, errors.CodeInvalidConfig, "%s.%s is not an integer", section, option))
		return
	}
	*dst = n
}

func (r *reader) getDuration(section, option string, dst *time.Duration) {
	s, ok := r.getString(section, option)
	if !ok {
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.errs = multierror.Append(r.errs, errors.Wrapf(err, errors.CodeInvalidConfig, "%s.%s is not a duration", section, option))
		return
	}
	*dst = d
}

func (r *reader) getPolicy(section, option string, dst *cache.Policy) {
	s, ok := r.getString(section, option)
	if !ok {
		return
	}
	p, err := cache.ParsePolicy(s)
	if err != nil {
		r.errs = multierror.Append(r.errs, errors.Wrapf(err, errors.CodeInvalidConfig, "%s.%s", section, option))
		return
	}
	*dst = p
}
