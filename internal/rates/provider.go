package rates

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultReloadInterval = 5 * time.Minute
	tableCacheKey         = "table"
)

// Logger receives reload diagnostics.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Provider serves the current rate table. When a file path is configured the file is re-read once the
// cached copy expires; a broken file keeps the last good table in service.
type Provider struct {
	base     Table
	path     string
	interval time.Duration
	logger   Logger
	load     func(path string, base Table) (Table, error)

	cache    *cache.Cache
	mu       sync.Mutex
	lastGood Table
}

// Option customises a Provider.
type Option func(*Provider)

// WithFile layers the YAML file at path over the base table.
func WithFile(path string) Option {
	return func(p *Provider) {
		p.path = strings.TrimSpace(path)
	}
}

// WithReloadInterval sets how long a parsed file stays cached.
func WithReloadInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the reload logger.
func WithLogger(logger Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider validates base and returns a Provider serving it.
func NewProvider(base Table, opts ...Option) (*Provider, error) {
	base = base.clone()
	base.BaseCurrency = normaliseCurrency(base.BaseCurrency)
	if err := base.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{
		base:     base,
		interval: defaultReloadInterval,
		logger:   func(context.Context, string, map[string]any) {},
		load:     LoadFile,
		lastGood: base,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.cache = cache.New(p.interval, 2*p.interval)
	if p.path != "" {
		table, err := p.load(p.path, p.base)
		if err != nil {
			return nil, err
		}
		p.lastGood = table
		p.cache.Set(tableCacheKey, table, cache.DefaultExpiration)
	}
	return p, nil
}

// Current returns the active table.
func (p *Provider) Current(ctx context.Context) Table {
	if p.path == "" {
		return p.base
	}
	if cached, ok := p.cache.Get(tableCacheKey); ok {
		return cached.(Table)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.cache.Get(tableCacheKey); ok {
		return cached.(Table)
	}

	table, err := p.load(p.path, p.base)
	if err != nil {
		p.logger(ctx, "rates.reload_failed", map[string]any{
			"path":  p.path,
			"error": err.Error(),
		})
		p.cache.Set(tableCacheKey, p.lastGood, cache.DefaultExpiration)
		return p.lastGood
	}
	p.lastGood = table
	p.cache.Set(tableCacheKey, table, cache.DefaultExpiration)
	p.logger(ctx, "rates.reloaded", map[string]any{"path": p.path})
	return table
}
