package collector

import (
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/gaps"
)

// NewWithDefaults creates a Collector for a full exchange adapter with the
// default configuration.
func NewWithDefaults(adapter exchange.ExchangeAdapter, store SeriesStore) (*Collector, error) {
	return NewBuilder().WithExchange(adapter).WithStorage(store).Build()
}

// CollectorBuilder provides a builder pattern for creating collectors
type CollectorBuilder struct {
	fetcher exchange.CandleFetcher
	profile exchange.Profile
	store   SeriesStore
	planner gaps.WindowPlanner
	config  *Config
}

// NewBuilder creates a new collector builder
func NewBuilder() *CollectorBuilder {
	return &CollectorBuilder{
		config: DefaultConfig(),
	}
}

// WithExchange sets the fetcher and profile from a full adapter
func (b *CollectorBuilder) WithExchange(adapter exchange.ExchangeAdapter) *CollectorBuilder {
	if adapter != nil {
		b.fetcher = adapter
		b.profile = adapter.Profile()
	}
	return b
}

// WithFetcher sets a bare fetcher together with the profile that sizes its windows
func (b *CollectorBuilder) WithFetcher(fetcher exchange.CandleFetcher, profile exchange.Profile) *CollectorBuilder {
	b.fetcher = fetcher
	b.profile = profile
	return b
}

// WithStorage sets the series store
func (b *CollectorBuilder) WithStorage(store SeriesStore) *CollectorBuilder {
	b.store = store
	return b
}

// WithPlanner replaces the default window planner
func (b *CollectorBuilder) WithPlanner(planner gaps.WindowPlanner) *CollectorBuilder {
	b.planner = planner
	return b
}

// WithConfig sets the configuration
func (b *CollectorBuilder) WithConfig(config *Config) *CollectorBuilder {
	if config != nil {
		b.config = config
	}
	return b
}

// WithLogger sets the logger
func (b *CollectorBuilder) WithLogger(logger *slog.Logger) *CollectorBuilder {
	b.config.Logger = logger
	return b
}

// WithFloor sets the start of history for empty series
func (b *CollectorBuilder) WithFloor(floor time.Time) *CollectorBuilder {
	b.config.Floor = floor.UTC()
	return b
}

// WithRetryPolicy sets the per window retry budget
func (b *CollectorBuilder) WithRetryPolicy(policy apperrors.RetryPolicy) *CollectorBuilder {
	b.config.Retry = policy
	return b
}

// WithClock sets the clock used to resolve "now"
func (b *CollectorBuilder) WithClock(now func() time.Time) *CollectorBuilder {
	b.config.Now = now
	return b
}

// Build creates the collector with the configured options
func (b *CollectorBuilder) Build() (*Collector, error) {
	if b.fetcher == nil {
		return nil, fmt.Errorf("exchange adapter is required")
	}

	if b.store == nil {
		return nil, fmt.Errorf("storage adapter is required")
	}

	c, err := New(b.fetcher, b.profile, b.store, b.config)
	if err != nil {
		return nil, err
	}
	if b.planner != nil {
		c.planner = b.planner
	}
	return c, nil
}
