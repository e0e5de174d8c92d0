// Package plancache memoizes compiled column plans process-wide. Plans are
// compiled once per distinct query shape by the SQL/join compiler and are
// immutable after validation, so they are safe to share across transactions.
// The registry is the one piece of this core that outlives a scope; sturdyc
// brings its own sharded synchronization.
package plancache

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-entity-session/hydration"
)

// Config holds the sturdyc parameters for the plan registry.
type Config struct {
	// Capacity is the maximum number of cached plans. Must be greater than 0.
	Capacity int

	// NumShards controls concurrent access sharding. Must be greater than 0.
	NumShards int

	// TTL is how long a compiled plan stays cached. Must be greater than 0;
	// plans are cheap to keep and expensive to recompile, so default is long.
	TTL time.Duration

	// EvictionPercentage is the share of entries evicted at capacity, 1-100.
	EvictionPercentage int
}

// DefaultConfig returns registry defaults sized for a typical application's
// distinct query-shape population.
func DefaultConfig() Config {
	return Config{
		Capacity:           2048,
		NumShards:          64,
		TTL:                12 * time.Hour,
		EvictionPercentage: 10,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	return nil
}

// ConfigError reports an invalid registry configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "plan registry config error in field " + e.Field + ": " + e.Message
}

// CompileFunc produces a validated plan for one query-shape fingerprint.
type CompileFunc func(ctx context.Context) (*hydration.ColumnPlan, error)

// Registry caches compiled plans keyed by query-shape fingerprint.
type Registry struct {
	client *sturdyc.Client[*hydration.ColumnPlan]
}

// NewRegistry builds a registry from cfg.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[*hydration.ColumnPlan](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
	)
	return &Registry{client: client}, nil
}

// GetOrCompile returns the cached plan for fingerprint, running compile at
// most once per fingerprint per TTL window. The compiled plan is validated
// before it is cached; an invalid plan is never served.
func (r *Registry) GetOrCompile(ctx context.Context, fingerprint string, compile CompileFunc) (*hydration.ColumnPlan, error) {
	return r.client.GetOrFetch(ctx, fingerprint, func(ctx context.Context) (*hydration.ColumnPlan, error) {
		plan, err := compile(ctx)
		if err != nil {
			return nil, err
		}
		if err := plan.Validate(); err != nil {
			return nil, err
		}
		return plan, nil
	})
}

// Delete evicts one fingerprint, forcing recompilation on next use.
func (r *Registry) Delete(fingerprint string) {
	r.client.Delete(fingerprint)
}
