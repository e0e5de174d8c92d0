package session

import (
	"database/sql"
	"io"
	"log/slog"

	"github.com/goliatone/go-entity-session/dirtycheck"
	"github.com/goliatone/go-entity-session/entitycache"
)

// Config exposes the session options consumers tune per scope.
type Config struct {
	// Isolation is the transaction's isolation level; it drives the entity
	// cache read/write policy. Below RepeatableRead identity reads are
	// disabled and only dirty-check baselines are recorded.
	Isolation sql.IsolationLevel

	// ReadOnly scopes always serve the full identity cache.
	ReadOnly bool

	// UpdateMode is the default dirty-check mode; UpdateModeByType overrides
	// it per entity type.
	UpdateMode       dirtycheck.Mode
	UpdateModeByType map[string]dirtycheck.Mode

	// CompareStrategy is the default field comparison strategy;
	// CompareStrategyByType overrides it per entity type.
	CompareStrategy       dirtycheck.Strategy
	CompareStrategyByType map[string]dirtycheck.Strategy

	// MaxUpdateShapes is the distinct update-shape ceiling per entity type
	// under field mode. Zero disables the ceiling.
	MaxUpdateShapes int

	// Retention selects strong or minimal entry retention; RetentionCapacity
	// bounds the entry count under minimal retention.
	Retention         entitycache.RetentionMode
	RetentionCapacity int

	// Logger receives scope lifecycle events. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns a Config populated with sensible defaults: field-level
// dirty checking with by-value comparison, strong retention, and a modest
// update-shape ceiling.
func DefaultConfig() Config {
	return Config{
		Isolation:       sql.LevelDefault,
		UpdateMode:      dirtycheck.ModeField,
		CompareStrategy: dirtycheck.CompareByValue,
		MaxUpdateShapes: 8,
		Retention:       entitycache.RetentionStrong,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.UpdateMode < dirtycheck.ModeOff || c.UpdateMode > dirtycheck.ModeField {
		return &ConfigError{Field: "UpdateMode", Message: "unknown mode"}
	}
	for typeName, m := range c.UpdateModeByType {
		if m < dirtycheck.ModeOff || m > dirtycheck.ModeField {
			return &ConfigError{Field: "UpdateModeByType[" + typeName + "]", Message: "unknown mode"}
		}
	}
	if c.CompareStrategy < dirtycheck.CompareByReference || c.CompareStrategy > dirtycheck.CompareByValue {
		return &ConfigError{Field: "CompareStrategy", Message: "unknown strategy"}
	}
	for typeName, s := range c.CompareStrategyByType {
		if s < dirtycheck.CompareByReference || s > dirtycheck.CompareByValue {
			return &ConfigError{Field: "CompareStrategyByType[" + typeName + "]", Message: "unknown strategy"}
		}
	}
	if c.MaxUpdateShapes < 0 {
		return &ConfigError{Field: "MaxUpdateShapes", Message: "must be non-negative"}
	}
	if c.RetentionCapacity < 0 {
		return &ConfigError{Field: "RetentionCapacity", Message: "must be non-negative"}
	}
	if c.Retention != entitycache.RetentionStrong && c.Retention != entitycache.RetentionMinimal {
		return &ConfigError{Field: "Retention", Message: "unknown retention mode"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "session config error in field " + e.Field + ": " + e.Message
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
