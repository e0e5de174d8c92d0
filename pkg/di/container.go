package di

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-entity-session/dirtycheck"
	"github.com/goliatone/go-entity-session/hydration"
	"github.com/goliatone/go-entity-session/internal/plancache"
	"github.com/goliatone/go-entity-session/pkg/metrics"
	"github.com/goliatone/go-entity-session/session"
	"github.com/goliatone/go-entity-session/sessionrepo"
)

// Container provides dependency injection for the session components. It
// manages the process-wide singletons (metrics recorder, update-shape
// tracker, compiled plan registry) and provides factory methods for
// per-transaction scopes and session-bound repositories.
type Container struct {
	config   session.Config
	planCfg  plancache.Config
	recorder *metrics.Recorder
	shapes   *dirtycheck.ShapeTracker
	plans    *plancache.Registry
}

// NewContainer creates a new DI container with the provided session and plan
// registry configuration. Metrics register against reg; a nil reg builds a
// working recorder that is simply not exported anywhere.
func NewContainer(cfg session.Config, planCfg plancache.Config, reg prometheus.Registerer) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return nil, err
	}

	plans, err := plancache.NewRegistry(planCfg)
	if err != nil {
		return nil, err
	}

	return &Container{
		config:   cfg,
		planCfg:  planCfg,
		recorder: recorder,
		shapes:   dirtycheck.NewShapeTracker(cfg.MaxUpdateShapes),
		plans:    plans,
	}, nil
}

// NewContainerWithDefaults creates a new DI container using default
// configuration and no metrics registration. This is a convenience
// constructor for typical use cases where custom configuration is not
// required.
func NewContainerWithDefaults() (*Container, error) {
	return NewContainer(session.DefaultConfig(), plancache.DefaultConfig(), nil)
}

// Config returns a copy of the session configuration used by this container.
func (c *Container) Config() session.Config {
	return c.config
}

// Recorder returns the singleton metrics recorder.
func (c *Container) Recorder() *metrics.Recorder {
	return c.recorder
}

// Shapes returns the process-wide update-shape tracker. All scopes built by
// this container share it, so the per-type shape ceiling spans transactions.
func (c *Container) Shapes() *dirtycheck.ShapeTracker {
	return c.shapes
}

// NewScope creates a transaction scope using the container's configuration,
// wired to the shared recorder and shape tracker.
func (c *Container) NewScope() (*session.Scope, error) {
	return c.NewScopeWith(c.config)
}

// NewScopeWith creates a transaction scope with a per-transaction
// configuration override, typically a different isolation level or the
// read-only flag.
func (c *Container) NewScopeWith(cfg session.Config) (*session.Scope, error) {
	return session.NewWithDeps(cfg, session.Deps{
		Metrics: c.recorder,
		Shapes:  c.shapes,
	})
}

// CompilePlan returns the column plan for the given query fingerprint,
// compiling and memoizing it on first use. Plans are process-wide: two
// scopes resolving the same fingerprint share one compiled plan.
func (c *Container) CompilePlan(ctx context.Context, fingerprint string, compile func(context.Context) (*hydration.ColumnPlan, error)) (*hydration.ColumnPlan, error) {
	return c.plans.GetOrCompile(ctx, fingerprint, compile)
}

// EvictPlan removes a memoized plan, forcing recompilation on next use.
// Schema migrations that change a query's column layout call this.
func (c *Container) EvictPlan(fingerprint string) {
	c.plans.Delete(fingerprint)
}

// NewSessionRepository creates a repository bound to the given scope. It
// wires the base repository and scope together so writes keep the scope's
// entity cache coherent.
//
// Since Go methods cannot have type parameters, this is provided as a
// package-level function.
// Example: NewSessionRepository[User](container, baseUserRepository, scope)
func NewSessionRepository[T any](container *Container, base repository.Repository[T], scope *session.Scope) *sessionrepo.SessionRepository[T] {
	return sessionrepo.New(base, scope, sessionrepo.Options[T]{
		Logger: container.config.Logger,
	})
}
