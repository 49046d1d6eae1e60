package branchplan

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/branchplan/pkg/branchplan/observability"
)

// Context is passed to node functions. It extends context.Context with
// run metadata and the run logger.
//
// Context is immutable. The executor derives a per-node context with the
// node ID set and the logger enriched.
type Context interface {
	context.Context

	// Logger returns the run logger enriched with run and node fields.
	// Never returns nil.
	Logger() *slog.Logger

	// RunID returns the identifier of the current run.
	RunID() string

	// NodeID returns the node being evaluated, empty outside a node.
	NodeID() string

	// Mode returns the execution mode of the current run.
	Mode() ExecutionMode
}

type executionContext struct {
	context.Context

	root   *slog.Logger
	logger *slog.Logger
	runID  string
	nodeID string
	mode   ExecutionMode
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) RunID() string        { return c.runID }
func (c *executionContext) NodeID() string       { return c.nodeID }
func (c *executionContext) Mode() ExecutionMode  { return c.mode }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithContextLogger sets the logger for the context.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.root = logger
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier. A UUID is generated otherwise.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// WithContextMode sets the execution mode reported by the context.
func WithContextMode(mode ExecutionMode) ContextOption {
	return func(c *executionContext) {
		c.mode = mode
	}
}

// NewContext wraps ctx into a node Context. Mainly useful for testing node
// functions in isolation; the runtime builds its own contexts.
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		root:    slog.Default(),
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// withMode returns a copy bound to the given execution mode.
func (c *executionContext) withMode(mode ExecutionMode) *executionContext {
	cp := *c
	cp.mode = mode
	cp.logger = c.root.With("run_id", c.runID, "mode", string(mode))
	return &cp
}

// withNodeID returns a per-node copy with an enriched logger.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	cp := *c
	cp.nodeID = nodeID
	cp.logger = observability.EnrichLogger(c.root, c.runID, nodeID, string(c.mode))
	return &cp
}

// withParent returns a copy that derives cancellation and values from ctx.
func (c *executionContext) withParent(ctx context.Context) *executionContext {
	cp := *c
	cp.Context = ctx
	return &cp
}
