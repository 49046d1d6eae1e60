package branchplan

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates the graph has no entry node, neither explicit
	// nor inferred (every node has an inbound connection).
	ErrNoEntryPoint = errors.New("no entry node")

	// ErrEntryNotFound indicates an explicit entry references a non-existent node.
	ErrEntryNotFound = errors.New("entry node not found")

	// ErrNodeNotFound indicates a connection references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrPortNotFound indicates a connection references an undeclared port.
	ErrPortNotFound = errors.New("port not declared")

	// ErrEmptyGraph indicates Compile was called on a graph without nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")
)

// Sentinel errors for planning and execution.
var (
	// ErrPlanInvalid is wrapped by every PlanValidationError.
	ErrPlanInvalid = errors.New("execution plan invalid")

	// ErrReplanLimit indicates multi-pass planning exceeded the pass cap.
	ErrReplanLimit = errors.New("exceeded maximum replanning passes")

	// ErrBranchResultMissing is wrapped by every MissingBranchResultError.
	ErrBranchResultMissing = errors.New("branch result not available")

	// ErrIncompatiblePattern is wrapped by every IncompatiblePatternError.
	ErrIncompatiblePattern = errors.New("pattern incompatible with branch skipping")

	// ErrCircularBranch is wrapped by every CircularBranchDependencyError.
	ErrCircularBranch = errors.New("circular branch dependency")

	// ErrNilContext indicates Execute was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilGraph indicates a nil CompiledGraph was passed in.
	ErrNilGraph = errors.New("compiled graph cannot be nil")

	// ErrUnknownMode indicates an unrecognized execution mode string.
	ErrUnknownMode = errors.New("unknown execution mode")
)

// GraphIntegrityError reports a malformed graph: dangling ports, unknown
// node references, missing entries. It is fatal; no plan is produced.
type GraphIntegrityError struct {
	// Problems lists every integrity violation found, in discovery order.
	Problems []error
}

// Error implements the error interface.
func (e *GraphIntegrityError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "graph integrity: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual problems for errors.Is/As support.
func (e *GraphIntegrityError) Unwrap() []error {
	return e.Problems
}

// CircularBranchDependencyError reports a branch whose condition
// transitively depends on its own outcome.
type CircularBranchDependencyError struct {
	// BranchID is the branch node on the cycle.
	BranchID string
	// Cycle lists the nodes of the strongly connected component.
	Cycle []string
}

// Error implements the error interface.
func (e *CircularBranchDependencyError) Error() string {
	return fmt.Sprintf("branch %s depends on its own outcome via cycle [%s]",
		e.BranchID, strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrCircularBranch for errors.Is support.
func (e *CircularBranchDependencyError) Unwrap() error {
	return ErrCircularBranch
}

// IncompatiblePatternError is advisory: the compatibility checker found a
// structure that does not support safe skipping. It never halts execution.
type IncompatiblePatternError struct {
	Pattern PatternType
	Nodes   []string
	Reason  string
}

// Error implements the error interface.
func (e *IncompatiblePatternError) Error() string {
	return fmt.Sprintf("%s pattern at [%s]: %s", e.Pattern, strings.Join(e.Nodes, ", "), e.Reason)
}

// Unwrap returns ErrIncompatiblePattern for errors.Is support.
func (e *IncompatiblePatternError) Unwrap() error {
	return ErrIncompatiblePattern
}

// PlanValidationError reports an execution plan that failed validation or
// could not be completed. Callers fall back to route_data on it.
type PlanValidationError struct {
	// NodeID is the offending node, empty for plan-wide problems.
	NodeID string
	// Reason describes the violation.
	Reason string
	// Err optionally carries a more specific cause (e.g. ErrReplanLimit).
	Err error
}

// Error implements the error interface.
func (e *PlanValidationError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("plan validation: %s", e.Reason)
	}
	return fmt.Sprintf("plan validation at node %s: %s", e.NodeID, e.Reason)
}

// Unwrap returns the specific cause when set, and ErrPlanInvalid always.
func (e *PlanValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPlanInvalid, e.Err}
	}
	return []error{ErrPlanInvalid}
}

// MissingBranchResultError marks a branch that is reachable but has not
// produced a result yet. Its downstream is deferred, not failed.
type MissingBranchResultError struct {
	BranchID string
}

// Error implements the error interface.
func (e *MissingBranchResultError) Error() string {
	return fmt.Sprintf("branch %s has not produced a result", e.BranchID)
}

// Unwrap returns ErrBranchResultMissing for errors.Is support.
func (e *MissingBranchResultError) Unwrap() error {
	return ErrBranchResultMissing
}

// NodeError wraps an error with node context.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed (e.g., "evaluate").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node evaluation.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError reports a run stopped by context cancellation.
// Nodes that were already running were allowed to complete.
type CancellationError struct {
	// Executed lists nodes that completed before cancellation.
	Executed []string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled after %d nodes: %v", len(e.Executed), e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// IsFallbackTrigger reports whether err, raised while running in
// skip_branches mode, should move the run to route_data.
func IsFallbackTrigger(err error) bool {
	var pve *PlanValidationError
	return errors.As(err, &pve)
}
