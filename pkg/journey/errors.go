// Package journey implements the automation engine: trigger resolution,
// enrollment, the node graph walk, exit-path routing of gateway callbacks
// and the sweep driver that ties them together.
package journey

import "errors"

var (
	// ErrSweepInProgress is returned when a sweep is requested while
	// another one holds the sweep lock.
	ErrSweepInProgress = errors.New("a sweep is already running")

	// ErrNoMatchingBranch is returned when a condition node has no edge
	// for its outcome.
	ErrNoMatchingBranch = errors.New("no matching branch")

	// ErrNoOutgoingEdge is returned when a non-terminal node dead-ends.
	ErrNoOutgoingEdge = errors.New("node has no outgoing edge")

	// ErrBranchTargetMissing is returned when an exit path or timeout
	// path names a branch that resolves to nothing.
	ErrBranchTargetMissing = errors.New("branch target not found")

	// ErrWalkLimitExceeded is returned when a walk loops past the
	// transition limit, which means the graph cycles without parking.
	ErrWalkLimitExceeded = errors.New("walk exceeded transition limit")

	// ErrMissingNode is returned when an enrollment's current node no
	// longer resolves in its journey.
	ErrMissingNode = errors.New("current node not found in journey")
)

// SkipReason explains why an enrollment attempt produced no enrollment.
// Skips are expected outcomes, never errors.
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipDuplicate SkipReason = "duplicate_enrollment"
	SkipCooldown  SkipReason = "cooldown_not_elapsed"
	SkipTestMode  SkipReason = "test_mode_excluded"
)
