package models

import "errors"

// Graph and configuration errors surfaced by definition validation and by
// the walk. These mark recoverable per-entity failures unless a journey is
// activated with them present, in which case resolution fails closed.
var (
	ErrNoTriggerNode        = errors.New("journey has no trigger node")
	ErrMultipleTriggerNodes = errors.New("journey has more than one trigger node")
	ErrInvalidNode          = errors.New("invalid node configuration")
	ErrDuplicateNodeID      = errors.New("duplicate node id")
	ErrDanglingEdge         = errors.New("edge references a missing node")
	ErrUnreachableNode      = errors.New("node not reachable from trigger")
	ErrVariantConfig        = errors.New("abtest node needs between 2 and 4 variants")
	ErrUnknownCallbackKind  = errors.New("unknown callback kind")
)
