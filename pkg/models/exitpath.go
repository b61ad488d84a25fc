package models

import "fmt"

// CallbackKind discriminates gateway callbacks routed through exit paths.
type CallbackKind string

const (
	CallbackKindSent          CallbackKind = "sent"
	CallbackKindDelivered     CallbackKind = "delivered"
	CallbackKindRead          CallbackKind = "read"
	CallbackKindFailed        CallbackKind = "failed"
	CallbackKindButtonClicked CallbackKind = "button_clicked"
)

// ParseCallbackKind maps a gateway status string onto the typed kind.
func ParseCallbackKind(status string) (CallbackKind, error) {
	switch CallbackKind(status) {
	case CallbackKindSent, CallbackKindDelivered, CallbackKindRead, CallbackKindFailed:
		return CallbackKind(status), nil
	default:
		return "", fmt.Errorf("callback status %q: %w", status, ErrUnknownCallbackKind)
	}
}

// ExitPathSet maps callback kinds to the routing policy configured on an
// action node. Nil entries mean the kind is not handled.
type ExitPathSet struct {
	Sent          *ExitPath        `json:"sent,omitempty"`
	Delivered     *ExitPath        `json:"delivered,omitempty"`
	Read          *ExitPath        `json:"read,omitempty"`
	Failed        *ExitPath        `json:"failed,omitempty"`
	ButtonClicked []ButtonExitPath `json:"button_clicked,omitempty"`
}

// ButtonExitPath binds an exit path to one interactive button.
type ButtonExitPath struct {
	ButtonID string   `json:"button_id" validate:"required"`
	Path     ExitPath `json:"path"`
}

// PathFor returns the exit path configured for a status callback kind.
func (s *ExitPathSet) PathFor(kind CallbackKind) (*ExitPath, bool) {
	var path *ExitPath

	switch kind {
	case CallbackKindSent:
		path = s.Sent
	case CallbackKindDelivered:
		path = s.Delivered
	case CallbackKindRead:
		path = s.Read
	case CallbackKindFailed:
		path = s.Failed
	case CallbackKindButtonClicked:
		return nil, false // resolved per button via ButtonPath
	default:
		return nil, false
	}

	if path == nil {
		return nil, false
	}

	return path, true
}

// ButtonPath returns the exit path bound to a button id.
func (s *ExitPathSet) ButtonPath(buttonID string) (*ExitPath, bool) {
	for i := range s.ButtonClicked {
		if s.ButtonClicked[i].ButtonID == buttonID {
			return &s.ButtonClicked[i].Path, true
		}
	}

	return nil, false
}

// Empty reports whether no exit path at all is configured.
func (s *ExitPathSet) Empty() bool {
	return s.Sent == nil && s.Delivered == nil && s.Read == nil &&
		s.Failed == nil && len(s.ButtonClicked) == 0
}

// EnabledKinds lists the callback kinds with an enabled exit path, for
// traces and summaries. Button paths are listed as button_clicked:<id>.
func (s *ExitPathSet) EnabledKinds() []string {
	var kinds []string

	statuses := []struct {
		kind CallbackKind
		path *ExitPath
	}{
		{CallbackKindSent, s.Sent},
		{CallbackKindDelivered, s.Delivered},
		{CallbackKindRead, s.Read},
		{CallbackKindFailed, s.Failed},
	}

	for _, status := range statuses {
		if status.path != nil && status.path.Enabled {
			kinds = append(kinds, string(status.kind))
		}
	}

	for _, button := range s.ButtonClicked {
		if button.Path.Enabled {
			kinds = append(kinds, string(CallbackKindButtonClicked)+":"+button.ButtonID)
		}
	}

	return kinds
}

// ExitPath describes how the router reacts when a callback of the matching
// kind arrives while an enrollment is parked at the node.
type ExitPath struct {
	Enabled        bool            `json:"enabled"`
	Tracking       *TrackingConfig `json:"tracking,omitempty"`
	ProfileUpdates []ProfileUpdate `json:"profile_updates,omitempty"`
	Action         ExitAction      `json:"action"`
}

// TrackingConfig names the analytics event emitted when the path fires.
type TrackingConfig struct {
	EventName string `json:"event_name" validate:"required"`
}

// ProfileOperation discriminates profile mutations on button-click paths.
type ProfileOperation string

const (
	ProfileOperationSet       ProfileOperation = "set"
	ProfileOperationIncrement ProfileOperation = "increment"
	ProfileOperationAppend    ProfileOperation = "append"
)

// ProfileUpdate is one mutation applied to the customer profile.
type ProfileUpdate struct {
	Property  string           `json:"property"  validate:"required"`
	Operation ProfileOperation `json:"operation" validate:"required"`
	Value     any              `json:"value"`
}

// ExitActionType discriminates what the router does to the enrollment.
type ExitActionType string

const (
	ExitActionBranch   ExitActionType = "branch"   // Jump to BranchID, active again
	ExitActionContinue ExitActionType = "continue" // Follow the default edge, active again
	ExitActionWait     ExitActionType = "wait"     // Engagement wait with timeout
	ExitActionExit     ExitActionType = "exit"     // Terminal exit
)

// ExitAction is the routing decision of an exit path.
type ExitAction struct {
	Type        ExitActionType `json:"type" validate:"required"`
	BranchID    string         `json:"branch_id,omitempty"`
	WaitMinutes int            `json:"wait_minutes,omitempty"`
	TimeoutPath string         `json:"timeout_path,omitempty"`
}
