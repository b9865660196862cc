package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidAction is returned when a pending action payload cannot be
// validated against its kind.
var ErrInvalidAction = errors.New("invalid pending action")

// maxActionHours bounds the duration a pending action may carry.
const maxActionHours = math.MaxInt32

// ActionKind tags the shape of a PendingAction.
type ActionKind string

const (
	ActionDeployInstance ActionKind = "deploy_instance"
)

// PendingAction is the validated form of the backend's pending_action payload.
// Raw keeps the original bytes for display and archiving.
type PendingAction struct {
	Kind     ActionKind
	Instance string
	Hours    int
	Raw      json.RawMessage
}

type pendingActionWire struct {
	Action       string   `json:"action"`
	Tool         string   `json:"tool"`
	Instance     *string  `json:"instance"`
	InstanceType *string  `json:"instance_type"`
	Hours        *float64 `json:"hours"`
}

// ParsePendingAction decodes and validates a pending_action payload.
// The kind is read from "action", then "tool", and defaults to deploy_instance.
func ParsePendingAction(raw json.RawMessage) (*PendingAction, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidAction)
	}

	var w pendingActionWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	kind := ActionKind(strings.TrimSpace(w.Action))
	if kind == "" {
		kind = ActionKind(strings.TrimSpace(w.Tool))
	}
	if kind == "" {
		kind = ActionDeployInstance
	}

	switch kind {
	case ActionDeployInstance:
		instance := ""
		if w.Instance != nil {
			instance = *w.Instance
		} else if w.InstanceType != nil {
			instance = *w.InstanceType
		}
		instance = strings.TrimSpace(instance)
		if instance == "" {
			return nil, fmt.Errorf("%w: %s requires an instance", ErrInvalidAction, kind)
		}
		hours := 0
		if w.Hours != nil {
			h := *w.Hours
			switch {
			case h < 0:
				return nil, fmt.Errorf("%w: negative hours", ErrInvalidAction)
			case h != math.Trunc(h):
				return nil, fmt.Errorf("%w: hours must be a whole number, got %v", ErrInvalidAction, h)
			case h > maxActionHours:
				return nil, fmt.Errorf("%w: hours %v out of range", ErrInvalidAction, h)
			}
			hours = int(h)
		}
		return &PendingAction{
			Kind:     kind,
			Instance: instance,
			Hours:    hours,
			Raw:      append(json.RawMessage(nil), trimmed...),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, kind)
	}
}

// ConfirmPrompt builds the synthetic prompt sent when the action is approved.
func (a *PendingAction) ConfirmPrompt() string {
	switch a.Kind {
	case ActionDeployInstance:
		return "Confirm " + a.Instance
	default:
		return "Confirm " + string(a.Kind)
	}
}

// Describe returns a short human-readable summary of the action.
func (a *PendingAction) Describe() string {
	switch a.Kind {
	case ActionDeployInstance:
		if a.Hours > 0 {
			return fmt.Sprintf("deploy %s for %dh", a.Instance, a.Hours)
		}
		return "deploy " + a.Instance
	default:
		return string(a.Kind)
	}
}

func (a *PendingAction) Clone() *PendingAction {
	if a == nil {
		return nil
	}
	out := *a
	out.Raw = append(json.RawMessage(nil), a.Raw...)
	return &out
}
