package models

import "time"

// Role identifies who authored a timeline message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// SustainabilityData is a resource-usage estimate reported by the agent.
type SustainabilityData struct {
	Instance  string
	Hours     float64
	Footprint string
}

// Message is one turn in the conversation timeline. Messages are never
// mutated once appended; callers receive clones.
type Message struct {
	ID                 string
	Role               Role
	Text               string
	SustainabilityData *SustainabilityData
	RequiresApproval   bool
	PendingAction      *PendingAction // set iff RequiresApproval
	ToolUsed           string
	CreatedAt          time.Time
}

// HasApprovalAffordance reports whether the message proposes an action
// that still needs a human decision.
func (m Message) HasApprovalAffordance() bool {
	return m.Role == RoleAgent && m.RequiresApproval && m.PendingAction != nil
}

// Clone returns a deep copy so the timeline's copy cannot be changed through it.
func (m Message) Clone() Message {
	out := m
	if m.SustainabilityData != nil {
		d := *m.SustainabilityData
		out.SustainabilityData = &d
	}
	if m.PendingAction != nil {
		out.PendingAction = m.PendingAction.Clone()
	}
	return out
}
