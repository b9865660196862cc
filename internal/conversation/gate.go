package conversation

import (
	"errors"
	"fmt"

	"github.com/joescharf/cloudvoice/internal/models"
)

var (
	// ErrMessageNotFound is returned for an unknown message ID.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNoPendingAction is returned when the message has no approval affordance.
	ErrNoPendingAction = errors.New("message has no pending action")
	// ErrAlreadyResolved is returned on a second approve/reject of the same message.
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// Decision is the outcome of an approval affordance.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalGate tracks which agent messages have had their approval
// affordance consumed. Each affordance resolves at most once.
// It is not safe for concurrent use; the Orchestrator guards it.
type ApprovalGate struct {
	resolved map[string]Decision
}

// NewApprovalGate creates an empty gate.
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{resolved: make(map[string]Decision)}
}

// Resolve consumes msg's affordance and returns a copy of its pending action.
func (g *ApprovalGate) Resolve(msg models.Message, d Decision) (*models.PendingAction, error) {
	if !msg.HasApprovalAffordance() {
		return nil, fmt.Errorf("%w: %s", ErrNoPendingAction, msg.ID)
	}
	if prev, ok := g.resolved[msg.ID]; ok {
		return nil, fmt.Errorf("%w: %s was %s", ErrAlreadyResolved, msg.ID, prev)
	}
	g.resolved[msg.ID] = d
	return msg.PendingAction.Clone(), nil
}

// Decision returns the recorded decision for a message, if any.
func (g *ApprovalGate) Decision(id string) (Decision, bool) {
	d, ok := g.resolved[id]
	return d, ok
}

// IsOpen reports whether msg still offers an unresolved affordance.
func (g *ApprovalGate) IsOpen(msg models.Message) bool {
	if !msg.HasApprovalAffordance() {
		return false
	}
	_, done := g.resolved[msg.ID]
	return !done
}
