// Package conversation turns speech events and agent replies into the
// session timeline, gating flagged replies behind a human approval step.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/cloudvoice/internal/agentclient"
	"github.com/joescharf/cloudvoice/internal/eventlog"
	"github.com/joescharf/cloudvoice/internal/models"
	"github.com/joescharf/cloudvoice/internal/speech"
)

var (
	// ErrBusy is returned when a capture or exchange is already in flight.
	ErrBusy = errors.New("another operation is in progress")
	// ErrEmptyPrompt is returned by Submit for blank text.
	ErrEmptyPrompt = errors.New("prompt is empty")
)

// Status is the human-readable phase label of the session.
type Status string

const (
	StatusIdle      Status = "Idle"
	StatusListening Status = "Listening…"
	StatusReasoning Status = "Agent Reasoning…"
	StatusExecuting Status = "Executing Approved Action…"
)

// UnreachableText is the system message appended when an exchange fails.
const UnreachableText = "Agent backend unreachable. Please try again."

// Capturer is the speech capture side of a session.
type Capturer interface {
	Start(ctx context.Context) (string, error)
	Stop() bool
	Listening() bool
	Err() error
}

// Exchanger performs one request/response with the Agent Backend.
type Exchanger interface {
	Exchange(ctx context.Context, req agentclient.Request) (*agentclient.Response, error)
}

// Speaker plays text without blocking.
type Speaker interface {
	Speak(text string)
}

// SessionState is a point-in-time snapshot of the session.
type SessionState struct {
	Messages  []models.Message
	Logs      []models.LogEntry
	Listening bool
	Status    Status
}

// Orchestrator owns the message timeline. Listen, Submit and Approve share a
// single in-flight token: a second trigger fails with ErrBusy instead of
// interleaving with the first.
type Orchestrator struct {
	capture Capturer
	client  Exchanger
	speaker Speaker
	log     *eventlog.Log
	now     func() time.Time

	token chan struct{}

	mu       sync.Mutex
	messages []models.Message
	status   Status
	gate     *ApprovalGate
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an idle orchestrator with an empty timeline.
func New(capture Capturer, client Exchanger, speaker Speaker, log *eventlog.Log, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		capture: capture,
		client:  client,
		speaker: speaker,
		log:     log,
		now:     time.Now,
		token:   make(chan struct{}, 1),
		status:  StatusIdle,
		gate:    NewApprovalGate(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := capture.Err(); err != nil {
		o.log.Recordf(models.LogSourceSystem, models.LogStatusWarning, "Speech capture unavailable: %v", err)
	} else {
		o.log.Record(models.LogSourceSystem, "Speech capture ready", models.LogStatusInfo)
	}
	return o
}

func (o *Orchestrator) acquire() bool {
	select {
	case o.token <- struct{}{}:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) release() { <-o.token }

// Listen captures one utterance and dispatches it. A capture that ends
// without a transcript returns the session to Idle with no message.
func (o *Orchestrator) Listen(ctx context.Context) error {
	if err := o.capture.Err(); err != nil {
		return err
	}
	if !o.acquire() {
		o.log.Record(models.LogSourceSystem, "Capture ignored: operation already in progress", models.LogStatusWarning)
		return ErrBusy
	}
	defer o.release()

	o.setStatus(StatusListening)
	o.log.Record(models.LogSourceSystem, "Listening for speech", models.LogStatusInfo)

	text, err := o.capture.Start(ctx)
	if err != nil {
		o.setStatus(StatusIdle)
		status := models.LogStatusWarning
		if errors.Is(err, context.Canceled) {
			status = models.LogStatusInfo
		}
		o.log.Recordf(models.LogSourceSystem, status, "Capture ended without transcript: %v", err)
		return nil
	}

	o.log.Recordf(models.LogSourceSystem, models.LogStatusSuccess, "Transcript received: %q", text)
	o.dispatch(ctx, text, false, true)
	return nil
}

// Submit dispatches typed text as if it had been spoken.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyPrompt
	}
	if !o.acquire() {
		o.log.Record(models.LogSourceSystem, "Prompt ignored: operation already in progress", models.LogStatusWarning)
		return ErrBusy
	}
	defer o.release()

	o.log.Recordf(models.LogSourceSystem, models.LogStatusInfo, "Typed prompt received: %q", text)
	o.dispatch(ctx, text, false, true)
	return nil
}

// StopListening cancels an in-progress capture.
func (o *Orchestrator) StopListening() bool {
	if !o.capture.Stop() {
		return false
	}
	o.log.Record(models.LogSourceSystem, "Capture cancelled", models.LogStatusInfo)
	return true
}

// Approve resubmits the pending action of message id with approved=true.
// No user message is appended for the approval itself.
func (o *Orchestrator) Approve(ctx context.Context, id string) error {
	if !o.acquire() {
		return ErrBusy
	}
	defer o.release()

	action, err := o.resolve(id, DecisionApproved)
	if err != nil {
		return err
	}

	o.log.Recordf(models.LogSourceSystem, models.LogStatusSuccess, "Approval granted: %s", action.Describe())
	o.dispatch(ctx, action.ConfirmPrompt(), true, false)
	return nil
}

// Reject cancels the pending action of message id locally. The backend is
// never contacted and the action is discarded.
func (o *Orchestrator) Reject(id string) error {
	action, err := o.resolve(id, DecisionRejected)
	if err != nil {
		return err
	}

	o.appendMessage(models.Message{
		Role: models.RoleSystem,
		Text: fmt.Sprintf("Action cancelled: %s was not executed.", action.Describe()),
	})
	o.log.Recordf(models.LogSourceSystem, models.LogStatusWarning, "Approval rejected: %s", action.Describe())
	return nil
}

func (o *Orchestrator) resolve(id string, d Decision) (*models.PendingAction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, m := range o.messages {
		if m.ID == id {
			return o.gate.Resolve(m, d)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
}

// dispatch runs one exchange and appends its outcome. The caller holds the token.
func (o *Orchestrator) dispatch(ctx context.Context, prompt string, approved, appendUser bool) {
	if appendUser {
		o.appendMessage(models.Message{Role: models.RoleUser, Text: prompt})
	}
	if approved {
		o.setStatus(StatusExecuting)
	} else {
		o.setStatus(StatusReasoning)
	}
	defer o.setStatus(StatusIdle)

	o.log.Recordf(models.LogSourceLLM, models.LogStatusInfo, "Sending prompt to agent (approved=%t)", approved)

	resp, err := o.client.Exchange(ctx, agentclient.Request{Prompt: prompt, Approved: approved})
	if err != nil {
		o.appendMessage(models.Message{Role: models.RoleSystem, Text: UnreachableText})
		o.log.Recordf(models.LogSourceLLM, models.LogStatusWarning, "Exchange failed: %v", err)
		return
	}

	o.appendMessage(models.Message{
		Role:               models.RoleAgent,
		Text:               resp.Text,
		SustainabilityData: resp.Data,
		RequiresApproval:   resp.RequiresApproval,
		PendingAction:      resp.PendingAction,
		ToolUsed:           resp.ToolUsed,
	})
	o.log.Record(models.LogSourceLLM, "Agent responded", models.LogStatusSuccess)
	o.logResponseDetails(resp)

	if resp.Text != "" {
		o.speaker.Speak(resp.Text)
		o.log.Record(models.LogSourceSystem, "Speaking response", models.LogStatusInfo)
	}
}

func (o *Orchestrator) logResponseDetails(resp *agentclient.Response) {
	if resp.ToolUsed != "" {
		o.log.Recordf(models.LogSourceMCP, models.LogStatusInfo, "Tool used: %s", resp.ToolUsed)
	}
	if resp.ToolUsed == "search_knowledge" {
		o.log.Record(models.LogSourceRAG, "Answer grounded in knowledge base", models.LogStatusInfo)
	}
	if d := resp.Data; d != nil {
		o.log.Recordf(models.LogSourceMCP, models.LogStatusSuccess, "Footprint for %s over %gh: %s", d.Instance, d.Hours, d.Footprint)
	}
	if resp.RequiresApproval {
		o.log.Recordf(models.LogSourceSystem, models.LogStatusWarning, "Approval required: %s", resp.PendingAction.Describe())
	}
}

func (o *Orchestrator) appendMessage(m models.Message) models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	m.ID = models.NewID()
	m.CreatedAt = o.now()
	o.messages = append(o.messages, m.Clone())
	return m
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

// Status returns the current phase label.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Listening reports whether a capture is in progress.
func (o *Orchestrator) Listening() bool { return o.capture.Listening() }

// Busy reports whether a capture or exchange is in flight.
func (o *Orchestrator) Busy() bool { return len(o.token) > 0 }

// Len is the number of messages in the timeline.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// Messages returns copies of the timeline, oldest first.
func (o *Orchestrator) Messages() []models.Message {
	return o.MessagesSince(0)
}

// MessagesSince returns copies of the messages at index i and later.
func (o *Orchestrator) MessagesSince(i int) []models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	if i < 0 {
		i = 0
	}
	if i >= len(o.messages) {
		return nil
	}
	out := make([]models.Message, 0, len(o.messages)-i)
	for _, m := range o.messages[i:] {
		out = append(out, m.Clone())
	}
	return out
}

// Message returns a copy of the message with the given ID.
func (o *Orchestrator) Message(id string) (models.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

// Pending returns agent messages whose approval affordance is still open, oldest first.
func (o *Orchestrator) Pending() []models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []models.Message
	for _, m := range o.messages {
		if o.gate.IsOpen(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Decision returns how a message's approval affordance was resolved.
func (o *Orchestrator) Decision(id string) (Decision, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gate.Decision(id)
}

// State returns a snapshot of the session.
func (o *Orchestrator) State() SessionState {
	return SessionState{
		Messages:  o.Messages(),
		Logs:      o.log.Entries(),
		Listening: o.Listening(),
		Status:    o.Status(),
	}
}

var _ Capturer = (*speech.CaptureAdapter)(nil)
var _ Speaker = (*speech.OutputAdapter)(nil)
var _ Exchanger = (*agentclient.Client)(nil)
