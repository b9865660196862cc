package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/cloudvoice/internal/agentclient"
	"github.com/joescharf/cloudvoice/internal/eventlog"
	"github.com/joescharf/cloudvoice/internal/models"
	"github.com/joescharf/cloudvoice/internal/speech"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeCapture struct {
	mu        sync.Mutex
	initErr   error
	text      string
	err       error
	listening bool
	block     chan struct{}
	started   chan struct{}
	stops     int
}

func (f *fakeCapture) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.listening = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.listening = false
		f.mu.Unlock()
	}()

	f.mu.Lock()
	started := f.started
	f.started = nil
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", speech.ErrCaptureFailed, ctx.Err())
		}
	}
	if f.err == nil && f.text == "" {
		return "", fmt.Errorf("%w: no speech detected", speech.ErrCaptureFailed)
	}
	return f.text, f.err
}

func (f *fakeCapture) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.listening
}

func (f *fakeCapture) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *fakeCapture) Err() error { return f.initErr }

type fakeClient struct {
	mu        sync.Mutex
	requests  []agentclient.Request
	responses []*agentclient.Response
	err       error
	block     chan struct{}
	started   chan struct{}
}

func (f *fakeClient) Exchange(ctx context.Context, req agentclient.Request) (*agentclient.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var resp *agentclient.Response
	if len(f.responses) > 0 {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	}
	started := f.started
	f.started = nil
	block := f.block
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	if resp == nil {
		resp = &agentclient.Response{Text: "ok"}
	}
	return resp, nil
}

func (f *fakeClient) calls() []agentclient.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agentclient.Request(nil), f.requests...)
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (f *fakeSpeaker) Speak(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
}

func (f *fakeSpeaker) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type harness struct {
	orch    *Orchestrator
	capture *fakeCapture
	client  *fakeClient
	speaker *fakeSpeaker
	log     *eventlog.Log
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		capture: &fakeCapture{},
		client:  &fakeClient{},
		speaker: &fakeSpeaker{},
		log:     eventlog.New(1000),
	}
	h.orch = New(h.capture, h.client, h.speaker, h.log)
	return h
}

func approvalResponse(t *testing.T, text, raw string) *agentclient.Response {
	t.Helper()
	action, err := models.ParsePendingAction(json.RawMessage(raw))
	require.NoError(t, err)
	return &agentclient.Response{Text: text, RequiresApproval: true, PendingAction: action}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestListen_FootprintScenario(t *testing.T) {
	h := newHarness(t)
	h.capture.text = "Check carbon footprint for GPU large"
	h.client.responses = []*agentclient.Response{{
		Text:     "Here is the footprint",
		Data:     &models.SustainabilityData{Instance: "gpu-large", Hours: 10, Footprint: "42kg CO2"},
		ToolUsed: "calculate_carbon_footprint",
	}}

	require.NoError(t, h.orch.Listen(context.Background()))

	msgs := h.orch.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Check carbon footprint for GPU large", msgs[0].Text)

	agent := msgs[1]
	assert.Equal(t, models.RoleAgent, agent.Role)
	require.NotNil(t, agent.SustainabilityData)
	assert.Equal(t, "gpu-large", agent.SustainabilityData.Instance)
	assert.False(t, agent.RequiresApproval)
	assert.Nil(t, agent.PendingAction)
	assert.False(t, agent.HasApprovalAffordance())

	assert.Equal(t, []agentclient.Request{{Prompt: "Check carbon footprint for GPU large", Approved: false}}, h.client.calls())
	assert.Equal(t, []string{"Here is the footprint"}, h.speaker.all())
	assert.Equal(t, StatusIdle, h.orch.Status())
	assert.Empty(t, h.orch.Pending())
}

func TestApprove_ResubmitsSilently(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{
		approvalResponse(t, "Deploy?", `{"instance": "gpu-large"}`),
		{Text: "Deployment of gpu-large initiated"},
	}

	require.NoError(t, h.orch.Submit(context.Background(), "Deploy a GPU large"))
	pending := h.orch.Pending()
	require.Len(t, pending, 1)
	agentMsg := pending[0]
	assert.True(t, agentMsg.HasApprovalAffordance())

	before := h.orch.Len()
	require.NoError(t, h.orch.Approve(context.Background(), agentMsg.ID))

	calls := h.client.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, agentclient.Request{Prompt: "Confirm gpu-large", Approved: true}, calls[1])

	added := h.orch.MessagesSince(before)
	require.Len(t, added, 1, "approval must not add a user message")
	assert.Equal(t, models.RoleAgent, added[0].Role)
	assert.Equal(t, "Deployment of gpu-large initiated", added[0].Text)

	for _, m := range h.orch.Messages() {
		if m.Role == models.RoleUser {
			assert.NotEqual(t, "Confirm gpu-large", m.Text)
		}
	}

	d, ok := h.orch.Decision(agentMsg.ID)
	require.True(t, ok)
	assert.Equal(t, DecisionApproved, d)
	assert.Empty(t, h.orch.Pending())
	assert.Equal(t, []string{"Deploy?", "Deployment of gpu-large initiated"}, h.speaker.all())
}

func TestReject_NoNetworkCall(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{approvalResponse(t, "Deploy?", `{"instance": "gpu-large"}`)}

	require.NoError(t, h.orch.Submit(context.Background(), "Deploy a GPU large"))
	agentMsg := h.orch.Pending()[0]
	callsBefore := len(h.client.calls())

	require.NoError(t, h.orch.Reject(agentMsg.ID))

	assert.Len(t, h.client.calls(), callsBefore)
	msgs := h.orch.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, models.RoleSystem, last.Role)
	assert.Contains(t, last.Text, "cancelled")
	assert.Contains(t, last.Text, "gpu-large")

	d, _ := h.orch.Decision(agentMsg.ID)
	assert.Equal(t, DecisionRejected, d)
	assert.Empty(t, h.orch.Pending())
}

func TestExchangeFailure_AppendsOneSystemMessage(t *testing.T) {
	for name, err := range map[string]error{
		"unreachable": fmt.Errorf("%w: connection refused", agentclient.ErrUnreachable),
		"malformed":   fmt.Errorf("%w: missing response text", agentclient.ErrMalformedResponse),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.client.err = err

			require.NoError(t, h.orch.Submit(context.Background(), "hello"))

			msgs := h.orch.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, models.RoleUser, msgs[0].Role)
			assert.Equal(t, models.RoleSystem, msgs[1].Role)
			assert.Equal(t, UnreachableText, msgs[1].Text)
			assert.Empty(t, h.speaker.all())
			assert.Equal(t, StatusIdle, h.orch.Status())
		})
	}
}

// ---------------------------------------------------------------------------
// Capture transitions
// ---------------------------------------------------------------------------

func TestListen_NoTranscriptReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.capture.err = fmt.Errorf("%w: no speech detected", speech.ErrCaptureFailed)

	require.NoError(t, h.orch.Listen(context.Background()))
	assert.Zero(t, h.orch.Len())
	assert.Empty(t, h.client.calls())
	assert.Equal(t, StatusIdle, h.orch.Status())
}

func TestListen_Unsupported(t *testing.T) {
	capture := &fakeCapture{initErr: speech.ErrCaptureUnsupported}
	log := eventlog.New(100)
	orch := New(capture, &fakeClient{}, &fakeSpeaker{}, log)

	warnings := 0
	for _, e := range log.Entries() {
		if e.Status == models.LogStatusWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings, "unsupported capture is logged once at startup")

	err := orch.Listen(context.Background())
	assert.ErrorIs(t, err, speech.ErrCaptureUnsupported)
	assert.Zero(t, orch.Len())

	require.NoError(t, orch.Submit(context.Background(), "typed still works"))
	assert.Equal(t, 2, orch.Len())
}

func TestListen_StatusWhileListening(t *testing.T) {
	h := newHarness(t)
	h.capture.text = "hi"
	h.capture.block = make(chan struct{})
	captureStarted := make(chan struct{})
	h.capture.started = captureStarted

	done := make(chan error, 1)
	go func() { done <- h.orch.Listen(context.Background()) }()

	<-captureStarted
	assert.Equal(t, StatusListening, h.orch.Status())
	assert.True(t, h.orch.Listening())
	assert.True(t, h.orch.Busy())

	close(h.capture.block)
	require.NoError(t, <-done)
	assert.False(t, h.orch.Listening())
	assert.False(t, h.orch.Busy())
	assert.Equal(t, StatusIdle, h.orch.Status())
}

func TestStopListening(t *testing.T) {
	h := newHarness(t)
	h.capture.block = make(chan struct{})
	captureStarted := make(chan struct{})
	h.capture.started = captureStarted

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.orch.Listen(ctx) }()

	<-captureStarted
	assert.True(t, h.orch.StopListening())
	cancel()

	require.NoError(t, <-done)
	assert.Zero(t, h.orch.Len())
	assert.False(t, h.orch.StopListening())
}

// ---------------------------------------------------------------------------
// Operation token
// ---------------------------------------------------------------------------

func TestBusy_SecondTriggerRejected(t *testing.T) {
	h := newHarness(t)
	h.client.block = make(chan struct{})
	clientStarted := make(chan struct{})
	h.client.started = clientStarted

	done := make(chan error, 1)
	go func() { done <- h.orch.Submit(context.Background(), "first") }()
	<-clientStarted

	assert.Equal(t, StatusReasoning, h.orch.Status())
	assert.ErrorIs(t, h.orch.Submit(context.Background(), "second"), ErrBusy)
	assert.ErrorIs(t, h.orch.Listen(context.Background()), ErrBusy)
	assert.ErrorIs(t, h.orch.Approve(context.Background(), "anything"), ErrBusy)

	close(h.client.block)
	require.NoError(t, <-done)

	assert.Len(t, h.client.calls(), 1)
	assert.Equal(t, 2, h.orch.Len())
}

func TestApprove_BusyDoesNotConsumeAffordance(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{approvalResponse(t, "Deploy?", `{"instance": "gpu.large"}`)}
	require.NoError(t, h.orch.Submit(context.Background(), "deploy"))
	id := h.orch.Pending()[0].ID

	h.client.block = make(chan struct{})
	clientStarted := make(chan struct{})
	h.client.started = clientStarted
	done := make(chan error, 1)
	go func() { done <- h.orch.Submit(context.Background(), "something else") }()
	<-clientStarted

	assert.ErrorIs(t, h.orch.Approve(context.Background(), id), ErrBusy)
	close(h.client.block)
	require.NoError(t, <-done)

	require.Len(t, h.orch.Pending(), 1)
	require.NoError(t, h.orch.Approve(context.Background(), id))
}

// ---------------------------------------------------------------------------
// Approval gate
// ---------------------------------------------------------------------------

func TestApproval_SingleResolution(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{approvalResponse(t, "Deploy?", `{"instance": "gpu-large"}`)}
	require.NoError(t, h.orch.Submit(context.Background(), "deploy"))
	id := h.orch.Pending()[0].ID

	require.NoError(t, h.orch.Approve(context.Background(), id))
	assert.ErrorIs(t, h.orch.Approve(context.Background(), id), ErrAlreadyResolved)
	assert.ErrorIs(t, h.orch.Reject(id), ErrAlreadyResolved)

	assert.Len(t, h.client.calls(), 2)
}

func TestApproval_UsesThatMessagesAction(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{
		approvalResponse(t, "Deploy A?", `{"instance": "gpu-a"}`),
		approvalResponse(t, "Deploy B?", `{"instance": "gpu-b"}`),
	}
	require.NoError(t, h.orch.Submit(context.Background(), "deploy a"))
	require.NoError(t, h.orch.Submit(context.Background(), "deploy b"))

	pending := h.orch.Pending()
	require.Len(t, pending, 2)

	require.NoError(t, h.orch.Approve(context.Background(), pending[0].ID))
	calls := h.client.calls()
	assert.Equal(t, agentclient.Request{Prompt: "Confirm gpu-a", Approved: true}, calls[len(calls)-1])

	require.NoError(t, h.orch.Approve(context.Background(), pending[1].ID))
	calls = h.client.calls()
	assert.Equal(t, agentclient.Request{Prompt: "Confirm gpu-b", Approved: true}, calls[len(calls)-1])
}

func TestApproval_Errors(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.Submit(context.Background(), "hello"))
	plain := h.orch.Messages()[1]

	assert.ErrorIs(t, h.orch.Approve(context.Background(), "missing"), ErrMessageNotFound)
	assert.ErrorIs(t, h.orch.Reject("missing"), ErrMessageNotFound)
	assert.ErrorIs(t, h.orch.Approve(context.Background(), plain.ID), ErrNoPendingAction)
	assert.ErrorIs(t, h.orch.Reject(plain.ID), ErrNoPendingAction)
}

func TestApproval_FailedResubmitKeepsAffordanceConsumed(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{approvalResponse(t, "Deploy?", `{"instance": "gpu-large"}`)}
	require.NoError(t, h.orch.Submit(context.Background(), "deploy"))
	id := h.orch.Pending()[0].ID

	h.client.err = agentclient.ErrUnreachable
	require.NoError(t, h.orch.Approve(context.Background(), id))

	msgs := h.orch.Messages()
	assert.Equal(t, UnreachableText, msgs[len(msgs)-1].Text)
	assert.ErrorIs(t, h.orch.Approve(context.Background(), id), ErrAlreadyResolved)
}

// ---------------------------------------------------------------------------
// Invariants
// ---------------------------------------------------------------------------

func TestTimeline_AppendOnly(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{
		{Text: "one"},
		approvalResponse(t, "Deploy?", `{"instance": "gpu-large"}`),
		{Text: "done"},
	}

	var snapshots [][]models.Message
	snap := func() { snapshots = append(snapshots, h.orch.Messages()) }

	require.NoError(t, h.orch.Submit(context.Background(), "first"))
	snap()
	require.NoError(t, h.orch.Submit(context.Background(), "deploy"))
	snap()
	require.NoError(t, h.orch.Approve(context.Background(), h.orch.Pending()[0].ID))
	snap()
	h.client.err = errors.New("down")
	require.NoError(t, h.orch.Submit(context.Background(), "again"))
	snap()

	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		require.GreaterOrEqual(t, len(cur), len(prev))
		assert.Equal(t, prev, cur[:len(prev)], "earlier messages must be unchanged")
	}

	final := snapshots[len(snapshots)-1]
	for i := 1; i < len(final); i++ {
		assert.Less(t, final[i-1].ID, final[i].ID, "ids follow creation order")
	}
}

func TestTimeline_ReturnedCopiesCannotMutate(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{approvalResponse(t, "Deploy?", `{"instance": "gpu-large"}`)}
	require.NoError(t, h.orch.Submit(context.Background(), "deploy"))

	msgs := h.orch.Messages()
	msgs[1].Text = "tampered"
	msgs[1].PendingAction.Instance = "other"

	fresh := h.orch.Messages()
	assert.Equal(t, "Deploy?", fresh[1].Text)
	assert.Equal(t, "gpu-large", fresh[1].PendingAction.Instance)
}

func TestTimeline_ApprovalIffPendingAction(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{
		{Text: "plain"},
		approvalResponse(t, "Deploy?", `{"instance": "gpu-large"}`),
		{Text: "with data", Data: &models.SustainabilityData{Instance: "t3.medium"}},
	}
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, h.orch.Submit(context.Background(), p))
	}

	for _, m := range h.orch.Messages() {
		if m.Role == models.RoleAgent {
			assert.Equal(t, m.RequiresApproval, m.PendingAction != nil, m.Text)
		}
	}
}

func TestSpeak_ExactlyOncePerResponse(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{{Text: "first"}, {Text: ""}, {Text: "third"}}
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, h.orch.Submit(context.Background(), p))
	}
	assert.Equal(t, []string{"first", "third"}, h.speaker.all())
	assert.Equal(t, 6, h.orch.Len(), "empty response still appends an agent message")
}

func TestLogs_GrowMonotonically(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agentclient.Response{
		{Text: "knowledge", ToolUsed: "search_knowledge"},
		approvalResponse(t, "Deploy?", `{"instance": "gpu-large"}`),
	}

	prevTotal := h.log.Total()
	ops := []func(){
		func() { _ = h.orch.Submit(context.Background(), "how to save energy") },
		func() { _ = h.orch.Submit(context.Background(), "deploy") },
		func() { _ = h.orch.Reject(h.orch.Pending()[0].ID) },
		func() { _ = h.orch.Listen(context.Background()) },
	}
	for _, op := range ops {
		op()
		total := h.log.Total()
		assert.Greater(t, total, prevTotal)
		prevTotal = total
	}

	entries := h.log.Entries()
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}

	sources := map[models.LogSource]bool{}
	for _, e := range entries {
		sources[e.Source] = true
	}
	assert.True(t, sources[models.LogSourceLLM])
	assert.True(t, sources[models.LogSourceMCP])
	assert.True(t, sources[models.LogSourceRAG])
	assert.True(t, sources[models.LogSourceSystem])
}

func TestState_Snapshot(t *testing.T) {
	h := newHarness(t)
	clock := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	h.orch.now = func() time.Time { return clock }

	require.NoError(t, h.orch.Submit(context.Background(), "hello"))
	st := h.orch.State()
	assert.Len(t, st.Messages, 2)
	assert.NotEmpty(t, st.Logs)
	assert.False(t, st.Listening)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, clock, st.Messages[0].CreatedAt)
}

func TestSubmit_EmptyPrompt(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.orch.Submit(context.Background(), "   "), ErrEmptyPrompt)
	assert.Empty(t, h.client.calls())
}
