package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	nodex "github.com/tanpawarit/hcp-interaction-agent/agent/nodes/orchestrator"
	"github.com/tanpawarit/hcp-interaction-agent/agent/records"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
	"github.com/tanpawarit/hcp-interaction-agent/agent/tool"
)

var testNow = time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

const sharmaNotes = "Met Dr. Sharma, Cardiologist, at Ruby Hall, discussed Drug X safety, follow-up next week"

// fakeOracle replays scripted decisions; an entry may be a Decision or an error.
type fakeOracle struct {
	mu     sync.Mutex
	script []any
	repeat any
	reqs   []contractx.DecideRequest
}

func (f *fakeOracle) Decide(ctx context.Context, req contractx.DecideRequest) (contractx.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)

	var next any
	switch {
	case len(f.script) > 0:
		next, f.script = f.script[0], f.script[1:]
	case f.repeat != nil:
		next = f.repeat
	default:
		return nil, fmt.Errorf("no scripted decision left at call=%d", len(f.reqs))
	}
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(contractx.Decision), nil
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type recordingObserver struct {
	mu    sync.Mutex
	turns []string
	tools []string
}

func (r *recordingObserver) ObserveTurn(terminal string, cycles int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, fmt.Sprintf("%s/%d", terminal, cycles))
}

func (r *recordingObserver) ObserveTool(name, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, name+"/"+status)
}

// cancellingTools cancels the turn while the tool runs.
type cancellingTools struct {
	*tool.Registry
	cancel context.CancelFunc
}

func (c cancellingTools) Execute(ctx context.Context, call contractx.ToolCall, tc contractx.ToolContext) contractx.ToolResult {
	res := c.Registry.Execute(ctx, call, tc)
	c.cancel()
	return res
}

type harness struct {
	o        *Orchestrator
	oracle   *fakeOracle
	sessions *statex.Sessions
	store    *statex.MemoryStore
	observer *recordingObserver
}

func newHarness(t *testing.T, oracle *fakeOracle, tools contractx.ToolGateway, cfg Config) *harness {
	t.Helper()

	store := statex.NewMemoryStore()
	sessions, err := statex.NewSessions(store, statex.WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("NewSessions() error = %v", err)
	}
	if tools == nil {
		tools = tool.NewDefaultRegistry()
	}
	if cfg.OracleRetryBackoff == 0 {
		cfg.OracleRetryBackoff = time.Millisecond
	}
	observer := &recordingObserver{}

	o, err := New(sessions, oracle, tools, records.NewMemoryStore(), cfg,
		WithClock(func() time.Time { return testNow }),
		WithObserver(observer),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{o: o, oracle: oracle, sessions: sessions, store: store, observer: observer}
}

func (h *harness) saved(t *testing.T, threadID string) *statex.ConversationState {
	t.Helper()
	st, err := h.store.Load(context.Background(), threadID)
	if err != nil {
		t.Fatalf("load saved state: %v", err)
	}
	return st
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	sessions, _ := statex.NewSessions(statex.NewMemoryStore())
	if _, err := New(nil, &fakeOracle{}, tool.NewDefaultRegistry(), records.NewMemoryStore(), Config{}); err == nil {
		t.Fatal("expected error for nil sessions")
	}
	if _, err := New(sessions, nil, tool.NewDefaultRegistry(), records.NewMemoryStore(), Config{}); err == nil {
		t.Fatal("expected error for nil oracle")
	}
	if _, err := New(sessions, &fakeOracle{}, nil, records.NewMemoryStore(), Config{}); err == nil {
		t.Fatal("expected error for nil tools")
	}
	if _, err := New(sessions, &fakeOracle{}, tool.NewDefaultRegistry(), nil, Config{}); err == nil {
		t.Fatal("expected error for nil records")
	}
}

func TestHandleTurnInvalidInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeOracle{}, nil, Config{})

	_, err := h.o.HandleTurn(context.Background(), contractx.TurnRequest{ThreadID: "  ", UserMessage: "hello"})
	if !errors.Is(err, ErrInvalidThread) {
		t.Fatalf("expected ErrInvalidThread, got %v", err)
	}

	_, err = h.o.HandleTurn(context.Background(), contractx.TurnRequest{ThreadID: "t1", UserMessage: "   "})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if h.oracle.calls() != 0 {
		t.Fatalf("oracle should not be consulted, got %d calls", h.oracle.calls())
	}
}

func TestHandleTurnLogsSharmaVisit(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{script: []any{
		contractx.ToolCall{ID: "c1", Name: tool.ToolDataFormatter, Args: map[string]any{"notes": sharmaNotes}},
		contractx.ToolCall{ID: "c2", Name: tool.ToolFollowUpScheduler, Args: map[string]any{}},
		contractx.Reply{Text: "Logged your visit with Dr. Sharma; follow-up on 2026-03-11."},
	}}
	h := newHarness(t, oracle, nil, Config{})

	resp, err := h.o.HandleTurn(context.Background(), contractx.TurnRequest{ThreadID: "sharma", UserMessage: sharmaNotes})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.State != contractx.TerminalResponding {
		t.Fatalf("terminal state = %s", resp.State)
	}
	if resp.Cycles != 2 || resp.CycleLimitHit {
		t.Fatalf("cycles = %d limit=%v", resp.Cycles, resp.CycleLimitHit)
	}
	if !strings.Contains(resp.Reply, "Dr. Sharma") {
		t.Fatalf("reply = %q", resp.Reply)
	}

	want := map[string]string{
		statex.FieldHCPName:           "Dr. Sharma",
		statex.FieldSpecialty:         "Cardiologist",
		statex.FieldOrganization:      "Ruby Hall",
		statex.FieldProductsDiscussed: "Drug X",
		statex.FieldFollowUpDate:      "2026-03-11",
	}
	for k, v := range want {
		if resp.Draft[k] != v {
			t.Fatalf("draft[%s] = %q, want %q", k, resp.Draft[k], v)
		}
		if resp.DraftUpdates[k] != v {
			t.Fatalf("draft updates[%s] = %q, want %q", k, resp.DraftUpdates[k], v)
		}
	}

	// The second decision sees the first tool's outcome.
	second := oracle.reqs[1]
	if second.Cycle != 1 || second.Draft[statex.FieldHCPName] != "Dr. Sharma" {
		t.Fatalf("second request = cycle %d draft %v", second.Cycle, second.Draft)
	}
	last := second.History[len(second.History)-1]
	if last.Role != statex.RoleTool || last.Tool != tool.ToolDataFormatter || last.ToolCallID != "c1" {
		t.Fatalf("unexpected last history message: %+v", last)
	}

	st := h.saved(t, "sharma")
	roles := make([]statex.Role, 0, len(st.Messages))
	for _, m := range st.Messages {
		roles = append(roles, m.Role)
	}
	wantRoles := []statex.Role{statex.RoleUser, statex.RoleTool, statex.RoleTool, statex.RoleAssistant}
	if fmt.Sprint(roles) != fmt.Sprint(wantRoles) {
		t.Fatalf("roles = %v, want %v", roles, wantRoles)
	}
	if st.CycleCount != 2 {
		t.Fatalf("saved cycle count = %d", st.CycleCount)
	}
	if fmt.Sprint(h.observer.turns) != "[RESPONDING/2]" {
		t.Fatalf("observed turns = %v", h.observer.turns)
	}
	if fmt.Sprint(h.observer.tools) != "[data_formatter/success followup_scheduler/success]" {
		t.Fatalf("observed tools = %v", h.observer.tools)
	}
}

func TestHandleTurnSequentialMessagesShareThread(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{script: []any{
		contractx.ToolCall{Name: tool.ToolDataFormatter, Args: map[string]any{"notes": sharmaNotes}},
		contractx.Reply{Text: "Got it."},
		contractx.Reply{Text: "Noted, anything else?"},
	}}
	h := newHarness(t, oracle, nil, Config{})
	ctx := context.Background()

	if _, err := h.o.HandleTurn(ctx, contractx.TurnRequest{ThreadID: "seq", UserMessage: sharmaNotes}); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	resp, err := h.o.HandleTurn(ctx, contractx.TurnRequest{ThreadID: "seq", UserMessage: "She seemed receptive."})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if resp.Cycles != 0 {
		t.Fatalf("cycle counter not reset, got %d", resp.Cycles)
	}
	if len(resp.DraftUpdates) != 0 {
		t.Fatalf("second turn changed draft: %v", resp.DraftUpdates)
	}
	if resp.Draft[statex.FieldHCPName] != "Dr. Sharma" {
		t.Fatalf("draft lost between turns: %v", resp.Draft)
	}

	third := oracle.reqs[2]
	if third.Cycle != 0 {
		t.Fatalf("third request cycle = %d", third.Cycle)
	}
	if n := len(third.History); n != 4 {
		t.Fatalf("history length = %d, want 4", n)
	}

	st := h.saved(t, "seq")
	if len(st.Messages) != 5 {
		t.Fatalf("saved messages = %d, want 5", len(st.Messages))
	}
	if st.Version != 2 {
		t.Fatalf("version = %d, want 2", st.Version)
	}
}

func TestHandleTurnCycleLimitForcesReply(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{repeat: contractx.ToolCall{
		Name: tool.ToolDataFormatter,
		Args: map[string]any{"notes": sharmaNotes},
	}}
	h := newHarness(t, oracle, nil, Config{MaxCycles: 5})

	resp, err := h.o.HandleTurn(context.Background(), contractx.TurnRequest{ThreadID: "loop", UserMessage: sharmaNotes})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.State != contractx.TerminalResponding || !resp.CycleLimitHit {
		t.Fatalf("state = %s limit = %v", resp.State, resp.CycleLimitHit)
	}
	if resp.Cycles != 5 {
		t.Fatalf("cycles = %d, want 5", resp.Cycles)
	}
	if oracle.calls() != 5 {
		t.Fatalf("oracle calls = %d, want 5", oracle.calls())
	}
	if !strings.Contains(resp.Reply, "Dr. Sharma") {
		t.Fatalf("best-effort reply should render the draft: %q", resp.Reply)
	}
	if got := h.saved(t, "loop").CycleCount; got != 5 {
		t.Fatalf("saved cycle count = %d", got)
	}
}

func TestHandleTurnOracleUnavailableAborts(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{script: []any{
		contractx.ToolCall{Name: tool.ToolDataFormatter, Args: map[string]any{"notes": sharmaNotes}},
		contractx.Reply{Text: "Got it."},
		contractx.ToolCall{Name: tool.ToolSentimentAnalysis, Args: map[string]any{}},
		errors.New("upstream 503"),
	}}
	h := newHarness(t, oracle, nil, Config{})
	ctx := context.Background()

	if _, err := h.o.HandleTurn(ctx, contractx.TurnRequest{ThreadID: "abort", UserMessage: sharmaNotes}); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	before := h.saved(t, "abort")

	resp, err := h.o.HandleTurn(ctx, contractx.TurnRequest{ThreadID: "abort", UserMessage: "how did it go?"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.State != contractx.TerminalAborted {
		t.Fatalf("state = %s", resp.State)
	}
	if resp.Reply != nodex.RetryMessage {
		t.Fatalf("reply = %q", resp.Reply)
	}
	if len(resp.DraftUpdates) != 0 {
		t.Fatalf("aborted turn reported updates: %v", resp.DraftUpdates)
	}

	after := h.saved(t, "abort")
	if len(after.Messages) != len(before.Messages)+1 {
		t.Fatalf("messages = %d, want %d", len(after.Messages), len(before.Messages)+1)
	}
	last := after.Messages[len(after.Messages)-1]
	if last.Role != statex.RoleAssistant || last.Text != nodex.RetryMessage {
		t.Fatalf("last message = %+v", last)
	}
	if fmt.Sprint(after.Draft) != fmt.Sprint(before.Draft) {
		t.Fatalf("draft changed on abort:\nbefore %v\nafter  %v", before.Draft, after.Draft)
	}
	if after.CycleCount != before.CycleCount {
		t.Fatalf("cycle count changed on abort: %d -> %d", before.CycleCount, after.CycleCount)
	}
}

func TestHandleTurnRetriesMalformedDecision(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{script: []any{
		fmt.Errorf("%w: not json", contractx.ErrSchemaViolation),
		contractx.Reply{Text: "Hello!"},
	}}
	h := newHarness(t, oracle, nil, Config{OracleRetries: 1})

	resp, err := h.o.HandleTurn(context.Background(), contractx.TurnRequest{ThreadID: "retry", UserMessage: "hi"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.State != contractx.TerminalResponding || resp.Reply != "Hello!" {
		t.Fatalf("resp = %+v", resp)
	}
	if oracle.calls() != 2 {
		t.Fatalf("oracle calls = %d, want 2", oracle.calls())
	}
}

func TestHandleTurnMalformedDecisionExhaustsRetries(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{repeat: contractx.ToolCall{Name: "  "}}
	h := newHarness(t, oracle, nil, Config{OracleRetries: 2})

	resp, err := h.o.HandleTurn(context.Background(), contractx.TurnRequest{ThreadID: "bad", UserMessage: "hi"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.State != contractx.TerminalAborted {
		t.Fatalf("state = %s", resp.State)
	}
	if oracle.calls() != 3 {
		t.Fatalf("oracle calls = %d, want 3", oracle.calls())
	}

	st := h.saved(t, "bad")
	if len(st.Messages) != 1 || st.Messages[0].Role != statex.RoleAssistant {
		t.Fatalf("aborted new thread should hold only the error message: %+v", st.Messages)
	}
}

func TestHandleTurnUnknownToolBecomesFailureResult(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{script: []any{
		contractx.ToolCall{ID: "x1", Name: "crm_lookup", Args: map[string]any{"q": "sharma"}},
		contractx.ToolCall{ID: "x2", Name: tool.ToolFollowUpScheduler, Args: map[string]any{"urgency": "extreme"}},
		contractx.Reply{Text: "I couldn't do that."},
	}}
	h := newHarness(t, oracle, nil, Config{})

	resp, err := h.o.HandleTurn(context.Background(), contractx.TurnRequest{ThreadID: "unknown", UserMessage: "look up sharma"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.State != contractx.TerminalResponding || resp.Cycles != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Draft) != 0 {
		t.Fatalf("failed tools must not touch the draft: %v", resp.Draft)
	}

	st := h.saved(t, "unknown")
	wantKinds := []contractx.ErrorKind{contractx.KindToolNotFound, contractx.KindToolSchema}
	var got []contractx.ErrorKind
	for _, m := range st.Messages {
		if m.Role != statex.RoleTool {
			continue
		}
		var env struct {
			Status contractx.ToolStatus `json:"status"`
			Kind   contractx.ErrorKind  `json:"kind"`
		}
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if env.Status != contractx.ToolFailure {
			t.Fatalf("status = %s", env.Status)
		}
		got = append(got, env.Kind)
	}
	if fmt.Sprint(got) != fmt.Sprint(wantKinds) {
		t.Fatalf("kinds = %v, want %v", got, wantKinds)
	}
}

func TestHandleTurnCancelledMidCycleMergesNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	oracle := &fakeOracle{script: []any{
		contractx.ToolCall{Name: tool.ToolDataFormatter, Args: map[string]any{"notes": sharmaNotes}},
		contractx.Reply{Text: "Hello again."},
	}}
	h := newHarness(t, oracle, cancellingTools{Registry: tool.NewDefaultRegistry(), cancel: cancel}, Config{})

	_, err := h.o.HandleTurn(ctx, contractx.TurnRequest{ThreadID: "cancel", UserMessage: sharmaNotes})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := h.store.Load(context.Background(), "cancel"); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("cancelled turn must not be saved, got %v", err)
	}

	// The lease was released; the thread accepts the next turn.
	resp, err := h.o.HandleTurn(context.Background(), contractx.TurnRequest{ThreadID: "cancel", UserMessage: "hi"})
	if err != nil {
		t.Fatalf("follow-up turn: %v", err)
	}
	if len(resp.Draft) != 0 {
		t.Fatalf("cancelled cycle leaked into draft: %v", resp.Draft)
	}
}

// gateOracle reports whether two decisions for the same thread ever overlap.
type gateOracle struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (g *gateOracle) Decide(ctx context.Context, req contractx.DecideRequest) (contractx.Decision, error) {
	if g.inFlight.Add(1) > 1 {
		g.overlap.Store(true)
	}
	defer g.inFlight.Add(-1)
	time.Sleep(20 * time.Millisecond)
	return contractx.Reply{Text: "ok"}, nil
}

func TestHandleTurnSerializesPerThread(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	sessions, err := statex.NewSessions(store)
	if err != nil {
		t.Fatalf("NewSessions() error = %v", err)
	}
	oracle := &gateOracle{}
	o, err := New(sessions, oracle, tool.NewDefaultRegistry(), records.NewMemoryStore(), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const turns = 4
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.HandleTurn(context.Background(), contractx.TurnRequest{
				ThreadID:    "busy",
				UserMessage: fmt.Sprintf("message %d", i),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("HandleTurn() error = %v", err)
		}
	}

	if oracle.overlap.Load() {
		t.Fatal("two turns ran on the same thread at once")
	}
	st, err := store.Load(context.Background(), "busy")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Messages) != 2*turns {
		t.Fatalf("messages = %d, want %d", len(st.Messages), 2*turns)
	}
}
