package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	promptx "github.com/tanpawarit/hcp-interaction-agent/agent/prompt"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int
	inputs    [][]*schema.Message
	tools     []*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.tools = tools
	return f, nil
}

var testNow = time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

func newTestOracle(t *testing.T, fake *fakeToolCallingModel) *Oracle {
	t.Helper()
	o, err := New(context.Background(), fake, promptx.LoadPromptSet().Oracle, []*schema.ToolInfo{
		{Name: "data_formatter", Desc: "format notes"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), nil, "prompt", nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("nil model: got %v", err)
	}
	if _, err := New(context.Background(), &fakeToolCallingModel{}, "  ", nil); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("empty prompt: got %v", err)
	}
}

func TestDecideToolCall(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "call_1", Function: schema.FunctionCall{Name: "data_formatter", Arguments: `{"notes":"Met Dr. Sharma"}`}},
			{ID: "call_2", Function: schema.FunctionCall{Name: "sentiment_analysis", Arguments: `{}`}},
		},
	}}}
	o := newTestOracle(t, fake)

	d, err := o.Decide(context.Background(), contractx.DecideRequest{
		ThreadID:  "t1",
		History:   []statex.Message{{Role: statex.RoleUser, Text: "Met Dr. Sharma"}},
		Draft:     statex.Draft{statex.FieldHCPName: "Dr. Sharma", statex.FieldOutcome: ""},
		Cycle:     1,
		MaxCycles: 5,
		Now:       testNow,
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	call, ok := d.(contractx.ToolCall)
	if !ok {
		t.Fatalf("expected ToolCall, got %T", d)
	}
	if call.ID != "call_1" || call.Name != "data_formatter" || call.Args["notes"] != "Met Dr. Sharma" {
		t.Fatalf("call = %+v", call)
	}
	if len(fake.tools) != 1 || fake.tools[0].Name != "data_formatter" {
		t.Fatalf("tools not bound: %+v", fake.tools)
	}

	input := fake.inputs[0]
	if len(input) != 2 || input[0].Role != schema.System || input[1].Role != schema.User {
		t.Fatalf("unexpected prompt shape: %+v", input)
	}
	system := input[0].Content
	for _, want := range []string{"Today is 2026-03-04", "used 1 of 5", `"hcp_name": "Dr. Sharma"`} {
		if !strings.Contains(system, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, system)
		}
	}
	if strings.Contains(system, `"outcome"`) {
		t.Fatal("empty draft fields should be omitted")
	}
}

func TestDecideReply(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{{Role: schema.Assistant, Content: "  Logged.  "}}}
	d, err := newTestOracle(t, fake).Decide(context.Background(), contractx.DecideRequest{ThreadID: "t1", Now: testNow})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if reply, ok := d.(contractx.Reply); !ok || reply.Text != "Logged." {
		t.Fatalf("decision = %#v", d)
	}
}

func TestDecideSchemaViolations(t *testing.T) {
	t.Parallel()

	cases := map[string]*schema.Message{
		"empty":       {Role: schema.Assistant},
		"blank name":  {Role: schema.Assistant, ToolCalls: []schema.ToolCall{{Function: schema.FunctionCall{Name: " "}}}},
		"broken args": {Role: schema.Assistant, ToolCalls: []schema.ToolCall{{Function: schema.FunctionCall{Name: "log_search", Arguments: "{"}}}},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fake := &fakeToolCallingModel{responses: []*schema.Message{msg}}
			_, err := newTestOracle(t, fake).Decide(context.Background(), contractx.DecideRequest{Now: testNow})
			if !errors.Is(err, contractx.ErrSchemaViolation) {
				t.Fatalf("expected ErrSchemaViolation, got %v", err)
			}
		})
	}
}

func TestDecideModelError(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{err: errors.New("429 too many requests")}
	_, err := newTestOracle(t, fake).Decide(context.Background(), contractx.DecideRequest{Now: testNow})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
	if errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatal("transport errors must not look like schema violations")
	}
}

func TestToSchemaMessagesReplaysToolCalls(t *testing.T) {
	t.Parallel()

	payload, _ := json.Marshal(map[string]any{"status": "success"})
	msgs := toSchemaMessages([]statex.Message{
		{Role: statex.RoleUser, Text: "Met Dr. Sharma"},
		{Role: statex.RoleTool, Tool: "data_formatter", Args: map[string]any{"notes": "Met Dr. Sharma"}, Payload: payload},
		{Role: statex.RoleAssistant, Text: "Logged."},
	})

	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	call := msgs[1]
	if call.Role != schema.Assistant || len(call.ToolCalls) != 1 {
		t.Fatalf("tool call message = %+v", call)
	}
	if call.ToolCalls[0].ID != "call_1" || call.ToolCalls[0].Function.Arguments != `{"notes":"Met Dr. Sharma"}` {
		t.Fatalf("tool call = %+v", call.ToolCalls[0])
	}
	result := msgs[2]
	if result.Role != schema.Tool || result.ToolCallID != "call_1" || result.Content != string(payload) {
		t.Fatalf("tool result = %+v", result)
	}
	if msgs[3].Role != schema.Assistant || msgs[3].Content != "Logged." {
		t.Fatalf("assistant = %+v", msgs[3])
	}
}
