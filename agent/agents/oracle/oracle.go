package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	llmx "github.com/tanpawarit/hcp-interaction-agent/agent/llm"
	promptx "github.com/tanpawarit/hcp-interaction-agent/agent/prompt"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

// Oracle asks a tool-calling chat model for the next move of a turn.
type Oracle struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.Oracle = (*Oracle)(nil)

// NewFromConfig builds the OpenRouter chat model and binds tools to it.
func NewFromConfig(ctx context.Context, cfg llmx.Config, tools []*schema.ToolInfo) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	modelCfg := cfg.OpenRouterFor(contractx.AgentTypeOracle)
	chatModel, err := modelCfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create oracle model: %v", contractx.ErrModelInvoke, err)
	}
	return New(ctx, chatModel, promptx.LoadPromptSet().Oracle, tools)
}

func New(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
	tools []*schema.ToolInfo,
) (*Oracle, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, contractx.ErrPromptMissing
	}

	toolModel, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for oracle: %v", contractx.ErrModelInvoke, err)
	}
	runner, err := compileDecisionGraph(ctx, toolModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile oracle graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Oracle{runner: runner}, nil
}

func (o *Oracle) Decide(ctx context.Context, req contractx.DecideRequest) (contractx.Decision, error) {
	draft, err := json.MarshalIndent(nonEmpty(req.Draft), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal draft: %v", contractx.ErrValidation, err)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	msg, err := o.runner.Invoke(ctx, map[string]any{
		varHistory:   toSchemaMessages(req.History),
		varDraft:     string(draft),
		varCycle:     strconv.Itoa(req.Cycle),
		varMaxCycles: strconv.Itoa(req.MaxCycles),
		varToday:     now.UTC().Format(time.DateOnly),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: oracle invoke: %v", contractx.ErrModelInvoke, err)
	}
	return toDecision(msg)
}

func toDecision(msg *schema.Message) (contractx.Decision, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: empty oracle response", contractx.ErrSchemaViolation)
	}

	if len(msg.ToolCalls) > 0 {
		// One tool per cycle; extra calls are ignored.
		call := msg.ToolCalls[0]
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}
		return contractx.ToolCall{ID: call.ID, Name: name, Args: args}, nil
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: response has neither text nor tool call", contractx.ErrSchemaViolation)
	}
	return contractx.Reply{Text: content}, nil
}

// toSchemaMessages replays history in chat-completions shape: each tool
// message becomes the assistant tool call followed by the tool output.
func toSchemaMessages(history []statex.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for i, m := range history {
		switch m.Role {
		case statex.RoleUser:
			out = append(out, schema.UserMessage(m.Text))
		case statex.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Text, nil))
		case statex.RoleTool:
			id := m.ToolCallID
			if id == "" {
				id = "call_" + strconv.Itoa(i)
			}
			args, err := json.Marshal(m.Args)
			if err != nil || m.Args == nil {
				args = []byte("{}")
			}
			content := string(m.Payload)
			if content == "" {
				content = m.Text
			}
			out = append(out,
				schema.AssistantMessage("", []schema.ToolCall{{
					ID:   id,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      m.Tool,
						Arguments: string(args),
					},
				}}),
				schema.ToolMessage(content, id),
			)
		}
	}
	return out
}

func nonEmpty(d statex.Draft) statex.Draft {
	out := statex.Draft{}
	for k, v := range d {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}
