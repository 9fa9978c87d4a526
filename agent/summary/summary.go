package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const fallbackSummaryLen = 180

// Result is what gets written into ai_summary and ai_entities_json.
type Result struct {
	Summary      string
	EntitiesJSON string
}

type Entities struct {
	HCP          string   `json:"hcp,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Products     []string `json:"products"`
	Topics       []string `json:"topics"`
}

type Generator interface {
	Summarize(ctx context.Context, fields statex.Draft) (Result, error)
}

type modelOutput struct {
	Summary  string   `json:"summary"`
	Entities Entities `json:"entities"`
}

// OpenAI summarizes through any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client         *openaisdk.Client
	model          string
	prompt         string
	followUpPrompt string
	temperature    float64
	maxTokens      int64
}

var _ Generator = (*OpenAI)(nil)

type Option func(*OpenAI)

func WithTemperature(t float64) Option {
	return func(o *OpenAI) { o.temperature = t }
}

// WithFollowUpPrompt enables DraftFollowUp.
func WithFollowUpPrompt(p string) Option {
	return func(o *OpenAI) { o.followUpPrompt = strings.TrimSpace(p) }
}

func WithMaxTokens(n int64) Option {
	return func(o *OpenAI) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func NewOpenAI(client *openaisdk.Client, model, prompt string, opts ...Option) (*OpenAI, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: summary model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, contractx.ErrPromptMissing
	}
	o := &OpenAI{
		client:      client,
		model:       strings.TrimSpace(model),
		prompt:      prompt,
		temperature: 0.2,
		maxTokens:   600,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Summarize asks the model for a summary. A response that is not the
// expected JSON degrades to Fallback; transport errors are returned.
func (o *OpenAI) Summarize(ctx context.Context, fields statex.Draft) (Result, error) {
	input, err := json.Marshal(nonEmpty(fields))
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal interaction: %v", contractx.ErrValidation, err)
	}

	resp, err := o.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(o.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(o.prompt),
			openaisdk.UserMessage(string(input)),
		},
		Temperature:         openaisdk.Float(o.temperature),
		MaxCompletionTokens: openaisdk.Int(o.maxTokens),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: summary completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		log.Ctx(ctx).Warn().Msg("summary completion returned no choices, using fallback")
		return Fallback(fields), nil
	}

	res, err := parseOutput(resp.Choices[0].Message.Content)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("summary output is not valid json, using fallback")
		return Fallback(fields), nil
	}
	return res, nil
}

// DraftFollowUp asks the model for a follow-up message to the HCP.
func (o *OpenAI) DraftFollowUp(ctx context.Context, fields statex.Draft) (string, error) {
	if o.followUpPrompt == "" {
		return "", contractx.ErrPromptMissing
	}
	input, err := json.Marshal(pick(fields,
		statex.FieldHCPName, statex.FieldProductsDiscussed, statex.FieldInteractionDate,
		statex.FieldKeyPoints, statex.FieldOutcome, statex.FieldNextSteps,
	))
	if err != nil {
		return "", fmt.Errorf("%w: marshal interaction: %v", contractx.ErrValidation, err)
	}

	resp, err := o.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(o.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(o.followUpPrompt),
			openaisdk.UserMessage(string(input)),
		},
		Temperature:         openaisdk.Float(o.temperature),
		MaxCompletionTokens: openaisdk.Int(o.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%w: follow-up completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: follow-up completion returned no choices", contractx.ErrSchemaViolation)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func pick(d statex.Draft, keys ...string) statex.Draft {
	out := statex.Draft{}
	for _, k := range keys {
		if v := strings.TrimSpace(d[k]); v != "" {
			out[k] = v
		}
	}
	return out
}

func parseOutput(content string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var out modelOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Result{}, fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return Result{}, errors.New("summary is empty")
	}
	return Result{
		Summary:      strings.TrimSpace(out.Summary),
		EntitiesJSON: encodeEntities(out.Entities),
	}, nil
}

// Fallback builds a summary without a model: the notes cut to a short
// prefix, and entities taken from the structured fields.
func Fallback(fields statex.Draft) Result {
	text := strings.TrimSpace(fields[statex.FieldRawNotes])
	if text == "" {
		var parts []string
		for _, k := range []string{statex.FieldPurpose, statex.FieldKeyPoints, statex.FieldOutcome} {
			if v := strings.TrimSpace(fields[k]); v != "" {
				parts = append(parts, v)
			}
		}
		text = strings.Join(parts, ". ")
	}
	if text == "" {
		text = "Interaction with " + fields[statex.FieldHCPName]
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > fallbackSummaryLen {
		text = strings.TrimSpace(string(r[:fallbackSummaryLen])) + "..."
	}

	return Result{
		Summary: text,
		EntitiesJSON: encodeEntities(Entities{
			HCP:          fields[statex.FieldHCPName],
			Organization: fields[statex.FieldOrganization],
			Products:     splitList(fields[statex.FieldProductsDiscussed]),
			Topics:       splitList(fields[statex.FieldKeyPoints]),
		}),
	}
}

func encodeEntities(e Entities) string {
	if e.Products == nil {
		e.Products = []string{}
	}
	if e.Topics == nil {
		e.Topics = []string{}
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
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
