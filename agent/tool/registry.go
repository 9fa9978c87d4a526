package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

// Tool is one catalog entry. Execute reports problems through the returned
// ToolResult and never panics on bad input.
type Tool interface {
	Spec() contractx.ToolSpec
	Execute(ctx context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult
}

// Registry is the immutable tool catalog. It is built once at startup.
type Registry struct {
	order []string
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			return nil, errors.New("nil tool")
		}
		spec := t.Spec()
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, errors.New("tool name is required")
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

type DefaultOption func(*defaultTools)

type defaultTools struct {
	drafter MessageDrafter
}

// WithMessageDrafter lets followup_message draft through a model.
func WithMessageDrafter(d MessageDrafter) DefaultOption {
	return func(o *defaultTools) { o.drafter = d }
}

// NewDefaultRegistry returns the HCP tools in catalog order.
func NewDefaultRegistry(opts ...DefaultOption) *Registry {
	var o defaultTools
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	r, err := NewRegistry(
		LogSearch{},
		DataFormatter{},
		SentimentAnalysis{},
		FollowUpScheduler{},
		ReportGenerator{},
		ComplianceCheck{},
		NextBestAction{},
		FollowUpMessage{Drafter: o.drafter},
	)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Catalog() []contractx.ToolSpec {
	out := make([]contractx.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.tools[name].Spec()
		spec.Params = slices.Clone(spec.Params)
		out = append(out, spec)
	}
	return out
}

func (r *Registry) Resolve(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Infos converts the catalog to eino tool infos for model binding.
func (r *Registry) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, spec := range r.Catalog() {
		params := make(map[string]*schema.ParameterInfo, len(spec.Params))
		for _, p := range spec.Params {
			info := &schema.ParameterInfo{
				Type:     einoType(p.Type),
				Desc:     p.Desc,
				Required: p.Required,
				Enum:     slices.Clone(p.Enum),
			}
			if p.Type == contractx.ParamArray {
				info.ElemInfo = &schema.ParameterInfo{Type: schema.String}
			}
			params[p.Name] = info
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        spec.Name,
			Desc:        spec.Desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

func einoType(t contractx.ParamType) schema.DataType {
	switch t {
	case contractx.ParamInteger:
		return schema.Integer
	case contractx.ParamNumber:
		return schema.Number
	case contractx.ParamBoolean:
		return schema.Boolean
	case contractx.ParamArray:
		return schema.Array
	default:
		return schema.String
	}
}

// Execute resolves, validates and runs a call. Every outcome, including an
// unknown tool or a panic, comes back as a ToolResult.
func (r *Registry) Execute(ctx context.Context, call contractx.ToolCall, tc contractx.ToolContext) (res contractx.ToolResult) {
	logger := log.Ctx(ctx).With().Str("tool", call.Name).Str("call_id", call.ID).Logger()

	t, ok := r.Resolve(call.Name)
	if !ok {
		logger.Warn().Msg("unknown tool requested")
		return stamp(contractx.Failure(call.Name, contractx.KindToolNotFound,
			fmt.Sprintf("%v: %q is not in the catalog", contractx.ErrToolNotFound, call.Name)), call)
	}

	args, err := ValidateArgs(t.Spec(), call.Args)
	if err != nil {
		logger.Warn().Err(err).Msg("tool arguments rejected")
		return stamp(contractx.Failure(call.Name, contractx.KindToolSchema, err.Error()), call)
	}
	if err := ctx.Err(); err != nil {
		return stamp(contractx.Failure(call.Name, contractx.KindCancelled, err.Error()), call)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("tool panicked")
			res = stamp(contractx.Failure(call.Name, contractx.KindToolExecution,
				fmt.Sprintf("%v: %v", contractx.ErrToolExecution, p)), call)
		}
	}()

	tc.Draft = tc.Draft.Clone()
	res = t.Execute(ctx, args, tc)
	res.DraftUpdates = knownFields(res.DraftUpdates)
	logger.Debug().Str("status", string(res.Status)).Strs("draft_updates", res.DraftUpdates.Keys()).Msg("tool executed")
	return stamp(res, call)
}

func stamp(res contractx.ToolResult, call contractx.ToolCall) contractx.ToolResult {
	res.Tool = call.Name
	res.CallID = call.ID
	return res
}

func knownFields(d statex.Draft) statex.Draft {
	if len(d) == 0 {
		return nil
	}
	out := make(statex.Draft, len(d))
	for k, v := range d {
		if statex.IsDraftField(k) {
			out[k] = v
		}
	}
	return out
}

// ValidateArgs checks required params, coerces declared params to their
// types and drops keys the spec does not declare.
func ValidateArgs(spec contractx.ToolSpec, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(spec.Params))
	var problems []string

	for _, p := range spec.Params {
		v, present := raw[p.Name]
		if !present || v == nil || isBlank(v) {
			if p.Required {
				problems = append(problems, fmt.Sprintf("%s is required", p.Name))
			}
			continue
		}
		coerced, err := coerce(p, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		out[p.Name] = coerced
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", contractx.ErrToolSchema, strings.Join(problems, "; "))
	}
	return out, nil
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	default:
		return false
	}
}

func coerce(p contractx.ParamSpec, v any) (any, error) {
	switch p.Type {
	case contractx.ParamInteger:
		return cast.ToIntE(v)
	case contractx.ParamNumber:
		return cast.ToFloat64E(v)
	case contractx.ParamBoolean:
		return cast.ToBoolE(v)
	case contractx.ParamArray:
		if s, ok := v.(string); ok {
			return splitList(s), nil
		}
		return cast.ToStringSliceE(v)
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if len(p.Enum) > 0 {
			lowered := strings.ToLower(s)
			if !slices.Contains(p.Enum, lowered) {
				return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(p.Enum, ", "))
			}
			return lowered, nil
		}
		return s, nil
	}
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
