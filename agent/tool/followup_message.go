package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const ToolFollowUpMessage = "followup_message"

// MessageDrafter writes a follow-up message for an HCP from the draft.
type MessageDrafter interface {
	DraftFollowUp(ctx context.Context, fields statex.Draft) (string, error)
}

const (
	SourceModel    = "model"
	SourceTemplate = "template"
)

// FollowUpMessage drafts a balanced follow-up for the HCP. Without a
// drafter, or when the drafted text fails the compliance screen, it uses a
// fixed template.
type FollowUpMessage struct {
	Drafter MessageDrafter
}

type followUpMessageArgs struct {
	HCPName  string `json:"hcp_name"`
	Products string `json:"products"`
}

type FollowUpMessageOutput struct {
	Message string   `json:"followup_message"`
	Source  string   `json:"source"`
	Flags   []string `json:"rejected_flags,omitempty"`
}

func (FollowUpMessage) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name: ToolFollowUpMessage,
		Desc: "Draft a short, professional and balanced follow-up message the representative can send to the HCP " +
			"about the products discussed. Does not change the draft.",
		Params: []contractx.ParamSpec{
			{Name: "hcp_name", Type: contractx.ParamString, Desc: "Recipient; defaults to the draft HCP"},
			{Name: "products", Type: contractx.ParamString, Desc: "Products to mention; defaults to the draft products"},
		},
	}
}

func (t FollowUpMessage) Execute(ctx context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult {
	in, err := decodeArgs[followUpMessageArgs](args)
	if err != nil {
		return schemaFailure(ToolFollowUpMessage, err)
	}
	fields := tc.Draft.Clone()
	if v := strings.TrimSpace(in.HCPName); v != "" {
		fields[statex.FieldHCPName] = v
	}
	if v := strings.TrimSpace(in.Products); v != "" {
		fields[statex.FieldProductsDiscussed] = v
	}

	out := FollowUpMessageOutput{Message: FollowUpTemplate(fields), Source: SourceTemplate}
	if t.Drafter == nil {
		return contractx.Success(ToolFollowUpMessage, out, nil)
	}

	drafted, err := t.Drafter.DraftFollowUp(ctx, fields)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return execFailure(ToolFollowUpMessage, ctxErr)
		}
		log.Ctx(ctx).Warn().Err(err).Msg("follow-up drafter failed, using template")
		return contractx.Success(ToolFollowUpMessage, out, nil)
	}
	drafted = strings.TrimSpace(drafted)
	if drafted == "" {
		return contractx.Success(ToolFollowUpMessage, out, nil)
	}
	if report := CheckCompliance(drafted, fields[statex.FieldProductsDiscussed]); len(report.Flags) > 0 {
		out.Flags = report.Flags
		log.Ctx(ctx).Warn().Strs("flags", report.Flags).Msg("drafted follow-up failed compliance screen, using template")
		return contractx.Success(ToolFollowUpMessage, out, nil)
	}
	out.Message, out.Source = drafted, SourceModel
	return contractx.Success(ToolFollowUpMessage, out, nil)
}

// FollowUpTemplate is the model-free follow-up message.
func FollowUpTemplate(fields statex.Draft) string {
	hcp := strings.TrimSpace(fields[statex.FieldHCPName])
	if hcp == "" {
		hcp = "Doctor"
	}
	products := strings.TrimSpace(fields[statex.FieldProductsDiscussed])
	if products == "" {
		products = "the product we discussed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", hcp)
	b.WriteString("Thank you for your time")
	if d := strings.TrimSpace(fields[statex.FieldInteractionDate]); d != "" {
		fmt.Fprintf(&b, " on %s", d)
	}
	fmt.Fprintf(&b, " discussing %s.", products)
	if next := strings.TrimSpace(fields[statex.FieldNextSteps]); next != "" {
		fmt.Fprintf(&b, " As agreed, next steps: %s", strings.TrimSuffix(next, "."))
		b.WriteString(".")
	}
	b.WriteString(" Please refer to the approved prescribing information for full safety details, " +
		"and let me know if you have any questions.\n\nKind regards")
	return b.String()
}
