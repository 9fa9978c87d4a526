package tool

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const ToolNextBestAction = "next_best_action"

const (
	actionRemote = "Send a balanced follow-up message with approved materials and confirm the next meeting date."
	actionVisit  = "Schedule a follow-up visit or call, share the approved clinical summary and address any objections."
)

type NextBestAction struct{}

type nextBestActionArgs struct {
	Channel string `json:"channel"`
}

type NextBestActionOutput struct {
	Action  string   `json:"next_best_action"`
	Channel string   `json:"channel"`
	Extras  []string `json:"extras,omitempty"`
}

func (NextBestAction) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name: ToolNextBestAction,
		Desc: "Suggest the representative's next best action for the current interaction, based on its channel " +
			"and what the draft still lacks. Fills next_steps on the draft only when it is empty.",
		Params: []contractx.ParamSpec{
			{Name: "channel", Type: contractx.ParamString, Desc: "Interaction channel; defaults to the draft channel",
				Enum: []string{"in_person", "call", "video", "email", "whatsapp", "other"}},
		},
	}
}

func (NextBestAction) Execute(_ context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult {
	in, err := decodeArgs[nextBestActionArgs](args)
	if err != nil {
		return schemaFailure(ToolNextBestAction, err)
	}
	out := SuggestNextBestAction(tc.Draft, in.Channel)

	var updates statex.Draft
	if strings.TrimSpace(tc.Draft[statex.FieldNextSteps]) == "" {
		updates = statex.Draft{statex.FieldNextSteps: out.Action}
	}
	return contractx.Success(ToolNextBestAction, out, updates)
}

// SuggestNextBestAction picks the action by channel: written channels get a
// follow-up message, everything else a visit or call. channel overrides the
// draft channel when set.
func SuggestNextBestAction(draft statex.Draft, channel string) NextBestActionOutput {
	ch := contractx.NormalizeChannel(channel)
	if strings.TrimSpace(channel) == "" {
		ch = contractx.NormalizeChannel(draft[statex.FieldChannel])
	}

	out := NextBestActionOutput{Channel: string(ch), Action: actionVisit}
	if ch == contractx.ChannelEmail || ch == contractx.ChannelWhatsApp {
		out.Action = actionRemote
	}

	if strings.TrimSpace(draft[statex.FieldFollowUpDate]) == "" {
		out.Extras = append(out.Extras, "Agree a follow-up date.")
	}
	if flags := complianceFlags(draft[statex.FieldComplianceFlagsJSON]); slices.Contains(flags, FlagSafetyMissing) {
		out.Extras = append(out.Extras, "Share the approved safety information.")
	}
	if len(out.Extras) > 0 {
		out.Action += " " + strings.Join(out.Extras, " ")
	}
	return out
}

func complianceFlags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var report ComplianceReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil
	}
	return report.Flags
}
