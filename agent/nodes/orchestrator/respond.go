package orchestratornode

import (
	"fmt"
	"strings"

	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

var replyFieldOrder = []struct {
	key   string
	label string
}{
	{statex.FieldHCPName, "HCP"},
	{statex.FieldSpecialty, "Specialty"},
	{statex.FieldOrganization, "Organization"},
	{statex.FieldInteractionDate, "Date"},
	{statex.FieldChannel, "Channel"},
	{statex.FieldProductsDiscussed, "Products"},
	{statex.FieldPurpose, "Purpose"},
	{statex.FieldOutcome, "Outcome"},
	{statex.FieldNextSteps, "Next steps"},
	{statex.FieldFollowUpDate, "Follow-up"},
}

// BestEffortReply renders the draft for the user when the oracle gave no
// usable text or the cycle budget ran out.
func BestEffortReply(draft statex.Draft, updated statex.Draft, limitHit bool) string {
	var b strings.Builder
	if limitHit {
		b.WriteString("I've gathered what I could for this interaction.")
	} else {
		b.WriteString("Here's the interaction draft so far.")
	}

	var lines []string
	for _, f := range replyFieldOrder {
		if v := strings.TrimSpace(draft[f.key]); v != "" {
			marker := ""
			if _, ok := updated[f.key]; ok {
				marker = " (updated)"
			}
			lines = append(lines, fmt.Sprintf("- %s: %s%s", f.label, v, marker))
		}
	}
	if len(lines) == 0 {
		b.WriteString(" I don't have any interaction details yet. Who did you meet and what was discussed?")
		return b.String()
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(lines, "\n"))

	var missing []string
	for _, f := range []string{statex.FieldHCPName, statex.FieldInteractionDate, statex.FieldOutcome} {
		if strings.TrimSpace(draft[f]) == "" {
			missing = append(missing, strings.ReplaceAll(f, "_", " "))
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "\nStill missing: %s.", strings.Join(missing, ", "))
	}
	return b.String()
}
