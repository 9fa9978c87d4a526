package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/oracle.txt
	oracleRaw string

	//go:embed template/summary.txt
	summaryRaw string

	//go:embed template/followup.txt
	followUpRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Oracle   string
	Summary  string
	FollowUp string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Oracle:   strings.TrimSpace(oracleRaw),
		Summary:  strings.TrimSpace(summaryRaw),
		FollowUp: strings.TrimSpace(followUpRaw),
	}
}
