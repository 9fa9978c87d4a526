package tool

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const ToolFollowUpScheduler = "followup_scheduler"

const (
	UrgentFollowUpDays  = 5
	DefaultFollowUpDays = 14
	RoutineFollowUpDays = 35
)

type FollowUpScheduler struct{}

type followUpArgs struct {
	InteractionDate  string `json:"interaction_date"`
	Urgency          string `json:"urgency"`
	Notes            string `json:"notes"`
	LastFollowUpDate string `json:"last_follow_up_date"`
}

type FollowUpOutput struct {
	FollowUpDate string `json:"follow_up_date"`
	BaseDate     string `json:"base_date"`
	Days         int    `json:"days"`
	Basis        string `json:"basis"`
	Reason       string `json:"reason"`
}

var (
	inNPattern      = regexp.MustCompile(`(?i)\bin\s+(\d{1,3}|a|an|one|two|three|four|five|six)\s+(day|week|month)s?\b`)
	nextWeekPattern = regexp.MustCompile(`(?i)\bnext\s+week\b`)
	nextMonthPat    = regexp.MustCompile(`(?i)\bnext\s+month\b`)
	tomorrowPattern = regexp.MustCompile(`(?i)\btomorrow\b`)

	// Cue words match as prefixes of note words, so "safety concern" also
	// matches "safety concerns".
	urgentCues  = []string{"safety concern", "adverse event", "side effect", "unresolved", "urgent", "asap", "complaint", "escalat"}
	routineCues = []string{"no further action", "resolved", "closed", "all questions answered", "routine", "no concerns"}

	clauseSplit = regexp.MustCompile(`[.;,!?\n]+`)
)

var smallNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
}

func (FollowUpScheduler) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name: ToolFollowUpScheduler,
		Desc: "Propose a follow-up date for the current interaction from its date, urgency and any timing " +
			"the rep mentioned (e.g. \"next week\"), and set it on the draft.",
		Params: []contractx.ParamSpec{
			{Name: "interaction_date", Type: contractx.ParamString, Desc: "Interaction date YYYY-MM-DD; defaults to the draft date or today"},
			{Name: "urgency", Type: contractx.ParamString, Desc: "Urgency hint", Enum: []string{"high", "normal", "low"}},
			{Name: "notes", Type: contractx.ParamString, Desc: "Text that may contain timing or urgency cues; defaults to the draft notes"},
			{Name: "last_follow_up_date", Type: contractx.ParamString, Desc: "Most recent scheduled follow-up, YYYY-MM-DD; the result is always after it"},
		},
	}
}

func (FollowUpScheduler) Execute(_ context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult {
	in, err := decodeArgs[followUpArgs](args)
	if err != nil {
		return schemaFailure(ToolFollowUpScheduler, err)
	}

	now := tc.Now
	if now.IsZero() {
		now = time.Now()
	}
	base := dayOf(now)
	baseSrc := in.InteractionDate
	if baseSrc == "" {
		baseSrc = tc.Draft[statex.FieldInteractionDate]
	}
	if baseSrc != "" {
		if base, err = parseDate(baseSrc); err != nil {
			return schemaFailure(ToolFollowUpScheduler, err)
		}
		base = dayOf(base)
	}

	notes := in.Notes
	if strings.TrimSpace(notes) == "" {
		notes = strings.Join([]string{
			tc.Draft[statex.FieldNextSteps],
			tc.Draft[statex.FieldOutcome],
			tc.Draft[statex.FieldRawNotes],
		}, "\n")
	}

	days, basis, reason := followUpOffset(notes, in.Urgency)
	due := base.AddDate(0, 0, days)

	if in.LastFollowUpDate != "" {
		last, err := parseDate(in.LastFollowUpDate)
		if err != nil {
			return schemaFailure(ToolFollowUpScheduler, err)
		}
		if last = dayOf(last); !due.After(last) {
			due = last.AddDate(0, 0, 1)
			reason += fmt.Sprintf("; moved after last follow-up %s", last.Format(time.DateOnly))
		}
	}

	out := FollowUpOutput{
		FollowUpDate: due.Format(time.DateOnly),
		BaseDate:     base.Format(time.DateOnly),
		Days:         int(due.Sub(base).Hours() / 24),
		Basis:        basis,
		Reason:       reason,
	}
	return contractx.Success(ToolFollowUpScheduler, out, statex.Draft{
		statex.FieldFollowUpDate: out.FollowUpDate,
	})
}

// followUpOffset applies explicit timing, then urgency, then the default.
func followUpOffset(notes, urgency string) (days int, basis, reason string) {
	if m := inNPattern.FindStringSubmatch(notes); m != nil {
		n, ok := smallNumbers[strings.ToLower(m[1])]
		if !ok {
			n, _ = strconv.Atoi(m[1])
		}
		unit := strings.ToLower(m[2])
		switch unit {
		case "week":
			n *= 7
		case "month":
			n *= 30
		}
		if n > 0 {
			return n, "explicit", fmt.Sprintf("rep asked for %q", m[0])
		}
	}
	switch {
	case tomorrowPattern.MatchString(notes):
		return 1, "explicit", `rep asked for "tomorrow"`
	case nextWeekPattern.MatchString(notes):
		return 7, "explicit", `rep asked for "next week"`
	case nextMonthPat.MatchString(notes):
		return 30, "explicit", `rep asked for "next month"`
	}

	if urgency == "high" {
		return UrgentFollowUpDays, "urgency", "urgency marked high"
	}
	if cue := firstCue(notes, urgentCues); cue != "" && urgency != "low" {
		return UrgentFollowUpDays, "urgency", fmt.Sprintf("urgent cue %q", cue)
	}
	if urgency == "low" {
		return RoutineFollowUpDays, "routine", "urgency marked low"
	}
	if cue := firstCue(notes, routineCues); cue != "" {
		return RoutineFollowUpDays, "routine", fmt.Sprintf("routine cue %q", cue)
	}
	return DefaultFollowUpDays, "default", "standard follow-up interval"
}

// firstCue returns the first cue present in notes that is not negated
// within its clause ("no safety concerns" does not match "safety concern").
func firstCue(notes string, cues []string) string {
	clauses := clauseSplit.Split(notes, -1)
	for _, c := range cues {
		cueWords := strings.Fields(c)
		for _, clause := range clauses {
			words := lexWords(clause)
			for i := 0; i+len(cueWords) <= len(words); i++ {
				if matchesCue(words[i:], cueWords) && negatorBefore(words, i) == "" {
					return c
				}
			}
		}
	}
	return ""
}

func matchesCue(words, cue []string) bool {
	for k, cw := range cue {
		if !strings.HasPrefix(words[k], cw) {
			return false
		}
	}
	return true
}
