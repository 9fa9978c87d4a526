package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const ToolComplianceCheck = "compliance_check"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	FlagOffLabel           = "off_label"
	FlagUnbalancedClaim    = "unbalanced_claim"
	FlagSafetyMissing      = "safety_missing"
	FlagCompetitorBashing  = "competitor_bashing"
	FlagPIIRisk            = "pii_risk"
	FlagPromotionToPatient = "promotion_to_patient"
)

type ComplianceCheck struct{}

type complianceArgs struct {
	Text string `json:"text"`
}

type ComplianceReport struct {
	Flags    []string `json:"flags"`
	Severity Severity `json:"severity"`
	Notes    string   `json:"notes"`
}

type complianceRule struct {
	flag     string
	severity Severity
	note     string
	re       *regexp.Regexp
}

var complianceRules = []complianceRule{
	{
		flag: FlagOffLabel, severity: SeverityHigh,
		note: "mentions use outside the approved indication",
		re:   regexp.MustCompile(`(?i)\boff[- ]label\b|\bunapproved (?:use|indication)\b|\bnot approved for\b|\boutside (?:the )?label\b`),
	},
	{
		flag: FlagPromotionToPatient, severity: SeverityHigh,
		note: "promotional activity aimed at patients",
		re:   regexp.MustCompile(`(?i)\b(?:promot\w*|pitch\w*|market\w*|samples?)\b[^.]*\bpatients?\b|\bpatients?\b[^.]*\b(?:promot\w*|brochures?|samples?)\b`),
	},
	{
		flag: FlagPIIRisk, severity: SeverityHigh,
		note: "notes contain personal data",
		re: regexp.MustCompile(`(?i)[\w.+-]+@[\w-]+\.[\w.]+|\+\d[\d\s-]{7,}\d|\b\d{10,}\b|\b\d{3}[\s-]\d{3}[\s-]\d{4}\b|\bdate of birth\b|\bdob\b|\bmrn\b|\bpatient(?:'s)? name\b`),
	},
	{
		flag: FlagUnbalancedClaim, severity: SeverityMedium,
		note: "efficacy or safety claim without balance",
		re:   regexp.MustCompile(`(?i)\bcures?\b|\bguarantee\w*\b|\b100\s?%|\bno side effects\b|\bcompletely safe\b|\bmiracle\b|\balways works\b|\brisk[- ]free\b|\bbest drug\b`),
	},
	{
		flag: FlagCompetitorBashing, severity: SeverityMedium,
		note: "disparaging remarks about a competitor",
		re:   regexp.MustCompile(`(?i)\b(?:competitor|rival)\w*\b[^.]*\b(?:worse|inferior|dangerous|useless|bad|ineffective|junk)\b|\b(?:worse|inferior|dangerous|useless|ineffective)\b[^.]*\b(?:competitor|rival)\w*\b`),
	},
}

var safetyMention = regexp.MustCompile(`(?i)\bside[- ]effects?\b|\badverse\b|\bsafety\b|\brisks?\b|\bcontraindicat\w*|\bwarnings?\b|\bfair balance\b|\bprescribing information\b`)

func (ComplianceCheck) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name: ToolComplianceCheck,
		Desc: "Screen interaction notes for pharma compliance risks (off-label discussion, unbalanced claims, " +
			"missing safety information, competitor bashing, personal data, promotion to patients) and record the flags on the draft.",
		Params: []contractx.ParamSpec{
			{Name: "text", Type: contractx.ParamString, Desc: "Text to screen; defaults to the draft notes and summary"},
		},
	}
}

func (ComplianceCheck) Execute(_ context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult {
	in, err := decodeArgs[complianceArgs](args)
	if err != nil {
		return schemaFailure(ToolComplianceCheck, err)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		text = strings.TrimSpace(draftNarrative(tc.Draft) + "\n" + tc.Draft[statex.FieldAISummary])
	}
	if text == "" {
		return contractx.Failure(ToolComplianceCheck, contractx.KindInsufficientData,
			fmt.Sprintf("%v: no text to screen", contractx.ErrInsufficientData))
	}

	report := CheckCompliance(text, tc.Draft[statex.FieldProductsDiscussed])
	encoded, err := json.Marshal(report)
	if err != nil {
		return execFailure(ToolComplianceCheck, err)
	}
	return contractx.Success(ToolComplianceCheck, report, statex.Draft{
		statex.FieldComplianceFlagsJSON: string(encoded),
	})
}

// CheckCompliance screens text. products lists products already known to
// have been discussed, in addition to any named in text.
func CheckCompliance(text, products string) ComplianceReport {
	report := ComplianceReport{Flags: []string{}, Severity: SeverityLow}
	var notes []string

	raise := func(flag string, sev Severity, note string) {
		report.Flags = append(report.Flags, flag)
		notes = append(notes, note)
		if severityRank(sev) > severityRank(report.Severity) {
			report.Severity = sev
		}
	}

	for _, r := range complianceRules {
		if r.re.MatchString(text) {
			raise(r.flag, r.severity, r.note)
		}
	}
	productNamed := strings.TrimSpace(products) != "" || productPattern.MatchString(text)
	if productNamed && !safetyMention.MatchString(text) {
		raise(FlagSafetyMissing, SeverityLow, "product discussed without safety information")
	}

	if len(notes) == 0 {
		report.Notes = "no compliance issues detected"
	} else {
		report.Notes = strings.Join(notes, "; ")
	}
	return report
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
