package tool

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const ToolDataFormatter = "data_formatter"

// DataFormatter turns free-text visit notes into draft fields using
// deterministic rules. Fields it cannot find are left out.
type DataFormatter struct{}

type dataFormatterArgs struct {
	Notes string `json:"notes"`
}

type DataFormatterOutput struct {
	Fields  statex.Draft `json:"fields"`
	Missing []string     `json:"missing,omitempty"`
}

// requiredForLog are the fields a rep is expected to fill before saving.
var requiredForLog = []string{
	statex.FieldHCPName,
	statex.FieldInteractionDate,
	statex.FieldChannel,
	statex.FieldProductsDiscussed,
	statex.FieldOutcome,
}

func (DataFormatter) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name: ToolDataFormatter,
		Desc: "Extract structured interaction fields (HCP name, specialty, organization, date, channel, " +
			"purpose, products, key points, outcome, next steps) from the rep's free-text notes " +
			"and fill them into the current draft.",
		Params: []contractx.ParamSpec{
			{Name: "notes", Type: contractx.ParamString, Desc: "The rep's notes, verbatim", Required: true},
		},
	}
}

func (DataFormatter) Execute(_ context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult {
	in, err := decodeArgs[dataFormatterArgs](args)
	if err != nil {
		return schemaFailure(ToolDataFormatter, err)
	}

	now := tc.Now
	if now.IsZero() {
		now = time.Now()
	}
	fields := ExtractFields(in.Notes, now)

	notes := strings.TrimSpace(in.Notes)
	switch prev := strings.TrimSpace(tc.Draft[statex.FieldRawNotes]); {
	case prev == "":
		fields[statex.FieldRawNotes] = notes
	case !strings.Contains(prev, notes):
		fields[statex.FieldRawNotes] = prev + "\n" + notes
	}

	var missing []string
	for _, f := range requiredForLog {
		if fields[f] == "" && tc.Draft[f] == "" {
			missing = append(missing, f)
		}
	}
	return contractx.Success(ToolDataFormatter, DataFormatterOutput{Fields: fields, Missing: missing}, fields)
}

var (
	hcpNamePattern = regexp.MustCompile(`\b(Dr\.?|Doctor|Prof\.?|Professor)\s+([A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+)?)`)
	orgPattern     = regexp.MustCompile(`\b(?:at|from)\s+((?:the\s+)?[A-Z][\w&'\-]*(?:\s+(?:[A-Z][\w&'\-]*|of|and|for))*)`)
	productPattern = regexp.MustCompile(`\b(Drug|Product)\s+([A-Z0-9][\w\-]*)`)
	purposePattern = regexp.MustCompile(`(?i)\b(?:to discuss|discussed|regarding|about)\s+([^.;,\n]+)`)
	keyPtsPattern  = regexp.MustCompile(`(?i)\b(?:key points?\s*[:\-]|mentioned|noted|raised|highlighted)\s*([^.;,\n]+)`)
	outcomeLabel   = regexp.MustCompile(`(?i)\b(?:outcome|result)\s*[:\-]\s*([^.;,\n]+)`)
	outcomeVerb    = regexp.MustCompile(`(?i)\b((?:agreed|decided|committed|declined|refused|requested)\b[^.;,\n]*)`)
	nextStepsPat   = regexp.MustCompile(`(?i)\b((?:follow[- ]?up|next steps?\s*[:\-]?|will send|will share|schedule[d]?)\b[^.;,\n]*)`)
	isoDatePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	todayPattern   = regexp.MustCompile(`(?i)\btoday\b`)
	yesterdayPat   = regexp.MustCompile(`(?i)\byesterday\b`)
)

var specialtyStems = []string{
	"cardiolog",
	"oncolog",
	"neurolog",
	"endocrinolog",
	"diabetolog",
	"dermatolog",
	"pediatric",
	"paediatric",
	"psychiatr",
	"rheumatolog",
	"nephrolog",
	"pulmonolog",
	"gastroenterolog",
	"orthop",
	"general practi",
	"gynecolog",
	"gynaecolog",
}

var channelPatterns = []struct {
	re      *regexp.Regexp
	channel contractx.Channel
}{
	{regexp.MustCompile(`(?i)\b(?:met|meeting|visit(?:ed)?|in[- ]person|face[- ]to[- ]face)\b`), contractx.ChannelInPerson},
	{regexp.MustCompile(`(?i)\b(?:video|zoom|teams|virtual)\b`), contractx.ChannelVideo},
	{regexp.MustCompile(`(?i)\b(?:call(?:ed)?|phone|rang|telephone)\b`), contractx.ChannelCall},
	{regexp.MustCompile(`(?i)\b(?:e-?mail(?:ed)?)\b`), contractx.ChannelEmail},
	{regexp.MustCompile(`(?i)\bwhats\s?app\b`), contractx.ChannelWhatsApp},
}

// ExtractFields applies the extraction rules to notes. now anchors relative
// dates such as "today".
func ExtractFields(notes string, now time.Time) statex.Draft {
	out := statex.Draft{}
	text := strings.TrimSpace(notes)
	if text == "" {
		return out
	}

	if m := hcpNamePattern.FindStringSubmatch(text); m != nil {
		out[statex.FieldHCPName] = normalizeTitle(m[1]) + " " + m[2]
	}
	if s := extractSpecialty(text); s != "" {
		out[statex.FieldSpecialty] = s
	}
	if org := extractOrganization(text); org != "" {
		out[statex.FieldOrganization] = org
	}
	if p := extractProducts(text); p != "" {
		out[statex.FieldProductsDiscussed] = p
	}
	if m := purposePattern.FindStringSubmatch(text); m != nil {
		out[statex.FieldPurpose] = cleanClause(m[1])
	}
	if m := keyPtsPattern.FindStringSubmatch(text); m != nil {
		out[statex.FieldKeyPoints] = cleanClause(m[1])
	}
	if m := outcomeLabel.FindStringSubmatch(text); m != nil {
		out[statex.FieldOutcome] = cleanClause(m[1])
	} else if m := outcomeVerb.FindStringSubmatch(text); m != nil {
		out[statex.FieldOutcome] = cleanClause(m[1])
	}

	var nextSteps string
	if m := nextStepsPat.FindStringSubmatch(text); m != nil {
		nextSteps = cleanClause(m[1])
		out[statex.FieldNextSteps] = nextSteps
	}
	if c := extractChannel(text); c != "" {
		out[statex.FieldChannel] = string(c)
	}

	interaction, followUp := extractDates(text, nextSteps, now)
	if interaction != "" {
		out[statex.FieldInteractionDate] = interaction
	}
	if followUp != "" {
		out[statex.FieldFollowUpDate] = followUp
	}
	return out
}

func normalizeTitle(t string) string {
	switch strings.ToLower(strings.TrimSuffix(t, ".")) {
	case "prof", "professor":
		return "Prof."
	default:
		return "Dr."
	}
}

func extractSpecialty(text string) string {
	lower := strings.ToLower(text)
	bestAt, bestEnd := -1, -1
	for _, stem := range specialtyStems {
		if i := strings.Index(lower, stem); i >= 0 && (bestAt < 0 || i < bestAt) {
			bestAt, bestEnd = i, i+len(stem)
		}
	}
	if bestAt < 0 {
		return ""
	}
	// Keep the word as the rep wrote it ("Cardiologist", "cardiology").
	for bestAt > 0 && isWordByte(text[bestAt-1]) {
		bestAt--
	}
	for bestEnd < len(text) && isWordByte(text[bestEnd]) {
		bestEnd++
	}
	return text[bestAt:bestEnd]
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func extractOrganization(text string) string {
	for _, m := range orgPattern.FindAllStringSubmatch(text, -1) {
		org := strings.TrimPrefix(m[1], "the ")
		words := strings.Fields(org)
		for len(words) > 0 && slices.Contains([]string{"of", "and", "for"}, words[len(words)-1]) {
			words = words[:len(words)-1]
		}
		if len(words) == 0 {
			continue
		}
		first := strings.TrimSuffix(words[0], ".")
		if slices.Contains([]string{"Dr", "Doctor", "Prof", "Professor", "Drug", "Product"}, first) {
			continue
		}
		return strings.Join(words, " ")
	}
	return ""
}

func extractProducts(text string) string {
	var products []string
	for _, m := range productPattern.FindAllStringSubmatch(text, -1) {
		p := m[1] + " " + m[2]
		if !slices.Contains(products, p) {
			products = append(products, p)
		}
	}
	return strings.Join(products, ", ")
}

func extractChannel(text string) contractx.Channel {
	var (
		best   contractx.Channel
		bestAt = -1
	)
	for _, cp := range channelPatterns {
		if loc := cp.re.FindStringIndex(text); loc != nil && (bestAt < 0 || loc[0] < bestAt) {
			best, bestAt = cp.channel, loc[0]
		}
	}
	return best
}

// extractDates returns the interaction date and, when a date sits inside the
// follow-up clause, the follow-up date.
func extractDates(text, nextSteps string, now time.Time) (interaction, followUp string) {
	for _, m := range isoDatePattern.FindAllString(text, -1) {
		if _, err := time.Parse(time.DateOnly, m); err != nil {
			continue
		}
		if nextSteps != "" && strings.Contains(nextSteps, m) {
			if followUp == "" {
				followUp = m
			}
			continue
		}
		if interaction == "" {
			interaction = m
		}
	}
	if interaction == "" {
		switch {
		case yesterdayPat.MatchString(text):
			interaction = now.AddDate(0, 0, -1).Format(time.DateOnly)
		case todayPattern.MatchString(text):
			interaction = now.Format(time.DateOnly)
		}
	}
	return interaction, followUp
}

func cleanClause(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ",:- ")
	return s
}
