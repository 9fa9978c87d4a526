package tool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
)

const (
	ToolReportGenerator = "report_generator"

	reportRecordLimit = 500
	unspecified       = "unspecified"
)

type ReportGenerator struct{}

type reportArgs struct {
	RecordIDs []string `json:"record_ids"`
	HCPName   string   `json:"hcp_name"`
	Specialty string   `json:"specialty"`
	Channel   string   `json:"channel"`
	From      string   `json:"from"`
	To        string   `json:"to"`
}

type ProductCount struct {
	Product string `json:"product"`
	Count   int    `json:"count"`
}

type ReportOutput struct {
	Matched      int            `json:"matched"`
	Sampled      int            `json:"sampled"`
	Truncated    bool           `json:"truncated,omitempty"`
	Period       string         `json:"period"`
	ByChannel    map[string]int `json:"by_channel"`
	BySpecialty  map[string]int `json:"by_specialty"`
	Sentiment    map[Tone]int   `json:"sentiment"`
	DominantTone Tone           `json:"dominant_tone"`
	Trend        Trend          `json:"trend"`
	TopProducts  []ProductCount `json:"top_products,omitempty"`
	Narrative    string         `json:"narrative"`
}

func (ReportGenerator) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name: ToolReportGenerator,
		Desc: "Generate a new synthesized report across many logged interactions: counts by channel and specialty, " +
			"sentiment distribution and trend, most discussed products and a short narrative. " +
			"Use it for aggregate analysis, not to look up a single past record.",
		Params: []contractx.ParamSpec{
			{Name: "record_ids", Type: contractx.ParamArray, Desc: "Exact record ids to include"},
			{Name: "hcp_name", Type: contractx.ParamString, Desc: "Restrict to one HCP"},
			{Name: "specialty", Type: contractx.ParamString, Desc: "Restrict to one specialty"},
			{Name: "channel", Type: contractx.ParamString, Desc: "Restrict to one channel",
				Enum: []string{"in_person", "call", "video", "email", "whatsapp", "other"}},
			{Name: "from", Type: contractx.ParamString, Desc: "Earliest interaction date, YYYY-MM-DD"},
			{Name: "to", Type: contractx.ParamString, Desc: "Latest interaction date, YYYY-MM-DD"},
		},
	}
}

func (ReportGenerator) Execute(ctx context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult {
	in, err := decodeArgs[reportArgs](args)
	if err != nil {
		return schemaFailure(ToolReportGenerator, err)
	}
	if tc.Records == nil {
		return execFailure(ToolReportGenerator, errors.New("record store unavailable"))
	}
	filter, err := buildFilter(in.RecordIDs, in.HCPName, in.Specialty, in.Channel, in.From, in.To)
	if err != nil {
		return schemaFailure(ToolReportGenerator, err)
	}

	// Counts come from Aggregate over every match; the per-record analysis
	// reads at most reportRecordLimit of the most recent interactions.
	sample := filter
	sample.Limit = reportRecordLimit
	records, err := tc.Records.Find(ctx, sample)
	if err != nil {
		return execFailure(ToolReportGenerator, err)
	}
	if len(records) == 0 {
		return contractx.Failure(ToolReportGenerator, contractx.KindInsufficientData,
			fmt.Sprintf("%v: no interaction records match the report filter", contractx.ErrInsufficientData))
	}

	filter.Limit = 0
	summary, err := tc.Records.Aggregate(ctx, filter)
	if err != nil {
		return execFailure(ToolReportGenerator, err)
	}
	complete := len(records) < reportRecordLimit
	if summary.Total < len(records) || (complete && summary.Total != len(records)) {
		log.Ctx(ctx).Warn().
			Int("aggregate_total", summary.Total).
			Int("matched", len(records)).
			Msg("aggregate disagrees with matched records, recounting")
		summary = countRecords(records)
	}

	return contractx.Success(ToolReportGenerator, BuildReport(records, summary), nil)
}

// BuildReport synthesizes the report body. summary counts every match;
// records may be a newest-first subset of them and must be non-empty.
func BuildReport(records []contractx.InteractionRecord, summary contractx.RecordSummary) ReportOutput {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b contractx.InteractionRecord) int {
		return a.InteractionAt().Compare(b.InteractionAt())
	})

	out := ReportOutput{
		Matched:     summary.Total,
		Sampled:     len(sorted),
		Truncated:   summary.Total > len(sorted),
		ByChannel:   summary.ByChannel,
		BySpecialty: summary.BySpecialty,
		Sentiment:   map[Tone]int{TonePositive: 0, ToneNeutral: 0, ToneNegative: 0},
	}

	scores := make([]float64, len(sorted))
	products := map[string]int{}
	for i, r := range sorted {
		s := AnalyzeSentiment(strings.Join([]string{r.RawNotes, r.KeyPoints, r.Outcome, r.AISummary}, "\n"))
		out.Sentiment[s.Tone]++
		scores[i] = s.Score
		for p := range strings.SplitSeq(r.ProductsDiscussed, ",") {
			if p = strings.TrimSpace(p); p != "" {
				products[p]++
			}
		}
	}

	out.DominantTone = ToneNeutral
	for _, tone := range []Tone{TonePositive, ToneNegative} {
		if out.Sentiment[tone] > out.Sentiment[out.DominantTone] {
			out.DominantTone = tone
		}
	}
	out.Trend = TrendStable
	if n := len(scores); n >= 2 {
		out.Trend = trendOf(mean(scores[:n/2]), mean(scores[n/2:]))
	}
	out.TopProducts = topProducts(products, 3)

	first := sorted[0].InteractionAt().Format("2006-01-02")
	last := sorted[len(sorted)-1].InteractionAt().Format("2006-01-02")
	out.Period = first + " to " + last
	out.Narrative = narrative(out, first, last)
	return out
}

func countRecords(records []contractx.InteractionRecord) contractx.RecordSummary {
	s := contractx.RecordSummary{
		Total:       len(records),
		ByChannel:   map[string]int{},
		BySpecialty: map[string]int{},
	}
	for _, r := range records {
		s.ByChannel[cmp.Or(r.Channel, unspecified)]++
		s.BySpecialty[cmp.Or(r.Specialty, unspecified)]++
	}
	return s
}

func topProducts(counts map[string]int, n int) []ProductCount {
	out := make([]ProductCount, 0, len(counts))
	for p, c := range counts {
		out = append(out, ProductCount{Product: p, Count: c})
	}
	slices.SortFunc(out, func(a, b ProductCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Product, b.Product)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func topKey(m map[string]int) string {
	keys := slices.Sorted(maps.Keys(m))
	best := ""
	for _, k := range keys {
		if best == "" || m[k] > m[best] {
			best = k
		}
	}
	return best
}

func narrative(r ReportOutput, first, last string) string {
	var b strings.Builder
	noun := "interactions"
	if r.Matched == 1 {
		noun = "interaction"
	}
	if r.Truncated {
		fmt.Fprintf(&b, "%d %s in total, sampled between %s and %s", r.Matched, noun, first, last)
	} else {
		fmt.Fprintf(&b, "%d %s between %s and %s", r.Matched, noun, first, last)
	}
	if ch := topKey(r.ByChannel); ch != "" {
		fmt.Fprintf(&b, ", mostly via %s", ch)
	}
	b.WriteString(". ")
	fmt.Fprintf(&b, "Overall tone was %s (%d positive, %d neutral, %d negative) and the trend is %s.",
		r.DominantTone, r.Sentiment[TonePositive], r.Sentiment[ToneNeutral], r.Sentiment[ToneNegative], r.Trend)
	if len(r.TopProducts) > 0 {
		names := make([]string, len(r.TopProducts))
		for i, p := range r.TopProducts {
			names[i] = p.Product
		}
		fmt.Fprintf(&b, " Most discussed: %s.", strings.Join(names, ", "))
	}
	if r.Truncated {
		fmt.Fprintf(&b, " Tone, trend and products reflect the %d most recent of %d interactions.", r.Sampled, r.Matched)
	}
	return b.String()
}
