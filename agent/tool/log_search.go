package tool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const (
	ToolLogSearch = "log_search"

	defaultSearchLimit = 5
	maxSearchLimit     = 50
	// Records fetched for ranking before the result is cut to the limit.
	searchCandidates = 200
)

type LogSearch struct{}

type logSearchArgs struct {
	HCPName   string   `json:"hcp_name"`
	Specialty string   `json:"specialty"`
	Channel   string   `json:"channel"`
	Query     string   `json:"query"`
	RecordIDs []string `json:"record_ids"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Limit     int      `json:"limit"`
}

type LogSearchHit struct {
	ID              string `json:"id"`
	HCPName         string `json:"hcp_name"`
	Specialty       string `json:"specialty,omitempty"`
	InteractionDate string `json:"interaction_date,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Products        string `json:"products_discussed,omitempty"`
	Outcome         string `json:"outcome,omitempty"`
	Summary         string `json:"summary"`
}

type LogSearchOutput struct {
	Count   int            `json:"count"`
	Records []LogSearchHit `json:"records"`
}

func (LogSearch) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name: ToolLogSearch,
		Desc: "Find past, already-logged HCP interaction records and return them as stored, newest first. " +
			"Use it to look up or recall a previous visit, call or email with a specific HCP. " +
			"It only retrieves existing records and never produces a new analysis across records.",
		Params: []contractx.ParamSpec{
			{Name: "hcp_name", Type: contractx.ParamString, Desc: "HCP name or part of it, e.g. Sharma"},
			{Name: "specialty", Type: contractx.ParamString, Desc: "HCP specialty, e.g. cardiology"},
			{Name: "channel", Type: contractx.ParamString, Desc: "Interaction channel",
				Enum: []string{"in_person", "call", "video", "email", "whatsapp", "other"}},
			{Name: "query", Type: contractx.ParamString, Desc: "Free-text keyword matched against notes, summary and products"},
			{Name: "record_ids", Type: contractx.ParamArray, Desc: "Exact record ids to fetch"},
			{Name: "from", Type: contractx.ParamString, Desc: "Earliest interaction date, YYYY-MM-DD"},
			{Name: "to", Type: contractx.ParamString, Desc: "Latest interaction date, YYYY-MM-DD"},
			{Name: "limit", Type: contractx.ParamInteger, Desc: "Maximum records to return (default 5)"},
		},
	}
}

func (t LogSearch) Execute(ctx context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult {
	in, err := decodeArgs[logSearchArgs](args)
	if err != nil {
		return schemaFailure(ToolLogSearch, err)
	}
	if in.HCPName == "" && in.Specialty == "" && in.Channel == "" && in.Query == "" &&
		len(in.RecordIDs) == 0 && in.From == "" && in.To == "" {
		// Default to the HCP already captured in the draft.
		in.HCPName = tc.Draft[statex.FieldHCPName]
	}
	if tc.Records == nil {
		return execFailure(ToolLogSearch, errors.New("record store unavailable"))
	}

	filter, err := buildFilter(in.RecordIDs, in.HCPName, in.Specialty, in.Channel, in.From, in.To)
	if err != nil {
		return schemaFailure(ToolLogSearch, err)
	}
	filter.Query = in.Query
	filter.Limit = searchCandidates
	limit := clampLimit(in.Limit)

	records, err := tc.Records.Find(ctx, filter)
	if err != nil {
		return execFailure(ToolLogSearch, err)
	}
	rankRecords(records, in.Query)
	if len(records) > limit {
		records = records[:limit]
	}

	out := LogSearchOutput{Count: len(records), Records: make([]LogSearchHit, 0, len(records))}
	for _, r := range records {
		summary := r.AISummary
		if summary == "" {
			summary = r.RawNotes
		}
		out.Records = append(out.Records, LogSearchHit{
			ID:              r.ID,
			HCPName:         r.HCPName,
			Specialty:       r.Specialty,
			InteractionDate: r.InteractionDate,
			Channel:         r.Channel,
			Products:        r.ProductsDiscussed,
			Outcome:         r.Outcome,
			Summary:         truncate(summary, 180),
		})
	}
	return contractx.Success(ToolLogSearch, out, nil)
}

// rankRecords orders by interaction day, newest first, then by how often
// the query terms occur in the record.
func rankRecords(records []contractx.InteractionRecord, query string) {
	terms := strings.Fields(strings.ToLower(query))
	slices.SortStableFunc(records, func(a, b contractx.InteractionRecord) int {
		da := a.InteractionAt().Format(time.DateOnly)
		db := b.InteractionAt().Format(time.DateOnly)
		if c := cmp.Compare(db, da); c != 0 {
			return c
		}
		return cmp.Compare(relevance(b, terms), relevance(a, terms))
	})
}

func relevance(r contractx.InteractionRecord, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	text := strings.ToLower(strings.Join([]string{
		r.HCPName, r.Specialty, r.Organization, r.ProductsDiscussed,
		r.KeyPoints, r.Outcome, r.RawNotes, r.AISummary,
	}, " "))
	n := 0
	for _, t := range terms {
		n += strings.Count(text, t)
	}
	return n
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultSearchLimit
	case n > maxSearchLimit:
		return maxSearchLimit
	default:
		return n
	}
}

func buildFilter(ids []string, hcp, specialty, channel, from, to string) (contractx.RecordFilter, error) {
	f := contractx.RecordFilter{
		IDs:       ids,
		HCPName:   hcp,
		Specialty: specialty,
		Channel:   string(contractx.NormalizeChannel(channel)),
	}
	if from != "" {
		t, err := parseDate(from)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if to != "" {
		t, err := parseDate(to)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, fmt.Errorf("%w: to is before from", contractx.ErrToolSchema)
	}
	return f, nil
}
