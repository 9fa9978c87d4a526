package tool

import (
	"context"
	"slices"
	"strings"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
)

type fakeRecords struct {
	records     []contractx.InteractionRecord
	lastFilter  contractx.RecordFilter
	findErr     error
	skewedTotal int
}

func (f *fakeRecords) Find(_ context.Context, filter contractx.RecordFilter) ([]contractx.InteractionRecord, error) {
	f.lastFilter = filter
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []contractx.InteractionRecord
	for _, r := range f.records {
		if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, r.ID) {
			continue
		}
		if filter.HCPName != "" && !strings.Contains(strings.ToLower(r.HCPName), strings.ToLower(filter.HCPName)) {
			continue
		}
		if filter.Channel != "" && r.Channel != filter.Channel {
			continue
		}
		out = append(out, r)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeRecords) Aggregate(ctx context.Context, filter contractx.RecordFilter) (contractx.RecordSummary, error) {
	matched, err := f.Find(ctx, filter)
	if err != nil {
		return contractx.RecordSummary{}, err
	}
	s := countRecords(matched)
	if f.skewedTotal != 0 {
		s.Total = f.skewedTotal
		s.ByChannel = map[string]int{"bogus": f.skewedTotal}
	}
	return s, nil
}
