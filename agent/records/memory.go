package records

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const (
	DefaultListLimit = 100
	unspecified      = "unspecified"
)

// MemoryStore is a process-local RecordRepository.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]contractx.InteractionRecord
	now     func() time.Time
}

func NewMemoryStore(seed ...contractx.InteractionRecord) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]contractx.InteractionRecord, len(seed)),
		now:     time.Now,
	}
	for _, r := range seed {
		s.records[r.ID] = r
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, rec *contractx.InteractionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareCreate(rec, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.records[rec.ID]; dup {
		return fmt.Errorf("%w: record %s already exists", contractx.ErrValidation, rec.ID)
	}
	s.records[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fields statex.Draft) (contractx.InteractionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return contractx.InteractionRecord{}, fmt.Errorf("%w: %s", contractx.ErrRecordNotFound, id)
	}
	rec.Apply(fields)
	rec.UpdatedAt = s.now().UTC()
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (contractx.InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return contractx.InteractionRecord{}, fmt.Errorf("%w: %s", contractx.ErrRecordNotFound, id)
	}
	return rec, nil
}

// List returns the most recently logged records.
func (s *MemoryStore) List(_ context.Context, limit int) ([]contractx.InteractionRecord, error) {
	return s.find(contractx.RecordFilter{Limit: cmp.Or(limit, DefaultListLimit)}, byCreatedDesc), nil
}

// Find returns matching records ordered by interaction day, newest first,
// so Limit keeps the most recent interactions.
func (s *MemoryStore) Find(_ context.Context, filter contractx.RecordFilter) ([]contractx.InteractionRecord, error) {
	return s.find(filter, byInteractionDesc), nil
}

func (s *MemoryStore) find(filter contractx.RecordFilter, order func(a, b contractx.InteractionRecord) int) []contractx.InteractionRecord {
	s.mu.RLock()
	out := make([]contractx.InteractionRecord, 0, len(s.records))
	for _, r := range s.records {
		if Matches(r, filter) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, order)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func byCreatedDesc(a, b contractx.InteractionRecord) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func byInteractionDesc(a, b contractx.InteractionRecord) int {
	da := a.InteractionAt().Format(time.DateOnly)
	db := b.InteractionAt().Format(time.DateOnly)
	if c := cmp.Compare(db, da); c != 0 {
		return c
	}
	return byCreatedDesc(a, b)
}

func (s *MemoryStore) Aggregate(ctx context.Context, filter contractx.RecordFilter) (contractx.RecordSummary, error) {
	filter.Limit = 0
	matched, err := s.Find(ctx, filter)
	if err != nil {
		return contractx.RecordSummary{}, err
	}
	sum := contractx.RecordSummary{
		Total:       len(matched),
		ByChannel:   map[string]int{},
		BySpecialty: map[string]int{},
	}
	for _, r := range matched {
		sum.ByChannel[cmp.Or(r.Channel, unspecified)]++
		sum.BySpecialty[cmp.Or(r.Specialty, unspecified)]++
	}
	return sum, nil
}

// Matches reports whether r satisfies every set criterion of f. Text
// criteria are case-insensitive substring matches.
func Matches(r contractx.InteractionRecord, f contractx.RecordFilter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, r.ID) {
		return false
	}
	if f.HCPName != "" && !containsFold(r.HCPName, f.HCPName) {
		return false
	}
	if f.Specialty != "" && !containsFold(r.Specialty, f.Specialty) {
		return false
	}
	if f.Channel != "" && r.Channel != f.Channel {
		return false
	}
	if f.Query != "" &&
		!containsFold(r.HCPName, f.Query) &&
		!containsFold(r.Organization, f.Query) &&
		!containsFold(r.RawNotes, f.Query) &&
		!containsFold(r.AISummary, f.Query) &&
		!containsFold(r.ProductsDiscussed, f.Query) &&
		!containsFold(r.KeyPoints, f.Query) &&
		!containsFold(r.Outcome, f.Query) {
		return false
	}
	day := r.InteractionAt().UTC().Format(time.DateOnly)
	if f.From != nil && day < f.From.UTC().Format(time.DateOnly) {
		return false
	}
	if f.To != nil && day > f.To.UTC().Format(time.DateOnly) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func prepareCreate(rec *contractx.InteractionRecord, now time.Time) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", contractx.ErrValidation)
	}
	rec.HCPName = strings.TrimSpace(rec.HCPName)
	if rec.HCPName == "" {
		return fmt.Errorf("%w: hcp_name is required", contractx.ErrValidation)
	}
	if rec.InteractionDate != "" {
		if _, err := time.Parse(time.DateOnly, rec.InteractionDate); err != nil {
			return fmt.Errorf("%w: interaction_date %q is not YYYY-MM-DD", contractx.ErrValidation, rec.InteractionDate)
		}
	}
	rec.Channel = string(cmp.Or(contractx.NormalizeChannel(rec.Channel), contractx.ChannelInPerson))
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now = now.UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}
