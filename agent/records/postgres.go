package records

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN         string        `envconfig:"DSN" required:"true"`
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
}

type interactionRow struct {
	bun.BaseModel `bun:"table:hcp_interactions,alias:i"`

	ID                  string    `bun:"id,pk"`
	HCPName             string    `bun:"hcp_name,notnull"`
	Specialty           string    `bun:"specialty,notnull,default:''"`
	Organization        string    `bun:"organization,notnull,default:''"`
	InteractionDate     string    `bun:"interaction_date,notnull,default:''"`
	Channel             string    `bun:"channel,notnull,default:'in_person'"`
	Purpose             string    `bun:"purpose,notnull,default:''"`
	ProductsDiscussed   string    `bun:"products_discussed,notnull,default:''"`
	KeyPoints           string    `bun:"key_points,notnull,default:''"`
	Outcome             string    `bun:"outcome,notnull,default:''"`
	NextSteps           string    `bun:"next_steps,notnull,default:''"`
	FollowUpDate        string    `bun:"follow_up_date,notnull,default:''"`
	RawNotes            string    `bun:"raw_notes,notnull,default:''"`
	AISummary           string    `bun:"ai_summary,notnull,default:''"`
	AIEntitiesJSON      string    `bun:"ai_entities_json,notnull,default:''"`
	ComplianceFlagsJSON string    `bun:"compliance_flags_json,notnull,default:''"`
	CreatedAt           time.Time `bun:"created_at,notnull"`
	UpdatedAt           time.Time `bun:"updated_at,notnull"`
}

func toRow(r contractx.InteractionRecord) interactionRow {
	return interactionRow{
		ID: r.ID, HCPName: r.HCPName, Specialty: r.Specialty, Organization: r.Organization,
		InteractionDate: r.InteractionDate, Channel: r.Channel, Purpose: r.Purpose,
		ProductsDiscussed: r.ProductsDiscussed, KeyPoints: r.KeyPoints, Outcome: r.Outcome,
		NextSteps: r.NextSteps, FollowUpDate: r.FollowUpDate, RawNotes: r.RawNotes,
		AISummary: r.AISummary, AIEntitiesJSON: r.AIEntitiesJSON, ComplianceFlagsJSON: r.ComplianceFlagsJSON,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (row interactionRow) record() contractx.InteractionRecord {
	return contractx.InteractionRecord{
		ID: row.ID, HCPName: row.HCPName, Specialty: row.Specialty, Organization: row.Organization,
		InteractionDate: row.InteractionDate, Channel: row.Channel, Purpose: row.Purpose,
		ProductsDiscussed: row.ProductsDiscussed, KeyPoints: row.KeyPoints, Outcome: row.Outcome,
		NextSteps: row.NextSteps, FollowUpDate: row.FollowUpDate, RawNotes: row.RawNotes,
		AISummary: row.AISummary, AIEntitiesJSON: row.AIEntitiesJSON, ComplianceFlagsJSON: row.ComplianceFlagsJSON,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
}

// PostgresStore is the bun-backed RecordRepository.
type PostgresStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewPostgresDB(cfg PostgresConfig) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithDialTimeout(cmp.Or(cfg.DialTimeout, 5*time.Second)),
	))
	return bun.NewDB(sqldb, pgdialect.New())
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate creates the interactions table when it is missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*interactionRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create hcp_interactions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, rec *contractx.InteractionRecord) error {
	if err := prepareCreate(rec, s.now()); err != nil {
		return err
	}
	row := toRow(*rec)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (contractx.InteractionRecord, error) {
	var row interactionRow
	err := s.db.NewSelect().Model(&row).Where("i.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return contractx.InteractionRecord{}, fmt.Errorf("%w: %s", contractx.ErrRecordNotFound, id)
	}
	if err != nil {
		return contractx.InteractionRecord{}, fmt.Errorf("select interaction %s: %w", id, err)
	}
	return row.record(), nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, fields statex.Draft) (contractx.InteractionRecord, error) {
	var out contractx.InteractionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row interactionRow
		err := tx.NewSelect().Model(&row).Where("i.id = ?", id).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", contractx.ErrRecordNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("select interaction %s: %w", id, err)
		}
		rec := row.record()
		rec.Apply(fields)
		rec.UpdatedAt = s.now().UTC()
		row = toRow(rec)
		if _, err := tx.NewUpdate().Model(&row).WherePK().ExcludeColumn("created_at").Exec(ctx); err != nil {
			return fmt.Errorf("update interaction %s: %w", id, err)
		}
		out = rec
		return nil
	})
	return out, err
}

// List returns the most recently logged records.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]contractx.InteractionRecord, error) {
	return s.find(ctx, contractx.RecordFilter{Limit: cmp.Or(limit, DefaultListLimit)}, orderByCreated)
}

// Find returns matching records ordered by interaction day, newest first,
// so Limit keeps the most recent interactions.
func (s *PostgresStore) Find(ctx context.Context, filter contractx.RecordFilter) ([]contractx.InteractionRecord, error) {
	return s.find(ctx, filter, orderByInteraction)
}

const (
	orderByCreated     = "i.created_at DESC, i.id ASC"
	orderByInteraction = interactionDay + " DESC, i.created_at DESC, i.id ASC"
)

func (s *PostgresStore) findQuery(rows *[]interactionRow, filter contractx.RecordFilter, order string) *bun.SelectQuery {
	q := applyFilter(s.db.NewSelect().Model(rows), filter).OrderExpr(order)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return q
}

func (s *PostgresStore) find(ctx context.Context, filter contractx.RecordFilter, order string) ([]contractx.InteractionRecord, error) {
	var rows []interactionRow
	if err := s.findQuery(&rows, filter, order).Scan(ctx); err != nil {
		return nil, fmt.Errorf("find interactions: %w", err)
	}
	out := make([]contractx.InteractionRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}

type groupCount struct {
	Key string `bun:"key"`
	N   int    `bun:"n"`
}

func (s *PostgresStore) Aggregate(ctx context.Context, filter contractx.RecordFilter) (contractx.RecordSummary, error) {
	sum := contractx.RecordSummary{ByChannel: map[string]int{}, BySpecialty: map[string]int{}}

	for _, g := range []struct {
		column string
		into   map[string]int
	}{
		{column: "i.channel", into: sum.ByChannel},
		{column: "i.specialty", into: sum.BySpecialty},
	} {
		var counts []groupCount
		if err := s.groupQuery(filter, g.column).Scan(ctx, &counts); err != nil {
			return contractx.RecordSummary{}, fmt.Errorf("aggregate by %s: %w", g.column, err)
		}
		total := 0
		for _, c := range counts {
			g.into[c.Key] = c.N
			total += c.N
		}
		sum.Total = total
	}
	return sum, nil
}

func (s *PostgresStore) groupQuery(filter contractx.RecordFilter, column string) *bun.SelectQuery {
	q := s.db.NewSelect().
		Model((*interactionRow)(nil)).
		ColumnExpr("COALESCE(NULLIF(?, ''), ?) AS key", bun.Safe(column), unspecified).
		ColumnExpr("count(*) AS n")
	return applyFilter(q, filter).GroupExpr("1").OrderExpr("1")
}

// interactionDay mirrors InteractionRecord.InteractionAt in SQL.
const interactionDay = "COALESCE(NULLIF(i.interaction_date, ''), to_char(i.created_at, 'YYYY-MM-DD'))"

func applyFilter(q *bun.SelectQuery, f contractx.RecordFilter) *bun.SelectQuery {
	if len(f.IDs) > 0 {
		q = q.Where("i.id IN (?)", bun.In(f.IDs))
	}
	if f.HCPName != "" {
		q = q.Where("i.hcp_name ILIKE ?", likePattern(f.HCPName))
	}
	if f.Specialty != "" {
		q = q.Where("i.specialty ILIKE ?", likePattern(f.Specialty))
	}
	if f.Channel != "" {
		q = q.Where("i.channel = ?", f.Channel)
	}
	if f.Query != "" {
		pattern := likePattern(f.Query)
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			for _, col := range []string{"hcp_name", "organization", "raw_notes", "ai_summary", "products_discussed", "key_points", "outcome"} {
				q = q.WhereOr("i.? ILIKE ?", bun.Ident(col), pattern)
			}
			return q
		})
	}
	if f.From != nil {
		q = q.Where(interactionDay+" >= ?", f.From.UTC().Format(time.DateOnly))
	}
	if f.To != nil {
		q = q.Where(interactionDay+" <= ?", f.To.UTC().Format(time.DateOnly))
	}
	return q
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}
