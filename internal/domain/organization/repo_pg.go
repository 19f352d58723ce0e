package organization

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/db"
)

var (
	orgColumns = []string{
		"id", "owner_id", "name", "registration_number", "location", "status",
		"created_at", "expires_at", "updated_at",
	}
	bedColumns    = []string{"id", "org_id", "label", "type", "is_occupied", "current_patient_id", "updated_at"}
	priceColumns  = []string{"id", "org_id", "investigation_name", "price"}
	ledgerColumns = []string{"seq", "id", "org_id", "type", "amount", "note", "actor_id", "created_at"}
	reportColumns = []string{
		"id", "org_id", "total_credit", "total_debit", "net_balance", "entries", "submitted_at", "submitted_by",
	}
)

type pgRepo struct {
	db db.Querier
}

func NewRepo(q db.Querier) Repository {
	return &pgRepo{db: q}
}

func (r *pgRepo) conn(ctx context.Context) db.Querier {
	return db.QuerierFromCtx(ctx, r.db)
}

func (r *pgRepo) Create(ctx context.Context, o *Organization) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("organizations").
		Columns(orgColumns...).
		Values(o.ID, o.OwnerID, o.Name, o.RegistrationNumber, o.Location, string(o.Status),
			o.CreatedAt, o.ExpiresAt, o.UpdatedAt))
	return db.MapError(err, "organization", o.ID)
}

func (r *pgRepo) Get(ctx context.Context, id uuid.UUID) (*Organization, error) {
	o, err := db.Get[Organization](ctx, r.conn(ctx),
		db.Builder.Select(orgColumns...).From("organizations").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, db.MapError(err, "organization", id)
	}
	return o, nil
}

func (r *pgRepo) Lock(ctx context.Context, id uuid.UUID) error {
	query, args, err := db.Builder.Select("id").From("organizations").
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return fmt.Errorf("build lock: %w", err)
	}
	var got uuid.UUID
	return db.MapError(r.conn(ctx).QueryRow(ctx, query, args...).Scan(&got), "organization", id)
}

func (r *pgRepo) OwnedBy(ctx context.Context, ownerID uuid.UUID) ([]Organization, error) {
	orgs, err := db.Select[Organization](ctx, r.conn(ctx), db.Builder.Select(orgColumns...).
		From("organizations").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at"))
	if err != nil {
		return nil, fmt.Errorf("organizations owned by %s: %w", ownerID, err)
	}
	return orgs, nil
}

func (r *pgRepo) List(ctx context.Context, f Filter, limit, offset int) ([]Organization, int, error) {
	base := db.Builder.Select(orgColumns...).From("organizations")
	if f.Status != "" {
		base = base.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.MemberID != nil {
		base = base.Where(sq.Or{
			sq.Eq{"owner_id": *f.MemberID},
			sq.Expr(`EXISTS (SELECT 1 FROM org_staff s WHERE s.org_id = organizations.id AND s.user_id = ? AND s.status = 'accepted')`, *f.MemberID),
		})
	}

	q := r.conn(ctx)
	total, err := db.Count(ctx, q, base)
	if err != nil {
		return nil, 0, fmt.Errorf("count organizations: %w", err)
	}
	orgs, err := db.Select[Organization](ctx, q, base.OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).Offset(uint64(offset)))
	if err != nil {
		return nil, 0, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, total, nil
}

func (r *pgRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	type row struct {
		Status Status `db:"status"`
		N      int    `db:"n"`
	}
	rows, err := db.Select[row](ctx, r.conn(ctx), db.Builder.Select("status", "count(*) AS n").
		From("organizations").GroupBy("status"))
	if err != nil {
		return nil, fmt.Errorf("count organizations by status: %w", err)
	}
	out := map[Status]int{StatusActive: 0, StatusSuspended: 0, StatusRevoked: 0}
	for _, rw := range rows {
		out[rw.Status] = rw.N
	}
	return out, nil
}

func (r *pgRepo) CountExpired(ctx context.Context, now time.Time) (int, error) {
	return db.Count(ctx, r.conn(ctx), db.Builder.Select("id").From("organizations").
		Where(sq.Lt{"expires_at": now}))
}

func (r *pgRepo) update(ctx context.Context, id uuid.UUID, set map[string]any) error {
	set["updated_at"] = time.Now().UTC()
	tag, err := db.Exec(ctx, r.conn(ctx), db.Builder.Update("organizations").SetMap(set).Where(sq.Eq{"id": id}))
	if err != nil {
		return db.MapError(err, "organization", id)
	}
	return db.RequireAffected(tag, "organization", id)
}

func (r *pgRepo) UpdateProfile(ctx context.Context, o *Organization) error {
	return r.update(ctx, o.ID, map[string]any{
		"name":                o.Name,
		"registration_number": o.RegistrationNumber,
		"location":            o.Location,
	})
}

func (r *pgRepo) SetStatus(ctx context.Context, id uuid.UUID, s Status) error {
	return r.update(ctx, id, map[string]any{"status": string(s)})
}

func (r *pgRepo) SetExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	return r.update(ctx, id, map[string]any{"expires_at": expiresAt})
}

// -- Beds --

func (r *pgRepo) Beds(ctx context.Context, orgID uuid.UUID) ([]Bed, error) {
	beds, err := db.Select[Bed](ctx, r.conn(ctx), db.Builder.Select(bedColumns...).
		From("beds").Where(sq.Eq{"org_id": orgID}).OrderBy("label"))
	if err != nil {
		return nil, fmt.Errorf("list beds: %w", err)
	}
	return beds, nil
}

func (r *pgRepo) AddBed(ctx context.Context, b *Bed) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("beds").
		Columns(bedColumns...).
		Values(b.ID, b.OrgID, b.Label, string(b.Type), b.IsOccupied, b.CurrentPatientID, b.UpdatedAt))
	return db.MapError(err, "bed", b.Label)
}

func (r *pgRepo) UpdateBed(ctx context.Context, orgID, bedID uuid.UUID, occupied bool, patientID *uuid.UUID) (*Bed, error) {
	b, err := db.Get[Bed](ctx, r.conn(ctx), db.Builder.Update("beds").
		Set("is_occupied", occupied).
		Set("current_patient_id", patientID).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": bedID, "org_id": orgID}).
		Suffix("RETURNING "+strings.Join(bedColumns, ", ")))
	if err != nil {
		return nil, db.MapError(err, "bed", bedID)
	}
	return b, nil
}

// -- Staff --

func (r *pgRepo) Staff(ctx context.Context, orgID uuid.UUID) ([]StaffMember, error) {
	staff, err := db.Select[StaffMember](ctx, r.conn(ctx), db.Builder.Select(
		"s.org_id", "s.user_id", "s.role", "s.status", "u.name", "s.joined_at").
		From("org_staff s").
		Join("users u ON u.id = s.user_id").
		Where(sq.Eq{"s.org_id": orgID}).
		OrderBy("s.joined_at", "u.name"))
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	return staff, nil
}

func (r *pgRepo) AddStaff(ctx context.Context, m *StaffMember) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("org_staff").
		Columns("org_id", "user_id", "role", "status", "joined_at").
		Values(m.OrgID, m.UserID, string(m.Role), string(m.Status), m.JoinedAt))
	return db.MapError(err, "staff member", m.UserID)
}

func (r *pgRepo) MemberRoles(ctx context.Context, orgID, userID uuid.UUID) (roles.Set, error) {
	query, args, err := db.Builder.Select("role").From("org_staff").
		Where(sq.Eq{"org_id": orgID, "user_id": userID, "status": string(StaffAccepted)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build member roles: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("member roles: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan member role: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("member roles: %w", err)
	}
	return roles.FromStrings(names), nil
}

// -- Pricing --

func (r *pgRepo) Pricing(ctx context.Context, orgID uuid.UUID) ([]PriceItem, error) {
	items, err := db.Select[PriceItem](ctx, r.conn(ctx), db.Builder.Select(priceColumns...).
		From("price_items").Where(sq.Eq{"org_id": orgID}).OrderBy("investigation_name"))
	if err != nil {
		return nil, fmt.Errorf("list pricing: %w", err)
	}
	return items, nil
}

func (r *pgRepo) AddPrice(ctx context.Context, p *PriceItem) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("price_items").
		Columns(priceColumns...).
		Values(p.ID, p.OrgID, p.InvestigationName, p.Price))
	return db.MapError(err, "price item", p.InvestigationName)
}

func (r *pgRepo) RemovePrice(ctx context.Context, orgID, itemID uuid.UUID) (*PriceItem, error) {
	p, err := db.Get[PriceItem](ctx, r.conn(ctx), db.Builder.Delete("price_items").
		Where(sq.Eq{"id": itemID, "org_id": orgID}).
		Suffix("RETURNING "+strings.Join(priceColumns, ", ")))
	if err != nil {
		return nil, db.MapError(err, "price item", itemID)
	}
	return p, nil
}

// -- Ledger --

func (r *pgRepo) LedgerEntries(ctx context.Context, orgID uuid.UUID) ([]LedgerEntry, error) {
	entries, err := db.Select[LedgerEntry](ctx, r.conn(ctx), db.Builder.Select(ledgerColumns...).
		From("ledger_entries").Where(sq.Eq{"org_id": orgID}).OrderBy("seq"))
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return entries, nil
}

func (r *pgRepo) AddLedgerEntry(ctx context.Context, e *LedgerEntry) error {
	query, args, err := db.Builder.Insert("ledger_entries").
		Columns("id", "org_id", "type", "amount", "note", "actor_id", "created_at").
		Values(e.ID, e.OrgID, string(e.Type), e.Amount, e.Note, e.ActorID, e.Timestamp).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build ledger insert: %w", err)
	}
	return db.MapError(r.conn(ctx).QueryRow(ctx, query, args...).Scan(&e.Seq), "ledger entry", e.ID)
}

func (r *pgRepo) DrainLedger(ctx context.Context, orgID uuid.UUID) ([]LedgerEntry, error) {
	entries, err := db.Select[LedgerEntry](ctx, r.conn(ctx), db.Builder.Delete("ledger_entries").
		Where(sq.Eq{"org_id": orgID}).
		Suffix("RETURNING "+strings.Join(ledgerColumns, ", ")))
	if err != nil {
		return nil, fmt.Errorf("drain ledger: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

// -- Reports --

func (r *pgRepo) Reports(ctx context.Context, orgID uuid.UUID) ([]FinancialReport, error) {
	reports, err := db.Select[FinancialReport](ctx, r.conn(ctx), db.Builder.Select(reportColumns...).
		From("financial_reports").Where(sq.Eq{"org_id": orgID}).OrderBy("submitted_at DESC", "id"))
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

func (r *pgRepo) AddReport(ctx context.Context, rep *FinancialReport) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("financial_reports").
		Columns(reportColumns...).
		Values(rep.ID, rep.OrgID, rep.TotalCredit, rep.TotalDebit, rep.NetBalance, rep.Entries,
			rep.SubmittedAt, rep.SubmittedBy))
	return db.MapError(err, "financial report", rep.ID)
}
