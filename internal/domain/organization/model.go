package organization

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/carenet/carenet/internal/domain/roles"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended || s == StatusRevoked
}

const (
	defaultName               = "New Facility"
	defaultRegistrationNumber = "DGHS-PENDING"
	defaultLocation           = "TBD"
	maxExtendMonths           = 120
)

// Organization is a clinic or hospital and everything it owns.
type Organization struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	OwnerID            uuid.UUID `db:"owner_id" json:"owner_id"`
	Name               string    `db:"name" json:"name"`
	RegistrationNumber string    `db:"registration_number" json:"registration_number"`
	Location           string    `db:"location" json:"location"`
	Status             Status    `db:"status" json:"status"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	ExpiresAt          time.Time `db:"expires_at" json:"expires_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`

	Expired bool              `db:"-" json:"is_expired"`
	Beds    []Bed             `db:"-" json:"beds,omitempty"`
	Pricing []PriceItem       `db:"-" json:"pricing,omitempty"`
	Staff   []StaffMember     `db:"-" json:"staff,omitempty"`
	Ledger  []LedgerEntry     `db:"-" json:"ledger,omitempty"`
	Reports []FinancialReport `db:"-" json:"reports,omitempty"`
}

// IsExpired is derived on read and never changes Status.
func (o *Organization) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

type BedType string

const (
	BedWard  BedType = "Ward"
	BedCabin BedType = "Cabin"
)

type Bed struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	OrgID            uuid.UUID  `db:"org_id" json:"org_id"`
	Label            string     `db:"label" json:"label"`
	Type             BedType    `db:"type" json:"type"`
	IsOccupied       bool       `db:"is_occupied" json:"is_occupied"`
	CurrentPatientID *uuid.UUID `db:"current_patient_id" json:"current_patient_id,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

type StaffStatus string

const (
	StaffPending  StaffStatus = "pending"
	StaffAccepted StaffStatus = "accepted"
)

type StaffMember struct {
	OrgID    uuid.UUID   `db:"org_id" json:"org_id"`
	UserID   uuid.UUID   `db:"user_id" json:"user_id"`
	Role     roles.Role  `db:"role" json:"role"`
	Status   StaffStatus `db:"status" json:"status"`
	Name     string      `db:"name" json:"name"`
	JoinedAt time.Time   `db:"joined_at" json:"joined_at"`
}

type PriceItem struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	OrgID             uuid.UUID       `db:"org_id" json:"org_id"`
	InvestigationName string          `db:"investigation_name" json:"investigation_name"`
	Price             decimal.Decimal `db:"price" json:"price"`
}

type EntryType string

const (
	Credit EntryType = "credit"
	Debit  EntryType = "debit"
)

type LedgerEntry struct {
	Seq       int64           `db:"seq" json:"-"`
	ID        uuid.UUID       `db:"id" json:"id"`
	OrgID     uuid.UUID       `db:"org_id" json:"org_id"`
	Type      EntryType       `db:"type" json:"type"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Note      string          `db:"note" json:"note"`
	ActorID   uuid.UUID       `db:"actor_id" json:"actor_id"`
	Timestamp time.Time       `db:"created_at" json:"timestamp"`
}

// Stats are the running totals of a ledger.
type Stats struct {
	TotalCredit decimal.Decimal `json:"total_credit"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	Balance     decimal.Decimal `json:"balance"`
}

func Summarize(entries []LedgerEntry) Stats {
	var st Stats
	for _, e := range entries {
		switch e.Type {
		case Debit:
			st.TotalDebit = st.TotalDebit.Add(e.Amount)
		default:
			st.TotalCredit = st.TotalCredit.Add(e.Amount)
		}
	}
	st.Balance = st.TotalCredit.Sub(st.TotalDebit)
	return st
}

type Ledger struct {
	Entries []LedgerEntry `json:"entries"`
	Stats   Stats         `json:"stats"`
}

// ReportEntries is the archived ledger stored with a report.
type ReportEntries []LedgerEntry

func (r *ReportEntries) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("unsupported report entries source %T", src)
	}
}

func (r ReportEntries) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]LedgerEntry(r))
}

// FinancialReport is a closed ledger session.
type FinancialReport struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	OrgID       uuid.UUID       `db:"org_id" json:"org_id"`
	TotalCredit decimal.Decimal `db:"total_credit" json:"total_credit"`
	TotalDebit  decimal.Decimal `db:"total_debit" json:"total_debit"`
	NetBalance  decimal.Decimal `db:"net_balance" json:"net_balance"`
	Entries     ReportEntries   `db:"entries" json:"entries"`
	SubmittedAt time.Time       `db:"submitted_at" json:"submitted_at"`
	SubmittedBy uuid.UUID       `db:"submitted_by" json:"submitted_by"`
}

// Occupancy counts beds by state.
type Occupancy struct {
	Total    int `json:"total"`
	Occupied int `json:"occupied"`
	Free     int `json:"free"`
}

func CountOccupancy(beds []Bed) Occupancy {
	o := Occupancy{Total: len(beds)}
	for _, b := range beds {
		if b.IsOccupied {
			o.Occupied++
		}
	}
	o.Free = o.Total - o.Occupied
	return o
}

// Filter narrows List. MemberID restricts to organizations the user owns or
// staffs.
type Filter struct {
	Status   Status
	MemberID *uuid.UUID
}
