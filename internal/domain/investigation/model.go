// Package investigation tracks lab tests ordered for a patient within an
// organization, from request through the pathology report.
package investigation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain"
)

type Status string

const (
	StatusRequested Status = "Requested"
	StatusCompleted Status = "Completed"
)

func (s Status) Valid() bool {
	return s == StatusRequested || s == StatusCompleted
}

type Investigation struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	OrgID         uuid.UUID  `db:"org_id" json:"org_id"`
	TestName      string     `db:"test_name" json:"test_name"`
	Status        Status     `db:"status" json:"status"`
	Findings      *string    `db:"findings" json:"findings,omitempty"`
	ReportFileURL *string    `db:"report_file_url" json:"report_file_url,omitempty"`
	OrderedBy     uuid.UUID  `db:"ordered_by" json:"ordered_by"`
	OrderedAt     time.Time  `db:"ordered_at" json:"ordered_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

type RequestInput struct {
	OrgID     uuid.UUID `json:"org_id"`
	PatientID uuid.UUID `json:"patient_id"`
	TestName  string    `json:"test_name"`
}

func (in *RequestInput) validate() error {
	in.TestName = strings.TrimSpace(in.TestName)
	var v domain.Validator
	v.Check(in.OrgID != uuid.Nil, "org_id", "is required")
	v.Check(in.PatientID != uuid.Nil, "patient_id", "is required")
	v.Check(in.TestName != "", "test_name", "is required")
	return v.Err()
}

type CompleteInput struct {
	Findings      string `json:"findings"`
	ReportFileURL string `json:"report_file_url"`
}

type Filter struct {
	OrgID     *uuid.UUID
	PatientID *uuid.UUID
	Status    Status
}
