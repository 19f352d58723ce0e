package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/identity"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/db"
	"github.com/carenet/carenet/internal/platform/websocket"
)

const defaultMaxBytes = 5 << 20

type Auditor interface {
	Record(ctx context.Context, action audit.Action, details string, target audit.Target) error
}

type UserLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	repo     Repository
	users    UserLookup
	tx       db.Transactor
	audit    Auditor
	notifier *websocket.Notifier
	maxBytes int
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(repo Repository, users UserLookup, tx db.Transactor, auditor Auditor,
	notifier *websocket.Notifier, maxBytes int, logger zerolog.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Service{
		repo:     repo,
		users:    users,
		tx:       tx,
		audit:    auditor,
		notifier: notifier,
		maxBytes: maxBytes,
		now:      time.Now,
		logger:   logger.With().Str("component", "records").Logger(),
	}
}

func (s *Service) publish(ctx context.Context, eventType string, rec *MedicalRecord) {
	s.notifier.Notify(ctx, eventType, "MedicalRecord", rec.ID.String(), rec,
		websocket.RecordsTopic(rec.PatientID.String()))
}

func (s *Service) Upload(ctx context.Context, in UploadInput) (*MedicalRecord, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := roles.Authorize(actor, roles.ManageOwnRecords); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, domain.NewValidationError("title", "is required")
	}
	ft, err := parseDataURL(in.DataURL, s.maxBytes)
	if err != nil {
		return nil, err
	}

	rec := &MedicalRecord{
		ID:         uuid.New(),
		PatientID:  actor.ID,
		Title:      in.Title,
		FileURL:    in.DataURL,
		FileType:   ft,
		UploadedAt: s.now().UTC(),
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		rec.Description = &d
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, rec); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.RecordCreated,
			fmt.Sprintf("Uploaded %s record %s", ft, rec.Title), audit.RecordTarget(rec.ID, rec.Title))
	})
	if err != nil {
		return nil, fmt.Errorf("upload record: %w", err)
	}
	s.publish(ctx, "record.created", rec)
	return rec, nil
}

// ListMine returns the actor's records newest first, cut to their view quota.
func (s *Service) ListMine(ctx context.Context) (*Listing, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Get(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.ListByPatient(ctx, actor.ID, true)
	if err != nil {
		return nil, err
	}
	l := Slice(all, u.RecordViewLimit)
	return &l, nil
}

// ForPatient is the clinician view: hidden records are left out.
func (s *Service) ForPatient(ctx context.Context, patientID uuid.UUID) ([]MedicalRecord, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.ID != patientID {
		if err := roles.Authorize(actor, roles.ViewPatients); err != nil {
			return nil, err
		}
	}
	return s.repo.ListByPatient(ctx, patientID, actor.ID == patientID)
}

// owned loads a record the actor owns. Admins pass when allowAdmin is set.
func (s *Service) owned(ctx context.Context, id uuid.UUID, allowAdmin bool) (*MedicalRecord, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.PatientID != actor.ID && !(allowAdmin && actor.IsAdmin()) {
		return nil, fmt.Errorf("record %s belongs to another patient: %w", id, domain.ErrForbidden)
	}
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	rec, err := s.owned(ctx, id, true)
	if err != nil {
		return err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.RecordDeleted,
			"Deleted record "+rec.Title, audit.RecordTarget(rec.ID, rec.Title))
	})
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	s.publish(ctx, "record.deleted", rec)
	return nil
}

func (s *Service) SetHidden(ctx context.Context, id uuid.UUID, hidden bool) (*MedicalRecord, error) {
	rec, err := s.owned(ctx, id, false)
	if err != nil {
		return nil, err
	}
	state := "visible"
	if hidden {
		state = "hidden"
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetHidden(ctx, id, hidden); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.RecordVisibilityUpdated,
			fmt.Sprintf("Marked record %s as %s", rec.Title, state), audit.RecordTarget(rec.ID, rec.Title))
	})
	if err != nil {
		return nil, fmt.Errorf("set record visibility: %w", err)
	}
	rec.IsHidden = hidden
	s.publish(ctx, "record.updated", rec)
	return rec, nil
}
