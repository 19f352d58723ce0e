// Package records stores patient-owned medical files. Files arrive as inline
// base64 data URLs and live on the record row.
package records

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain"
)

type FileType string

const (
	FileImage FileType = "image"
	FilePDF   FileType = "pdf"
)

type MedicalRecord struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description,omitempty"`
	FileURL     string    `db:"file_url" json:"file_url"`
	FileType    FileType  `db:"file_type" json:"file_type"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploaded_at"`
	IsHidden    bool      `db:"is_hidden" json:"is_hidden"`
}

// Listing is a patient's records cut to their view quota.
type Listing struct {
	Visible     []MedicalRecord `json:"visible"`
	Total       int             `json:"total"`
	Limit       int             `json:"limit"`
	HiddenCount int             `json:"hidden_count"`
}

// Slice keeps the newest limit records of a newest-first list.
func Slice(newestFirst []MedicalRecord, limit int) Listing {
	l := Listing{Total: len(newestFirst), Limit: limit}
	n := min(max(limit, 0), len(newestFirst))
	l.Visible = newestFirst[:n]
	l.HiddenCount = l.Total - n
	return l
}

type UploadInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DataURL     string `json:"file_url"`
}

// parseDataURL validates a base64 data URL and derives the file type from its
// MIME type.
func parseDataURL(raw string, maxBytes int) (FileType, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", domain.NewValidationError("file_url", "must be a data: URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", domain.NewValidationError("file_url", "is missing its payload")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", domain.NewValidationError("file_url", "must be base64 encoded")
	}
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	var ft FileType
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		ft = FileImage
	case mediaType == "application/pdf":
		ft = FilePDF
	default:
		return "", domain.NewValidationError("file_url", fmt.Sprintf("unsupported type %q", mediaType))
	}

	if base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+2 {
		return "", domain.NewValidationError("file_url", fmt.Sprintf("exceeds %d bytes", maxBytes))
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", domain.NewValidationError("file_url", "is not valid base64")
	}
	if len(decoded) > maxBytes {
		return "", domain.NewValidationError("file_url", fmt.Sprintf("exceeds %d bytes", maxBytes))
	}
	return ft, nil
}
