package investigation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenet/carenet/internal/domain"
)

func TestPgRepo_CompleteAlreadyDone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	at := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`UPDATE investigations SET status = \$1, findings = \$2, report_file_url = \$3, completed_at = \$4 WHERE id = \$5 AND status = \$6 RETURNING`).
		WithArgs("Completed", pgxmock.AnyArg(), pgxmock.AnyArg(), at, id.String(), "Requested").
		WillReturnRows(pgxmock.NewRows(investigationColumns))
	mock.ExpectQuery(`SELECT .* FROM investigations WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnRows(pgxmock.NewRows(investigationColumns).
			AddRow(id, uuid.New(), uuid.New(), "CBC", "Completed", nil, nil, uuid.New(), at, nil))

	_, err = NewRepo(mock).Complete(context.Background(), id, CompleteInput{Findings: "ok"}, at)
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepo_CompleteMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery(`UPDATE investigations`).
		WillReturnRows(pgxmock.NewRows(investigationColumns))
	mock.ExpectQuery(`SELECT .* FROM investigations WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnRows(pgxmock.NewRows(investigationColumns))

	_, err = NewRepo(mock).Complete(context.Background(), id, CompleteInput{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepo_ListPendingForOrg(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	org := uuid.New()
	at := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT count\(\*\) FROM \(SELECT .* FROM investigations WHERE org_id = \$1 AND status = \$2\) AS c`).
		WithArgs(org.String(), "Requested").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT .* FROM investigations WHERE org_id = \$1 AND status = \$2 ORDER BY ordered_at, id LIMIT 20 OFFSET 0`).
		WithArgs(org.String(), "Requested").
		WillReturnRows(pgxmock.NewRows(investigationColumns).
			AddRow(uuid.New(), uuid.New(), org, "ECG", "Requested", nil, nil, uuid.New(), at, nil))

	list, total, err := NewRepo(mock).List(context.Background(), Filter{OrgID: &org, Status: StatusRequested}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, StatusRequested, list[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
