package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	mock := newMockPool(t)

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "rates",
		Columns:      []string{"region_id", "rate"},
		ConflictKeys: []string{"region_id"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	mock := newMockPool(t)

	_, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "rates",
		ConflictKeys: []string{"region_id"},
	}, [][]any{{"r1", 100.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestBulkUpsert_DoNothing(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_rates"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_rates"}, []string{"region_id", "rate"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "rates" .* ON CONFLICT \("region_id"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "rates",
		Columns:      []string{"region_id", "rate"},
		ConflictKeys: []string{"region_id"},
		DoNothing:    true,
	}, [][]any{{"r1", 100.0}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_UpdateDerivesNonConflictColumns(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_carrier_info"}, []string{"naic", "company_name", "selected"}).
		WillReturnResult(2)
	mock.ExpectExec(`DO UPDATE SET "company_name" = EXCLUDED\."company_name", "selected" = EXCLUDED\."selected"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "carrier_info",
		Columns:      []string{"naic", "company_name", "selected"},
		ConflictKeys: []string{"naic"},
	}, [][]any{{"12345", "Acme Mutual", true}, {"67890", "Umbrella Life", false}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
