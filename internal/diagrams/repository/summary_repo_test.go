package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
)

func summaryRows(n int, base time.Time) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "project_id", "title", "version", "content_size", "updated_at",
	})
	for i := 0; i < n; i++ {
		rows.AddRow(
			fmt.Sprintf("bpmn-00000-%04d", i),
			"tenant-a", "proj-1", "Flow", int64(1), 120,
			base.Add(-time.Duration(i)*time.Minute),
		)
	}
	return rows
}

func TestDiagramRepository_ListSummaries(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("full page sets hasMore and a resumable cursor", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectQuery(`order by updated_at desc, id desc`).
			WithArgs("tenant-a", 3).
			WillReturnRows(summaryRows(3, base))

		page, err := repo.ListSummaries(ctx, "tenant-a", SummaryFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, page.Items, 2)
		assert.True(t, page.HasMore)
		require.NotEmpty(t, page.NextCursor)

		ts, id, err := decodeCursor(page.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, page.Items[1].ID, id)
		assert.True(t, ts.Equal(page.Items[1].UpdatedAt))
	})

	t.Run("short page has no cursor", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectQuery(`order by updated_at desc, id desc`).
			WithArgs("tenant-a", 21).
			WillReturnRows(summaryRows(1, base))

		page, err := repo.ListSummaries(ctx, "tenant-a", SummaryFilter{})
		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
		assert.False(t, page.HasMore)
		assert.Empty(t, page.NextCursor)
	})

	t.Run("blob-backed rows report the recorded body size", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		// The content column of a blob row holds an 80-odd byte object key;
		// the projection must read the recorded size column instead.
		rows := sqlmock.NewRows([]string{
			"id", "tenant_id", "project_id", "title", "version", "content_size", "updated_at",
		}).AddRow("bpmn-00000-0001", "tenant-a", "", "Big Flow", int64(2), 250000, base)
		mock.ExpectQuery(`content_size`).
			WithArgs("tenant-a", 21).
			WillReturnRows(rows)

		page, err := repo.ListSummaries(ctx, "tenant-a", SummaryFilter{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, 250000, page.Items[0].ContentSize)
	})

	t.Run("project and search filters become positional predicates", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectQuery(`title ilike`).
			WithArgs("tenant-a", "proj-1", "%invoice%", 21).
			WillReturnRows(summaryRows(0, base))

		_, err := repo.ListSummaries(ctx, "tenant-a", SummaryFilter{
			ProjectID:  "proj-1",
			SearchText: "invoice",
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cursor resumes after the encoded row", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		cursor := encodeCursor(base, "bpmn-00000-0001")
		mock.ExpectQuery(`updated_at, id`).
			WithArgs("tenant-a", base.UTC(), "bpmn-00000-0001", 21).
			WillReturnRows(summaryRows(1, base.Add(-time.Hour)))

		page, err := repo.ListSummaries(ctx, "tenant-a", SummaryFilter{Cursor: cursor})
		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
	})

	t.Run("garbage cursor is a validation failure", func(t *testing.T) {
		repo, _, db := setupRepo(t)
		defer db.Close()

		_, err := repo.ListSummaries(ctx, "tenant-a", SummaryFilter{Cursor: "%%not-base64%%"})
		assert.ErrorIs(t, err, domain.ErrValidationFailed)
	})

	t.Run("empty tenant is rejected", func(t *testing.T) {
		repo, _, db := setupRepo(t)
		defer db.Close()

		_, err := repo.ListSummaries(ctx, "  ", SummaryFilter{})
		assert.ErrorIs(t, err, domain.ErrValidationFailed)
	})
}

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	cursor := encodeCursor(ts, "bpmn-12345-6789")

	got, id, err := decodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, "bpmn-12345-6789", id)
	assert.True(t, ts.Equal(got))
}
