package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
)

func setupRepo(t *testing.T) (*DiagramRepository, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewDiagramRepository(db)
	return repo, mock, db
}

func headRows(version int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "project_id", "title",
		"content_kind", "content", "content_size", "metadata",
		"version", "created_by", "created_at", "updated_at",
	}).AddRow(
		"bpmn-11111-2222", "tenant-a", "", "Invoice Flow",
		"inline", "<xml/>", 6, "",
		version, "user-1", now, now,
	)
}

func TestDiagramRepository_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("commits head update, version row, and outbox row on version match", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-11111-2222", "tenant-a").
			WillReturnRows(headRows(2))
		mock.ExpectQuery(`update diagrams`).
			WithArgs("bpmn-11111-2222", "tenant-a", "Invoice Flow", "inline", "<xml v2/>", 9, "").
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
		mock.ExpectExec(`insert into diagram_versions`).
			WithArgs("bpmn-11111-2222", int64(3), "inline", "<xml v2/>", "", "user-2", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`insert into outbox_events`).
			WithArgs(sqlmock.AnyArg(), domain.EventDiagramSaved, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		d, err := repo.Save(ctx, "tenant-a", "bpmn-11111-2222", domain.SaveInput{
			AuthorID:        "user-2",
			Content:         domain.InlineContent("<xml v2/>"),
			ExpectedVersion: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), d.Version)
		assert.Equal(t, "Invoice Flow", d.Title)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("persists the declared body size for blob content", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		key := "content/tenant-a/69fa0a7cd33ba5e6ac7d1dd369331ad23ab2d431a95bcb34503e8dba1ec48dcc.bpmn"
		mock.ExpectBegin()
		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-11111-2222", "tenant-a").
			WillReturnRows(headRows(2))
		mock.ExpectQuery(`update diagrams`).
			WithArgs("bpmn-11111-2222", "tenant-a", "Invoice Flow", "blob", key, 70000, "").
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
		mock.ExpectExec(`insert into diagram_versions`).
			WithArgs("bpmn-11111-2222", int64(3), "blob", key, "", "user-2", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`insert into outbox_events`).
			WithArgs(sqlmock.AnyArg(), domain.EventDiagramSaved, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		d, err := repo.Save(ctx, "tenant-a", "bpmn-11111-2222", domain.SaveInput{
			AuthorID:        "user-2",
			Content:         domain.BlobContent(key),
			ContentSize:     70000,
			ExpectedVersion: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 70000, d.ContentSize, "size is the body length, not the key length")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blank tenant and invalid content are validation failures", func(t *testing.T) {
		repo, _, db := setupRepo(t)
		defer db.Close()

		_, err := repo.Save(ctx, "  ", "bpmn-11111-2222", domain.SaveInput{
			Content:         domain.InlineContent("<xml/>"),
			ExpectedVersion: 1,
		})
		assert.ErrorIs(t, err, domain.ErrValidationFailed)

		_, err = repo.Save(ctx, "tenant-a", "bpmn-11111-2222", domain.SaveInput{ExpectedVersion: 1})
		assert.ErrorIs(t, err, domain.ErrValidationFailed)
	})

	t.Run("returns conflict with committed state on version mismatch", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-11111-2222", "tenant-a").
			WillReturnRows(headRows(5))
		mock.ExpectRollback()

		_, err := repo.Save(ctx, "tenant-a", "bpmn-11111-2222", domain.SaveInput{
			AuthorID:        "user-2",
			Content:         domain.InlineContent("<xml v2/>"),
			ExpectedVersion: 2,
		})
		conflict, ok := domain.AsConflict(err)
		require.True(t, ok, "expected ConflictError, got %v", err)
		assert.Equal(t, int64(5), conflict.CurrentVersion)
		assert.Equal(t, "Invoice Flow", conflict.Summary.Title)
		assert.NotEmpty(t, conflict.Summary.ContentHash)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for absent or soft-deleted diagram", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-99999-0000", "tenant-a").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.Save(ctx, "tenant-a", "bpmn-99999-0000", domain.SaveInput{
			AuthorID:        "user-2",
			Content:         domain.InlineContent("<xml/>"),
			ExpectedVersion: 1,
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps store failures as write failed", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-11111-2222", "tenant-a").
			WillReturnRows(headRows(2))
		mock.ExpectQuery(`update diagrams`).
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, err := repo.Save(ctx, "tenant-a", "bpmn-11111-2222", domain.SaveInput{
			AuthorID:        "user-2",
			Content:         domain.InlineContent("<xml v2/>"),
			ExpectedVersion: 2,
		})
		assert.ErrorIs(t, err, domain.ErrWriteFailed)
	})
}

func TestDiagramRepository_Create(t *testing.T) {
	ctx := context.Background()

	input := domain.CreateInput{
		AuthorID: "user-1",
		Title:    "Invoice Flow",
		Content:  domain.InlineContent("<xml/>"),
	}

	t.Run("creates version 1 with snapshot and outbox row", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).
			WithArgs("tenant-a").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`select count`).
			WithArgs("tenant-a").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery(`insert into diagrams`).
			WithArgs(sqlmock.AnyArg(), "tenant-a", "", "Invoice Flow", "inline", "<xml/>", 6, "", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
		mock.ExpectExec(`insert into diagram_versions`).
			WithArgs(sqlmock.AnyArg(), int64(1), "inline", "<xml/>", "", "user-1", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`insert into outbox_events`).
			WithArgs(sqlmock.AnyArg(), domain.EventDiagramCreated, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		d, err := repo.Create(ctx, "tenant-a", input, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), d.Version)
		assert.NotEmpty(t, d.ID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blank tenant and invalid content are validation failures", func(t *testing.T) {
		repo, _, db := setupRepo(t)
		defer db.Close()

		_, err := repo.Create(ctx, "  ", input, 10)
		assert.ErrorIs(t, err, domain.ErrValidationFailed)

		_, err = repo.Create(ctx, "tenant-a", domain.CreateInput{AuthorID: "user-1", Title: "Flow"}, 10)
		assert.ErrorIs(t, err, domain.ErrValidationFailed)
	})

	t.Run("rejects create at the quota ceiling without writing", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).
			WithArgs("tenant-a").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`select count`).
			WithArgs("tenant-a").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
		mock.ExpectRollback()

		_, err := repo.Create(ctx, "tenant-a", input, 10)
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unlimited quota skips the ceiling check", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).
			WithArgs("tenant-a").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`select count`).
			WithArgs("tenant-a").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(100000))
		mock.ExpectQuery(`insert into diagrams`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
		mock.ExpectExec(`insert into diagram_versions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`insert into outbox_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := repo.Create(ctx, "tenant-a", input, 0)
		require.NoError(t, err)
	})
}

func TestDiagramRepository_SoftDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("marks deleted, bumps version, and keeps the audit trail", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-11111-2222", "tenant-a").
			WillReturnRows(headRows(3))
		mock.ExpectQuery(`update diagrams`).
			WithArgs("bpmn-11111-2222", "tenant-a").
			WillReturnRows(sqlmock.NewRows([]string{"updated_at", "deleted_at"}).AddRow(time.Now(), time.Now()))
		mock.ExpectExec(`insert into diagram_versions`).
			WithArgs("bpmn-11111-2222", int64(4), "inline", "<xml/>", "", "user-1", "deleted").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`insert into outbox_events`).
			WithArgs(sqlmock.AnyArg(), domain.EventDiagramDeleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		d, err := repo.SoftDelete(ctx, "tenant-a", "bpmn-11111-2222", 3, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), d.Version)
		assert.NotNil(t, d.DeletedAt)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete against stale version conflicts", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-11111-2222", "tenant-a").
			WillReturnRows(headRows(4))
		mock.ExpectRollback()

		_, err := repo.SoftDelete(ctx, "tenant-a", "bpmn-11111-2222", 3, "user-1")
		conflict, ok := domain.AsConflict(err)
		require.True(t, ok)
		assert.Equal(t, int64(4), conflict.CurrentVersion)
	})
}

func TestDiagramRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns head row", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-11111-2222", "tenant-a").
			WillReturnRows(headRows(2))

		d, err := repo.Get(ctx, "tenant-a", "bpmn-11111-2222")
		require.NoError(t, err)
		assert.Equal(t, domain.ContentInline, d.Content.Kind)
		assert.Equal(t, "<xml/>", d.Content.Inline)
	})

	t.Run("maps no rows to not found", func(t *testing.T) {
		repo, mock, db := setupRepo(t)
		defer db.Close()

		mock.ExpectQuery(`select id, tenant_id`).
			WithArgs("bpmn-00000-0000", "tenant-a").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(ctx, "tenant-a", "bpmn-00000-0000")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
