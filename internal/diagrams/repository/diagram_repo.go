package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
)

// DiagramRepository is the content store: diagram head rows, the append-only
// version table, and the outbox ledger, all written under one transaction.
type DiagramRepository struct {
	db *sql.DB
}

// NewDiagramRepository creates a new diagram repository
func NewDiagramRepository(db *sql.DB) *DiagramRepository {
	return &DiagramRepository{db: db}
}

const headColumns = `id, tenant_id, coalesce(project_id,''), title,
       content_kind, content, content_size, coalesce(metadata::text,''),
       version, created_by, created_at, updated_at`

// Create inserts the head row at version 1 together with its first version
// snapshot and a "diagram.created" outbox row. The per-tenant advisory lock
// serializes the quota count against concurrent creates for the same tenant.
func (r *DiagramRepository) Create(ctx context.Context, tenantID string, in domain.CreateInput, maxActive int) (*domain.Diagram, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id required", domain.ErrValidationFailed)
	}
	if !in.Content.Valid() {
		return nil, fmt.Errorf("%w: content required", domain.ErrValidationFailed)
	}

	id, err := domain.NewDiagramID()
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, writeFailed("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return nil, writeFailed("tenant lock", err)
	}

	var active int
	err = tx.QueryRowContext(ctx, `
select count(*)
from diagrams
where tenant_id = $1
  and deleted_at is null
`, tenantID).Scan(&active)
	if err != nil {
		return nil, writeFailed("quota count", err)
	}
	if maxActive > 0 && active >= maxActive {
		return nil, domain.ErrQuotaExceeded
	}

	metaText, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	d := &domain.Diagram{
		ID:          id,
		TenantID:    tenantID,
		ProjectID:   in.ProjectID,
		Title:       in.Title,
		Content:     in.Content,
		ContentSize: resolveContentSize(in.ContentSize, in.Content),
		Metadata:    in.Metadata,
		Version:     1,
		CreatedBy:   in.AuthorID,
	}

	err = tx.QueryRowContext(ctx, `
insert into diagrams (
  id, tenant_id, project_id, title,
  content_kind, content, content_size, metadata, version, created_by
)
values (
  $1, $2, nullif($3,''), $4,
  $5, $6, $7, nullif($8,'')::jsonb, 1, $9
)
returning created_at, updated_at
`, id, tenantID, in.ProjectID, in.Title,
		string(in.Content.Kind), contentBody(in.Content), d.ContentSize, metaText, in.AuthorID,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, writeFailed("insert head", err)
	}

	if err := insertVersionRow(ctx, tx, d, in.AuthorID, in.Message); err != nil {
		return nil, err
	}
	if err := insertOutboxRow(ctx, tx, domain.EventDiagramCreated, d); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, writeFailed("commit", err)
	}

	return d, nil
}

// Save applies one optimistic-concurrency write: the head row is locked with
// FOR UPDATE, the caller's expected version is compared against the stored
// one, and on match the head update, version snapshot, and outbox row commit
// atomically. On mismatch nothing is written and the committed state is
// returned inside a ConflictError.
func (r *DiagramRepository) Save(ctx context.Context, tenantID, id string, in domain.SaveInput) (*domain.Diagram, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id required", domain.ErrValidationFailed)
	}
	if !in.Content.Valid() {
		return nil, fmt.Errorf("%w: content required", domain.ErrValidationFailed)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, writeFailed("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockHead(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if current.Version != in.ExpectedVersion {
		return nil, &domain.ConflictError{
			CurrentVersion: current.Version,
			Summary:        domain.Summarize(current),
		}
	}

	title := in.Title
	if title == "" {
		title = current.Title
	}
	metadata := in.Metadata
	if metadata == nil {
		metadata = current.Metadata
	}
	metaText, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	d := &domain.Diagram{
		ID:          current.ID,
		TenantID:    current.TenantID,
		ProjectID:   current.ProjectID,
		Title:       title,
		Content:     in.Content,
		ContentSize: resolveContentSize(in.ContentSize, in.Content),
		Metadata:    metadata,
		Version:     current.Version + 1,
		CreatedBy:   current.CreatedBy,
		CreatedAt:   current.CreatedAt,
	}

	err = tx.QueryRowContext(ctx, `
update diagrams
set title = $3,
    content_kind = $4,
    content = $5,
    content_size = $6,
    metadata = nullif($7,'')::jsonb,
    version = version + 1,
    updated_at = now()
where id = $1
  and tenant_id = $2
returning updated_at
`, id, tenantID, title, string(in.Content.Kind), contentBody(in.Content), d.ContentSize, metaText,
	).Scan(&d.UpdatedAt)
	if err != nil {
		return nil, writeFailed("update head", err)
	}

	if err := insertVersionRow(ctx, tx, d, in.AuthorID, in.Message); err != nil {
		return nil, err
	}
	if err := insertOutboxRow(ctx, tx, domain.EventDiagramSaved, d); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, writeFailed("commit", err)
	}

	return d, nil
}

// SoftDelete follows the same lock discipline as Save: the delete transition
// still bumps the version and leaves an audit snapshot plus outbox row.
func (r *DiagramRepository) SoftDelete(ctx context.Context, tenantID, id string, expectedVersion int64, authorID string) (*domain.Diagram, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, writeFailed("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockHead(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if current.Version != expectedVersion {
		return nil, &domain.ConflictError{
			CurrentVersion: current.Version,
			Summary:        domain.Summarize(current),
		}
	}

	d := *current
	d.Version = current.Version + 1

	var deletedAt time.Time
	err = tx.QueryRowContext(ctx, `
update diagrams
set deleted_at = now(),
    version = version + 1,
    updated_at = now()
where id = $1
  and tenant_id = $2
returning updated_at, deleted_at
`, id, tenantID).Scan(&d.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, writeFailed("soft delete", err)
	}
	d.DeletedAt = &deletedAt

	if err := insertVersionRow(ctx, tx, &d, authorID, "deleted"); err != nil {
		return nil, err
	}
	if err := insertOutboxRow(ctx, tx, domain.EventDiagramDeleted, &d); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, writeFailed("commit", err)
	}

	return &d, nil
}

// Get returns the head row, excluding soft-deleted diagrams.
func (r *DiagramRepository) Get(ctx context.Context, tenantID, id string) (*domain.Diagram, error) {
	row := r.db.QueryRowContext(ctx, `
select `+headColumns+`
from diagrams
where id = $1
  and tenant_id = $2
  and deleted_at is null
`, id, tenantID)

	d, err := scanHead(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func lockHead(ctx context.Context, tx *sql.Tx, tenantID, id string) (*domain.Diagram, error) {
	row := tx.QueryRowContext(ctx, `
select `+headColumns+`
from diagrams
where id = $1
  and tenant_id = $2
  and deleted_at is null
for update
`, id, tenantID)

	d, err := scanHead(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, writeFailed("lock head", err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHead(row rowScanner) (*domain.Diagram, error) {
	var d domain.Diagram
	var kind, body, metaText string
	if err := row.Scan(
		&d.ID, &d.TenantID, &d.ProjectID, &d.Title,
		&kind, &body, &d.ContentSize, &metaText,
		&d.Version, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Content = contentFromRow(kind, body)
	if metaText != "" {
		if err := json.Unmarshal([]byte(metaText), &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &d, nil
}

func insertVersionRow(ctx context.Context, tx *sql.Tx, d *domain.Diagram, authorID, message string) error {
	metaText, err := marshalMetadata(d.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
insert into diagram_versions (
  diagram_id, version, content_kind, content, metadata, author_id, message
)
values (
  $1, $2, $3, $4, nullif($5,'')::jsonb, $6, nullif($7,'')
)
`, d.ID, d.Version, string(d.Content.Kind), contentBody(d.Content), metaText, authorID, message)
	if err != nil {
		return writeFailed("insert version", err)
	}
	return nil
}

func insertOutboxRow(ctx context.Context, tx *sql.Tx, eventType string, d *domain.Diagram) error {
	payload := domain.EventPayload{
		DiagramID: d.ID,
		TenantID:  d.TenantID,
		Version:   d.Version,
	}
	_, err := tx.ExecContext(ctx, `
insert into outbox_events (id, event_type, payload)
values ($1, $2, $3::jsonb)
`, uuid.New().String(), eventType, string(payload.Marshal()))
	if err != nil {
		return writeFailed("insert outbox", err)
	}
	return nil
}

// resolveContentSize trusts the size measured by the caller before blob
// placement; for inline content the body itself is authoritative.
func resolveContentSize(declared int, c domain.Content) int {
	if c.Kind == domain.ContentInline {
		return len(c.Inline)
	}
	return declared
}

func contentBody(c domain.Content) string {
	if c.Kind == domain.ContentBlob {
		return c.BlobKey
	}
	return c.Inline
}

func contentFromRow(kind, body string) domain.Content {
	if domain.ContentKind(kind) == domain.ContentBlob {
		return domain.BlobContent(body)
	}
	return domain.InlineContent(body)
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func writeFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrWriteFailed, op, err)
}
