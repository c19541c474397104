package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
)

// ListVersions returns a diagram's history, newest first. History stays
// readable by ID after a soft delete, so the tenant check deliberately does
// not filter on deleted_at.
func (r *DiagramRepository) ListVersions(ctx context.Context, tenantID, id string, limit int) ([]domain.DiagramVersion, error) {
	if err := r.checkOwnership(ctx, tenantID, id); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
select diagram_id, version, content_kind, content,
       coalesce(metadata::text,''), author_id, coalesce(message,''), created_at
from diagram_versions
where diagram_id = $1
order by version desc
limit $2
`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DiagramVersion, 0, limit)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// GetVersion returns a single history snapshot.
func (r *DiagramRepository) GetVersion(ctx context.Context, tenantID, id string, version int64) (*domain.DiagramVersion, error) {
	if err := r.checkOwnership(ctx, tenantID, id); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
select diagram_id, version, content_kind, content,
       coalesce(metadata::text,''), author_id, coalesce(message,''), created_at
from diagram_versions
where diagram_id = $1
  and version = $2
`, id, version)

	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *DiagramRepository) checkOwnership(ctx context.Context, tenantID, id string) error {
	var ok string
	err := r.db.QueryRowContext(ctx, `
select id
from diagrams
where id = $1
  and tenant_id = $2
`, id, tenantID).Scan(&ok)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

func scanVersion(row rowScanner) (*domain.DiagramVersion, error) {
	var v domain.DiagramVersion
	var kind, body, metaText string
	if err := row.Scan(
		&v.DiagramID, &v.Version, &kind, &body,
		&metaText, &v.AuthorID, &v.Message, &v.CreatedAt,
	); err != nil {
		return nil, err
	}
	v.Content = contentFromRow(kind, body)
	if metaText != "" {
		if err := json.Unmarshal([]byte(metaText), &v.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &v, nil
}
