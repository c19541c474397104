package repository

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
)

// SummaryFilter selects a tenant's listing page.
type SummaryFilter struct {
	ProjectID  string
	SearchText string
	Cursor     string
	Limit      int
}

// SummaryPage is one page of listing results plus the cursor for the next.
type SummaryPage struct {
	Items      []domain.Summary `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

const defaultPageSize = 20

// ListSummaries returns tenant-scoped summaries ordered by last update,
// newest first, excluding soft-deleted rows. It fetches limit+1 rows so the
// caller learns hasMore without a count query; content is never projected.
func (r *DiagramRepository) ListSummaries(ctx context.Context, tenantID string, f SummaryFilter) (*SummaryPage, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id required", domain.ErrValidationFailed)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	// content_size is recorded at write time from the actual body; for
	// blob-backed rows the content column only holds the object key.
	q := `
select id, tenant_id, coalesce(project_id,''), title, version, content_size, updated_at
from diagrams
where tenant_id = $1
  and deleted_at is null
`
	args := []interface{}{tenantID}

	if f.ProjectID != "" {
		args = append(args, f.ProjectID)
		q += fmt.Sprintf("  and project_id = $%d\n", len(args))
	}
	if f.SearchText != "" {
		args = append(args, "%"+f.SearchText+"%")
		q += fmt.Sprintf("  and title ilike $%d\n", len(args))
	}
	if f.Cursor != "" {
		ts, id, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: bad cursor", domain.ErrValidationFailed)
		}
		args = append(args, ts, id)
		// (updated_at, id) row comparison breaks timestamp ties deterministically.
		q += fmt.Sprintf("  and (updated_at, id) < ($%d, $%d)\n", len(args)-1, len(args))
	}

	args = append(args, limit+1)
	q += fmt.Sprintf("order by updated_at desc, id desc\nlimit $%d\n", len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Summary, 0, limit)
	for rows.Next() {
		var s domain.Summary
		if err := rows.Scan(&s.ID, &s.TenantID, &s.ProjectID, &s.Title, &s.Version, &s.ContentSize, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &SummaryPage{Items: out}
	if len(out) > limit {
		page.Items = out[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}
	return page, nil
}

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}
