package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the ledger access layer. Claims are made exclusive across
// concurrent dispatcher instances with FOR UPDATE SKIP LOCKED plus a
// claimed-by/claimed-at marker; a claim older than the timeout is considered
// abandoned and gets reclaimed.
type Repository struct {
	db           *sql.DB
	claimTimeout time.Duration
}

func NewRepository(db *sql.DB, claimTimeout time.Duration) *Repository {
	return &Repository{db: db, claimTimeout: claimTimeout}
}

// ClaimBatch atomically claims up to limit unprocessed events for claimedBy.
func (r *Repository) ClaimBatch(ctx context.Context, claimedBy string, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
update outbox_events
set claimed_by = $1,
    claimed_at = now()
where id in (
  select id
  from outbox_events
  where processed_at is null
    and (claimed_at is null or claimed_at < now() - make_interval(secs => $2))
  order by created_at
  limit $3
  for update skip locked
)
returning id, event_type, payload, created_at, attempts
`, claimedBy, r.claimTimeout.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &payload, &e.CreatedAt, &e.Attempts); err != nil {
			return nil, err
		}
		e.Payload = payload
		e.ClaimedBy = claimedBy
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkProcessed records handler success. The row stays forever.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
update outbox_events
set processed_at = now()
where id = $1
  and processed_at is null
`, id.String())
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// MarkFailed records a handler failure and releases the claim so a later
// poll retries the event.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, handlerErr string) error {
	_, err := r.db.ExecContext(ctx, `
update outbox_events
set attempts = attempts + 1,
    last_error = $2,
    claimed_by = null,
    claimed_at = null
where id = $1
  and processed_at is null
`, id.String(), handlerErr)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// BacklogStats summarizes ledger health for the audit job.
type BacklogStats struct {
	Unprocessed int
	StaleClaims int
	OldestAge   time.Duration
}

func (r *Repository) Stats(ctx context.Context) (*BacklogStats, error) {
	var stats BacklogStats
	var oldest sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
select count(*),
       count(*) filter (where claimed_at is not null and claimed_at < now() - make_interval(secs => $1)),
       extract(epoch from now() - min(created_at))
from outbox_events
where processed_at is null
`, r.claimTimeout.Seconds()).Scan(&stats.Unprocessed, &stats.StaleClaims, &oldest)
	if err != nil {
		return nil, fmt.Errorf("backlog stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestAge = time.Duration(oldest.Float64 * float64(time.Second))
	}
	return &stats, nil
}
