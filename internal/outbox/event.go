package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one pending side-effect row. Rows are written in the same
// transaction as the diagram mutation that produced them and are never
// deleted, only marked processed, so the ledger doubles as an audit trail
// of side-effects requested vs. completed.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	ClaimedBy   string          `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
}
