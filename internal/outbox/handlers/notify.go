package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowsmith/bpmn-backend/internal/outbox"
	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
)

// NotifyHandler forwards diagram events to a configured webhook. The event ID
// rides along as an idempotency key so the receiver can drop redeliveries.
// Without an endpoint configured it degrades to a log line and succeeds.
type NotifyHandler struct {
	endpoint string
	client   *http.Client
	log      *logger.Logger
}

func NewNotifyHandler(endpoint string, log *logger.Logger) *NotifyHandler {
	return &NotifyHandler{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With("handler", "notify"),
	}
}

type notifyBody struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func (h *NotifyHandler) Handle(ctx context.Context, evt outbox.Event) error {
	if h.endpoint == "" {
		h.log.Info("diagram event", "event_id", evt.ID.String(), "event_type", evt.Type)
		return nil
	}

	body, err := json.Marshal(notifyBody{
		EventID:   evt.ID.String(),
		EventType: evt.Type,
		Payload:   evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", evt.ID.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
