package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
)

func TestNotifyHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("posts the event with an idempotency key", func(t *testing.T) {
		var (
			gotBody   notifyBody
			gotIdem   string
			gotMethod string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotIdem = r.Header.Get("X-Idempotency-Key")
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &gotBody)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		evt := savedEvent(2)
		h := NewNotifyHandler(srv.URL, logger.NewNop())

		require.NoError(t, h.Handle(ctx, evt))
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, evt.ID.String(), gotIdem)
		assert.Equal(t, evt.ID.String(), gotBody.EventID)
		assert.Equal(t, domain.EventDiagramSaved, gotBody.EventType)

		var p domain.EventPayload
		require.NoError(t, json.Unmarshal(gotBody.Payload, &p))
		assert.Equal(t, int64(2), p.Version)
	})

	t.Run("non-2xx response fails the attempt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		h := NewNotifyHandler(srv.URL, logger.NewNop())
		err := h.Handle(ctx, savedEvent(1))
		assert.Error(t, err)
	})

	t.Run("unreachable endpoint fails the attempt", func(t *testing.T) {
		h := NewNotifyHandler("http://127.0.0.1:1/never", logger.NewNop())
		assert.Error(t, h.Handle(ctx, savedEvent(1)))
	})

	t.Run("without an endpoint it logs and succeeds", func(t *testing.T) {
		h := NewNotifyHandler("", logger.NewNop())
		assert.NoError(t, h.Handle(ctx, savedEvent(1)))
	})
}
