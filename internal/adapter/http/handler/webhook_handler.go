package handler

import (
	"errors"
	"io"
	"net/http"

	"webhook-sync-engine/internal/adapter/http/dto"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/pkg/apperror"
	"webhook-sync-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler handles the inbound webhook ingestion endpoint.
type WebhookHandler struct {
	ingestSvc ports.IngestService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingestSvc ports.IngestService) *WebhookHandler {
	return &WebhookHandler{ingestSvc: ingestSvc}
}

// Receive handles POST /api/webhooks/:source. The raw body is passed through
// untouched; signature verification needs the exact bytes the sender signed.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			response.Error(c, apperror.ErrBodyTooLarge())
			return
		}
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	result, err := h.ingestSvc.Ingest(c.Request.Context(), ports.IngestRequest{
		Source:   c.Param("source"),
		Header:   c.Request.Header,
		Body:     body,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.WebhookAckResponse{
		EventID:    result.EventID.String(),
		Duplicate:  result.Duplicate,
		QueueItems: result.Enqueued,
		Message:    result.Message,
	})
}
