package handler

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"webhook-sync-engine/internal/adapter/http/dto"
	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/pkg/apperror"
	"webhook-sync-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DashboardHandler handles the operator-facing event log and health endpoints.
type DashboardHandler struct {
	eventRepo ports.EventRepository
	healthSvc ports.HealthService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(eventRepo ports.EventRepository, healthSvc ports.HealthService) *DashboardHandler {
	return &DashboardHandler{eventRepo: eventRepo, healthSvc: healthSvc}
}

// ListEvents handles GET /api/v1/events.
func (h *DashboardHandler) ListEvents(c *gin.Context) {
	page, pageSize := paginationParams(c)

	params := ports.EventListParams{
		Page:     page,
		PageSize: pageSize,
	}

	if s := c.Query("source"); s != "" {
		source := domain.Source(s)
		params.Source = &source
	}
	if s := c.Query("status"); s != "" {
		status := domain.EventStatus(s)
		params.Status = &status
	}
	if f := c.Query("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			params.From = &v
		}
	}
	if t := c.Query("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			params.To = &v
		}
	}

	events, total, err := h.eventRepo.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		items = append(items, toEventResponse(&events[i]))
	}

	response.OK(c, dto.EventListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

// GetEvent handles GET /api/v1/events/:id.
func (h *DashboardHandler) GetEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid event id"))
		return
	}

	event, err := h.eventRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if event == nil {
		response.Error(c, apperror.ErrEventNotFound())
		return
	}

	var payload interface{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			payload = string(event.Payload)
		}
	}

	response.OK(c, dto.EventDetailResponse{
		EventResponse: toEventResponse(event),
		Payload:       payload,
	})
}

// SourceHealth handles GET /api/v1/sources/health.
func (h *DashboardHandler) SourceHealth(c *gin.Context) {
	window := 24 * time.Hour
	if w := c.Query("window"); w != "" {
		parsed, err := time.ParseDuration(w)
		if err != nil || parsed <= 0 {
			response.Error(c, apperror.Validation("invalid window duration"))
			return
		}
		window = parsed
	}

	snapshot, err := h.healthSvc.Snapshot(c.Request.Context(), window)
	if err != nil {
		response.Error(c, err)
		return
	}

	sources := make([]dto.SourceHealthResponse, 0, len(snapshot.Sources))
	for i := range snapshot.Sources {
		s := &snapshot.Sources[i]
		resp := dto.SourceHealthResponse{
			Source:      string(s.Source),
			Total:       s.Total,
			Completed:   s.Completed,
			Failed:      s.Failed,
			SuccessRate: s.SuccessRate,
		}
		if s.LastEventAt != nil {
			ts := s.LastEventAt.UTC().Format(time.RFC3339)
			resp.LastEventAt = &ts
		}
		sources = append(sources, resp)
	}

	queue := make([]dto.QueueStatResponse, 0, len(snapshot.Queue))
	for i := range snapshot.Queue {
		queue = append(queue, toQueueStatResponse(&snapshot.Queue[i]))
	}

	response.OK(c, dto.HealthSnapshotResponse{
		Window:      snapshot.Window.String(),
		Sources:     sources,
		Queue:       queue,
		GeneratedAt: snapshot.GeneratedAt.UTC().Format(time.RFC3339),
	})
}

func toEventResponse(e *domain.WebhookEvent) dto.EventResponse {
	return dto.EventResponse{
		ID:              e.ID.String(),
		Source:          string(e.Source),
		ExternalEventID: e.ExternalEventID,
		EventType:       e.EventType,
		TrustLevel:      string(e.TrustLevel),
		Status:          string(e.Status),
		ErrorMessage:    e.ErrorMessage,
		ReceivedAt:      e.ReceivedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
