package handler

import (
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

// QueueHandler handles the operator-facing queue endpoints.
type QueueHandler struct {
	queueSvc ports.QueueAdminService
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(queueSvc ports.QueueAdminService) *QueueHandler {
	return &QueueHandler{queueSvc: queueSvc}
}

// GetStats handles GET /api/v1/queue/stats.
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.queueSvc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.QueueStatResponse, 0, len(stats))
	for i := range stats {
		items = append(items, toQueueStatResponse(&stats[i]))
	}
	response.OK(c, items)
}

// ListDeadLetters handles GET /api/v1/queue/dead-letters.
func (h *QueueHandler) ListDeadLetters(c *gin.Context) {
	page, pageSize := paginationParams(c)

	letters, total, err := h.queueSvc.DeadLetters(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.QueueItemResponse, 0, len(letters))
	for i := range letters {
		items = append(items, toQueueItemResponse(&letters[i]))
	}

	response.OK(c, dto.DeadLetterListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

// RequeueDeadLetter handles POST /api/v1/queue/dead-letters/:id/requeue.
func (h *QueueHandler) RequeueDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid queue item id"))
		return
	}

	if err := h.queueSvc.RequeueDeadLetter(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"requeued": id.String()})
}

func paginationParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func toQueueStatResponse(s *domain.QueueStat) dto.QueueStatResponse {
	return dto.QueueStatResponse{
		Source:        string(s.Source),
		Status:        string(s.Status),
		Count:         s.Count,
		AvgRetryCount: s.AvgRetryCount,
	}
}

func toQueueItemResponse(i *domain.SyncQueueItem) dto.QueueItemResponse {
	resp := dto.QueueItemResponse{
		ID:           i.ID.String(),
		EventID:      i.EventID.String(),
		Source:       string(i.Source),
		Action:       string(i.Action),
		EntityType:   string(i.EntityType),
		EntityID:     i.EntityID,
		Priority:     i.Priority,
		Status:       string(i.Status),
		RetryCount:   i.RetryCount,
		MaxRetries:   i.MaxRetries,
		ErrorMessage: i.ErrorMessage,
		ScheduledFor: i.ScheduledFor.UTC().Format(time.RFC3339),
		CreatedAt:    i.CreatedAt.UTC().Format(time.RFC3339),
	}
	if i.ProcessedAt != nil {
		s := i.ProcessedAt.UTC().Format(time.RFC3339)
		resp.ProcessedAt = &s
	}
	return resp
}
