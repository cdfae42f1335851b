package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/outbox"
	"github.com/ledgerlinelabs/ledgerline-cloud/pkg/snowflake"
	"go.uber.org/zap"
)

type enqueueEventRequest struct {
	AggregateType string          `json:"aggregate_type" binding:"required"`
	AggregateID   string          `json:"aggregate_id" binding:"required"`
	EventType     string          `json:"event_type" binding:"required"`
	Payload       json.RawMessage `json:"payload" binding:"required"`
}

type pagePayload struct {
	Items      []*outbox.Event `json:"items"`
	Pagination paginationMeta  `json:"pagination"`
}

type paginationMeta struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

func pageResponse(page *outbox.Page) pagePayload {
	return pagePayload{
		Items: page.Items,
		Pagination: paginationMeta{
			Total:   page.Total,
			Limit:   page.Limit,
			Offset:  page.Offset,
			HasMore: page.HasMore(),
		},
	}
}

func pageRequest(c *gin.Context) outbox.PageRequest {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return outbox.PageRequest{Limit: limit, Offset: offset}
}

// EnqueueEvent stores an outbox event directly. Business modules enqueue
// within their own transactions; this endpoint exists for operators and
// backfills.
func (r *Router) EnqueueEvent(c *gin.Context) {
	var req enqueueEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return
	}

	aggregateID, err := snowflake.ParseID(req.AggregateID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid aggregate_id format"})
		return
	}

	event, err := outbox.NewEvent(r.node.GenerateID(), req.AggregateType, aggregateID, req.EventType, req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return
	}

	if err := r.repo.Save(c.Request.Context(), event); err != nil {
		r.logger.Error("enqueue_event_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event_id": strconv.FormatInt(event.ID, 10)})
}

func (r *Router) ListPendingEvents(c *gin.Context) {
	page, err := r.repo.FindPending(c.Request.Context(), pageRequest(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pageResponse(page))
}

func (r *Router) ListFailedEvents(c *gin.Context) {
	maxRetries := r.cfg.OutboxMaxRetries
	if raw := c.Query("maxRetries"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid maxRetries"})
			return
		}
		maxRetries = parsed
	}

	page, err := r.repo.FindFailedForRetry(c.Request.Context(), maxRetries, pageRequest(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pageResponse(page))
}

func (r *Router) GetEvent(c *gin.Context) {
	id, err := snowflake.ParseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid event id"})
		return
	}

	event, err := r.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "event not found"})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (r *Router) ListEventsByAggregate(c *gin.Context) {
	aggregateID, err := snowflake.ParseID(c.Param("aggregateId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid aggregate id"})
		return
	}

	events, err := r.repo.FindByAggregateID(c.Request.Context(), aggregateID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

// RetryEvent resets a failed event to pending; the worker picks it up on the
// next poll.
func (r *Router) RetryEvent(c *gin.Context) {
	id, err := snowflake.ParseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid event id"})
		return
	}

	if err := r.dispatchUC.RetryFailedEvent(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, outbox.ErrEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": err.Error()})
		case errors.Is(err, outbox.ErrRetryExhausted):
			c.JSON(http.StatusConflict, gin.H{"error": "RETRY_EXHAUSTED", "message": err.Error()})
		case errors.Is(err, outbox.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "INVALID_TRANSITION", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

func (r *Router) RetryAllEvents(c *gin.Context) {
	retried, deadLettered, err := r.dispatchUC.RetryAllFailedEvents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": retried, "dead_lettered": deadLettered})
}

func (r *Router) GetOutboxStats(c *gin.Context) {
	ctx := c.Request.Context()
	counts := make(map[string]int64, 4)
	for _, status := range []outbox.EventStatus{
		outbox.StatusPending,
		outbox.StatusProcessing,
		outbox.StatusProcessed,
		outbox.StatusFailed,
	} {
		count, err := r.repo.CountByStatus(ctx, status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
			return
		}
		counts[string(status)] = count
	}

	deadLetters, err := r.dispatchUC.DeadLetterCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts, "dead_letters": deadLetters})
}

func (r *Router) CleanupProcessedEvents(c *gin.Context) {
	days := r.cfg.OutboxRetentionDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid days"})
			return
		}
		days = parsed
	}

	deleted, err := r.dispatchUC.CleanupProcessedEvents(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
