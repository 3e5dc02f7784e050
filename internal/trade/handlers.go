package trade

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/swapyard/swapyard/internal/validation"
)

// Handler provides HTTP endpoints for the trade lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new trade handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up trade routes. Malformed trade IDs are rejected
// before any handler runs.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	idCheck := validation.IDParamMiddleware("trd_")
	r.POST("/trades", h.ProposeTrade)
	r.GET("/trades/:id", idCheck, h.GetTrade)
	r.GET("/trades/:id/items", idCheck, h.GetItems)
	r.POST("/trades/:id/accept", idCheck, h.AcceptTrade)
	r.POST("/trades/:id/reject", idCheck, h.RejectTrade)
	r.POST("/trades/:id/cancel", idCheck, h.CancelTrade)
	r.GET("/users/:userId/trades", h.ListUserTrades)
}

// ProposeTrade handles POST /v1/trades
func (h *Handler) ProposeTrade(c *gin.Context) {
	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	trade, err := h.service.Propose(c.Request.Context(), req)
	if err != nil {
		if ve, ok := AsValidation(err); ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":       ve.Reason,
				"message":     err.Error(),
				"resourceIds": ve.ResourceIDs,
			})
			return
		}
		status := http.StatusInternalServerError
		code := "propose_failed"
		switch {
		case errors.Is(err, ErrSelfTrade):
			status = http.StatusBadRequest
			code = "self_trade"
		case errors.Is(err, ErrEmptyManifest):
			status = http.StatusBadRequest
			code = "empty_manifest"
		case errors.Is(err, ErrDuplicateResource):
			status = http.StatusBadRequest
			code = "duplicate_resource"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"trade": trade})
}

// GetTrade handles GET /v1/trades/:id
func (h *Handler) GetTrade(c *gin.Context) {
	id := c.Param("id")

	trade, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Trade not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trade": trade})
}

// GetItems handles GET /v1/trades/:id/items
func (h *Handler) GetItems(c *gin.Context) {
	id := c.Param("id")

	items, err := h.service.Items(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Trade not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"resourceIds": items,
		"count":       len(items),
	})
}

// AcceptTrade handles POST /v1/trades/:id/accept
func (h *Handler) AcceptTrade(c *gin.Context) {
	h.resolve(c, h.service.Accept, "accept_failed")
}

// RejectTrade handles POST /v1/trades/:id/reject
func (h *Handler) RejectTrade(c *gin.Context) {
	h.resolve(c, h.service.Reject, "reject_failed")
}

// CancelTrade handles POST /v1/trades/:id/cancel
func (h *Handler) CancelTrade(c *gin.Context) {
	h.resolve(c, h.service.Cancel, "cancel_failed")
}

func (h *Handler) resolve(c *gin.Context, op func(ctx context.Context, tradeID, actingUserID string) (*Trade, error), failCode string) {
	tradeID := c.Param("id")

	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: actingUserId is required",
		})
		return
	}

	trade, err := op(c.Request.Context(), tradeID, req.ActingUserID)
	if err != nil {
		if ce, ok := AsConflict(err); ok {
			c.JSON(http.StatusConflict, gin.H{
				"error":       "resource_conflict",
				"message":     err.Error(),
				"resourceIds": ce.ResourceIDs,
			})
			return
		}
		status := http.StatusInternalServerError
		code := failCode
		switch {
		case errors.Is(err, ErrNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrNotPending):
			status = http.StatusConflict
			code = "trade_not_pending"
		case errors.Is(err, ErrNotReceiver), errors.Is(err, ErrNotInitiator):
			status = http.StatusForbidden
			code = "unauthorized"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trade": trade})
}

// ListUserTrades handles GET /v1/users/:userId/trades
func (h *Handler) ListUserTrades(c *gin.Context) {
	userID := c.Param("userId")
	limit := parseLimit(c.Query("limit"), 50, 200)

	trades, err := h.service.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
