package notify

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/swapyard/swapyard/internal/logging"
	"github.com/swapyard/swapyard/internal/pagination"
	"github.com/swapyard/swapyard/internal/validation"
)

// Handler provides HTTP endpoints for reading notifications.
type Handler struct {
	store Store
}

// NewHandler creates a new notification handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up notification routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:userId/notifications", h.ListNotifications)
	r.POST("/notifications/:id/read", validation.IDParamMiddleware("ntf_"), h.MarkRead)
}

// ListNotifications handles GET /v1/users/:userId/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	userID := c.Param("userId")
	unreadOnly := c.Query("unread") == "true"
	limit := parseLimit(c.Query("limit"), 50, 200)

	before, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Malformed pagination cursor",
		})
		return
	}

	// Fetch one extra row to detect whether another page exists.
	notifications, err := h.store.ListByUser(c.Request.Context(), userID, unreadOnly, limit+1, before)
	if err != nil {
		logging.L(c.Request.Context()).Error("list notifications failed", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	page, nextCursor, hasMore := pagination.ComputePage(notifications, limit,
		func(n *Notification) (time.Time, string) { return n.CreatedAt, n.ID })

	resp := gin.H{
		"notifications": page,
		"count":         len(page),
		"hasMore":       hasMore,
	}
	if hasMore {
		resp["nextCursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// MarkRead handles POST /v1/notifications/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	id := c.Param("id")

	n, err := h.store.MarkRead(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Notification not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("mark notification read failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notification": n})
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
