package resource

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/swapyard/swapyard/internal/idgen"
	"github.com/swapyard/swapyard/internal/validation"
)

// maxNameLength bounds resource names.
const maxNameLength = 200

// Handler provides HTTP endpoints for the resource ledger.
type Handler struct {
	ledger Ledger
}

// NewHandler creates a new resource handler.
func NewHandler(ledger Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up resource routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/resources", h.CreateResource)
	r.GET("/resources/:id", validation.IDParamMiddleware("res_"), h.GetResource)
	r.GET("/users/:userId/resources", h.ListUserResources)
}

// CreateRequest registers a new resource for an owner.
type CreateRequest struct {
	OwnerID string `json:"ownerId" binding:"required"`
	Name    string `json:"name" binding:"required"`
}

// CreateResource handles POST /v1/resources
func (h *Handler) CreateResource(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	name := validation.SanitizeString(req.Name, validation.MaxStringLength)
	if verrs := validation.Validate(
		validation.Required("name", name),
		validation.MaxLength("name", name, maxNameLength),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
		})
		return
	}

	now := time.Now()
	r := &Resource{
		ID:        idgen.WithPrefix("res_"),
		OwnerID:   req.OwnerID,
		Name:      name,
		Status:    StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.ledger.Create(c.Request.Context(), r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"resource": r})
}

// GetResource handles GET /v1/resources/:id
func (h *Handler) GetResource(c *gin.Context) {
	id := c.Param("id")

	r, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Resource not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"resource": r})
}

// ListUserResources handles GET /v1/users/:userId/resources
func (h *Handler) ListUserResources(c *gin.Context) {
	userID := c.Param("userId")
	limit := parseLimit(c.Query("limit"), 50, 200)

	resources, err := h.ledger.ListByOwner(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"resources": resources,
		"count":     len(resources),
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
