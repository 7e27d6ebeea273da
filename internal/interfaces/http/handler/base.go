// Package handler contains the admin API handlers.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/hotline/admissions/internal/infrastructure/scheduler"
	"github.com/hotline/admissions/internal/interfaces/http/dto"
	"github.com/hotline/admissions/internal/interfaces/http/middleware"
)

// BaseHandler provides common functionality for all handlers
type BaseHandler struct{}

// Success sends a successful response
func (h *BaseHandler) Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a successful response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data interface{}, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 Created response
func (h *BaseHandler) Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the status derived from code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 error response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// HandleError converts an error from the application layer into a response.
// Unknown errors are reported as 500 without leaking their text.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	_ = c.Error(err)

	var domainErr *shared.DomainError
	switch {
	case errors.As(err, &domainErr):
		h.Error(c, dto.NormalizeErrorCode(domainErr.Code), domainErr.Message)
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.Error(c, dto.ErrCodeSchedulerStopped, "Reconciliation scheduler is not running")
	case errors.Is(err, scheduler.ErrPassInProgress):
		h.Error(c, dto.ErrCodePassInProgress, "A reconciliation pass is already running")
	default:
		h.Error(c, dto.ErrCodeInternal, "An internal error occurred")
	}
}
