package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	appadmission "github.com/hotline/admissions/internal/application/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/hotline/admissions/internal/infrastructure/scheduler"
	"github.com/hotline/admissions/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// ReviewService is the part of the review service the admin API exposes
type ReviewService interface {
	Submit(ctx context.Context, req appadmission.SubmitApplicationRequest) (*appadmission.ApplicationResponse, error)
	GetApplication(ctx context.Context, id int64) (*appadmission.ApplicationResponse, error)
	ListApplications(ctx context.Context, req appadmission.ListApplicationsRequest) (shared.Paginated[appadmission.ApplicationResponse], error)
	ApproveOrDeny(ctx context.Context, id int64, req appadmission.DecisionRequest) (*appadmission.ApplicationResponse, error)
	GetVotes(ctx context.Context, id int64) (*appadmission.VotesResponse, error)
	CheckOpenApplications(ctx context.Context) (appadmission.ReconcileReport, error)
}

// PassStatusReader reports the reconcile scheduler state
type PassStatusReader interface {
	Status() scheduler.PassStatus
}

// ApplicationHandler handles admission application endpoints
type ApplicationHandler struct {
	BaseHandler
	service ReviewService
	status  PassStatusReader
	logger  *zap.Logger
}

// NewApplicationHandler creates a new ApplicationHandler. status may be nil
// when no scheduler runs.
func NewApplicationHandler(service ReviewService, status PassStatusReader, logger *zap.Logger) *ApplicationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationHandler{service: service, status: status, logger: logger}
}

// List handles GET /applications
func (h *ApplicationHandler) List(c *gin.Context) {
	var req appadmission.ListApplicationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.service.ListApplications(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, result.Items, result.Total, result.Page, result.PageSize)
}

// Submit handles POST /applications
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var req appadmission.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	app, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, app)
}

// Get handles GET /applications/:id
func (h *ApplicationHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	app, err := h.service.GetApplication(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, app)
}

// Decide handles POST /applications/:id/decision, a staff override of
// whichever vote is currently open
func (h *ApplicationHandler) Decide(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req appadmission.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	app, err := h.service.ApproveOrDeny(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.logger.Info("Staff decision recorded",
		zap.Int64("application_id", id),
		zap.String("staff", middleware.GetStaffSubject(c)),
		zap.String("outcome", req.Outcome),
	)
	h.Success(c, app)
}

// Votes handles GET /applications/:id/votes
func (h *ApplicationHandler) Votes(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	votes, err := h.service.GetVotes(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, votes)
}

// Reconcile handles POST /reconcile
func (h *ApplicationHandler) Reconcile(c *gin.Context) {
	report, err := h.service.CheckOpenApplications(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// ReconcileStatus handles GET /reconcile/status
func (h *ApplicationHandler) ReconcileStatus(c *gin.Context) {
	if h.status == nil {
		h.Success(c, scheduler.PassStatus{})
		return
	}
	h.Success(c, h.status.Status())
}

func (h *ApplicationHandler) parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.BadRequest(c, "Invalid application id")
		return 0, false
	}
	return id, true
}
