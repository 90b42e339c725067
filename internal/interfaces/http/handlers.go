package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-workflow/internal/application/service"
	"github.com/garyjia/procurement-workflow/internal/application/workflow"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
	"github.com/garyjia/procurement-workflow/pkg/utils"
)

// Field limits for free text accepted over HTTP
const (
	maxNameLength        = 200
	maxDescriptionLength = 2000
	maxCommentsLength    = 2000

	defaultPageSize = 20
	maxPageSize     = 100
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	templates service.TemplateService
	engine    workflow.WorkflowEngine
	health    HealthFunc
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	templates service.TemplateService,
	engine workflow.WorkflowEngine,
	health HealthFunc,
	logger Logger,
) *Handlers {
	return &Handlers{
		templates: templates,
		engine:    engine,
		health:    health,
		logger:    logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}

// CreateTemplateRequest is the body of POST /api/v1/templates
type CreateTemplateRequest struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	WorkflowType entity.WorkflowType `json:"workflow_type"`
}

// DecisionRequest is the body of POST /api/v1/steps/:id/decision
type DecisionRequest struct {
	Decision     entity.Decision `json:"decision"`
	Comments     string          `json:"comments"`
	DecidedBy    string          `json:"decided_by"`
	ApproverName string          `json:"approver_name"`
}

// ListInstancesRequest represents query parameters for listing instances
type ListInstancesRequest struct {
	Status       string `form:"status"`
	DocumentType string `form:"document_type"`
	Limit        int    `form:"limit"`
	Offset       int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if h.health != nil {
		components, err := h.health(c.Request.Context())
		response.Components = components
		if err != nil {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	var workflowType *entity.WorkflowType
	if raw := c.Query("workflow_type"); raw != "" {
		wt := entity.WorkflowType(raw)
		workflowType = &wt
	}

	templates, err := h.templates.ListTemplates(c.Request.Context(), workflowType)
	if err != nil {
		h.respondError(c, "list templates", err)
		return
	}
	if templates == nil {
		templates = []*entity.WorkflowTemplate{}
	}
	respond(c, http.StatusOK, templates)
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.Name = utils.SanitizeText(req.Name)
	req.Description = utils.SanitizeText(req.Description)
	if err := utils.ValidateLength("name", req.Name, maxNameLength); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := utils.ValidateLength("description", req.Description, maxDescriptionLength); err != nil {
		badRequest(c, err.Error())
		return
	}

	tpl, err := h.templates.CreateTemplate(c.Request.Context(), req.Name, req.Description, req.WorkflowType)
	if err != nil {
		h.respondError(c, "create template", err)
		return
	}
	respond(c, http.StatusCreated, tpl)
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	tpl, err := h.templates.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get template", err)
		return
	}
	respond(c, http.StatusOK, tpl)
}

// GetDefaultTemplate handles GET /api/v1/default-templates/:type
func (h *Handlers) GetDefaultTemplate(c *gin.Context) {
	tpl, err := h.templates.GetDefaultTemplate(c.Request.Context(), entity.WorkflowType(c.Param("type")))
	if err != nil {
		h.respondError(c, "get default template", err)
		return
	}
	respond(c, http.StatusOK, tpl)
}

// UpdateTemplate handles PATCH /api/v1/templates/:id
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	var req service.TemplateUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Name != nil {
		name := utils.SanitizeText(*req.Name)
		if err := utils.ValidateLength("name", name, maxNameLength); err != nil {
			badRequest(c, err.Error())
			return
		}
		req.Name = &name
	}
	if req.Description != nil {
		desc := utils.SanitizeText(*req.Description)
		if err := utils.ValidateLength("description", desc, maxDescriptionLength); err != nil {
			badRequest(c, err.Error())
			return
		}
		req.Description = &desc
	}

	tpl, err := h.templates.UpdateTemplate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, "update template", err)
		return
	}
	respond(c, http.StatusOK, tpl)
}

// DeactivateTemplate handles DELETE /api/v1/templates/:id
func (h *Handlers) DeactivateTemplate(c *gin.Context) {
	if err := h.templates.DeactivateTemplate(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "deactivate template", err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": c.Param("id"), "is_active": false})
}

// AddStep handles POST /api/v1/templates/:id/steps
func (h *Handlers) AddStep(c *gin.Context) {
	var req service.StepInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	step, err := h.templates.AddStep(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, "add template step", err)
		return
	}
	respond(c, http.StatusCreated, step)
}

// SetDefaultTemplate handles POST /api/v1/templates/:id/default
func (h *Handlers) SetDefaultTemplate(c *gin.Context) {
	tpl, err := h.templates.SetDefaultTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "set default template", err)
		return
	}
	respond(c, http.StatusOK, tpl)
}

// CreateInstance handles POST /api/v1/instances
func (h *Handlers) CreateInstance(c *gin.Context) {
	var req workflow.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	inst, err := h.engine.CreateWorkflowInstance(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "create workflow instance", err)
		return
	}
	respond(c, http.StatusCreated, inst)
}

// ListInstances handles GET /api/v1/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	var req ListInstancesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	req.Limit = pageLimit(req.Limit)
	if req.Offset < 0 {
		req.Offset = 0
	}

	instances, err := h.engine.ListInstances(c.Request.Context(), workflow.InstanceFilter{
		Status:       req.Status,
		DocumentType: entity.DocumentType(req.DocumentType),
		Limit:        req.Limit,
		Offset:       req.Offset,
	})
	if err != nil {
		h.respondError(c, "list instances", err)
		return
	}
	if instances == nil {
		instances = []*entity.WorkflowInstance{}
	}
	respond(c, http.StatusOK, instances)
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	inst, err := h.engine.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get instance", err)
		return
	}
	respond(c, http.StatusOK, inst)
}

// GetInstanceForDocument handles GET /api/v1/documents/:type/:id/instance
func (h *Handlers) GetInstanceForDocument(c *gin.Context) {
	inst, err := h.engine.GetInstanceForDocument(c.Request.Context(), entity.DocumentType(c.Param("type")), c.Param("id"))
	if err != nil {
		h.respondError(c, "get document instance", err)
		return
	}
	respond(c, http.StatusOK, inst)
}

// DecideStep handles POST /api/v1/steps/:id/decision
func (h *Handlers) DecideStep(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.Comments = utils.SanitizeText(req.Comments)
	if err := utils.ValidateLength("comments", req.Comments, maxCommentsLength); err != nil {
		badRequest(c, err.Error())
		return
	}

	step, err := h.engine.UpdateApprovalStep(c.Request.Context(), workflow.DecideRequest{
		StepID:       c.Param("id"),
		Decision:     req.Decision,
		Comments:     req.Comments,
		DecidedBy:    req.DecidedBy,
		ApproverName: utils.SanitizeText(req.ApproverName),
	})
	if err != nil {
		h.respondError(c, "decide approval step", err)
		return
	}
	respond(c, http.StatusOK, step)
}

// PendingApprovals handles GET /api/v1/approvals/pending?user_id=&role=
func (h *Handlers) PendingApprovals(c *gin.Context) {
	instances, err := h.engine.GetPendingApprovalsFor(c.Request.Context(), entity.Approver{
		ID:   c.Query("user_id"),
		Role: c.Query("role"),
	})
	if err != nil {
		h.respondError(c, "list pending approvals", err)
		return
	}
	if instances == nil {
		instances = []*entity.WorkflowInstance{}
	}
	respond(c, http.StatusOK, instances)
}

// pageLimit applies the default page size and caps oversized pages
func pageLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}
