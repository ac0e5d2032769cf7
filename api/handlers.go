package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mmdatafocus/recipe_integrity/bootstrap"
	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/report"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

type Handler struct {
	svc *bootstrap.Services
}

type validateBatchRequest struct {
	ProductIds []int `json:"product_ids" binding:"required,min=1,dive,gt=0"`
}

type syncRequest struct {
	Strategy models.SyncStrategy `json:"strategy"`
}

type enqueueRequest struct {
	ProductId int `json:"product_id" binding:"required,gt=0"`
	StoreId   int `json:"store_id"`
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrClusterNotFound),
		errors.Is(err, models.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidDefinition):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRuleRunning),
		errors.Is(err, models.ErrRuleInactive),
		errors.Is(err, models.ErrRuleCoolingDown):
		return http.StatusConflict
	case errors.Is(err, models.ErrDataAccess):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(errorStatus(err), gin.H{"error": err.Error()})
}

func paramId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid id %q", c.Param("id"))})
		return 0, false
	}
	return id, true
}

// ProductValidation answers the checkout question for one product. A missing
// product is a 404 carrying the failed result; a lookup failure still returns
// the degraded result with 200.
func (h *Handler) ProductValidation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		res, err := h.svc.Validator.Validate(c.Request.Context(), id)
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, res)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) ValidateBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": h.svc.Validator.ValidateBatch(c.Request.Context(), req.ProductIds)})
	}
}

func (h *Handler) ForceValidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		ev := h.svc.Queue.ForceValidate(c.Request.Context(), id)
		if ev == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found or unreadable"})
			return
		}
		c.JSON(http.StatusOK, ev)
	}
}

func (h *Handler) RepairProduct() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, h.svc.Repair.RepairProduct(c.Request.Context(), id))
	}
}

func (h *Handler) StoreHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, h.svc.Health.StoreHealth(c.Request.Context(), id))
	}
}

func (h *Handler) GlobalHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := h.svc.Health.GlobalHealth(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stores": all})
	}
}

func (h *Handler) ExportHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := h.svc.Health.GlobalHealth(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		var buf bytes.Buffer
		if err := report.WriteHealthWorkbook(&buf, all); err != nil {
			abortWithError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=integrity-health.xlsx")
		c.Data(http.StatusOK, report.ContentType, buf.Bytes())
	}
}

func (h *Handler) RepairStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, h.svc.Repair.RepairStore(c.Request.Context(), id))
	}
}

func (h *Handler) Clusters() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"clusters": h.svc.Sync.Clusters()})
	}
}

func (h *Handler) RegisterCluster() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cluster models.StoreCluster
		if err := c.ShouldBindJSON(&cluster); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := h.svc.Sync.RegisterCluster(cluster); err != nil {
			abortWithError(c, err)
			return
		}
		registered, _ := h.svc.Sync.Cluster(cluster.ID)
		c.JSON(http.StatusCreated, registered)
	}
}

// SyncCluster runs a sync to completion. The body is optional; an empty or
// unknown strategy falls back inside the orchestrator.
func (h *Handler) SyncCluster() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req syncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		run, err := h.svc.Sync.Sync(c.Request.Context(), c.Param("id"), req.Strategy)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func (h *Handler) Syncs() gin.HandlerFunc {
	return func(c *gin.Context) {
		tracker := h.svc.Sync.Tracker()
		c.JSON(http.StatusOK, gin.H{
			"active":  h.svc.Sync.ActiveSyncs(),
			"history": h.svc.Sync.History(),
			"metrics": tracker.Metrics(),
			"daily":   tracker.Daily(),
		})
	}
}

func (h *Handler) QueueStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.svc.Queue.Status(c.Request.Context()))
	}
}

func (h *Handler) Enqueue() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req enqueueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		ev := models.ValidationEvent{EventType: models.ValidationEventManual, ProductId: req.ProductId, StoreId: req.StoreId}
		if err := h.svc.Queue.Enqueue(c.Request.Context(), ev); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	}
}

func (h *Handler) Rules() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rules": h.svc.Workflow.Rules()})
	}
}

func (h *Handler) RegisterRule() gin.HandlerFunc {
	return func(c *gin.Context) {
		var rule models.AutomationRule
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		rule.LastExecuted = nil
		if err := h.svc.Workflow.RegisterRule(rule); err != nil {
			abortWithError(c, err)
			return
		}
		registered, _ := h.svc.Workflow.Rule(rule.ID)
		c.JSON(http.StatusCreated, registered)
	}
}

func (h *Handler) ExecuteRule() gin.HandlerFunc {
	return func(c *gin.Context) {
		exec, err := h.svc.Workflow.ExecuteRule(c.Request.Context(), c.Param("id"), utils.TriggerApi)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, exec)
	}
}

func (h *Handler) HandleEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		execs := h.svc.Workflow.HandleEvent(c.Request.Context(), c.Param("name"))
		c.JSON(http.StatusOK, gin.H{"executions": execs})
	}
}

func (h *Handler) Executions() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"executions": h.svc.Workflow.Executions()})
	}
}

func (h *Handler) Maintenance() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pending":  h.svc.Scheduler.Pending(),
			"finished": h.svc.Scheduler.Finished(),
		})
	}
}

func (h *Handler) RuntimeSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"settings": h.svc.Runtime.Snapshot(),
			"params":   config.RuntimeParams(),
		})
	}
}
