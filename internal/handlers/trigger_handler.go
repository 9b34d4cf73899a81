package handlers

import (
	"errors"
	"io"
	"net/http"

	"kazi/internal/automation"
	"kazi/internal/middleware"
	"kazi/internal/services"

	"github.com/gin-gonic/gin"
)

// TriggerHandler 触发器管理与执行接口
type TriggerHandler struct {
	service *services.TriggerService
	hub     *services.WebSocketHub
}

func NewTriggerHandler(service *services.TriggerService, hub *services.WebSocketHub) *TriggerHandler {
	return &TriggerHandler{service: service, hub: hub}
}

// ExecuteRequest is the body of POST /triggers/:id/execute.
type ExecuteRequest struct {
	EntityID   string         `json:"entity_id"`
	EventData  map[string]any `json:"event_data"`
	ExecutedBy string         `json:"executed_by"`
}

// ListTriggers 获取触发器列表
func (h *TriggerHandler) ListTriggers(c *gin.Context) {
	triggers, err := h.service.ListTriggers(c.Request.Context(), services.TriggerListQuery{
		UserID:      c.Query("user_id"),
		IsActive:    queryBool(c, "is_active"),
		TriggerType: c.Query("trigger_type"),
		EventType:   c.Query("event_type"),
		Limit:       queryInt(c, "limit", 0),
		Offset:      queryInt(c, "offset", 0),
	})
	if err != nil {
		fail(c, "Failed to list triggers", err)
		return
	}
	c.JSON(http.StatusOK, triggers)
}

// CreateTrigger 创建触发器
func (h *TriggerHandler) CreateTrigger(c *gin.Context) {
	var req services.CreateTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	trig, err := h.service.CreateTrigger(c.Request.Context(), middleware.UserID(c), &req)
	if err != nil {
		fail(c, "Failed to create trigger", err)
		return
	}
	c.JSON(http.StatusCreated, trig)
}

// GetTrigger 获取触发器详情
func (h *TriggerHandler) GetTrigger(c *gin.Context) {
	trig, err := h.service.GetTrigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Failed to get trigger", err)
		return
	}
	c.JSON(http.StatusOK, trig)
}

// UpdateTrigger 更新触发器
func (h *TriggerHandler) UpdateTrigger(c *gin.Context) {
	var req services.UpdateTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	trig, err := h.service.UpdateTrigger(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		fail(c, "Failed to update trigger", err)
		return
	}
	c.JSON(http.StatusOK, trig)
}

// DeleteTrigger 删除触发器
func (h *TriggerHandler) DeleteTrigger(c *gin.Context) {
	if err := h.service.DeleteTrigger(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, "Failed to delete trigger", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ReplaceConditions 替换条件
func (h *TriggerHandler) ReplaceConditions(c *gin.Context) {
	var req []services.ConditionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	conds, err := h.service.ReplaceConditions(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, "Failed to replace conditions", err)
		return
	}
	c.JSON(http.StatusOK, conds)
}

// ReplaceActions 替换动作
func (h *TriggerHandler) ReplaceActions(c *gin.Context) {
	var req []services.ActionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	actions, err := h.service.ReplaceActions(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, "Failed to replace actions", err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// Execute runs the trigger once and answers with the execution envelope.
func (h *TriggerHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	// an empty body, chunked or not, runs with no payload
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	executedBy := middleware.UserID(c)
	if executedBy == "" {
		executedBy = req.ExecutedBy
	}
	res, err := h.service.ExecuteTrigger(c.Request.Context(), c.Param("id"), automation.ExecuteContext{
		EntityID:   req.EntityID,
		EventData:  req.EventData,
		ExecutedBy: executedBy,
	})
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	c.JSON(status, automation.ToEnvelope(res, err))
}

// ListExecutions 执行记录
func (h *TriggerHandler) ListExecutions(c *gin.Context) {
	execs, err := h.service.ListExecutions(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 50))
	if err != nil {
		fail(c, "Failed to list executions", err)
		return
	}
	c.JSON(http.StatusOK, execs)
}

// ListLogs 执行日志
func (h *TriggerHandler) ListLogs(c *gin.Context) {
	logs, err := h.service.ListLogs(c.Request.Context(), c.Param("id"), c.Query("status"), queryInt(c, "limit", 50))
	if err != nil {
		fail(c, "Failed to list logs", err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// Stats 执行统计
func (h *TriggerHandler) Stats(c *gin.Context) {
	st, err := h.service.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Failed to get stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListSchedules 定时配置列表
func (h *TriggerHandler) ListSchedules(c *gin.Context) {
	list, err := h.service.ListSchedules(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Failed to list schedules", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// AddSchedule 新增定时配置
func (h *TriggerHandler) AddSchedule(c *gin.Context) {
	var req services.ScheduleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	sched, err := h.service.AddSchedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, "Failed to add schedule", err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

// DeleteSchedule 删除定时配置
func (h *TriggerHandler) DeleteSchedule(c *gin.Context) {
	if err := h.service.DeleteSchedule(c.Request.Context(), c.Param("id"), c.Param("scheduleId")); err != nil {
		fail(c, "Failed to delete schedule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// DispatchEvent 外部事件分发到匹配的触发器
func (h *TriggerHandler) DispatchEvent(c *gin.Context) {
	var req services.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	outcomes, err := h.service.DispatchEvent(c.Request.Context(), &req, middleware.UserID(c))
	if err != nil {
		fail(c, "Failed to dispatch event", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "dispatched", Data: outcomes})
}

// RegisterTriggerRoutes 注册路由
func RegisterTriggerRoutes(r *gin.RouterGroup, h *TriggerHandler) {
	tr := r.Group("/triggers")
	{
		tr.GET("", h.ListTriggers)
		tr.POST("", h.CreateTrigger)
		tr.POST("/events", h.DispatchEvent)
		if h.hub != nil {
			tr.GET("/stream", h.hub.HandleWebSocket)
		}
		tr.GET("/:id", h.GetTrigger)
		tr.PUT("/:id", h.UpdateTrigger)
		tr.DELETE("/:id", h.DeleteTrigger)
		tr.PUT("/:id/conditions", h.ReplaceConditions)
		tr.PUT("/:id/actions", h.ReplaceActions)
		tr.POST("/:id/execute", h.Execute)
		tr.GET("/:id/executions", h.ListExecutions)
		tr.GET("/:id/logs", h.ListLogs)
		tr.GET("/:id/stats", h.Stats)
		tr.GET("/:id/schedules", h.ListSchedules)
		tr.POST("/:id/schedules", h.AddSchedule)
		tr.DELETE("/:id/schedules/:scheduleId", h.DeleteSchedule)
	}
}
