package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// DashboardHandler 停机看板接口
type DashboardHandler struct {
	aggregationSvc *service.AggregationService
}

func NewDashboardHandler(aggregationSvc *service.AggregationService) *DashboardHandler {
	return &DashboardHandler{aggregationSvc: aggregationSvc}
}

// Summary GET /dashboard/summary?timeRange=
func (h *DashboardHandler) Summary(c *gin.Context) {
	result, err := h.aggregationSvc.GetDashboardSummary(c.Request.Context(), c.Query("timeRange"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, result)
}

// TimeSeries GET /dashboard/time-series?timeRange=
func (h *DashboardHandler) TimeSeries(c *gin.Context) {
	points, err := h.aggregationSvc.GetTimeSeries(c.Request.Context(), c.Query("timeRange"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, points)
}

// ByReason GET /dashboard/by-reason?timeRange=
func (h *DashboardHandler) ByReason(c *gin.Context) {
	items, err := h.aggregationSvc.GetByReason(c.Request.Context(), c.Query("timeRange"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, items)
}
