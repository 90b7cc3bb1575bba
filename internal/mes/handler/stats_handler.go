package handler

import (
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// StatsHandler 停机统计接口
type StatsHandler struct {
	aggregationSvc *service.AggregationService
}

func NewStatsHandler(aggregationSvc *service.AggregationService) *StatsHandler {
	return &StatsHandler{aggregationSvc: aggregationSvc}
}

func (h *StatsHandler) parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if startStr == "" || endStr == "" {
		BadRequest(c, "start_date and end_date are required")
		return time.Time{}, time.Time{}, false
	}

	start, err := parseDate(startStr)
	if err != nil {
		BadRequest(c, "invalid start_date: "+startStr)
		return time.Time{}, time.Time{}, false
	}
	end, err := parseDate(endStr)
	if err != nil {
		BadRequest(c, "invalid end_date: "+endStr)
		return time.Time{}, time.Time{}, false
	}
	// [start, end)：结束日期按整天计入
	return start, end.AddDate(0, 0, 1), true
}

// ByMachine GET /stats/by-machine?start_date=&end_date=
func (h *StatsHandler) ByMachine(c *gin.Context) {
	start, end, ok := h.parseRange(c)
	if !ok {
		return
	}

	items, err := h.aggregationSvc.GetStatsByMachine(c.Request.Context(), start, end)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, items)
}

// TopReasons GET /stats/top-reasons?start_date=&end_date=&limit=
func (h *StatsHandler) TopReasons(c *gin.Context) {
	start, end, ok := h.parseRange(c)
	if !ok {
		return
	}

	limit := 10
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	items, err := h.aggregationSvc.GetTopReasons(c.Request.Context(), start, end, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, items)
}
