package handler

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// DowntimeHandler 停机单接口
type DowntimeHandler struct {
	transitionSvc *service.TransitionService
	downtimeRepo  *repository.DowntimeRepository
	reasonRepo    *repository.ReasonRepository
}

func NewDowntimeHandler(
	transitionSvc *service.TransitionService,
	downtimeRepo *repository.DowntimeRepository,
	reasonRepo *repository.ReasonRepository,
) *DowntimeHandler {
	return &DowntimeHandler{
		transitionSvc: transitionSvc,
		downtimeRepo:  downtimeRepo,
		reasonRepo:    reasonRepo,
	}
}

// Report POST /downtime 报修
func (h *DowntimeHandler) Report(c *gin.Context) {
	var req service.ReportDowntimeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.ReportedBy == "" {
		req.ReportedBy = GetEmployeeID(c)
	}

	downtime, err := h.transitionSvc.ReportDowntime(c.Request.Context(), req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Created(c, downtime)
}

// Update PUT /downtime/:id 编辑（含指派技术员、作废）
func (h *DowntimeHandler) Update(c *gin.Context) {
	var req service.UpdateDowntimeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	downtime, err := h.transitionSvc.UpdateDowntime(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, downtime)
}

// AssignReq 指派技术员请求
type AssignReq struct {
	TechnicianID string `json:"technician_id" binding:"required"`
}

// Assign PUT /downtime/:id/assign 指派技术员
func (h *DowntimeHandler) Assign(c *gin.Context) {
	var req AssignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	downtime, err := h.transitionSvc.AssignTechnician(c.Request.Context(), c.Param("id"), req.TechnicianID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, downtime)
}

// Resolve PUT /downtime/:id/resolve 完修
func (h *DowntimeHandler) Resolve(c *gin.Context) {
	var req service.ResolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.TechnicianID == "" {
		req.TechnicianID = GetEmployeeID(c)
	}

	downtime, err := h.transitionSvc.Resolve(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, downtime)
}

// Get GET /downtime/:id
func (h *DowntimeHandler) Get(c *gin.Context) {
	downtime, err := h.downtimeRepo.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, downtime)
}

// List GET /downtime 停机单分页列表
func (h *DowntimeHandler) List(c *gin.Context) {
	page, limit := GetPagination(c)

	filter := repository.DowntimeFilter{
		MachineID: c.Query("machine_id"),
		Status:    c.Query("status"),
		SortBy:    c.Query("sort_by"),
		SortDir:   c.Query("sort_dir"),
		Page:      page,
		Limit:     limit,
	}
	if v := c.Query("start_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			BadRequest(c, "invalid start_date: "+v)
			return
		}
		filter.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			BadRequest(c, "invalid end_date: "+v)
			return
		}
		// 结束日期按整天右开处理
		t = t.AddDate(0, 0, 1)
		filter.EndDate = &t
	}

	items, total, err := h.downtimeRepo.List(c.Request.Context(), filter)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	Success(c, ListResponse{
		Data: items,
		Pagination: &Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: totalPages(total, limit),
		},
	})
}

// ListReasons GET /downtime-reasons 停机原因参考表
func (h *DowntimeHandler) ListReasons(c *gin.Context) {
	reasons, err := h.reasonRepo.List(c.Request.Context())
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, reasons)
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", v, time.Local); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
