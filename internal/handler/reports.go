package handler

import (
	"net/http"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/apierror"
	"github.com/Gianluca27/turno-facil-sub000/internal/dto"
	"github.com/Gianluca27/turno-facil-sub000/internal/middleware"
	"github.com/Gianluca27/turno-facil-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

type ReportsHandler struct{ svc service.ReportService }

func NewReportsHandler(svc service.ReportService) *ReportsHandler {
	return &ReportsHandler{svc: svc}
}

// Summary godoc
// @Summary Sales summary by method, item kind, hour and top items
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param from query string true "RFC3339 or YYYY-MM-DD"
// @Param to query string true "RFC3339 or YYYY-MM-DD"
// @Param top query int false "Top-N items" default(5)
// @Success 200 {object} dto.SummaryResponse
// @Failure 422 {object} apierror.APIError
// @Router /v1/reports/summary [get]
func (h *ReportsHandler) Summary(c *gin.Context) {
	q, from, to, ok := reportRange(c)
	if !ok {
		return
	}
	businessID, _ := middleware.Scope(c)
	s, err := h.svc.Summary(c.Request.Context(), businessID, from, to, q.Top)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.SummaryResponse{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
		Totals: dto.SummaryTotalsResponse{
			SaleCount: s.Totals.SaleCount,
			Gross:     s.Totals.Gross,
			Discounts: s.Totals.Discounts,
			Tips:      s.Totals.Tips,
			Refunded:  s.Totals.Refunded,
			Net:       s.Totals.Net,
		},
		ByMethod: make([]dto.MethodTotalResponse, 0, len(s.ByMethod)),
		ByKind:   make([]dto.KindTotalResponse, 0, len(s.ByKind)),
		ByHour:   make([]dto.HourTotalResponse, 0, len(s.ByHour)),
		TopItems: make([]dto.TopItemResponse, 0, len(s.TopItems)),
	}
	for _, m := range s.ByMethod {
		resp.ByMethod = append(resp.ByMethod, dto.MethodTotalResponse{Method: m.Method, Count: m.Count, Total: m.Total})
	}
	for _, k := range s.ByKind {
		resp.ByKind = append(resp.ByKind, dto.KindTotalResponse{Kind: k.Kind, Quantity: k.Quantity, Total: k.Total})
	}
	for _, hr := range s.ByHour {
		resp.ByHour = append(resp.ByHour, dto.HourTotalResponse{Hour: hr.Hour, Count: hr.Count, Total: hr.Total})
	}
	for _, it := range s.TopItems {
		item := dto.TopItemResponse{Kind: it.Kind, Name: it.Name, Quantity: it.Quantity, Revenue: it.Revenue}
		if it.ItemID != nil {
			id := it.ItemID.String()
			item.ItemID = &id
		}
		resp.TopItems = append(resp.TopItems, item)
	}
	c.JSON(http.StatusOK, resp)
}

// Daily godoc
// @Summary Per-day sales, refunds and net
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param from query string true "RFC3339 or YYYY-MM-DD"
// @Param to query string true "RFC3339 or YYYY-MM-DD"
// @Success 200 {object} dto.DailyResponse
// @Failure 422 {object} apierror.APIError
// @Router /v1/reports/daily [get]
func (h *ReportsHandler) Daily(c *gin.Context) {
	_, from, to, ok := reportRange(c)
	if !ok {
		return
	}
	businessID, _ := middleware.Scope(c)
	days, err := h.svc.Daily(c.Request.Context(), businessID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.DailyResponse{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
		Days: make([]dto.DailyTotalResponse, 0, len(days)),
	}
	for _, d := range days {
		resp.Days = append(resp.Days, dto.DailyTotalResponse{
			Date:        d.Date,
			SaleCount:   d.SaleCount,
			SalesTotal:  d.SalesTotal,
			RefundCount: d.RefundCount,
			RefundTotal: d.RefundTotal,
			Net:         d.Net,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func reportRange(c *gin.Context) (dto.ReportQuery, time.Time, time.Time, bool) {
	var q dto.ReportQuery
	if !bindQueryAndValidate(c, &q) {
		return q, time.Time{}, time.Time{}, false
	}
	from, err := parseInstant(q.From, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid 'from'"))
		return q, time.Time{}, time.Time{}, false
	}
	to, err := parseInstant(q.To, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid 'to'"))
		return q, time.Time{}, time.Time{}, false
	}
	return q, from, to, true
}
