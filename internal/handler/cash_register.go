package handler

import (
	"net/http"
	"strconv"

	"github.com/Gianluca27/turno-facil-sub000/internal/dto"
	"github.com/Gianluca27/turno-facil-sub000/internal/middleware"
	"github.com/Gianluca27/turno-facil-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

type CashRegisterHandler struct{ svc service.CashRegisterService }

func NewCashRegisterHandler(svc service.CashRegisterService) *CashRegisterHandler {
	return &CashRegisterHandler{svc: svc}
}

// Open godoc
// @Summary Opens the business cash drawer
// @Tags cash-register
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenRegisterRequest true "Opening float"
// @Success 201 {object} dto.SessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash-register/open [post]
func (h *CashRegisterHandler) Open(c *gin.Context) {
	var req dto.OpenRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	businessID, actorID := middleware.Scope(c)

	sess, err := h.svc.Open(c.Request.Context(), service.OpenRegisterInput{
		BusinessID:    businessID,
		ActorID:       actorID,
		InitialAmount: req.InitialAmount,
		Notes:         req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSessionResponse(sess))
}

// RecordMovement godoc
// @Summary Records a manual cash in/out
// @Tags cash-register
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.MovementRequest true "Movement"
// @Success 201 {object} dto.MovementResponse
// @Failure 404 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/cash-register/{id}/movements [post]
func (h *CashRegisterHandler) RecordMovement(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.MovementRequest
	if !bindAndValidate(c, &req) {
		return
	}
	businessID, actorID := middleware.Scope(c)

	mov, err := h.svc.RecordMovement(c.Request.Context(), service.MovementInput{
		BusinessID: businessID,
		SessionID:  sessionID,
		ActorID:    actorID,
		Type:       req.Type,
		Amount:     req.Amount,
		Reason:     req.Reason,
		Notes:      req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewMovementResponse(mov))
}

// Close godoc
// @Summary Closes the drawer and reconciles declared against expected cash
// @Tags cash-register
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.CloseRegisterRequest true "Counted cash"
// @Success 200 {object} dto.RegisterResponse
// @Failure 404 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/cash-register/{id}/close [post]
func (h *CashRegisterHandler) Close(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.CloseRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	businessID, actorID := middleware.Scope(c)

	view, err := h.svc.Close(c.Request.Context(), service.CloseRegisterInput{
		BusinessID:     businessID,
		SessionID:      sessionID,
		ActorID:        actorID,
		DeclaredAmount: req.DeclaredAmount,
		Notes:          req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, registerResponse(view))
}

// Status godoc
// @Summary Returns the open session with live totals
// @Tags cash-register
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.RegisterStatusResponse
// @Router /v1/cash-register/status [get]
func (h *CashRegisterHandler) Status(c *gin.Context) {
	businessID, _ := middleware.Scope(c)
	view, err := h.svc.Status(c.Request.Context(), businessID)
	if err != nil {
		respondError(c, err)
		return
	}
	if view == nil {
		c.JSON(http.StatusOK, dto.RegisterStatusResponse{Open: false})
		return
	}
	r := registerResponse(view)
	c.JSON(http.StatusOK, dto.RegisterStatusResponse{Open: true, Session: &r.Session, Breakdown: &r.Breakdown})
}

// Get godoc
// @Summary Returns one session with its breakdown
// @Tags cash-register
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} dto.RegisterResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash-register/{id} [get]
func (h *CashRegisterHandler) Get(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	businessID, _ := middleware.Scope(c)
	view, err := h.svc.Get(c.Request.Context(), businessID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, registerResponse(view))
}

// History returns a paginated list of sessions, newest first.
func (h *CashRegisterHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	businessID, _ := middleware.Scope(c)
	list, total, err := h.svc.History(c.Request.Context(), businessID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.SessionListResponse{
		Data:  make([]dto.SessionResponse, 0, len(list)),
		Total: total,
		Page:  page,
		Limit: limit,
	}
	for i := range list {
		resp.Data = append(resp.Data, dto.NewSessionResponse(&list[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func registerResponse(v *service.RegisterView) dto.RegisterResponse {
	b := v.Breakdown
	return dto.RegisterResponse{
		Session: dto.NewSessionResponse(v.Session),
		Breakdown: dto.BreakdownResponse{
			InitialAmount:  b.InitialAmount,
			MovementsIn:    b.MovementsIn,
			MovementsOut:   b.MovementsOut,
			CashSales:      b.CashSales,
			CashRefunds:    b.CashRefunds,
			ExpectedAmount: b.ExpectedAmount,
			SaleCount:      b.SaleCount,
			RefundCount:    b.RefundCount,
		},
	}
}
