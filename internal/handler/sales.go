package handler

import (
	"fmt"
	"net/http"

	"github.com/Gianluca27/turno-facil-sub000/internal/apierror"
	"github.com/Gianluca27/turno-facil-sub000/internal/dto"
	"github.com/Gianluca27/turno-facil-sub000/internal/middleware"
	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type SalesHandler struct {
	sales   service.SaleService
	refunds service.RefundService
}

func NewSalesHandler(sales service.SaleService, refunds service.RefundService) *SalesHandler {
	return &SalesHandler{sales: sales, refunds: refunds}
}

// CreateSale godoc
// @Summary Registers a completed sale
// @Tags sales
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Replays the original sale when repeated"
// @Param body body dto.CreateSaleRequest true "Cart"
// @Success 201 {object} dto.CreateSaleResponse
// @Success 200 {object} dto.CreateSaleResponse "idempotent replay"
// @Failure 404 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/sales [post]
func (h *SalesHandler) CreateSale(c *gin.Context) {
	var req dto.CreateSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	businessID, actorID := middleware.Scope(c)

	in, err := saleInput(req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, apierror.New(err.Error()))
		return
	}
	in.BusinessID = businessID
	in.ActorID = actorID
	in.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	res, err := h.sales.CreateSale(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, dto.CreateSaleResponse{
		Transaction: dto.NewTransactionResponse(res.Sale),
		Duplicate:   res.Duplicate,
	})
}

// GetSale godoc
// @Summary Returns a sale or refund transaction
// @Tags sales
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID"
// @Success 200 {object} dto.TransactionResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/sales/{id} [get]
func (h *SalesHandler) GetSale(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	businessID, _ := middleware.Scope(c)
	t, err := h.sales.GetSale(c.Request.Context(), businessID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTransactionResponse(t))
}

// ListSales godoc
// @Summary Lists transactions, newest first
// @Tags sales
// @Produce json
// @Security BearerAuth
// @Param from query string false "RFC3339 or YYYY-MM-DD"
// @Param to query string false "RFC3339 or YYYY-MM-DD"
// @Param kind query string false "sale | refund"
// @Param status query string false "completed | partial_refund | refunded"
// @Param method query string false "cash | card | transfer | gateway | mixed"
// @Param page query int false "Page" default(1)
// @Param limit query int false "Page size" default(20)
// @Success 200 {object} dto.TransactionListResponse
// @Router /v1/sales [get]
func (h *SalesHandler) ListSales(c *gin.Context) {
	var q dto.SaleFilter
	if !bindQueryAndValidate(c, &q) {
		return
	}
	f := service.SaleFilter{
		Kind:          q.Kind,
		Status:        q.Status,
		PaymentMethod: q.Method,
		Page:          q.Page,
		Limit:         q.Limit,
	}
	if q.From != "" {
		t, err := parseInstant(q.From, false)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierror.New("invalid 'from'"))
			return
		}
		f.From = &t
	}
	if q.To != "" {
		t, err := parseInstant(q.To, true)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierror.New("invalid 'to'"))
			return
		}
		f.To = &t
	}

	businessID, _ := middleware.Scope(c)
	list, total, err := h.sales.ListSales(c.Request.Context(), businessID, f)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.TransactionListResponse{
		Data:  make([]dto.TransactionResponse, 0, len(list)),
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
	}
	for i := range list {
		resp.Data = append(resp.Data, dto.NewTransactionResponse(&list[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// RefundSale godoc
// @Summary Refunds a sale fully or per line
// @Tags sales
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sale ID"
// @Param Idempotency-Key header string false "Replays the original refund when repeated"
// @Param body body dto.RefundRequest true "Refund; omit items for a full refund"
// @Success 201 {object} dto.RefundResponse
// @Failure 404 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/sales/{id}/refunds [post]
func (h *SalesHandler) RefundSale(c *gin.Context) {
	saleID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.RefundRequest
	if !bindAndValidate(c, &req) {
		return
	}
	businessID, actorID := middleware.Scope(c)

	in := service.RefundInput{
		BusinessID:     businessID,
		ActorID:        actorID,
		SaleID:         saleID,
		Reason:         req.Reason,
		Method:         req.Method,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.RefundLine{ItemIndex: it.ItemIndex, Quantity: it.Quantity})
	}

	res, err := h.refunds.RefundSale(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.RefundResponse{
		RefundAmount:      res.RefundAmount,
		RefundedItems:     dto.NewRefundedLines(res.RefundedItems),
		RefundTransaction: dto.NewTransactionResponse(res.RefundTransaction),
		GatewayStatus:     res.GatewayStatus,
		Duplicate:         res.Duplicate,
	}
	if res.Sale != nil {
		sale := dto.NewTransactionResponse(res.Sale)
		resp.Sale = &sale
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// saleInput converts the wire cart into service lines.
func saleInput(req dto.CreateSaleRequest) (service.CreateSaleInput, error) {
	in := service.CreateSaleInput{
		PaymentMethod:         req.PaymentMethod,
		PaymentReference:      req.PaymentReference,
		GlobalDiscountPercent: req.GlobalDiscountPercent,
		Tip:                   req.Tip,
		AppointmentID:         req.AppointmentID,
		ClientID:              req.ClientID,
		ClientName:            req.ClientName,
		Notes:                 req.Notes,
	}
	for i, l := range req.Items {
		if l.Kind == model.ItemKindCustom {
			if l.UnitPrice == nil {
				return in, errLine(i, "custom items need unit_price")
			}
			in.Lines = append(in.Lines, service.AdHocLine{
				Name:            l.Name,
				UnitPrice:       *l.UnitPrice,
				Quantity:        l.Quantity,
				DiscountPercent: l.DiscountPercent,
			})
			continue
		}
		itemID, err := uuid.Parse(l.ItemID)
		if err != nil {
			return in, errLine(i, "item_id is required for catalog items")
		}
		in.Lines = append(in.Lines, service.CatalogLine{
			Kind:            l.Kind,
			ItemID:          itemID,
			Quantity:        l.Quantity,
			PriceOverride:   l.UnitPrice,
			DiscountPercent: l.DiscountPercent,
		})
	}
	for _, p := range req.Payments {
		in.Payments = append(in.Payments, service.PaymentLeg{Method: p.Method, Amount: p.Amount})
	}
	return in, nil
}

func errLine(i int, msg string) error { return fmt.Errorf("items[%d]: %s", i, msg) }
