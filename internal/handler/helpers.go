package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/apierror"
	"github.com/Gianluca27/turno-facil-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid JSON: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

// bindQueryAndValidate is bindAndValidate for query-string filters.
func bindQueryAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid query: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

func validateStruct(c *gin.Context, req interface{}) bool {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
			return false
		}
		fields := make(map[string]string)
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// pathID parses a uuid path parameter, writing 400 when it is malformed.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(c *gin.Context, body *string) *string {
	if h := strings.TrimSpace(c.GetHeader("Idempotency-Key")); h != "" {
		return &h
	}
	return body
}

// parseInstant accepts RFC3339 or a plain date. A plain date used as the end
// of a range covers the whole day.
func parseInstant(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return d.Add(24*time.Hour - time.Nanosecond), nil
	}
	return d, nil
}

// respondError maps domain errors to HTTP statuses. Anything unknown is
// attached to the context for ErrorHandler, which logs it and answers 500.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyOpen),
		errors.Is(err, service.ErrConcurrentModification),
		errors.Is(err, service.ErrIdempotencyKeyReused):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrRegisterClosed),
		errors.Is(err, service.ErrNotOpen),
		errors.Is(err, service.ErrPaymentMismatch),
		errors.Is(err, service.ErrInvalidIndex),
		errors.Is(err, service.ErrExceedsAvailable),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidInput):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		return
	}

	var stock *service.InsufficientStockError
	var mismatch *service.PaymentMismatchError
	var line *service.RefundLineError
	switch {
	case errors.As(err, &stock):
		c.JSON(status, apierror.WithContext(err.Error(), map[string]any{
			"product_id": stock.ProductID.String(),
			"available":  stock.Available,
			"requested":  stock.Requested,
		}))
	case errors.As(err, &mismatch):
		c.JSON(status, apierror.WithContext(err.Error(), map[string]any{
			"expected": mismatch.Expected,
			"received": mismatch.Received,
		}))
	case errors.As(err, &line):
		c.JSON(status, apierror.WithContext(err.Error(), map[string]any{
			"item_index": line.Index,
			"available":  line.Available,
			"requested":  line.Requested,
		}))
	default:
		c.JSON(status, apierror.New(err.Error()))
	}
}
