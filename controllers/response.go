package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seed-order-service/logging"
	"seed-order-service/middlewares"
	"seed-order-service/services"
)

type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Error     any    `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func respondFailure(c *gin.Context, status int, message string, detail any) {
	c.AbortWithStatusJSON(status, envelope{
		Success:   false,
		Message:   message,
		Error:     detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		// store failures and rejected stock debits
		return http.StatusInternalServerError
	}
}

// respondError translates a service error into the envelope. Validation
// details are always returned; driver error text only outside production.
func (oc *OrderController) respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var oe *services.OrderError
	if !errors.As(err, &oe) {
		respondFailure(c, http.StatusInternalServerError, "Internal server error", oc.internalDetail(err))
		return
	}

	switch oe.Kind {
	case services.KindValidation:
		respondFailure(c, http.StatusBadRequest, oe.Message, oe.Details)
		return
	case services.KindInsufficientStock:
		oc.recordStockRejection(c, oe)
		respondFailure(c, statusFor(oe.Kind), oe.Message, gin.H{
			"product_id": oe.ProductID,
			"requested":  oe.Requested,
			"available":  oe.Available,
		})
		return
	case services.KindProductNotFound:
		oc.recordStockRejection(c, oe)
	}

	var detail any
	if oe.Err != nil {
		detail = oc.internalDetail(oe.Err)
	}
	respondFailure(c, statusFor(oe.Kind), oe.Message, detail)
}

func (oc *OrderController) recordStockRejection(c *gin.Context, oe *services.OrderError) {
	middlewares.RecordStockRejection(oe.Kind.String())
	logging.From(c).Warn("stock rejected", "reason", oe.Kind.String(), "product_id", oe.ProductID)
}

func (oc *OrderController) internalDetail(err error) any {
	if !oc.exposeErrors {
		return nil
	}
	return err.Error()
}
