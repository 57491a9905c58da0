package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/logkey"
	"storefront/internal/payment"
	"storefront/internal/service"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	maxWebhookBody  = 1 << 20
)

type createPaymentReq struct {
	OrderID string `json:"order_id" binding:"required,notblank"`
}

// @Summary Create gateway order
// @Description Opens a payment intent for a pending order. Safe to retry.
// @Tags payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body createPaymentReq true "Order"
// @Success 200 {object} payment.Intent
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Failure 502 {object} errorResponse
// @Router /payment/create-order [post]
func (s *Server) createPaymentOrder(c *gin.Context) {
	var req createPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	intent, err := s.checkout.CreatePaymentIntent(c.Request.Context(), actorFrom(c), req.OrderID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

type verifyPaymentReq struct {
	OrderID           string `json:"order_id" binding:"required,notblank"`
	RazorpayOrderID   string `json:"razorpay_order_id" binding:"required"`
	RazorpayPaymentID string `json:"razorpay_payment_id" binding:"required"`
	RazorpaySignature string `json:"razorpay_signature" binding:"required"`
}

type verifyPaymentResp struct {
	Message string        `json:"message"`
	Order   *domain.Order `json:"order"`
}

// @Summary Verify payment
// @Description Checks the checkout signature and settles the order. Repeats return the paid order.
// @Tags payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body verifyPaymentReq true "Checkout result"
// @Success 200 {object} verifyPaymentResp
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /payment/verify [post]
func (s *Server) verifyPayment(c *gin.Context) {
	var req verifyPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	// только владелец или админ
	if _, err := s.checkout.GetOrder(ctx, actorFrom(c), req.OrderID); err != nil {
		s.fail(c, err)
		return
	}
	o, err := s.checkout.ConfirmPayment(ctx, service.ConfirmPaymentInput{
		OrderID:          req.OrderID,
		GatewayOrderID:   req.RazorpayOrderID,
		GatewayPaymentID: req.RazorpayPaymentID,
		Signature:        req.RazorpaySignature,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, verifyPaymentResp{Message: "payment verified", Order: o})
	case errors.Is(err, service.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "payment verification failed", Code: service.CodeInvalidSignature})
	case errors.Is(err, service.ErrInsufficientStock):
		// the customer has paid but the goods are gone; reconciliation is logged by the service
		s.failWith(c, http.StatusInternalServerError, err)
	default:
		s.fail(c, err)
	}
}

// @Summary Payment webhook
// @Description Signed with the webhook secret over the raw body.
// @Tags payment
// @Accept json
// @Produce plain
// @Param X-Razorpay-Signature header string true "HMAC-SHA256 of the body"
// @Success 200 {string} string "OK"
// @Failure 400 {string} string
// @Router /payment/webhook [post]
func (s *Server) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}
	err = s.checkout.HandleWebhook(c.Request.Context(), body, c.GetHeader(signatureHeader))
	switch {
	case err == nil:
		c.String(http.StatusOK, "OK")
	case errors.Is(err, payment.ErrInvalidSignature):
		c.String(http.StatusBadRequest, "invalid signature")
	default:
		// 5xx makes the gateway redeliver
		s.log.ErrorContext(c.Request.Context(), "webhook not applied",
			slog.String(logkey.TraceID, logkey.TraceIDFrom(c.Request.Context())),
			slog.String(logkey.ERROR, err.Error()))
		c.String(http.StatusInternalServerError, "retry")
	}
}
