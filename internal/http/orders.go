package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/service"
)

type placeOrderReq struct {
	Items           []domain.CartItem      `json:"items"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	// FromCart places the order for the caller's cart; Items must then be empty.
	FromCart bool `json:"from_cart"`
}

type orderResp struct {
	Order *domain.Order `json:"order"`
}

// @Summary Place order
// @Description Totals are computed from current catalog prices. Stock is not reserved until payment.
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body placeOrderReq true "Order"
// @Success 201 {object} orderResp
// @Failure 400 {object} errorResponse
// @Router /orders [post]
func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	userID := actorFrom(c).UserID
	var (
		o   *domain.Order
		err error
	)
	switch {
	case req.FromCart && len(req.Items) > 0:
		s.badRequest(c, errors.New("items and from_cart are mutually exclusive"))
		return
	case req.FromCart:
		o, err = s.checkout.PlaceOrderFromCart(c.Request.Context(), userID, req.ShippingAddress)
	default:
		o, err = s.checkout.PlaceOrder(c.Request.Context(), userID, req.Items, req.ShippingAddress)
	}
	if errors.Is(err, service.ErrProductNotFound) {
		// unknown line item is a bad request here, not a missing resource
		s.failWith(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderResp{Order: o})
}

// @Summary My orders
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.Order
// @Router /orders/my [get]
func (s *Server) myOrders(c *gin.Context) {
	list, err := s.checkout.ListMyOrders(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Count my orders
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int
// @Router /orders/my/count [get]
func (s *Server) myOrderCount(c *gin.Context) {
	n, err := s.checkout.CountMyOrders(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// @Summary Get order
// @Description Owners and admins only.
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	o, err := s.checkout.GetOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Cancel order
// @Description Pending or paid orders only. Stock of a paid order is restored.
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Success 200 {object} orderResp
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /orders/{id}/cancel [put]
func (s *Server) cancelOrder(c *gin.Context) {
	o, err := s.checkout.CancelOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orderResp{Order: o})
}

// @Summary List all orders
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Success 200 {array} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /orders [get]
func (s *Server) listOrders(c *gin.Context) {
	list, err := s.checkout.ListOrders(c.Request.Context(), strings.TrimSpace(c.Query("status")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

// @Summary Update order status
// @Description shipped and delivered move forward; cancelled restores stock of paid orders. paid cannot be set by hand.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Param input body statusReq true "Status"
// @Success 200 {object} orderResp
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /orders/{id}/status [put]
func (s *Server) updateOrderStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	o, err := s.checkout.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orderResp{Order: o})
}
