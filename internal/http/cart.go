package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type cartItemReq struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int64 `json:"quantity"`
}

type cartQtyReq struct {
	Quantity int64 `json:"quantity"`
}

// @Summary Get my cart
// @Tags cart
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.CartView
// @Failure 401 {object} errorResponse
// @Router /cart [get]
func (s *Server) getCart(c *gin.Context) {
	v, err := s.carts.Get(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Add item to cart
// @Description Quantities of an existing line are merged.
// @Tags cart
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body cartItemReq true "Item"
// @Success 200 {object} domain.CartView
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /cart/items [post]
func (s *Server) addCartItem(c *gin.Context) {
	var req cartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	v, err := s.carts.Add(c.Request.Context(), actorFrom(c).UserID, req.ProductID, req.Quantity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Set quantity of a cart item
// @Tags cart
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param productId path int true "Product ID"
// @Param input body cartQtyReq true "Quantity"
// @Success 200 {object} domain.CartView
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /cart/items/{productId} [put]
func (s *Server) updateCartItem(c *gin.Context) {
	id, ok := s.pathID(c, "productId")
	if !ok {
		return
	}
	var req cartQtyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	v, err := s.carts.Update(c.Request.Context(), actorFrom(c).UserID, id, req.Quantity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Remove item from cart
// @Tags cart
// @Produce json
// @Security BearerAuth
// @Param productId path int true "Product ID"
// @Success 200 {object} domain.CartView
// @Router /cart/items/{productId} [delete]
func (s *Server) removeCartItem(c *gin.Context) {
	id, ok := s.pathID(c, "productId")
	if !ok {
		return
	}
	v, err := s.carts.Remove(c.Request.Context(), actorFrom(c).UserID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Clear my cart
// @Tags cart
// @Security BearerAuth
// @Success 204
// @Router /cart [delete]
func (s *Server) clearCart(c *gin.Context) {
	if err := s.carts.Clear(c.Request.Context(), actorFrom(c).UserID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
