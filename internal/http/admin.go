package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"storefront/internal/service"
)

// @Summary Order statistics
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.OrderStats
// @Failure 403 {object} errorResponse
// @Router /admin/stats [get]
func (s *Server) stats(c *gin.Context) {
	st, err := s.checkout.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary Products low on stock
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param threshold query int false "Stock at or below which a product is listed"
// @Success 200 {array} domain.Product
// @Failure 400 {object} errorResponse
// @Router /admin/stock/low [get]
func (s *Server) lowStockProducts(c *gin.Context) {
	threshold := s.lowStock
	if v := c.Query("threshold"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "threshold must be a non-negative integer", Code: service.CodeInvalidInput})
			return
		}
		threshold = n
	}
	list, err := s.products.LowStock(c.Request.Context(), threshold)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Revenue by month
// @Description Settled orders grouped by the month they were placed, oldest first.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.MonthlyRevenue
// @Failure 403 {object} errorResponse
// @Router /admin/revenue/monthly [get]
func (s *Server) monthlyRevenue(c *gin.Context) {
	list, err := s.checkout.MonthlyRevenue(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Best selling products
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "How many products, 5 by default"
// @Success 200 {array} domain.TopSeller
// @Failure 400 {object} errorResponse
// @Router /admin/products/top [get]
func (s *Server) topSellers(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer", Code: service.CodeInvalidInput})
			return
		}
		limit = n
	}
	list, err := s.checkout.TopSellers(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
