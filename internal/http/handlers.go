package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"storefront/internal/auth"
	"storefront/internal/domain"
	"storefront/internal/logkey"
	"storefront/internal/metrics"
	"storefront/internal/repository"
	"storefront/internal/service"
)

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Products          *service.ProductService
	Carts             *service.CartService
	Checkout          *service.CheckoutService
	Keys              *auth.Keys
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	LowStockThreshold int64
}

type Server struct {
	engine   *gin.Engine
	products *service.ProductService
	carts    *service.CartService
	checkout *service.CheckoutService
	keys     *auth.Keys
	metrics  *metrics.Metrics
	log      *slog.Logger
	lowStock int64
}

func NewServer(d Deps) *Server {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("notblank", validators.NotBlank)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	r := gin.New()
	s := &Server{
		engine:   r,
		products: d.Products,
		carts:    d.Carts,
		checkout: d.Checkout,
		keys:     d.Keys,
		metrics:  d.Metrics,
		log:      d.Logger,
		lowStock: d.LowStockThreshold,
	}
	r.Use(s.requestLogger(), gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authn := s.authenticate()
	admin := s.requireRole(auth.RoleAdmin)

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/ping", s.ping)
		v1.GET("/metrics", gin.WrapH(s.metrics.Handler()))

		products := v1.Group("/products")
		products.GET("", s.listProducts)
		products.GET(":id", s.getProduct)
		products.POST("", authn, admin, s.createProduct)
		products.PUT(":id", authn, admin, s.updateProduct)
		products.DELETE(":id", authn, admin, s.deleteProduct)
		products.POST(":id/restock", authn, admin, s.restockProduct)

		cart := v1.Group("/cart", authn)
		cart.GET("", s.getCart)
		cart.DELETE("", s.clearCart)
		cart.POST("/items", s.addCartItem)
		cart.PUT("/items/:productId", s.updateCartItem)
		cart.DELETE("/items/:productId", s.removeCartItem)

		orders := v1.Group("/orders", authn)
		orders.POST("", s.placeOrder)
		orders.GET("/my", s.myOrders)
		orders.GET("/my/count", s.myOrderCount)
		orders.GET(":id", s.getOrder)
		orders.PUT(":id/cancel", s.cancelOrder)
		orders.GET("", admin, s.listOrders)
		orders.PUT(":id/status", admin, s.updateOrderStatus)

		pay := v1.Group("/payment")
		pay.POST("/create-order", authn, s.createPaymentOrder)
		pay.POST("/verify", authn, s.verifyPayment)
		pay.POST("/webhook", s.paymentWebhook)

		adm := v1.Group("/admin", authn, admin)
		adm.GET("/stats", s.stats)
		adm.GET("/stock/low", s.lowStockProducts)
		adm.GET("/revenue/monthly", s.monthlyRevenue)
		adm.GET("/products/top", s.topSellers)
	}
}

// @Summary Liveness probe
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /ping [get]
func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Product handlers
type createProductReq struct {
	Name  string          `json:"name" binding:"required,notblank"`
	SKU   string          `json:"sku" binding:"required,notblank"`
	Price decimal.Decimal `json:"price" swaggertype:"string"`
	Stock int64           `json:"stock" binding:"gte=0"`
}

// @Summary Create product
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body createProductReq true "Product"
// @Success 201 {object} domain.Product
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /products [post]
func (s *Server) createProduct(c *gin.Context) {
	var req createProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	p, err := s.products.Create(c.Request.Context(), domain.Product{Name: req.Name, SKU: req.SKU, Price: req.Price, Stock: req.Stock})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Get product by id
// @Tags products
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} domain.Product
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /products/{id} [get]
func (s *Server) getProduct(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	p, err := s.products.GetByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type updateProductReq struct {
	Name  string          `json:"name" binding:"required,notblank"`
	SKU   string          `json:"sku"`
	Price decimal.Decimal `json:"price" swaggertype:"string"`
}

// @Summary Update product name, sku and price
// @Description Stock is changed only through restock and orders.
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Product ID"
// @Param input body updateProductReq true "Update"
// @Success 200 {object} domain.Product
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /products/{id} [put]
func (s *Server) updateProduct(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	var req updateProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	p, err := s.products.Update(c.Request.Context(), domain.Product{ID: id, Name: req.Name, SKU: req.SKU, Price: req.Price})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Delete product
// @Tags products
// @Security BearerAuth
// @Param id path int true "Product ID"
// @Success 204
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /products/{id} [delete]
func (s *Server) deleteProduct(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	if err := s.products.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type restockReq struct {
	Quantity int64 `json:"quantity" binding:"required,gt=0"`
}

// @Summary Restock product
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Product ID"
// @Param input body restockReq true "Units to add"
// @Success 200 {object} domain.Product
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /products/{id}/restock [post]
func (s *Server) restockProduct(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	var req restockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	p, err := s.products.Restock(c.Request.Context(), id, req.Quantity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary List products
// @Tags products
// @Produce json
// @Param q query string false "Name contains"
// @Param min_price query number false "Min price"
// @Param max_price query number false "Max price"
// @Success 200 {array} domain.Product
// @Failure 400 {object} errorResponse
// @Router /products [get]
func (s *Server) listProducts(c *gin.Context) {
	var f repository.ProductFilter
	if q := c.Query("q"); q != "" {
		f.NameSubstring = q
	}
	for key, dst := range map[string]**float64{"min_price": &f.MinPrice, "max_price": &f.MaxPrice} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.badRequest(c, errors.New(key+" must be a number"))
			return
		}
		*dst = &x
	}
	list, err := s.products.List(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid " + name, Code: service.CodeInvalidInput})
		return 0, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: service.CodeInvalidInput})
}

// fail writes the taxonomy-coded error. Internal errors are logged and not echoed.
func (s *Server) fail(c *gin.Context, err error) {
	s.failWith(c, mapErrorToStatus(err), err)
}

func (s *Server) failWith(c *gin.Context, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(c.Request.Context(), "request failed",
			slog.String(logkey.TraceID, logkey.TraceIDFrom(c.Request.Context())),
			slog.String(logkey.Code, service.Code(err)),
			slog.String(logkey.ERROR, err.Error()))
		if service.Code(err) == service.CodeInternal {
			msg = "internal error"
		}
	}
	c.JSON(status, errorResponse{Error: msg, Code: service.Code(err)})
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyOrder),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidAddress),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrGatewayError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
