package v1

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/storefront-sync/internal/core/domain"
	logicv1 "github.com/duynhne/storefront-sync/internal/logic/v1"
	"github.com/duynhne/storefront-sync/middleware"
)

const maxProxyBody = 1 << 20

// NoticeSource is drained by GET /notifications.
type NoticeSource interface {
	Drain() []domain.Notice
}

// Handler groups HTTP handlers for the local API v1.
// Dependencies are injected via the constructor; there is no global state.
type Handler struct {
	auth     *logicv1.AuthService
	cart     *logicv1.CartCache
	pipeline domain.Doer
	products domain.ProductAPI
	notices  NoticeSource
}

// NewHandler creates a new Handler.
func NewHandler(auth *logicv1.AuthService, cart *logicv1.CartCache, pipeline domain.Doer, products domain.ProductAPI, notices NoticeSource) *Handler {
	return &Handler{
		auth:     auth,
		cart:     cart,
		pipeline: pipeline,
		products: products,
		notices:  notices,
	}
}

// RegisterRoutes registers all local API v1 routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/register", h.Register)
	rg.POST("/auth/:role/login", h.Login)
	rg.POST("/auth/:role/logout", h.Logout)
	rg.GET("/session", h.GetSession)

	rg.GET("/cart", h.GetCart)
	rg.POST("/cart/items", h.AddItem)
	rg.PUT("/cart/items/:line_id", h.UpdateItem)
	rg.DELETE("/cart/items/:line_id", h.RemoveItem)
	rg.DELETE("/cart", h.ClearCart)
	rg.POST("/cart/reconcile", h.ReconcileCart)

	rg.GET("/notifications", h.GetNotifications)
	rg.Any("/proxy/*path", h.Proxy)
}

// LoginRequest is the body of POST /auth/:role/login.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AddItemRequest is the body of POST /cart/items. Either Product or
// ProductID must be set; with only ProductID the product is fetched.
type AddItemRequest struct {
	ProductID string          `json:"product_id"`
	Product   *domain.Product `json:"product"`
	Quantity  int             `json:"quantity"`
	Variant   *domain.Variant `json:"variant"`
}

// UpdateItemRequest is the body of PUT /cart/items/:line_id.
type UpdateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// SessionView is one live role in GET /session. Token values are never
// returned.
type SessionView struct {
	Role    string         `json:"role"`
	Profile domain.Profile `json:"profile"`
}

func startSpan(c *gin.Context) (context.Context, trace.Span) {
	return middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
}

// Login handles HTTP request for a role login.
func (h *Handler) Login(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	logger := pkgzerolog.FromContext(ctx)

	role, err := domain.ParseRole(c.Param("role"))
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown role"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		logger.Error().Err(err).Msg("Invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.Bool("request.valid", true))

	tok, err := h.auth.Login(ctx, role, domain.Credentials{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Str("role", role.String()).Msg("Login failed")

		switch {
		case errors.Is(err, logicv1.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		default:
			writeError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, SessionView{Role: role.String(), Profile: tok.Profile})
}

// Register handles HTTP request for customer registration.
func (h *Handler) Register(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	logger := pkgzerolog.FromContext(ctx)

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		logger.Error().Err(err).Msg("Invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tok, err := h.auth.Register(ctx, domain.Registration{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		span.RecordError(err)
		logger.Error().
			Err(err).
			Str("username", req.Username).
			Msg("Registration failed")

		switch {
		case errors.Is(err, logicv1.ErrUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Username or email already exists"})
		case errors.Is(err, logicv1.ErrInvalidCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Registration rejected"})
		default:
			writeError(c, err)
		}
		return
	}

	logger.Info().Str("user_id", tok.Profile.ID).Msg("Registration successful")
	c.JSON(http.StatusCreated, SessionView{Role: tok.Role.String(), Profile: tok.Profile})
}

// Logout handles HTTP request to end one role's session.
func (h *Handler) Logout(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	role, err := domain.ParseRole(c.Param("role"))
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown role"})
		return
	}

	h.auth.Logout(ctx, role)
	c.Status(http.StatusNoContent)
}

// GetSession lists the live roles, highest priority first.
func (h *Handler) GetSession(c *gin.Context) {
	_, span := startSpan(c)
	defer span.End()

	sessions := h.auth.Sessions()
	views := make([]SessionView, 0, len(sessions))
	for _, role := range domain.Roles {
		if tok, ok := sessions[role]; ok {
			views = append(views, SessionView{Role: role.String(), Profile: tok.Profile})
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// GetCart returns the local cart.
func (h *Handler) GetCart(c *gin.Context) {
	_, span := startSpan(c)
	defer span.End()

	c.JSON(http.StatusOK, h.cart.State())
}

// AddItem handles HTTP request to add a product to the cart.
func (h *Handler) AddItem(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	logger := pkgzerolog.FromContext(ctx)

	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("Invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var product domain.Product
	switch {
	case req.Product != nil && strings.TrimSpace(req.Product.ID) != "":
		product = *req.Product
	case strings.TrimSpace(req.ProductID) != "":
		p, err := h.products.GetProduct(ctx, strings.TrimSpace(req.ProductID))
		if err != nil {
			span.RecordError(err)
			logger.Error().Err(err).Str("product_id", req.ProductID).Msg("Product lookup failed")
			writeError(c, err)
			return
		}
		product = *p
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "product or product_id required"})
		return
	}

	state, err := h.cart.Add(ctx, product, req.Quantity, req.Variant)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Str("product_id", product.ID).Msg("Add to cart rejected")
		writeError(c, err)
		return
	}

	span.SetAttributes(attribute.Int("cart.items", len(state.Items)))
	c.JSON(http.StatusOK, state)
}

// UpdateItem handles HTTP request to set a line's quantity.
func (h *Handler) UpdateItem(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.cart.SetQuantity(ctx, c.Param("line_id"), *req.Quantity)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// RemoveItem handles HTTP request to remove a line.
func (h *Handler) RemoveItem(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	state, err := h.cart.Remove(ctx, c.Param("line_id"))
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	c.JSON(http.StatusOK, h.cart.Clear(ctx))
}

// ReconcileCart re-prices the cart against the catalog now.
func (h *Handler) ReconcileCart(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	n := h.cart.ReconcilePrices(ctx)
	span.SetAttributes(attribute.Int("cart.repriced", n))
	c.JSON(http.StatusOK, gin.H{"repriced": n, "cart": h.cart.State()})
}

// GetNotifications drains pending user notifications.
func (h *Handler) GetNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": h.notices.Drain()})
}

// Proxy forwards an arbitrary call to the commerce API through the pipeline,
// so it gets the same credential attachment and session policy as the
// typed clients.
func (h *Handler) Proxy(c *gin.Context) {
	ctx, span := startSpan(c)
	defer span.End()

	logger := pkgzerolog.FromContext(ctx)

	var body []byte
	if c.Request.Body != nil {
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody))
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if len(data) > 0 {
			body = data
		}
	}

	req := domain.NewRequest(c.Request.Method, c.Param("path"), body)
	req.Query = c.Request.URL.Query()
	if ct := c.GetHeader("Content-Type"); ct != "" {
		req.Header = http.Header{"Content-Type": []string{ct}}
	}

	resp, err := h.pipeline.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Str("method", req.Method).Str("path", req.Path).Msg("Proxied call failed")
		writeError(c, err)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.Status, contentType, resp.Body)
}

// writeError maps logic errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var se *logicv1.StatusError

	switch {
	case errors.Is(err, logicv1.ErrInvalidQuantity),
		errors.Is(err, logicv1.ErrInvalidProduct),
		errors.Is(err, logicv1.ErrRoleNotSupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, logicv1.ErrLineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart line not found"})
	case errors.Is(err, logicv1.ErrRefreshFailed),
		errors.Is(err, logicv1.ErrNotLoggedIn),
		errors.Is(err, logicv1.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
	case errors.Is(err, logicv1.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	case errors.As(err, &se) && se.Status < http.StatusInternalServerError:
		msg := se.Message
		if msg == "" {
			msg = http.StatusText(se.Status)
		}
		c.JSON(se.Status, gin.H{"error": msg})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream error"})
	}
}
