// internal/service/catalog/interfaces/http_handler.go
package interfaces

import (
	"errors"
	"net/http"

	"orderflow/internal/pkg/identity"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/catalog/application"
	"orderflow/internal/service/catalog/domain"

	"github.com/gin-gonic/gin"
)

// OrderHandler 封装了下单编排器的 HTTP 处理器
type OrderHandler struct {
	service *application.PlacementService
}

func NewOrderHandler(service *application.PlacementService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 注册 /orders 路由，所有路由都要求已验证的用户身份
func (h *OrderHandler) RegisterRoutes(r gin.IRouter) {
	orders := r.Group("/orders", identity.Require())
	orders.POST("", h.placeOrder)
	orders.GET("/:correlationId", h.getOrder)
}

type placeOrderRequest struct {
	ItemIDs []string `json:"itemIds"`
}

func (h *OrderHandler) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.service.PlaceOrder(c.Request.Context(), req.ItemIDs, identity.UserID(c))
	if err != nil {
		if errors.Is(err, domain.ErrMissingPurchaser) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Failed to place order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) getOrder(c *gin.Context) {
	order, owner, err := h.service.GetOrder(c.Request.Context(), c.Param("correlationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if owner != identity.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "order belongs to another user"})
		return
	}
	c.JSON(http.StatusOK, order)
}
