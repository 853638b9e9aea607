// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"errors"
	"net/http"

	"orderflow/internal/pkg/identity"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/domain"

	"github.com/gin-gonic/gin"
)

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	service *application.OrderApplicationService
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 注册订单读取与状态变更路由
func (h *OrderHandler) RegisterRoutes(r gin.IRouter) {
	orders := r.Group("/orders", identity.Require())
	orders.GET("", h.listOrders)
	orders.GET("/:id/status", h.getStatus)
	orders.PATCH("/:id/status", h.updateStatus)
}

func (h *OrderHandler) listOrders(c *gin.Context) {
	orders, err := h.service.ListOrders(c.Request.Context(), identity.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) getStatus(c *gin.Context) {
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *OrderHandler) updateStatus(c *gin.Context) {
	var req application.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	order, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), identity.UserID(c), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// fail 根据错误类型返回不同的 HTTP 状态码
func (h *OrderHandler) fail(c *gin.Context, err error) {
	var statusCode int
	switch {
	case errors.Is(err, domain.ErrNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		statusCode = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidStatus):
		statusCode = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConcurrentUpdate):
		statusCode = http.StatusConflict
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Order request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(statusCode, gin.H{"error": err.Error()})
}
