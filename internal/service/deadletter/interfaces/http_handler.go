// internal/service/deadletter/interfaces/http_handler.go
package interfaces

import (
	"net/http"
	"strconv"

	"orderflow/internal/service/deadletter/application"

	"github.com/gin-gonic/gin"
)

type DeadLetterHandler struct {
	monitor *application.Monitor
}

func NewDeadLetterHandler(monitor *application.Monitor) *DeadLetterHandler {
	return &DeadLetterHandler{monitor: monitor}
}

func (h *DeadLetterHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/dead-letters", h.List)
}

// List 返回最近收到的死信，可用 ?queue= 过滤，?limit= 截断
func (h *DeadLetterHandler) List(c *gin.Context) {
	records := h.monitor.Recent()

	if queue := c.Query("queue"); queue != "" {
		filtered := records[:0]
		for _, r := range records {
			if r.Queue == queue {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		if limit < len(records) {
			records = records[:limit]
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "deadLetters": records})
}
