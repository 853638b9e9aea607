// internal/service/notification/application/templates.go
package application

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"orderflow/internal/pkg/events"
	"orderflow/internal/service/notification/domain"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	confirmationSubject = "Order Confirmation - Thank You for Your Purchase!"
	genericStatusText   = "Your order status has been updated."
)

var statusMessages = map[string]string{
	"processing": "Your order is being processed and will be shipped soon.",
	"shipped":    "Your order has been shipped! Track your package using the tracking number provided.",
	"delivered":  "Your order has been delivered. Thank you for your purchase!",
	"cancelled":  "Your order has been cancelled. Please contact support if you have any questions.",
}

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"money": func(price float64) string { return decimal.NewFromFloat(price).StringFixed(2) },
}).ParseFS(templateFS, "templates/*.html"))

type confirmationView struct {
	Reference string
	Date      string
	Status    string
	Items     []events.LineItem
	Total     string
}

type statusView struct {
	OrderID string
	Status  string
	Message string
}

// StatusMessage 返回状态对应的说明，未知状态使用通用文案
func StatusMessage(status string) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return genericStatusText
}

// RenderConfirmation 渲染下单确认邮件
func RenderConfirmation(to string, evt events.OrderCreated, now time.Time) (domain.Email, error) {
	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "confirmation.html", confirmationView{
		Reference: evt.CorrelationID,
		Date:      now.Format("2006-01-02"),
		Status:    "pending",
		Items:     evt.Items,
		Total:     events.SumPrices(evt.Items).StringFixed(2),
	})
	if err != nil {
		return domain.Email{}, err
	}
	return domain.Email{To: to, Subject: confirmationSubject, HTML: buf.String()}, nil
}

// RenderStatusUpdate 渲染状态变更邮件
func RenderStatusUpdate(to string, order domain.StatusOrder, newStatus string) (domain.Email, error) {
	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "status.html", statusView{
		OrderID: order.OrderID,
		Status:  strings.ToUpper(newStatus),
		Message: StatusMessage(newStatus),
	})
	if err != nil {
		return domain.Email{}, err
	}
	return domain.Email{
		To:      to,
		Subject: "Order Status Update - Order #" + order.OrderID,
		HTML:    buf.String(),
	}, nil
}
