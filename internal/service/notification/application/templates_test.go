package application

import (
	"testing"
	"time"

	"orderflow/internal/pkg/events"
	"orderflow/internal/service/notification/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Your order is being processed and will be shipped soon.", StatusMessage("processing"))
	assert.Equal(t, "Your order has been cancelled. Please contact support if you have any questions.", StatusMessage("cancelled"))
	assert.Equal(t, "Your order status has been updated.", StatusMessage("on-hold"))
}

func TestRenderConfirmation_EscapesItemNames(t *testing.T) {
	email, err := RenderConfirmation("ada@example.com", events.OrderCreated{
		CorrelationID: "corr-1",
		Items:         []events.LineItem{{ID: "p1", Name: "<script>alert(1)</script>", Price: 0.1}, {ID: "p2", Name: "Cable", Price: 0.2}},
	}, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.NotContains(t, email.HTML, "<script>")
	assert.Contains(t, email.HTML, "&lt;script&gt;")
	assert.Contains(t, email.HTML, "$0.30")
	assert.Contains(t, email.HTML, "2026-10-17")
}

func TestRenderConfirmation_EmptyOrder(t *testing.T) {
	email, err := RenderConfirmation("ada@example.com", events.OrderCreated{CorrelationID: "corr-2"}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, email.HTML, "$0.00")
}

func TestRenderStatusUpdate_UnknownStatus(t *testing.T) {
	email, err := RenderStatusUpdate("ada@example.com", domain.StatusOrder{OrderID: "o1"}, "returned")
	require.NoError(t, err)
	assert.Contains(t, email.HTML, "Your order status has been updated.")
	assert.Contains(t, email.HTML, "RETURNED")
}
