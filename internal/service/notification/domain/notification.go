// internal/service/notification/domain/notification.go
package domain

import (
	"context"
	"errors"

	"orderflow/internal/pkg/events"
)

var (
	ErrMissingPurchaser = errors.New("purchaser id is required")
	ErrUserNotFound     = errors.New("user not found")
	ErrMissingEmail     = errors.New("user has no email address")
	ErrMailDisabled     = errors.New("mail transport is not configured")
)

// User 是用户目录返回的联系信息
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Email 是一封渲染好的 HTML 邮件
type Email struct {
	To      string
	Subject string
	HTML    string
}

// StatusOrder 是状态变更通知所需的订单信息
type StatusOrder struct {
	OrderID       string
	CorrelationID string
	PurchaserID   string
	Items         []events.LineItem
	Total         float64
}

// UserDirectory 按用户 id 查询邮箱，找不到时返回 ErrUserNotFound
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (User, error)
}

// Mailer 发送邮件
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SentLedger 记录已经发送过的通知，防止重复投递导致重复发信
type SentLedger interface {
	Seen(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
}

// ConfirmationKey 是下单确认邮件的幂等键
func ConfirmationKey(correlationID string) string {
	return "notification:confirmation:" + correlationID
}

// StatusKey 是状态变更邮件的幂等键
func StatusKey(orderID, status string) string {
	return "notification:status:" + orderID + ":" + status
}
