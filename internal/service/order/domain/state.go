// internal/service/order/domain/state.go
package domain

import "fmt"

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusCreated    Status = "created"    // 订单已持久化
	StatusProcessing Status = "processing" // 备货中
	StatusShipped    Status = "shipped"    // 已发货
	StatusDelivered  Status = "delivered"  // 已送达
	StatusCancelled  Status = "cancelled"  // 已取消
)

// transitions 列出每个状态允许的下一个状态
var transitions = map[Status][]Status{
	StatusCreated:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// ParseStatus 校验外部输入的状态字符串
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusCreated, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// CanTransitionTo 判断状态机是否允许 s -> next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
