package mq

import "github.com/pkg/errors"

var (
	ErrClosed       = errors.New("mq: manager closed")
	ErrNotConnected = errors.New("mq: connect has not been called")
	ErrNotConfirmed = errors.New("mq: publish was nacked by the broker")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记一个不值得重试的错误（校验失败、无法解析的消息体等），
// 消费者遇到它会直接把消息送入死信。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
