// internal/pkg/httpclient/client.go
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusError 表示下游返回了非 2xx 状态码
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d", e.URL, e.Code)
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer trace.Tracer
	HTTP   *resty.Client
}

// NewClient 创建客户端，timeout 作用于每一次请求
func NewClient(tracer trace.Tracer, timeout time.Duration) *Client {
	return &Client{
		Tracer: tracer,
		HTTP: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// GetJSON 发起 GET 请求，2xx 时把响应体解析进 result。
// 非 2xx 返回 *StatusError，调用方可以用 errors.As 判断具体状态码。
func (c *Client) GetJSON(ctx context.Context, serviceURL string, result any) error {
	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return err
	}
	spanName := fmt.Sprintf("call-%s", parsedURL.Hostname())

	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", serviceURL),
		attribute.String("http.method", http.MethodGet),
	)

	headers := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))

	req := c.HTTP.R().
		SetContext(ctx).
		SetResult(result).
		ForceContentType("application/json")
	for key := range headers {
		req.SetHeader(key, headers.Get(key))
	}

	resp, err := req.Get(serviceURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))

	if resp.IsError() {
		err := &StatusError{URL: serviceURL, Code: resp.StatusCode()}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
