// internal/service/notification/infrastructure/user_directory.go
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"orderflow/internal/pkg/httpclient"
	"orderflow/internal/service/notification/domain"
)

// BaseURLResolver 由 nacos.Client 实现
type BaseURLResolver interface {
	ResolveBaseURL(serviceName string) (string, error)
}

// HTTPUserDirectory 通过 GET <base>/users/{id} 查询用户邮箱
type HTTPUserDirectory struct {
	client      *httpclient.Client
	baseURL     string
	resolver    BaseURLResolver
	serviceName string
}

func NewHTTPUserDirectory(client *httpclient.Client, baseURL string) *HTTPUserDirectory {
	return &HTTPUserDirectory{client: client, baseURL: baseURL}
}

// WithDiscovery 改为每次查询前通过注册中心解析地址
func (d *HTTPUserDirectory) WithDiscovery(resolver BaseURLResolver, serviceName string) *HTTPUserDirectory {
	d.resolver, d.serviceName = resolver, serviceName
	return d
}

func (d *HTTPUserDirectory) Lookup(ctx context.Context, userID string) (domain.User, error) {
	base, err := d.base()
	if err != nil {
		return domain.User{}, err
	}
	endpoint := strings.TrimRight(base, "/") + "/users/" + url.PathEscape(userID)

	var user domain.User
	if err := d.client.GetJSON(ctx, endpoint, &user); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return domain.User{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
		return domain.User{}, err
	}
	return user, nil
}

func (d *HTTPUserDirectory) base() (string, error) {
	if d.resolver == nil || d.serviceName == "" {
		return d.baseURL, nil
	}
	base, err := d.resolver.ResolveBaseURL(d.serviceName)
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", d.serviceName, err)
	}
	return base, nil
}
