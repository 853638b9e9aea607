// internal/service/notification/infrastructure/mailer.go
package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/notification/domain"

	"github.com/wneessen/go-mail"
)

const smtpTimeout = 15 * time.Second

// SMTPMailer 使用 go-mail 发送 HTML 邮件，每次发送建立一次连接
type SMTPMailer struct {
	mu     sync.Mutex // 两个消费者共享同一个 client
	client *mail.Client
	from   string
}

// NewMailer 在缺少凭据时返回 DisabledMailer，进程照常启动
func NewMailer(ctx context.Context, cfg config.MailConfig) (domain.Mailer, error) {
	if !cfg.Enabled() {
		logger.Ctx(ctx).Warn().
			Bool("user_set", cfg.User != "").
			Bool("password_set", cfg.Password != "").
			Msg("⚠️ Email credentials not configured, notifications will fail until EMAIL_USER and EMAIL_PASSWORD are set")
		return DisabledMailer{}, nil
	}
	m, err := NewSMTPMailer(cfg)
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("host", cfg.Host).Int("port", cfg.Port).Bool("secure", cfg.Secure).Msg("✅ SMTP mailer initialized")
	return m, nil
}

func NewSMTPMailer(cfg config.MailConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(smtpTimeout),
	}
	if cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, email domain.Email) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextHTML, email.HTML)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client.DialAndSendWithContext(ctx, msg)
}

// DisabledMailer 在未配置 SMTP 凭据时使用，所有发送都会失败并进入重试
type DisabledMailer struct{}

func (DisabledMailer) Send(ctx context.Context, email domain.Email) error {
	return domain.ErrMailDisabled
}
