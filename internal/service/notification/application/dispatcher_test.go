package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"orderflow/internal/pkg/events"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/notification/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeDirectory struct {
	users map[string]domain.User
	err   error
	calls int
}

func (f *fakeDirectory) Lookup(ctx context.Context, userID string) (domain.User, error) {
	f.calls++
	if f.err != nil {
		return domain.User{}, f.err
	}
	u, ok := f.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []domain.Email
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, email domain.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	return nil
}

type fakeLedger struct {
	keys    map[string]bool
	seenErr error
}

func (f *fakeLedger) Seen(ctx context.Context, key string) (bool, error) {
	if f.seenErr != nil {
		return false, f.seenErr
	}
	return f.keys[key], nil
}

func (f *fakeLedger) Record(ctx context.Context, key string) error {
	f.keys[key] = true
	return nil
}

func newTestDispatcher() (*Dispatcher, *fakeDirectory, *fakeMailer, *fakeLedger) {
	dir := &fakeDirectory{users: map[string]domain.User{"u1": {ID: "u1", Email: "ada@example.com"}, "u2": {ID: "u2"}}}
	mailer := &fakeMailer{}
	ledger := &fakeLedger{keys: map[string]bool{}}
	return NewDispatcher(dir, mailer, ledger, noop.NewTracerProvider().Tracer("test")), dir, mailer, ledger
}

func orderCreated() events.OrderCreated {
	return events.OrderCreated{
		CorrelationID: "corr-1",
		PurchaserID:   "u1",
		Items: []events.LineItem{
			{ID: "p1", Name: "Keyboard", Price: 10},
			{ID: "p2", Name: "Mouse", Price: 15},
		},
	}
}

func TestHandleOrderCreated_SendsConfirmation(t *testing.T) {
	d, _, mailer, ledger := newTestDispatcher()

	require.NoError(t, d.HandleOrderCreated(context.Background(), orderCreated()))

	require.Len(t, mailer.sent, 1)
	email := mailer.sent[0]
	assert.Equal(t, "ada@example.com", email.To)
	assert.Equal(t, "Order Confirmation - Thank You for Your Purchase!", email.Subject)
	assert.Contains(t, email.HTML, "Keyboard - $10.00")
	assert.Contains(t, email.HTML, "Mouse - $15.00")
	assert.Contains(t, email.HTML, "$25.00")
	assert.Contains(t, email.HTML, "corr-1")
	assert.True(t, ledger.keys["notification:confirmation:corr-1"])
}

func TestHandleOrderCreated_MissingPurchaserIsPermanent(t *testing.T) {
	d, dir, mailer, _ := newTestDispatcher()
	evt := orderCreated()
	evt.PurchaserID = ""

	err := d.HandleOrderCreated(context.Background(), evt)
	assert.True(t, mq.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrMissingPurchaser)
	assert.Zero(t, dir.calls)
	assert.Empty(t, mailer.sent)
}

func TestDispatch_RenderFailureIsRetried(t *testing.T) {
	d, _, mailer, ledger := newTestDispatcher()
	failing := func(to string) (domain.Email, error) { return domain.Email{}, errors.New("template exploded") }

	err := d.dispatch(context.Background(), kindConfirmation, "u1", "notification:confirmation:corr-9", failing)
	require.Error(t, err)
	assert.False(t, mq.IsPermanent(err))
	assert.Contains(t, err.Error(), "render confirmation email")
	assert.Empty(t, mailer.sent)
	assert.False(t, ledger.keys["notification:confirmation:corr-9"])
}

func TestHandleOrderCreated_SkipsAlreadySent(t *testing.T) {
	d, dir, mailer, ledger := newTestDispatcher()
	ledger.keys["notification:confirmation:corr-1"] = true

	require.NoError(t, d.HandleOrderCreated(context.Background(), orderCreated()))
	assert.Zero(t, dir.calls)
	assert.Empty(t, mailer.sent)
}

func TestHandleOrderCreated_LedgerOutageStillSends(t *testing.T) {
	d, _, mailer, ledger := newTestDispatcher()
	ledger.seenErr = errors.New("redis: connection refused")

	require.NoError(t, d.HandleOrderCreated(context.Background(), orderCreated()))
	assert.Len(t, mailer.sent, 1)
}

func TestHandleOrderCreated_TransientFailures(t *testing.T) {
	cases := map[string]struct {
		setup func(*fakeDirectory, *fakeMailer)
		want  error
	}{
		"user not found": {func(dir *fakeDirectory, m *fakeMailer) { dir.users = nil }, domain.ErrUserNotFound},
		"empty email":    {func(dir *fakeDirectory, m *fakeMailer) { dir.users["u1"] = domain.User{ID: "u1"} }, domain.ErrMissingEmail},
		"mail disabled":  {func(dir *fakeDirectory, m *fakeMailer) { m.err = domain.ErrMailDisabled }, domain.ErrMailDisabled},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d, dir, mailer, ledger := newTestDispatcher()
			tc.setup(dir, mailer)

			err := d.HandleOrderCreated(context.Background(), orderCreated())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.False(t, mq.IsPermanent(err))
			assert.Empty(t, ledger.keys)
		})
	}
}

func TestNotifyStatusChange(t *testing.T) {
	d, _, mailer, ledger := newTestDispatcher()
	order := domain.StatusOrder{OrderID: "order-7", PurchaserID: "u1"}

	require.NoError(t, d.NotifyStatusChange(context.Background(), order, "shipped"))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Order Status Update - Order #order-7", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].HTML, "Your order has been shipped!")
	assert.Contains(t, mailer.sent[0].HTML, "SHIPPED")
	assert.True(t, ledger.keys["notification:status:order-7:shipped"])

	// 同一状态重复投递不会重复发送，新状态照常发送
	require.NoError(t, d.NotifyStatusChange(context.Background(), order, "shipped"))
	require.NoError(t, d.NotifyStatusChange(context.Background(), order, "delivered"))
	assert.Len(t, mailer.sent, 2)
}

func TestNotifyStatusChange_MissingPurchaser(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	err := d.NotifyStatusChange(context.Background(), domain.StatusOrder{OrderID: "order-7"}, "shipped")
	assert.True(t, mq.IsPermanent(err))
}
