package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/models"
)

type paymentFixture struct {
	db       *gorm.DB
	orders   *OrderService
	payments *PaymentService
	payme    *PaymeService
	notifier *recordingNotifier
	events   *recordingPublisher
	order    *models.Order
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db := newTestDB(t)
	seedCatalog(t, db)

	events := &recordingPublisher{}
	notifier := &recordingNotifier{}
	orders := NewOrderService(db, events, "UZS")
	summaries := NewSummaryService(NewCatalogService(db), "+998 90 000 00 00")
	gateway := NewPaymeGateway("merchant-1", "https://checkout.test", "https://shop.test/orders", "UZS")
	payments := NewPaymentService(orders, summaries, gateway, events, notifier)
	t.Cleanup(payments.Wait)

	res, err := orders.SubmitOrder(context.Background(), scenarioInput())
	require.NoError(t, err)

	return &paymentFixture{
		db:       db,
		orders:   orders,
		payments: payments,
		payme:    NewPaymeService(db, orders, payments),
		notifier: notifier,
		events:   events,
		order:    res.Order,
	}
}

func TestValidatePhone(t *testing.T) {
	for _, ok := range []string{"+998 90 123 45 67", "998901234567", "(90) 123-45-67"} {
		assert.NoError(t, ValidatePhone(ok), ok)
	}
	for _, bad := range []string{"", "12345", "+998 90 ABC 45 67", "99890123456712345", "90+1234567"} {
		assert.True(t, IsValidation(ValidatePhone(bad)), bad)
	}
}

func TestInitiateBuildsPaymeCheckout(t *testing.T) {
	f := newPaymentFixture(t)

	checkout, err := f.payments.Initiate(context.Background(), f.order.OrderNumber, "+998901234567")
	require.NoError(t, err)

	assert.Equal(t, ProviderPayme, checkout.Provider)
	assert.Equal(t, int64(472000), checkout.Amount)
	assert.Equal(t, f.order.OrderNumber, checkout.Reference)
	require.True(t, strings.HasPrefix(checkout.URL, "https://checkout.test/"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(checkout.URL, "https://checkout.test/"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("m=merchant-1;ac.order_number=%s;a=472000;c=https://shop.test/orders/%s",
		f.order.OrderNumber, f.order.OrderNumber), string(raw))
}

func TestInitiateFailsFast(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	unconfigured := NewPaymentService(f.orders, nil, NewPaymeGateway("", "", "", "UZS"), nil)
	_, err := unconfigured.Initiate(ctx, f.order.OrderNumber, "+998901234567")
	assert.ErrorIs(t, err, ErrGatewayNotConfigured)

	_, err = f.payments.Initiate(ctx, f.order.OrderNumber, "call me")
	assert.True(t, IsValidation(err))

	_, err = f.payments.Initiate(ctx, "CK-000000-ZZZZZ", "+998901234567")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	var txns int64
	require.NoError(t, f.db.Model(&models.PaymentTransaction{}).Count(&txns).Error)
	assert.Zero(t, txns)

	_, err = f.payments.ConfirmPaid(ctx, f.order.OrderNumber, "payme:x")
	require.NoError(t, err)
	_, err = f.payments.Initiate(ctx, f.order.OrderNumber, "+998901234567")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestClientCloseCallbackKeepsOrderRetryable(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	for _, event := range []string{CallbackClose, CallbackCancel} {
		res, err := f.payments.ClientCallback(ctx, f.order.OrderNumber, event)
		require.NoError(t, err)
		assert.True(t, res.Retry)
		assert.Equal(t, f.order.OrderNumber, res.OrderNumber)
		assert.True(t, res.DepositAmount.Equal(dec(4720)))
		assert.Equal(t, models.PaymentStatusPending, res.PaymentStatus)
		assert.Equal(t, models.OrderStatusProcessing, res.OrderStatus)
	}

	// The retry reuses the same order.
	checkout, err := f.payments.Initiate(ctx, f.order.OrderNumber, "+998901234567")
	require.NoError(t, err)
	assert.Equal(t, int64(472000), checkout.Amount)
	assert.EqualValues(t, 1, countOrders(t, f.db))
}

func TestClientSuccessCallbackDoesNotMarkPaid(t *testing.T) {
	f := newPaymentFixture(t)

	res, err := f.payments.ClientCallback(context.Background(), f.order.OrderNumber, CallbackSuccess)
	require.NoError(t, err)
	assert.False(t, res.Retry)
	assert.Equal(t, models.PaymentStatusPending, res.PaymentStatus)

	_, err = f.payments.ClientCallback(context.Background(), f.order.OrderNumber, "refund")
	assert.True(t, IsValidation(err))
	f.payments.Wait()
	assert.Empty(t, f.notifier.sent())
}

func TestPaymeFlowMarksOrderPaidOnce(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	account := PaymeAccount{OrderNumber: f.order.OrderNumber}

	err := f.payme.CheckPerformTransaction(ctx, CheckPerformParams{Amount: 4720, Account: account}, 1)
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, PaymeErrorInvalidAmount.Code, txErr.Info.Code)

	err = f.payme.CheckPerformTransaction(ctx, CheckPerformParams{Amount: 472000, Account: PaymeAccount{OrderNumber: "nope"}}, 1)
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, PaymeErrorOrderNotFound.Code, txErr.Info.Code)

	require.NoError(t, f.payme.CheckPerformTransaction(ctx, CheckPerformParams{Amount: 472000, Account: account}, 1))

	now := time.Now().UnixMilli()
	created, err := f.payme.CreateTransaction(ctx, CreateTransactionParams{
		Account: account, Time: now, Amount: 472000, ID: "tx-1",
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePending, created.State)

	again, err := f.payme.CreateTransaction(ctx, CreateTransactionParams{
		Account: account, Time: now, Amount: 472000, ID: "tx-1",
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, created.CreateTime, again.CreateTime)

	_, err = f.payme.CreateTransaction(ctx, CreateTransactionParams{
		Account: account, Time: now, Amount: 472000, ID: "tx-2",
	}, 4)
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, PaymeErrorPending.Code, txErr.Info.Code)

	performed, err := f.payme.PerformTransaction(ctx, PerformTransactionParams{ID: "tx-1"}, 5)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePaid, performed.State)

	order, err := f.orders.GetByNumber(ctx, f.order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "payme:tx-1", order.PaymentReference)

	repeat, err := f.payme.PerformTransaction(ctx, PerformTransactionParams{ID: "tx-1"}, 6)
	require.NoError(t, err)
	assert.Equal(t, performed.PerformTime, repeat.PerformTime)

	f.payments.Wait()
	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	text := sent[0].Text
	assert.Contains(t, text, "Vanilla Bean Classic x2")
	assert.Contains(t, text, "Size: Medium")
	assert.Contains(t, text, "Toppings: Fresh Berries")
	assert.Contains(t, text, "Deposit (80%): 4,720 UZS")
	assert.True(t, strings.HasPrefix(sent[0].WhatsAppURL, "https://wa.me/998900000000?text="))
	assert.Equal(t, []string{EventOrderPlaced, EventOrderPaid}, f.events.types())

	_, err = f.payme.CancelTransaction(ctx, CancelTransactionParams{ID: "tx-1", Reason: 5}, 7)
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, PaymeErrorCantCancel.Code, txErr.Info.Code)

	checked, err := f.payme.CheckTransaction(ctx, CheckTransactionParams{ID: "tx-1"}, 8)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePaid, checked.State)

	err = f.payme.CheckPerformTransaction(ctx, CheckPerformParams{Amount: 472000, Account: account}, 9)
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, PaymeErrorAlreadyDone.Code, txErr.Info.Code)

	statement, err := f.payme.GetStatement(ctx, StatementParams{From: now - 1000, To: now + 1000})
	require.NoError(t, err)
	require.Len(t, statement, 1)
	assert.Equal(t, f.order.OrderNumber, statement[0].Account.OrderNumber)
}

func TestPaymeCancelPendingThenRetry(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	account := PaymeAccount{OrderNumber: f.order.OrderNumber}
	now := time.Now().UnixMilli()

	_, err := f.payme.CreateTransaction(ctx, CreateTransactionParams{Account: account, Time: now, Amount: 472000, ID: "tx-1"}, 1)
	require.NoError(t, err)

	cancelled, err := f.payme.CancelTransaction(ctx, CancelTransactionParams{ID: "tx-1", Reason: 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePendingCanceled, cancelled.State)

	order, err := f.orders.GetByNumber(ctx, f.order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	_, err = f.payme.CreateTransaction(ctx, CreateTransactionParams{Account: account, Time: now, Amount: 472000, ID: "tx-2"}, 3)
	require.NoError(t, err)
}

func TestPaymePerformExpiredTransaction(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	account := PaymeAccount{OrderNumber: f.order.OrderNumber}
	created := time.Now()

	_, err := f.payme.CreateTransaction(ctx, CreateTransactionParams{Account: account, Time: created.UnixMilli(), Amount: 472000, ID: "tx-1"}, 1)
	require.NoError(t, err)

	f.payme.now = func() time.Time { return created.Add(13 * time.Minute) }
	_, err = f.payme.PerformTransaction(ctx, PerformTransactionParams{ID: "tx-1"}, 2)
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, PaymeErrorCantDoOperation.Code, txErr.Info.Code)

	checked, err := f.payme.CheckTransaction(ctx, CheckTransactionParams{ID: "tx-1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePendingCanceled, checked.State)
	require.NotNil(t, checked.Reason)
	assert.Equal(t, paymeReasonTimeout, *checked.Reason)
}

// flakyConfirmer fails the first confirmations it receives.
type flakyConfirmer struct {
	next  PaymentConfirmer
	fails int
}

func (c *flakyConfirmer) ConfirmPaid(ctx context.Context, number, reference string) (*models.Order, error) {
	if c.fails > 0 {
		c.fails--
		return nil, errors.New("db connection lost")
	}
	return c.next.ConfirmPaid(ctx, number, reference)
}

func TestPaymePerformRetriesFailedConfirmation(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	payme := NewPaymeService(f.db, f.orders, &flakyConfirmer{next: f.payments, fails: 1})
	account := PaymeAccount{OrderNumber: f.order.OrderNumber}

	_, err := payme.CreateTransaction(ctx, CreateTransactionParams{
		Account: account, Time: time.Now().UnixMilli(), Amount: 472000, ID: "tx-1",
	}, 1)
	require.NoError(t, err)

	_, err = payme.PerformTransaction(ctx, PerformTransactionParams{ID: "tx-1"}, 2)
	require.Error(t, err)

	checked, err := payme.CheckTransaction(ctx, CheckTransactionParams{ID: "tx-1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePending, checked.State)
	order, err := f.orders.GetByNumber(ctx, f.order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	performed, err := payme.PerformTransaction(ctx, PerformTransactionParams{ID: "tx-1"}, 4)
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePaid, performed.State)

	order, err = f.orders.GetByNumber(ctx, f.order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "payme:tx-1", order.PaymentReference)

	f.payments.Wait()
	assert.Len(t, f.notifier.sent(), 1)
}

type blockingNotifier struct {
	release chan struct{}
	recordingNotifier
}

func (n *blockingNotifier) NotifyOrderPaid(ctx context.Context, s *OrderSummary) error {
	<-n.release
	return n.recordingNotifier.NotifyOrderPaid(ctx, s)
}

func TestConfirmPaidDoesNotWaitForNotifications(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	notifier := &blockingNotifier{release: make(chan struct{})}
	summaries := NewSummaryService(NewCatalogService(f.db), "")
	payments := NewPaymentService(f.orders, summaries, nil, nil, notifier)

	done := make(chan error, 1)
	go func() {
		_, err := payments.ConfirmPaid(ctx, f.order.OrderNumber, "payme:tx-9")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(notifier.release)
		t.Fatal("ConfirmPaid blocked on the merchant notification")
	}

	order, err := f.orders.GetByNumber(ctx, f.order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)

	close(notifier.release)
	payments.Wait()
	require.Len(t, notifier.sent(), 1)
	assert.Equal(t, f.order.OrderNumber, notifier.sent()[0].OrderNumber)
}

func stripeEvent(eventType, intentID, number string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_test",
  "object": "event",
  "type": %q,
  "data": {"object": {
    "id": %q,
    "object": "payment_intent",
    "amount": %d,
    "amount_received": %d,
    "currency": "uzs",
    "metadata": {"order_number": %q}
  }}
}`, eventType, intentID, amount, amount, number))
}

func TestStripeWebhookMarksPaid(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	gw := NewStripeGateway(f.db, "sk_test_123", "whsec_test", "UZS")
	gw.SetConfirmer(f.payments)
	gw.createIntent = func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		assert.Equal(t, int64(472000), *p.Amount)
		assert.Equal(t, f.order.OrderNumber, p.Metadata["order_number"])
		return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}, nil
	}

	checkout, err := gw.Checkout(ctx, f.order, 472000)
	require.NoError(t, err)
	assert.Equal(t, "pi_123_secret", checkout.ClientSecret)

	payload := stripeEvent("payment_intent.succeeded", "pi_123", f.order.OrderNumber, 472000)

	err = gw.HandleWebhook(ctx, payload, "t=1,v1=forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	order, err := f.orders.GetByNumber(ctx, f.order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})
	require.NoError(t, gw.HandleWebhook(ctx, signed.Payload, signed.Header))

	order, err = f.orders.GetByNumber(ctx, f.order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "stripe:pi_123", order.PaymentReference)

	var txn models.PaymentTransaction
	require.NoError(t, f.db.First(&txn, "transaction_id = ?", "pi_123").Error)
	assert.Equal(t, TransactionStatePaid, txn.Status)

	// Redelivery is harmless.
	require.NoError(t, gw.HandleWebhook(ctx, signed.Payload, signed.Header))
	f.payments.Wait()
	assert.Len(t, f.notifier.sent(), 1)
}

func TestStripeWebhookIgnoresWrongAmountAndOtherEvents(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	gw := NewStripeGateway(f.db, "sk_test_123", "whsec_test", "UZS")
	gw.SetConfirmer(f.payments)

	for _, payload := range [][]byte{
		stripeEvent("payment_intent.succeeded", "pi_1", f.order.OrderNumber, 100),
		stripeEvent("payment_intent.payment_failed", "pi_1", f.order.OrderNumber, 472000),
	} {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})
		require.NoError(t, gw.HandleWebhook(ctx, signed.Payload, signed.Header))
	}

	order, err := f.orders.GetByNumber(ctx, f.order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	f.payments.Wait()
	assert.Empty(t, f.notifier.sent())
}
