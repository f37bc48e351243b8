package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/pricing"
)

// Checkout is what the storefront needs to open the gateway's payment UI.
type Checkout struct {
	Provider     string `json:"provider"`
	URL          string `json:"url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Reference    string `json:"reference"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Gateway starts a deposit payment with an external provider.
type Gateway interface {
	Name() string
	Configured() bool
	Checkout(ctx context.Context, order *models.Order, amount int64) (*Checkout, error)
}

// Client-side widget callbacks.
const (
	CallbackSuccess = "success"
	CallbackClose   = "close"
	CallbackCancel  = "cancel"
)

// CallbackResult tells the storefront what to show after the widget closes.
type CallbackResult struct {
	OrderNumber   string               `json:"order_number"`
	DepositAmount decimal.Decimal      `json:"deposit_amount"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	OrderStatus   models.OrderStatus   `json:"order_status"`
	Retry         bool                 `json:"retry"`
}

// PaymentService drives the deposit step of an order.
type PaymentService struct {
	orders    *OrderService
	summaries *SummaryService
	gateway   Gateway
	notifiers []Notifier
	events    Publisher
	log       *logrus.Entry
	pending   sync.WaitGroup
}

func NewPaymentService(orders *OrderService, summaries *SummaryService, gateway Gateway, events Publisher, notifiers ...Notifier) *PaymentService {
	if events == nil {
		events = NoopPublisher{}
	}
	return &PaymentService{
		orders:    orders,
		summaries: summaries,
		gateway:   gateway,
		notifiers: notifiers,
		events:    events,
		log:       logrus.WithField("component", "payments"),
	}
}

// ValidatePhone accepts 9 to 15 digits with an optional leading + and the
// usual separators.
func ValidatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return invalid("phone", "is required")
	}
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return invalid("phone", "contains invalid characters")
		}
	}
	if digits < 9 || digits > 15 {
		return invalid("phone", "must have 9 to 15 digits")
	}
	return nil
}

// Initiate opens a deposit payment for an existing order. Nothing is
// written when the gateway is missing or the input is malformed.
func (s *PaymentService) Initiate(ctx context.Context, number, phone string) (*Checkout, error) {
	if s.gateway == nil || !s.gateway.Configured() {
		return nil, ErrGatewayNotConfigured
	}
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}

	order, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, ErrAlreadyPaid
	}
	if order.OrderStatus == models.OrderStatusCancelled {
		return nil, errors.Wrap(ErrInvalidTransition, "order is cancelled")
	}

	amount, ok := pricing.MinorUnits(order.DepositAmount)
	if !ok {
		return nil, invalid("deposit_amount", "must be a positive amount with at most two decimals")
	}

	checkout, err := s.gateway.Checkout(ctx, order, amount)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"order_number": number,
			"provider":     s.gateway.Name(),
		}).Error("payment checkout failed")
		if errors.Is(err, ErrGatewayNotConfigured) {
			return nil, err
		}
		return nil, errors.Wrap(ErrGateway, err.Error())
	}
	return checkout, nil
}

// ClientCallback records nothing. A success callback only reports the
// server's view of the payment; close and cancel leave the order ready for
// another attempt with the same number and deposit.
func (s *PaymentService) ClientCallback(ctx context.Context, number, event string) (*CallbackResult, error) {
	switch event {
	case CallbackSuccess, CallbackClose, CallbackCancel:
	default:
		return nil, invalid("event", "must be success, close or cancel")
	}

	order, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	res := &CallbackResult{
		OrderNumber:   order.OrderNumber,
		DepositAmount: order.DepositAmount,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.OrderStatus,
		Retry:         order.PaymentStatus == models.PaymentStatusPending && event != CallbackSuccess,
	}
	s.log.WithFields(logrus.Fields{
		"order_number": number,
		"event":        event,
		"payment":      order.PaymentStatus,
	}).Info("payment widget callback")
	return res, nil
}

// ConfirmPaid is called once a gateway has verified the deposit. The first
// confirmation notifies the merchant; repeats are no-ops.
func (s *PaymentService) ConfirmPaid(ctx context.Context, number, reference string) (*models.Order, error) {
	order, changed, err := s.orders.MarkPaid(ctx, number, reference)
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	log := s.log.WithField("order_number", number)
	log.WithField("reference", reference).Info("deposit confirmed")

	publishQuietly(ctx, s.events, s.log, EventOrderPaid, order)
	if len(s.notifiers) > 0 && s.summaries != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.notify(context.WithoutCancel(ctx), order, log)
		}()
	}
	return order, nil
}

// Wait blocks until queued merchant notifications have been sent.
func (s *PaymentService) Wait() {
	s.pending.Wait()
}

func (s *PaymentService) notify(ctx context.Context, order *models.Order, log *logrus.Entry) {
	summary, err := s.summaries.Build(ctx, order)
	if err != nil {
		log.WithError(err).Error("build order summary failed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	for _, n := range s.notifiers {
		if err := n.NotifyOrderPaid(ctx, summary); err != nil {
			log.WithError(err).Warn("merchant notification failed")
		}
	}
}
