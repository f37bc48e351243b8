package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/webhook"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/pricing"
)

const ProviderStripe = "stripe"

// StripeGateway collects deposits with PaymentIntents and settles them from
// signed webhooks.
type StripeGateway struct {
	db            *gorm.DB
	secretKey     string
	webhookSecret string
	currency      string
	confirmer     PaymentConfirmer
	createIntent  func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	log           *logrus.Entry
}

func NewStripeGateway(db *gorm.DB, secretKey, webhookSecret, currency string) *StripeGateway {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return &StripeGateway{
		db:            db,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		currency:      currency,
		createIntent:  paymentintent.New,
		log:           logrus.WithField("component", "stripe"),
	}
}

// SetConfirmer wires the service that marks orders paid.
func (g *StripeGateway) SetConfirmer(c PaymentConfirmer) { g.confirmer = c }

func (g *StripeGateway) Name() string { return ProviderStripe }

func (g *StripeGateway) Configured() bool {
	return g.secretKey != "" && g.webhookSecret != ""
}

func (g *StripeGateway) Checkout(ctx context.Context, order *models.Order, amount int64) (*Checkout, error) {
	currency := strings.ToLower(order.Currency)
	if currency == "" {
		currency = strings.ToLower(g.currency)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_number": order.OrderNumber,
		},
	}
	params.SetIdempotencyKey("deposit-" + order.OrderNumber)

	intent, err := g.createIntent(params)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}

	txn := models.PaymentTransaction{
		Provider:      ProviderStripe,
		TransactionID: intent.ID,
		OrderNumber:   order.OrderNumber,
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		Status:        TransactionStatePending,
		CreateTime:    time.Now().UnixMilli(),
	}
	var existing int64
	if err := g.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("provider = ? AND transaction_id = ?", ProviderStripe, intent.ID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing == 0 {
		if err := g.db.WithContext(ctx).Create(&txn).Error; err != nil {
			return nil, err
		}
	}

	return &Checkout{
		Provider:     ProviderStripe,
		ClientSecret: intent.ClientSecret,
		Reference:    intent.ID,
		Amount:       amount,
		Currency:     strings.ToUpper(currency),
	}, nil
}

// HandleWebhook verifies the signature and settles succeeded intents.
// Other event types are acknowledged and ignored.
func (g *StripeGateway) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if g.webhookSecret == "" {
		return ErrGatewayNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}

	log := g.log.WithFields(logrus.Fields{"event_id": event.ID, "type": event.Type})
	if event.Type != "payment_intent.succeeded" {
		log.Debug("ignoring stripe event")
		return nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return invalid("payload", "malformed payment intent")
	}
	number := pi.Metadata["order_number"]
	if number == "" {
		log.WithField("intent", pi.ID).Warn("payment intent without order number")
		return nil
	}

	var o models.Order
	if err := g.db.WithContext(ctx).Where("order_number = ?", number).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.WithField("order_number", number).Warn("payment intent for unknown order")
			return nil
		}
		return err
	}
	if expected, ok := pricing.MinorUnits(o.DepositAmount); !ok || (expected != pi.Amount && expected != pi.AmountReceived) {
		log.WithFields(logrus.Fields{
			"order_number": number,
			"amount":       pi.Amount,
		}).Error("payment intent amount does not match deposit")
		return nil
	}

	if err := g.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("provider = ? AND transaction_id = ?", ProviderStripe, pi.ID).
		Updates(map[string]any{
			"status":       TransactionStatePaid,
			"perform_time": time.Now().UnixMilli(),
		}).Error; err != nil {
		return err
	}

	if g.confirmer == nil {
		return ErrGatewayNotConfigured
	}
	_, err = g.confirmer.ConfirmPaid(ctx, number, ProviderStripe+":"+pi.ID)
	return err
}
