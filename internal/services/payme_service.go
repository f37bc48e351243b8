package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/pricing"
)

const ProviderPayme = "payme"

// Payme transaction states.
const (
	TransactionStatePaid            = 2
	TransactionStatePending         = 1
	TransactionStatePendingCanceled = -1
	TransactionStatePaidCanceled    = -2
)

// Pending Payme transactions expire after 12 minutes.
const paymeTransactionTimeout = 12 * time.Minute

const paymeReasonTimeout = 4

// PaymeErrorInfo describes a Payme-compatible error.
type PaymeErrorInfo struct {
	Name    string
	Code    int
	Message map[string]string
}

var (
	PaymeErrorInvalidAmount = PaymeErrorInfo{
		Name: "InvalidAmount",
		Code: -31001,
		Message: map[string]string{
			"uz": "Noto'g'ri summa",
			"ru": "Недопустимая сумма",
			"en": "Invalid amount",
		},
	}
	PaymeErrorCantCancel = PaymeErrorInfo{
		Name: "CantCancel",
		Code: -31007,
		Message: map[string]string{
			"uz": "Buyurtma to'langan, bekor qilib bo'lmaydi",
			"ru": "Заказ оплачен, отмена невозможна",
			"en": "Order is paid and cannot be cancelled",
		},
	}
	PaymeErrorCantDoOperation = PaymeErrorInfo{
		Name: "CantDoOperation",
		Code: -31008,
		Message: map[string]string{
			"uz": "Biz operatsiyani bajara olmaymiz",
			"ru": "Мы не можем сделать операцию",
			"en": "We can't do operation",
		},
	}
	PaymeErrorOrderNotFound = PaymeErrorInfo{
		Name: "OrderNotFound",
		Code: -31050,
		Message: map[string]string{
			"uz": "Buyurtma topilmadi",
			"ru": "Заказ не найден",
			"en": "Order not found",
		},
	}
	PaymeErrorAlreadyDone = PaymeErrorInfo{
		Name: "AlreadyDone",
		Code: -31060,
		Message: map[string]string{
			"uz": "Buyurtma uchun to'lov qilingan",
			"ru": "Заказ уже оплачен",
			"en": "Order is already paid",
		},
	}
	PaymeErrorPending = PaymeErrorInfo{
		Name: "Pending",
		Code: -31061,
		Message: map[string]string{
			"uz": "Buyurtma uchun to'lov kutilayapti",
			"ru": "Ожидается оплата заказа",
			"en": "Payment for the order is pending",
		},
	}
	PaymeErrorTransactionNotFound = PaymeErrorInfo{
		Name: "TransactionNotFound",
		Code: -31003,
		Message: map[string]string{
			"uz": "Tranzaktsiya topilmadi",
			"ru": "Транзакция не найдена",
			"en": "Transaction not found",
		},
	}
	PaymeErrorInvalidAuthorization = PaymeErrorInfo{
		Name: "InvalidAuthorization",
		Code: -32504,
		Message: map[string]string{
			"uz": "Avtorizatsiya yaroqsiz",
			"ru": "Авторизация недействительна",
			"en": "Authorization invalid",
		},
	}
	PaymeErrorMethodNotFound = PaymeErrorInfo{
		Name: "MethodNotFound",
		Code: -32601,
		Message: map[string]string{
			"uz": "Metod topilmadi",
			"ru": "Метод не найден",
			"en": "Method not found",
		},
	}
	PaymeErrorInvalidRequest = PaymeErrorInfo{
		Name: "InvalidRequest",
		Code: -32600,
		Message: map[string]string{
			"uz": "So'rov noto'g'ri",
			"ru": "Неверный запрос",
			"en": "Invalid request",
		},
	}
)

// TransactionError is a structured Payme transaction error.
type TransactionError struct {
	Info PaymeErrorInfo
	ID   any
	Data any
}

func (e *TransactionError) Error() string {
	return e.Info.Name
}

// PaymeGateway builds checkout links for the Payme hosted page. The order
// number travels as the order_number account field.
type PaymeGateway struct {
	merchantID  string
	checkoutURL string
	returnURL   string
	currency    string
}

func NewPaymeGateway(merchantID, checkoutURL, returnURL, currency string) *PaymeGateway {
	return &PaymeGateway{
		merchantID:  merchantID,
		checkoutURL: strings.TrimRight(checkoutURL, "/"),
		returnURL:   returnURL,
		currency:    currency,
	}
}

func (g *PaymeGateway) Name() string { return ProviderPayme }

func (g *PaymeGateway) Configured() bool {
	return g.merchantID != "" && g.checkoutURL != ""
}

func (g *PaymeGateway) Checkout(_ context.Context, order *models.Order, amount int64) (*Checkout, error) {
	if !g.Configured() {
		return nil, ErrGatewayNotConfigured
	}
	payload := fmt.Sprintf("m=%s;ac.order_number=%s;a=%d", g.merchantID, order.OrderNumber, amount)
	if g.returnURL != "" {
		payload += ";c=" + strings.TrimRight(g.returnURL, "/") + "/" + order.OrderNumber
	}
	return &Checkout{
		Provider:  ProviderPayme,
		URL:       g.checkoutURL + "/" + base64.StdEncoding.EncodeToString([]byte(payload)),
		Reference: order.OrderNumber,
		Amount:    amount,
		Currency:  g.currency,
	}, nil
}

// PaymentConfirmer marks an order's deposit as paid.
type PaymentConfirmer interface {
	ConfirmPaid(ctx context.Context, number, reference string) (*models.Order, error)
}

// PaymeService implements the Payme merchant API against orders.
type PaymeService struct {
	db        *gorm.DB
	orders    *OrderService
	confirmer PaymentConfirmer
	log       *logrus.Entry
	now       func() time.Time
}

func NewPaymeService(db *gorm.DB, orders *OrderService, confirmer PaymentConfirmer) *PaymeService {
	return &PaymeService{
		db:        db,
		orders:    orders,
		confirmer: confirmer,
		log:       logrus.WithField("component", "payme"),
		now:       time.Now,
	}
}

type PaymeAccount struct {
	OrderNumber string `json:"order_number"`
}

type CheckPerformParams struct {
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
}

type CheckTransactionParams struct {
	ID any `json:"id"`
}

type CreateTransactionParams struct {
	Account PaymeAccount `json:"account"`
	Time    int64        `json:"time"`
	Amount  int64        `json:"amount"`
	ID      string       `json:"id"`
}

type PerformTransactionParams struct {
	ID string `json:"id"`
}

type CancelTransactionParams struct {
	ID     string `json:"id"`
	Reason int    `json:"reason"`
}

type StatementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type CheckTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type PerformTransactionResult struct {
	PerformTime int64  `json:"perform_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CancelTransactionResult struct {
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type StatementTransaction struct {
	ID          string       `json:"id"`
	Time        int64        `json:"time"`
	Amount      int64        `json:"amount"`
	Account     PaymeAccount `json:"account"`
	CreateTime  int64        `json:"create_time"`
	PerformTime int64        `json:"perform_time"`
	CancelTime  int64        `json:"cancel_time"`
	Transaction string       `json:"transaction"`
	State       int          `json:"state"`
	Reason      *int         `json:"reason"`
}

// CheckPerformTransaction verifies that the order exists, is unpaid and
// that amount equals its deposit in minor units.
func (s *PaymeService) CheckPerformTransaction(ctx context.Context, params CheckPerformParams, id any) error {
	order, err := s.orders.GetByNumber(ctx, params.Account.OrderNumber)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return &TransactionError{Info: PaymeErrorOrderNotFound, ID: id, Data: "order_number"}
		}
		return err
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		return &TransactionError{Info: PaymeErrorAlreadyDone, ID: id}
	}
	if order.OrderStatus == models.OrderStatusCancelled {
		return &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	deposit, ok := pricing.MinorUnits(order.DepositAmount)
	if !ok || deposit != params.Amount {
		return &TransactionError{Info: PaymeErrorInvalidAmount, ID: id}
	}
	return nil
}

// CheckTransaction returns transaction state by transaction id.
func (s *PaymeService) CheckTransaction(ctx context.Context, params CheckTransactionParams, id any) (*CheckTransactionResult, error) {
	var lookupID string
	switch v := params.ID.(type) {
	case string:
		lookupID = v
	case float64:
		lookupID = strconv.FormatInt(int64(v), 10)
	default:
		return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
	}

	txn, err := s.findTransaction(ctx, lookupID, id)
	if err != nil {
		return nil, err
	}

	var reason *int
	if txn.Reason != nil && *txn.Reason != 0 {
		reason = txn.Reason
	}

	return &CheckTransactionResult{
		CreateTime:  txn.CreateTime,
		PerformTime: txn.PerformTime,
		CancelTime:  txn.CancelTime,
		Transaction: txn.TransactionID,
		State:       txn.Status,
		Reason:      reason,
	}, nil
}

// CreateTransaction creates or reuses a pending transaction for the order.
// Only one pending transaction may exist per order.
func (s *PaymeService) CreateTransaction(ctx context.Context, params CreateTransactionParams, id any) (*CheckTransactionResult, error) {
	currentTime := s.now().UnixMilli()

	var existing models.PaymentTransaction
	err := s.db.WithContext(ctx).
		Where("provider = ? AND transaction_id = ?", ProviderPayme, params.ID).
		First(&existing).Error
	if err == nil {
		if existing.Status != TransactionStatePending {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		if s.expired(existing.CreateTime, currentTime) {
			if err := s.cancelExpired(ctx, existing.TransactionID, currentTime); err != nil {
				return nil, err
			}
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		return &CheckTransactionResult{
			CreateTime:  existing.CreateTime,
			Transaction: existing.TransactionID,
			State:       TransactionStatePending,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.CheckPerformTransaction(ctx, CheckPerformParams{
		Amount:  params.Amount,
		Account: params.Account,
	}, id); err != nil {
		return nil, err
	}

	var pending int64
	if err := s.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("provider = ? AND order_number = ? AND status = ?", ProviderPayme, params.Account.OrderNumber, TransactionStatePending).
		Count(&pending).Error; err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, &TransactionError{Info: PaymeErrorPending, ID: id}
	}

	order, err := s.orders.GetByNumber(ctx, params.Account.OrderNumber)
	if err != nil {
		return nil, err
	}

	txn := models.PaymentTransaction{
		Provider:      ProviderPayme,
		TransactionID: params.ID,
		OrderNumber:   params.Account.OrderNumber,
		Amount:        params.Amount,
		Currency:      order.Currency,
		Status:        TransactionStatePending,
		CreateTime:    params.Time,
	}
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, err
	}

	return &CheckTransactionResult{
		Transaction: txn.TransactionID,
		State:       TransactionStatePending,
		CreateTime:  txn.CreateTime,
	}, nil
}

// PerformTransaction completes a pending transaction and confirms the
// order's deposit.
func (s *PaymeService) PerformTransaction(ctx context.Context, params PerformTransactionParams, id any) (*PerformTransactionResult, error) {
	currentTime := s.now().UnixMilli()

	txn, err := s.findTransaction(ctx, params.ID, id)
	if err != nil {
		return nil, err
	}

	if txn.Status != TransactionStatePending {
		if txn.Status != TransactionStatePaid {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		return &PerformTransactionResult{
			PerformTime: txn.PerformTime,
			Transaction: txn.TransactionID,
			State:       TransactionStatePaid,
		}, nil
	}

	if s.expired(txn.CreateTime, currentTime) {
		if err := s.cancelExpired(ctx, txn.TransactionID, currentTime); err != nil {
			return nil, err
		}
		return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	// The transaction stays pending until the order is confirmed.
	if _, err := s.confirmer.ConfirmPaid(ctx, txn.OrderNumber, ProviderPayme+":"+txn.TransactionID); err != nil {
		s.log.WithError(err).WithField("transaction", txn.TransactionID).Error("confirm payment failed")
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("provider = ? AND transaction_id = ? AND status = ?", ProviderPayme, params.ID, TransactionStatePending).
		Updates(map[string]any{
			"status":       TransactionStatePaid,
			"perform_time": currentTime,
		}).Error; err != nil {
		return nil, errors.Wrap(err, "mark transaction performed")
	}

	return &PerformTransactionResult{
		PerformTime: currentTime,
		Transaction: txn.TransactionID,
		State:       TransactionStatePaid,
	}, nil
}

// CancelTransaction cancels a pending transaction. A performed transaction
// cannot be cancelled since a paid deposit never reverts.
func (s *PaymeService) CancelTransaction(ctx context.Context, params CancelTransactionParams, id any) (*CancelTransactionResult, error) {
	txn, err := s.findTransaction(ctx, params.ID, id)
	if err != nil {
		return nil, err
	}

	if txn.Status == TransactionStatePaid {
		return nil, &TransactionError{Info: PaymeErrorCantCancel, ID: id}
	}

	currentTime := s.now().UnixMilli()
	if txn.Status == TransactionStatePending {
		if err := s.db.WithContext(ctx).
			Model(&models.PaymentTransaction{}).
			Where("provider = ? AND transaction_id = ?", ProviderPayme, params.ID).
			Updates(map[string]any{
				"status":      TransactionStatePendingCanceled,
				"reason":      params.Reason,
				"cancel_time": currentTime,
			}).Error; err != nil {
			return nil, err
		}
		txn.Status = TransactionStatePendingCanceled
		txn.CancelTime = currentTime
	}

	return &CancelTransactionResult{
		CancelTime:  txn.CancelTime,
		Transaction: txn.TransactionID,
		State:       txn.Status,
	}, nil
}

// GetStatement returns transactions created in the given time range.
func (s *PaymeService) GetStatement(ctx context.Context, params StatementParams) ([]StatementTransaction, error) {
	var txns []models.PaymentTransaction
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND create_time >= ? AND create_time <= ?", ProviderPayme, params.From, params.To).
		Order("create_time asc").
		Find(&txns).Error; err != nil {
		return nil, err
	}

	result := make([]StatementTransaction, 0, len(txns))
	for _, t := range txns {
		result = append(result, StatementTransaction{
			ID:          t.TransactionID,
			Time:        t.CreateTime,
			Amount:      t.Amount,
			Account:     PaymeAccount{OrderNumber: t.OrderNumber},
			CreateTime:  t.CreateTime,
			PerformTime: t.PerformTime,
			CancelTime:  t.CancelTime,
			Transaction: t.TransactionID,
			State:       t.Status,
			Reason:      t.Reason,
		})
	}
	return result, nil
}

func (s *PaymeService) findTransaction(ctx context.Context, transactionID string, id any) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND transaction_id = ?", ProviderPayme, transactionID).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
		}
		return nil, err
	}
	return &txn, nil
}

func (s *PaymeService) expired(createTime, now int64) bool {
	return time.Duration(now-createTime)*time.Millisecond >= paymeTransactionTimeout
}

func (s *PaymeService) cancelExpired(ctx context.Context, transactionID string, now int64) error {
	s.log.WithField("transaction", transactionID).Info("pending transaction expired")
	return s.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("provider = ? AND transaction_id = ?", ProviderPayme, transactionID).
		Updates(map[string]any{
			"status":      TransactionStatePendingCanceled,
			"reason":      paymeReasonTimeout,
			"cancel_time": now,
		}).Error
}
