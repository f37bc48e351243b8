package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/pricing"
	"github.com/example/cakeshop/internal/utils"
)

// DeliveryInfo is the checkout form.
type DeliveryInfo struct {
	Name                string                `json:"name"`
	Phone               string                `json:"phone"`
	Method              models.DeliveryMethod `json:"method"`
	Address             string                `json:"address"`
	PickupLocation      string                `json:"pickup_location"`
	Date                string                `json:"date"`
	Time                string                `json:"time"`
	Latitude            *float64              `json:"latitude"`
	Longitude           *float64              `json:"longitude"`
	SpecialInstructions string                `json:"special_instructions"`
}

// SubmitItem is one cart line as the client priced it.
type SubmitItem struct {
	CakeID         string                 `json:"cake_id"`
	Name           string                 `json:"name"`
	Quantity       int                    `json:"quantity"`
	Price          decimal.Decimal        `json:"price"`
	SpecialOffer   bool                   `json:"special_offer"`
	Customizations *models.Customizations `json:"customizations"`
}

type SubmitOrderInput struct {
	Items          []SubmitItem
	Delivery       DeliveryInfo
	TotalPrice     decimal.Decimal
	DepositAmount  decimal.Decimal
	IdempotencyKey string
}

type SubmitOrderResult struct {
	Order *models.Order
	// Replayed is set when the idempotency key matched an earlier order.
	Replayed bool
}

// OrderFilter narrows List.
type OrderFilter struct {
	Status        string
	PaymentStatus string
	Search        string
	Limit         int
	Offset        int
}

// OrderService owns the order lifecycle: submission, lookup, status
// transitions and payment marking.
type OrderService struct {
	db       *gorm.DB
	events   Publisher
	currency string
	log      *logrus.Entry
	now      func() time.Time
}

func NewOrderService(db *gorm.DB, events Publisher, currency string) *OrderService {
	if events == nil {
		events = NoopPublisher{}
	}
	if currency == "" {
		currency = "UZS"
	}
	return &OrderService{
		db:       db,
		events:   events,
		currency: currency,
		log:      logrus.WithField("component", "orders"),
		now:      time.Now,
	}
}

func validateSubmission(in SubmitOrderInput) error {
	if len(in.Items) == 0 {
		return invalid("items", "cart is empty")
	}
	for _, it := range in.Items {
		if strings.TrimSpace(it.CakeID) == "" {
			return invalid("items", "cake_id is required")
		}
		if it.Quantity < 1 {
			return invalid("items", "quantity must be at least 1")
		}
		if it.Price.IsNegative() {
			return invalid("items", "price must not be negative")
		}
	}

	d := in.Delivery
	if strings.TrimSpace(d.Name) == "" {
		return invalid("name", "is required")
	}
	if strings.TrimSpace(d.Phone) == "" {
		return invalid("phone", "is required")
	}
	switch d.Method {
	case models.DeliveryMethodDelivery:
		if strings.TrimSpace(d.Address) == "" {
			return invalid("address", "is required for delivery")
		}
	case models.DeliveryMethodPickup:
		if strings.TrimSpace(d.PickupLocation) == "" {
			return invalid("pickup_location", "is required for pickup")
		}
	default:
		return invalid("method", "must be delivery or pickup")
	}
	if (d.Latitude == nil) != (d.Longitude == nil) {
		return invalid("coordinates", "latitude and longitude go together")
	}

	if in.TotalPrice.IsNegative() || in.DepositAmount.IsNegative() {
		return invalid("total_price", "must not be negative")
	}
	return nil
}

// SubmitOrder validates the checkout, re-prices every line against the
// catalog and stores the order with its items in one transaction.
func (s *OrderService) SubmitOrder(ctx context.Context, in SubmitOrderInput) (*SubmitOrderResult, error) {
	if err := validateSubmission(in); err != nil {
		return nil, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := s.findByIdempotencyKey(ctx, key)
		if err == nil {
			return &SubmitOrderResult{Order: existing, Replayed: true}, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}

	number, err := utils.GenerateOrderNumber(s.now())
	if err != nil {
		return nil, errors.Wrap(err, "generate order number")
	}

	d := in.Delivery
	order := &models.Order{
		OrderNumber:         number,
		CustomerName:        strings.TrimSpace(d.Name),
		CustomerPhone:       strings.TrimSpace(d.Phone),
		DeliveryMethod:      d.Method,
		DeliveryDate:        d.Date,
		DeliveryTime:        d.Time,
		Latitude:            d.Latitude,
		Longitude:           d.Longitude,
		SpecialInstructions: strings.TrimSpace(d.SpecialInstructions),
		Currency:            s.currency,
		PaymentStatus:       models.PaymentStatusPending,
		OrderStatus:         models.OrderStatusProcessing,
	}
	if d.Method == models.DeliveryMethodDelivery {
		order.DeliveryAddress = strings.TrimSpace(d.Address)
	} else {
		order.PickupLocation = strings.TrimSpace(d.PickupLocation)
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.reprice(tx, in)
		if err != nil {
			return err
		}
		order.TotalPrice = pricing.Total(items)
		order.DepositAmount = pricing.Deposit(order.TotalPrice)

		if err := tx.Omit("Items").Create(order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
			items[i].Position = i
		}
		if err := tx.Create(&items).Error; err != nil {
			return errors.Wrap(err, "insert order items")
		}

		ordered := make(map[string]int, len(items))
		for _, it := range items {
			ordered[it.CakeID] += it.Quantity
		}
		for cakeID, qty := range ordered {
			if err := tx.Model(&models.Cake{}).
				Where("id = ?", cakeID).
				UpdateColumn("orders_count", gorm.Expr("orders_count + ?", qty)).Error; err != nil {
				return errors.Wrap(err, "bump orders_count")
			}
		}

		order.Items = items
		return nil
	})
	if err != nil {
		if key != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent submit with the same key won the insert.
			if existing, findErr := s.findByIdempotencyKey(ctx, key); findErr == nil {
				return &SubmitOrderResult{Order: existing, Replayed: true}, nil
			}
		}
		if IsValidation(err) || errors.Is(err, ErrPriceMismatch) {
			return nil, err
		}
		return nil, errors.Wrap(err, "submit order")
	}

	s.log.WithFields(logrus.Fields{
		"order_number": order.OrderNumber,
		"total":        order.TotalPrice.String(),
		"deposit":      order.DepositAmount.String(),
		"items":        len(order.Items),
	}).Info("order placed")
	publishQuietly(ctx, s.events, s.log, EventOrderPlaced, order)

	return &SubmitOrderResult{Order: order}, nil
}

// reprice rebuilds every line from the catalog and rejects the submission
// when any client figure disagrees.
func (s *OrderService) reprice(tx *gorm.DB, in SubmitOrderInput) ([]models.OrderItem, error) {
	options, err := loadOptionSet(tx)
	if err != nil {
		return nil, err
	}
	cat := pricing.NewCatalog(options)

	var offer *models.SpecialOffer
	for _, it := range in.Items {
		if it.SpecialOffer {
			if offer, err = activeOffer(tx); err != nil && !errors.Is(err, ErrOfferNotFound) {
				return nil, err
			}
			break
		}
	}

	items := make([]models.OrderItem, 0, len(in.Items))
	for i, it := range in.Items {
		line, err := priceLine(tx, cat, offer, it.CakeID, it.Customizations, it.SpecialOffer)
		if err != nil {
			return nil, err
		}
		if !line.UnitPrice.Equal(it.Price) {
			return nil, errors.Wrapf(ErrPriceMismatch, "item %d (%s): expected %s, got %s",
				i+1, it.CakeID, line.UnitPrice.StringFixed(2), it.Price.StringFixed(2))
		}
		items = append(items, models.OrderItem{
			CakeID:         line.Cake.ID,
			Name:           line.Cake.Name,
			Quantity:       it.Quantity,
			Price:          line.UnitPrice,
			SpecialOffer:   it.SpecialOffer,
			Customizations: line.Customizations,
		})
	}

	total := pricing.Total(items)
	if !total.Equal(in.TotalPrice) {
		return nil, errors.Wrapf(ErrPriceMismatch, "total: expected %s, got %s",
			total.StringFixed(2), in.TotalPrice.StringFixed(2))
	}
	if deposit := pricing.Deposit(total); !deposit.Equal(in.DepositAmount) {
		return nil, errors.Wrapf(ErrPriceMismatch, "deposit: expected %s, got %s",
			deposit.StringFixed(2), in.DepositAmount.StringFixed(2))
	}
	return items, nil
}

func (s *OrderService) findByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return s.first(s.db.WithContext(ctx).Where("idempotency_key = ?", key))
}

func (s *OrderService) first(query *gorm.DB) (*models.Order, error) {
	var order models.Order
	err := query.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "load order")
	}
	return &order, nil
}

func (s *OrderService) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.first(s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *OrderService) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.first(s.db.WithContext(ctx).Where("order_number = ?", number))
}

// List returns a page of orders, newest first, with the unpaged total.
func (s *OrderService) List(ctx context.Context, f OrderFilter) ([]models.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if f.Status != "" {
		query = query.Where("order_status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		query = query.Where("payment_status = ?", f.PaymentStatus)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		query = query.Where(
			"LOWER(order_number) LIKE ? OR LOWER(customer_name) LIKE ? OR customer_phone LIKE ?",
			like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	var orders []models.Order
	q := query.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).Order("created_at desc")
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	return orders, total, nil
}

// UpdateStatus moves an order along the status table and returns the
// refreshed order.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, next models.OrderStatus) (*models.Order, error) {
	if !next.Valid() {
		return nil, invalid("status", "must be processing, complete or cancelled")
	}

	order, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	current := order.OrderStatus
	if !current.CanTransitionTo(next) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", current, next)
	}
	if current == next {
		return order, nil
	}

	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND order_status = ?", id, current).
		Update("order_status", next)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "update order status")
	}
	if res.RowsAffected == 0 {
		// Someone else moved it first.
		return nil, errors.Wrapf(ErrInvalidTransition, "%s changed concurrently", order.OrderNumber)
	}

	order, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"order_number": order.OrderNumber,
		"from":         current,
		"to":           next,
	}).Info("order status changed")
	publishQuietly(ctx, s.events, s.log, EventOrderStatusChanged, order)
	return order, nil
}

// MarkPaid flips payment_status to paid. It reports changed=false when the
// order was already paid; paid never reverts.
func (s *OrderService) MarkPaid(ctx context.Context, number, reference string) (*models.Order, bool, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_number = ? AND payment_status = ?", number, models.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status":    models.PaymentStatusPaid,
			"payment_reference": reference,
			"paid_at":           &now,
		})
	if res.Error != nil {
		return nil, false, errors.Wrap(res.Error, "mark order paid")
	}

	order, err := s.GetByNumber(ctx, number)
	if err != nil {
		return nil, false, err
	}
	return order, res.RowsAffected > 0, nil
}

// Stats summarizes orders for the admin dashboard.
type Stats struct {
	TotalOrders       int64            `json:"total_orders"`
	ByStatus          map[string]int64 `json:"by_status"`
	ByPaymentStatus   map[string]int64 `json:"by_payment_status"`
	OrdersToday       int64            `json:"orders_today"`
	Revenue           decimal.Decimal  `json:"revenue"`
	DepositsCollected decimal.Decimal  `json:"deposits_collected"`
}

type groupCount struct {
	Label string
	Total int64
}

func (s *OrderService) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &Stats{
		ByStatus:        map[string]int64{},
		ByPaymentStatus: map[string]int64{},
	}

	var rows []groupCount
	if err := db.Model(&models.Order{}).
		Select("order_status AS label, COUNT(*) AS total").
		Group("order_status").Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "count by status")
	}
	for _, r := range rows {
		stats.ByStatus[r.Label] = r.Total
		stats.TotalOrders += r.Total
	}

	rows = nil
	if err := db.Model(&models.Order{}).
		Select("payment_status AS label, COUNT(*) AS total").
		Group("payment_status").Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "count by payment status")
	}
	for _, r := range rows {
		stats.ByPaymentStatus[r.Label] = r.Total
	}

	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := db.Model(&models.Order{}).
		Where("created_at >= ?", startOfDay).
		Count(&stats.OrdersToday).Error; err != nil {
		return nil, errors.Wrap(err, "count today")
	}

	// Summed in Go so numeric precision does not depend on the driver.
	var paid []models.Order
	if err := db.Select("total_price", "deposit_amount").
		Where("payment_status = ? AND order_status <> ?", models.PaymentStatusPaid, models.OrderStatusCancelled).
		Find(&paid).Error; err != nil {
		return nil, errors.Wrap(err, "sum revenue")
	}
	stats.Revenue = decimal.Zero
	stats.DepositsCollected = decimal.Zero
	for _, o := range paid {
		stats.Revenue = stats.Revenue.Add(o.TotalPrice)
		stats.DepositsCollected = stats.DepositsCollected.Add(o.DepositAmount)
	}
	return stats, nil
}
