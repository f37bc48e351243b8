package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DeliveryMethod string

const (
	DeliveryMethodDelivery DeliveryMethod = "delivery"
	DeliveryMethodPickup   DeliveryMethod = "pickup"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusComplete   OrderStatus = "complete"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing: {OrderStatusComplete, OrderStatusCancelled},
	OrderStatusComplete:   {},
	OrderStatusCancelled:  {},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo checks the order status transition table. Staying in the
// same state is always allowed; complete and cancelled are terminal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return next.Valid()
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Customizations is the selection attached to a cart or order item. It is
// stored on the order item as JSON of option ids.
type Customizations struct {
	Flavor   *string  `json:"flavor,omitempty"`
	Size     *string  `json:"size,omitempty"`
	Color    *string  `json:"color,omitempty"`
	Toppings []string `json:"toppings,omitempty"`
}

// Normalized returns a copy with blank refs cleared and duplicate toppings
// removed, keeping first-seen order. Returns nil when nothing is selected.
func (c *Customizations) Normalized() *Customizations {
	if c == nil {
		return nil
	}
	out := &Customizations{
		Flavor: nonBlank(c.Flavor),
		Size:   nonBlank(c.Size),
		Color:  nonBlank(c.Color),
	}
	seen := make(map[string]struct{}, len(c.Toppings))
	for _, id := range c.Toppings {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out.Toppings = append(out.Toppings, id)
	}
	if out.IsEmpty() {
		return nil
	}
	return out
}

// IsEmpty reports whether no option is selected.
func (c *Customizations) IsEmpty() bool {
	return c == nil || (c.Flavor == nil && c.Size == nil && c.Color == nil && len(c.Toppings) == 0)
}

func nonBlank(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

type Order struct {
	BaseModel
	OrderNumber         string          `gorm:"uniqueIndex;size:32;not null" json:"order_number"`
	IdempotencyKey      *string         `gorm:"uniqueIndex;size:128" json:"-"`
	CustomerName        string          `gorm:"not null" json:"customer_name"`
	CustomerPhone       string          `gorm:"not null" json:"customer_phone"`
	DeliveryMethod      DeliveryMethod  `gorm:"size:16;not null" json:"delivery_method"`
	DeliveryAddress     string          `json:"delivery_address"`
	PickupLocation      string          `json:"pickup_location"`
	DeliveryDate        string          `json:"delivery_date"`
	DeliveryTime        string          `json:"delivery_time"`
	Latitude            *float64        `json:"latitude"`
	Longitude           *float64        `json:"longitude"`
	SpecialInstructions string          `json:"special_instructions"`
	TotalPrice          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_price"`
	DepositAmount       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"deposit_amount"`
	Currency            string          `gorm:"size:8" json:"currency"`
	PaymentStatus       PaymentStatus   `gorm:"size:16;index;not null" json:"payment_status"`
	OrderStatus         OrderStatus     `gorm:"size:16;index;not null" json:"order_status"`
	PaymentReference    string          `json:"payment_reference"`
	PaidAt              *time.Time      `json:"paid_at"`
	Items               []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID        uuid.UUID       `gorm:"type:uuid;index;not null" json:"order_id"`
	Position       int             `json:"position"`
	CakeID         string          `gorm:"size:128;index" json:"cake_id"`
	Name           string          `json:"name"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	Price          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	SpecialOffer   bool            `json:"special_offer"`
	Customizations *Customizations `gorm:"type:jsonb;serializer:json" json:"customizations,omitempty"`
}

// LineTotal is price × quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i OrderItem) UnitPrice() decimal.Decimal { return i.Price }

func (i OrderItem) Qty() int { return i.Quantity }
