package models

// PaymentTransaction stores gateway-side payment state for an order's deposit.
// Status follows the Payme transaction states; Stripe intents reuse the same
// values (1 created, 2 paid, negative cancelled).
type PaymentTransaction struct {
	BaseModel
	Provider      string `gorm:"size:16;index;not null" json:"provider"`
	TransactionID string `gorm:"column:transaction_id;index" json:"transaction_id"`
	OrderNumber   string `gorm:"size:32;index;not null" json:"order_number"`
	Amount        int64  `json:"amount"`
	Currency      string `gorm:"size:8" json:"currency"`
	Status        int    `json:"status"`
	CreateTime    int64  `json:"create_time"`
	PerformTime   int64  `json:"perform_time"`
	CancelTime    int64  `json:"cancel_time"`
	Reason        *int   `json:"reason"`
}
