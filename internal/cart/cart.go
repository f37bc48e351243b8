// Package cart holds the shopping cart aggregate and its persistence.
package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/pricing"
)

// Item is one priced cart line. Name and Price are copied from the catalog
// when the line is added and never follow later catalog edits.
type Item struct {
	ID             string                 `json:"id"`
	CakeID         string                 `json:"cake_id"`
	Name           string                 `json:"name"`
	Price          decimal.Decimal        `json:"price"`
	Quantity       int                    `json:"quantity"`
	SpecialOffer   bool                   `json:"special_offer"`
	Customizations *models.Customizations `json:"customizations,omitempty"`
}

func (i Item) UnitPrice() decimal.Decimal { return i.Price }

func (i Item) Qty() int { return i.Quantity }

// Cart is an ordered list of items.
type Cart struct {
	ID        string    `json:"id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty cart.
func New(id string) *Cart {
	return &Cart{ID: id, Items: []Item{}}
}

// Product is the catalog snapshot a line is created from.
type Product struct {
	CakeID string
	Name   string
}

// AddItem appends a line priced at unitPrice. A promotional line without
// customizations is merged into an existing identical promotional line.
func (c *Cart) AddItem(p Product, quantity int, unitPrice decimal.Decimal, custom *models.Customizations, specialOffer bool) Item {
	if quantity < 1 {
		quantity = 1
	}
	custom = custom.Normalized()

	if specialOffer && custom == nil {
		for i := range c.Items {
			existing := &c.Items[i]
			if existing.SpecialOffer && existing.CakeID == p.CakeID && existing.Customizations == nil {
				existing.Quantity += quantity
				c.touch()
				return *existing
			}
		}
	}

	item := Item{
		ID:             uuid.NewString(),
		CakeID:         p.CakeID,
		Name:           p.Name,
		Price:          unitPrice,
		Quantity:       quantity,
		SpecialOffer:   specialOffer,
		Customizations: custom,
	}
	c.Items = append(c.Items, item)
	c.touch()
	return item
}

// RemoveItem deletes the line with the given id. Unknown ids are ignored.
func (c *Cart) RemoveItem(id string) {
	for i := range c.Items {
		if c.Items[i].ID == id {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.touch()
			return
		}
	}
}

// UpdateQuantity replaces a line's quantity; zero or less removes it.
func (c *Cart) UpdateQuantity(id string, quantity int) {
	if quantity <= 0 {
		c.RemoveItem(id)
		return
	}
	for i := range c.Items {
		if c.Items[i].ID == id {
			c.Items[i].Quantity = quantity
			c.touch()
			return
		}
	}
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Items = []Item{}
	c.touch()
}

// ItemCount is the sum of quantities.
func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// TotalPrice is Σ price × quantity.
func (c *Cart) TotalPrice() decimal.Decimal {
	return pricing.Total(c.Items)
}

// Find returns the line with id.
func (c *Cart) Find(id string) (Item, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

func (c *Cart) touch() {
	c.UpdatedAt = time.Now().UTC()
}
