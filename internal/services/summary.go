package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/pricing"
)

// OrderSummary is the merchant-facing description of an order.
type OrderSummary struct {
	OrderNumber string `json:"order_number"`
	Text        string `json:"text"`
	WhatsAppURL string `json:"whatsapp_url,omitempty"`
}

// SummaryService renders orders with option names resolved against the
// catalog, soft-deleted options included.
type SummaryService struct {
	catalog  *CatalogService
	whatsapp string
}

func NewSummaryService(catalog *CatalogService, merchantWhatsApp string) *SummaryService {
	return &SummaryService{catalog: catalog, whatsapp: merchantWhatsApp}
}

func (s *SummaryService) Build(ctx context.Context, order *models.Order) (*OrderSummary, error) {
	options, err := s.catalog.OptionsForDisplay(ctx)
	if err != nil {
		return nil, err
	}
	text := FormatSummary(order, options)
	return &OrderSummary{
		OrderNumber: order.OrderNumber,
		Text:        text,
		WhatsAppURL: WhatsAppURL(s.whatsapp, text),
	}, nil
}

// WhatsAppURL builds a wa.me link that opens a chat with phone pre-filled
// with text. Returns "" when phone has no digits.
func WhatsAppURL(phone, text string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	return "https://wa.me/" + digits + "?text=" + url.QueryEscape(text)
}

// FormatPrice renders amount with thousand separators, keeping cents only
// when present.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "UZS"
	}
	neg := amount.IsNegative()
	amount = amount.Abs()

	whole := amount.Truncate(0).String()
	var b strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	if frac := amount.Sub(amount.Truncate(0)); !frac.IsZero() {
		b.WriteString(strings.TrimPrefix(frac.StringFixed(2), "0"))
	}

	out := b.String() + " " + currency
	if neg {
		return "-" + out
	}
	return out
}

func optionNames(set models.OptionSet) map[string]string {
	names := make(map[string]string)
	for _, f := range set.Flavors {
		names["flavor:"+f.ID] = f.Name
	}
	for _, sz := range set.Sizes {
		names["size:"+sz.ID] = sz.Name
	}
	for _, c := range set.Colors {
		names["color:"+c.ID] = c.Name
	}
	for _, t := range set.Toppings {
		names["topping:"+t.ID] = t.Name
	}
	return names
}

func describeCustomizations(c *models.Customizations, names map[string]string) string {
	if c.IsEmpty() {
		return ""
	}
	resolve := func(kind, id string) string {
		if n, ok := names[kind+":"+id]; ok {
			return n
		}
		return id
	}

	var parts []string
	if c.Flavor != nil {
		parts = append(parts, "Flavor: "+resolve("flavor", *c.Flavor))
	}
	if c.Size != nil {
		parts = append(parts, "Size: "+resolve("size", *c.Size))
	}
	if c.Color != nil {
		parts = append(parts, "Color: "+resolve("color", *c.Color))
	}
	if len(c.Toppings) > 0 {
		tops := make([]string, 0, len(c.Toppings))
		for _, id := range c.Toppings {
			tops = append(tops, resolve("topping", id))
		}
		parts = append(parts, "Toppings: "+strings.Join(tops, ", "))
	}
	return strings.Join(parts, "; ")
}

// FormatSummary renders the plain-text order summary sent to the merchant.
func FormatSummary(order *models.Order, options models.OptionSet) string {
	names := optionNames(options)
	cur := order.Currency

	var b strings.Builder
	fmt.Fprintf(&b, "Order %s\n", order.OrderNumber)
	fmt.Fprintf(&b, "Customer: %s, %s\n", order.CustomerName, order.CustomerPhone)
	if order.DeliveryMethod == models.DeliveryMethodDelivery {
		fmt.Fprintf(&b, "Delivery to: %s\n", order.DeliveryAddress)
	} else {
		fmt.Fprintf(&b, "Pickup at: %s\n", order.PickupLocation)
	}
	if when := strings.TrimSpace(order.DeliveryDate + " " + order.DeliveryTime); when != "" {
		fmt.Fprintf(&b, "When: %s\n", when)
	}
	if order.Latitude != nil && order.Longitude != nil {
		fmt.Fprintf(&b, "Location: %.6f,%.6f\n", *order.Latitude, *order.Longitude)
	}
	if order.SpecialInstructions != "" {
		fmt.Fprintf(&b, "Notes: %s\n", order.SpecialInstructions)
	}

	b.WriteString("\nItems:\n")
	for i, item := range order.Items {
		label := item.Name
		if item.SpecialOffer {
			label += " (special offer)"
		}
		fmt.Fprintf(&b, "%d. %s x%d @ %s = %s\n", i+1, label, item.Quantity,
			FormatPrice(item.Price, cur), FormatPrice(item.LineTotal(), cur))
		if desc := describeCustomizations(item.Customizations, names); desc != "" {
			fmt.Fprintf(&b, "   %s\n", desc)
		}
	}

	fmt.Fprintf(&b, "\nTotal: %s\n", FormatPrice(order.TotalPrice, cur))
	fmt.Fprintf(&b, "Deposit (%d%%): %s\n", pricing.DepositPercent, FormatPrice(order.DepositAmount, cur))
	fmt.Fprintf(&b, "Payment: %s", order.PaymentStatus)
	return b.String()
}
