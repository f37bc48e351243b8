package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cakeshop/internal/models"
)

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "5,900 UZS", FormatPrice(dec(5900), "UZS"))
	assert.Equal(t, "1,234,567 UZS", FormatPrice(dec(1234567), ""))
	assert.Equal(t, "950 USD", FormatPrice(dec(950), "USD"))
	assert.Equal(t, "2,560.50 UZS", FormatPrice(decimal.RequireFromString("2560.5"), "UZS"))
}

func TestWhatsAppURL(t *testing.T) {
	link := WhatsAppURL("+998 (90) 000-00-00", "Order CK-1\nTotal: 5,900 UZS")

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "wa.me", u.Host)
	assert.Equal(t, "/998900000000", u.Path)
	assert.Equal(t, "Order CK-1\nTotal: 5,900 UZS", u.Query().Get("text"))

	assert.Empty(t, WhatsAppURL("", "x"))
}

func TestFormatSummaryResolvesNames(t *testing.T) {
	lat, lng := 41.311081, 69.240562
	order := &models.Order{
		OrderNumber:     "CK-250314-7QXKM",
		CustomerName:    "Aziza",
		CustomerPhone:   "+998901234567",
		DeliveryMethod:  models.DeliveryMethodDelivery,
		DeliveryAddress: "Amir Temur 1",
		DeliveryDate:    "2025-03-14",
		Latitude:        &lat,
		Longitude:       &lng,
		TotalPrice:      dec(5900),
		DepositAmount:   dec(4720),
		Currency:        "UZS",
		PaymentStatus:   models.PaymentStatusPaid,
		Items: []models.OrderItem{{
			Name:     "Vanilla Bean Classic",
			Quantity: 2,
			Price:    dec(2950),
			Customizations: &models.Customizations{
				Flavor:   strp("f1"),
				Toppings: []string{"t1", "gone"},
			},
		}},
	}
	options := models.OptionSet{
		Flavors:  []models.Flavor{{OptionBase: opt("f1", "Vanilla", 0)}},
		Toppings: []models.Topping{{OptionBase: opt("t1", "Fresh Berries", 50)}},
	}

	text := FormatSummary(order, options)

	assert.Contains(t, text, "Order CK-250314-7QXKM")
	assert.Contains(t, text, "Delivery to: Amir Temur 1")
	assert.Contains(t, text, "When: 2025-03-14")
	assert.Contains(t, text, "Location: 41.311081,69.240562")
	assert.Contains(t, text, "1. Vanilla Bean Classic x2 @ 2,950 UZS = 5,900 UZS")
	assert.Contains(t, text, "Flavor: Vanilla; Toppings: Fresh Berries, gone")
	assert.Contains(t, text, "Total: 5,900 UZS")
	assert.True(t, strings.HasSuffix(text, "Payment: paid"))
}

func TestTelegramNotifyOrderPaid(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegramService("TOKEN", "-100500")
	tg.apiBase = srv.URL

	err := tg.NotifyOrderPaid(context.Background(), &OrderSummary{
		OrderNumber: "CK-1",
		Text:        "Cake <b> & co",
		WhatsAppURL: "https://wa.me/1?text=a&b",
	})
	require.NoError(t, err)

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "-100500", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Contains(t, got.Text, "Cake &lt;b&gt; &amp; co")
	assert.Contains(t, got.Text, `href="https://wa.me/1?text=a&amp;b"`)
}

func TestTelegramUnconfiguredIsNoop(t *testing.T) {
	assert.NoError(t, NewTelegramService("", "").NotifyOrderPaid(context.Background(), &OrderSummary{}))
}

func TestTelegramErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegramService("TOKEN", "1")
	tg.apiBase = srv.URL
	assert.Error(t, tg.SendToAdmin(context.Background(), "hi"))
}

func TestEmailMessage(t *testing.T) {
	svc := NewEmailService(EmailConfig{Host: "smtp.test", Port: 587, From: "shop@cakes.test", To: "owner@cakes.test"})
	require.True(t, svc.Configured())

	msg, err := svc.message(&OrderSummary{OrderNumber: "CK-1", Text: "Order CK-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Deposit received for order CK-1"}, msg.GetGenHeader("Subject"))

	assert.NoError(t, NewEmailService(EmailConfig{}).NotifyOrderPaid(context.Background(), &OrderSummary{}))
}

func TestObjectNameKeepsExtension(t *testing.T) {
	name := ObjectName("cakes/red-velvet", "Photo.JPG")
	assert.True(t, strings.HasPrefix(name, "cakes/red-velvet/"))
	assert.True(t, strings.HasSuffix(name, ".jpg"))
}
