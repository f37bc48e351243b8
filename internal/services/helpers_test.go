package services

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/cakeshop/internal/database"
	"github.com/example/cakeshop/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func strp(s string) *string { return &s }

func opt(id, name string, price int64) models.OptionBase {
	return models.OptionBase{SlugModel: models.SlugModel{ID: id}, Name: name, Price: dec(price)}
}

// seedCatalog loads the fixture catalog used across service tests.
func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&[]models.Cake{
		{
			SlugModel:    models.SlugModel{ID: "vanilla-bean-classic"},
			Name:         "Vanilla Bean Classic",
			BasePrice:    dec(2400),
			Category:     "classic",
			Customizable: true,
		},
		{
			SlugModel: models.SlugModel{ID: "red-velvet"},
			Name:      "Red Velvet",
			BasePrice: dec(3200),
			Category:  "signature",
		},
	}).Error)
	require.NoError(t, db.Create(&[]models.Flavor{
		{OptionBase: opt("f1", "Vanilla", 0)},
		{OptionBase: opt("f2", "Chocolate", 300)},
	}).Error)
	require.NoError(t, db.Create(&[]models.Size{
		{OptionBase: opt("s1", "Small", 0), Serves: "4-6"},
		{OptionBase: opt("s2", "Medium", 500), Serves: "8-10"},
	}).Error)
	require.NoError(t, db.Create(&[]models.Color{
		{OptionBase: opt("c1", "White", 0), Hex: "#ffffff"},
	}).Error)
	require.NoError(t, db.Create(&[]models.Topping{
		{OptionBase: opt("t1", "Fresh Berries", 50)},
	}).Error)
}

// scenarioInput is the vanilla-bean-classic cart from the pricing scenario.
func scenarioInput() SubmitOrderInput {
	return SubmitOrderInput{
		Items: []SubmitItem{{
			CakeID:   "vanilla-bean-classic",
			Name:     "Vanilla Bean Classic",
			Quantity: 2,
			Price:    dec(2950),
			Customizations: &models.Customizations{
				Flavor:   strp("f1"),
				Size:     strp("s2"),
				Color:    strp("c1"),
				Toppings: []string{"t1"},
			},
		}},
		Delivery: DeliveryInfo{
			Name:    "Aziza",
			Phone:   "+998 90 123 45 67",
			Method:  models.DeliveryMethodDelivery,
			Address: "Tashkent, Amir Temur 1",
			Date:    "2025-03-14",
			Time:    "15:00",
		},
		TotalPrice:    dec(5900),
		DepositAmount: dec(4720),
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []*OrderSummary
}

func (n *recordingNotifier) NotifyOrderPaid(_ context.Context, s *OrderSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return nil
}

func (n *recordingNotifier) sent() []*OrderSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*OrderSummary(nil), n.summaries...)
}

func countOrders(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Order{}).Count(&n).Error)
	return n
}
