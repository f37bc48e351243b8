package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/cart"
	"github.com/example/cakeshop/internal/handlers"
	"github.com/example/cakeshop/internal/middleware"
	"github.com/example/cakeshop/internal/services"
)

// Dependencies are the services the HTTP layer is built from.
type Dependencies struct {
	DB               *gorm.DB
	JWTSecret        string
	TokenTTL         time.Duration
	PaymeMerchantKey string

	Catalog   *services.CatalogService
	Orders    *services.OrderService
	Summaries *services.SummaryService
	Payments  *services.PaymentService
	Payme     *services.PaymeService
	Stripe    *services.StripeGateway
	Carts     *cart.Manager
	Images    services.ImageStore
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWTSecret, deps.TokenTTL)
	adminHandler := handlers.NewAdminHandler(deps.Orders)
	catalogHandler := handlers.NewCatalogHandler(deps.Catalog, deps.Images)
	cartHandler := handlers.NewCartHandler(deps.Carts, deps.Catalog)
	orderHandler := handlers.NewOrderHandler(deps.Orders, deps.Summaries)
	paymentHandler := handlers.NewPaymentHandler(deps.Payments, deps.Stripe)
	paymeHandler := handlers.NewPaymeHandler(deps.Payme)

	admin := middleware.AdminAuth(deps.JWTSecret)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Auth routes
	api.Post("/auth/login", authHandler.Login)

	// Catalog routes
	cakes := api.Group("/cakes")
	cakes.Get("/", catalogHandler.ListCakes)
	cakes.Get("/:id", catalogHandler.GetCake)
	cakes.Post("/", admin, catalogHandler.CreateCake)
	cakes.Put("/:id", admin, catalogHandler.UpdateCake)
	cakes.Delete("/:id", admin, catalogHandler.DeleteCake)
	cakes.Post("/:id/image", admin, catalogHandler.UploadCakeImage)

	customizations := api.Group("/customizations")
	customizations.Get("/", catalogHandler.ListCustomizations)
	customizations.Post("/:category", admin, catalogHandler.CreateCustomization)
	customizations.Put("/:category/:id", admin, catalogHandler.UpdateCustomization)
	customizations.Delete("/:category/:id", admin, catalogHandler.DeleteCustomization)

	api.Get("/special-offer", catalogHandler.GetSpecialOffer)
	api.Put("/special-offer", admin, catalogHandler.ReplaceSpecialOffer)

	// Cart routes
	carts := api.Group("/cart/:cartId")
	carts.Get("/", cartHandler.GetCart)
	carts.Delete("/", cartHandler.ClearCart)
	carts.Post("/items", cartHandler.AddItem)
	carts.Patch("/items/:itemId", cartHandler.UpdateItem)
	carts.Delete("/items/:itemId", cartHandler.RemoveItem)

	// Order routes
	orders := api.Group("/orders")
	orders.Post("/", orderHandler.CreateOrder)
	orders.Get("/", admin, orderHandler.ListOrders)
	orders.Get("/:id", admin, orderHandler.GetOrder)
	orders.Put("/:id/status", admin, orderHandler.UpdateStatus)
	orders.Get("/:number/summary", orderHandler.Summary)
	orders.Get("/:number/track", orderHandler.Track)
	orders.Get("/:number/qr", orderHandler.QRCode)
	orders.Post("/:number/payment", paymentHandler.Initiate)
	orders.Post("/:number/payment/callback", paymentHandler.Callback)

	// Payment provider callbacks
	payments := api.Group("/payments")
	payments.Post("/payme", middleware.PaymeAuth(deps.PaymeMerchantKey), paymeHandler.Pay)
	payments.Post("/stripe/webhook", paymentHandler.StripeWebhook)

	api.Get("/admin/stats", admin, adminHandler.DashboardStats)
}
