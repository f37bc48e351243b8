package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/cart"
	"github.com/example/cakeshop/internal/config"
	"github.com/example/cakeshop/internal/database"
	"github.com/example/cakeshop/internal/handlers"
	"github.com/example/cakeshop/internal/routes"
	"github.com/example/cakeshop/internal/seed"
	"github.com/example/cakeshop/internal/services"
)

func main() {
	app := &cli.App{
		Name:   "cakeshop",
		Usage:  "custom cake storefront API",
		Action: serve,
		Commands: []*cli.Command{
			{Name: "serve", Usage: "run the HTTP server", Action: serve},
			{Name: "migrate", Usage: "apply schema and bootstrap the admin account", Action: migrate},
			{Name: "seed", Usage: "load the starter catalog into an empty database", Action: seedCatalog},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("cakeshop exited")
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	configureLogging(cfg)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func configureLogging(cfg *config.Config) {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
	}
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func prepare(cfg *config.Config, db *gorm.DB) error {
	if err := database.Migrate(db); err != nil {
		return err
	}
	return database.EnsureAdmin(db, cfg.AdminUsername, cfg.AdminPassword)
}

func migrate(_ *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	if err := prepare(cfg, db); err != nil {
		return err
	}
	logrus.Info("migration complete")
	return nil
}

func seedCatalog(c *cli.Context) error {
	_, db, err := setup()
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	return applySeed(c.Context, db)
}

func applySeed(ctx context.Context, db *gorm.DB) error {
	catalog, err := seed.Default()
	if err != nil {
		return err
	}
	seeded, err := seed.Apply(ctx, db, catalog)
	if err != nil {
		return err
	}
	if !seeded {
		logrus.Info("catalog already present, seed skipped")
	}
	return nil
}

func serve(c *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	if err := prepare(cfg, db); err != nil {
		return err
	}
	if cfg.SeedOnStart {
		if err := applySeed(c.Context, db); err != nil {
			return err
		}
	}

	events := services.Publisher(services.NoopPublisher{})
	if cfg.AMQPURL != "" {
		pub, err := services.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		events = pub
	}

	var cartStore cart.Store = cart.NewMemoryStore()
	if cfg.RedisURL != "" {
		client, err := cart.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		cartStore = cart.NewRedisStore(client, cfg.CartTTL)
	} else {
		logrus.Warn("REDIS_URL not set, carts are kept in memory")
	}

	var images services.ImageStore
	if cfg.MinioEndpoint != "" {
		store, err := services.NewMinioImageStore(c.Context, services.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			return err
		}
		images = store
	}

	catalog := services.NewCatalogService(db)
	orders := services.NewOrderService(db, events, cfg.Currency)
	summaries := services.NewSummaryService(catalog, cfg.MerchantWhatsApp)

	telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)
	email := services.NewEmailService(services.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		To:       cfg.MerchantEmail,
	})

	stripeGateway := services.NewStripeGateway(db, cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.Currency)
	var gateway services.Gateway
	switch cfg.PaymentProvider {
	case services.ProviderStripe:
		gateway = stripeGateway
	case services.ProviderPayme:
		gateway = services.NewPaymeGateway(cfg.PaymeMerchantID, cfg.PaymeCheckoutURL, cfg.PaymentReturnURL, cfg.Currency)
	default:
		return errors.Errorf("unknown PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}

	payments := services.NewPaymentService(orders, summaries, gateway, events, telegram, email)
	stripeGateway.SetConfirmer(payments)
	payme := services.NewPaymeService(db, orders, payments)

	app := fiber.New(fiber.Config{
		AppName:      "Cakeshop Backend",
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    10 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, routes.Dependencies{
		DB:               db,
		JWTSecret:        cfg.JWTSecret,
		TokenTTL:         cfg.TokenExpires,
		PaymeMerchantKey: cfg.PaymeMerchantKey,
		Catalog:          catalog,
		Orders:           orders,
		Summaries:        summaries,
		Payments:         payments,
		Payme:            payme,
		Stripe:           stripeGateway,
		Carts:            cart.NewManager(cartStore),
		Images:           images,
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logrus.WithError(err).Error("shutdown failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":     cfg.AppPort,
		"provider": gateway.Name(),
	}).Info("starting server")
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		return errors.Wrap(err, "fiber listen")
	}
	payments.Wait()
	return nil
}
