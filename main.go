package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketplace-rewards/config"
	"marketplace-rewards/handlers"
	"marketplace-rewards/metrics"
	"marketplace-rewards/middleware"
	"marketplace-rewards/models"
	"marketplace-rewards/services"
	"marketplace-rewards/utils"
	"marketplace-rewards/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, syncLogger, err := utils.InitLogger(cfg.Env)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer syncLogger()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	metrics.InitMetrics()

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to get database handle", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.AutoMigrate(models.All()...); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	cipher, err := utils.NewFieldCipher(cfg.Crypto.EncryptionKey)
	if err != nil {
		logger.Fatal("failed to initialize field cipher", zap.Error(err))
	}

	var mailer services.Mailer = services.LogMailer{}
	if cfg.Mail.Enabled() {
		mailer = services.NewSMTPMailer(cfg.Mail)
	} else {
		logger.Warn("SMTP_HOST not set, emails are logged instead of sent")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archiver services.DrawArchiver
	if cfg.R2.Enabled() {
		store, err := utils.NewR2Store(ctx, cfg.R2)
		if err != nil {
			logger.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		archiver = services.NewObjectDrawArchiver(store)
	} else {
		logger.Warn("R2 not configured, draw results are not archived")
	}

	drawLocation, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		logger.Fatal("invalid schedule timezone", zap.String("timezone", cfg.Schedule.Timezone), zap.Error(err))
	}

	users := services.NewUserDirectory(db)
	notifications := services.NewNotificationService(db, mailer)
	ledger := services.NewTicketLedger(db, users, notifications, cfg.Program)
	codes := services.NewReferralCodeRegistry(db, users)
	draws := services.NewDrawService(db, notifications, archiver, cfg.Program, drawLocation)
	referrals := services.NewReferralService(db, users, codes, ledger, draws, notifications, cfg.Program)
	payments := services.NewPaymentService(db, users, cipher, notifications)
	maintenance := services.NewMaintenanceService(db, draws, ledger, notifications, cfg.Program)
	intake := services.NewIntakeService(db, users, ledger, referrals)
	authClient := services.NewAuthServiceClient(cfg.Auth.ServiceURL, cfg.Auth.Token)

	hostname, _ := os.Hostname()
	sched, err := services.StartMaintenanceScheduler(maintenance, cfg.Schedule, services.NewDBJobLocker(db, hostname))
	if err != nil {
		logger.Fatal("failed to start maintenance scheduler", zap.Error(err))
	}

	if cfg.Sync.ProfileServiceURL != "" {
		workers.NewUserSyncWorker(intake, cfg.Sync.ProfileServiceURL, cfg.Sync.ServiceToken, cfg.Sync.Interval).Start(ctx)
	} else {
		logger.Warn("PROFILE_SYNC_URL not set, relying on pushed signup events")
	}
	if cfg.Sync.ListingServiceURL != "" {
		workers.NewListingSyncWorker(db, intake, cfg.Sync.ListingServiceURL, cfg.Sync.ServiceToken, cfg.Sync.Interval).Start(ctx)
	} else {
		logger.Warn("LISTING_SYNC_URL not set, relying on pushed listing events")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-Device-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(middleware.MetricsMiddleware())

	// scraped from inside the cluster, not through the gateway
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use(middleware.GatewayAuthMiddleware(cfg.Server.GatewayToken))

	handlers.SetupReferralRoutes(app, referrals, codes, cfg.Program.FrontendURL)
	handlers.SetupDrawRoutes(app, draws, payments)
	handlers.SetupNotificationRoutes(app, notifications, authClient)
	handlers.SetupAdminRoutes(app, handlers.AdminServices{
		Draws:     draws,
		Payments:  payments,
		Ledger:    ledger,
		Codes:     codes,
		Referrals: referrals,
	})
	handlers.SetupEventRoutes(app, intake)

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("server running",
		zap.String("port", cfg.Server.Port),
		zap.Strings("allowed_origins", cfg.Server.AllowedOrigins),
		zap.String("draw_timezone", drawLocation.String()))

	<-ctx.Done()
	logger.Info("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	if err := sched.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown error", zap.Error(err))
	}
}
