package main

import (
	"context"
	"embed"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"
	"gorm.io/gorm/logger"

	"reactivator/internal/assets"
	"reactivator/internal/database"
	"reactivator/internal/events"
	"reactivator/internal/llm/client"
	"reactivator/internal/repositories"
	"reactivator/internal/services"
	"reactivator/internal/utils"
)

//go:embed all:frontend/dist
var frontendAssets embed.FS

func setupLogging() {
	level := zerolog.InfoLevel
	if database.IsDevelopment() {
		level = zerolog.DebugLevel
	}
	if l, err := zerolog.ParseLevel(os.Getenv("REACTIVATOR_LOG_LEVEL")); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func main() {
	setupLogging()
	if err := utils.LoadEnv(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	app := NewApp()

	catalog, err := services.NewCatalogService(assets.CatalogData)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid catalog")
	}

	db, err := database.Init(database.Config{
		Path:     os.Getenv("REACTIVATOR_DB_PATH"),
		LogLevel: logger.Warn,
	})
	if err != nil {
		log.Error().Err(err).Msg("error opening database")
		return
	}

	if sqlDB, err := db.DB(); err == nil {
		app.dbClose = sqlDB.Close
	}

	//Create each service
	dbService := services.NewDbServices(db, catalog)
	keyringService := services.NewKeyringService()

	settings, err := dbService.AppSettings.Get()
	if err != nil {
		log.Warn().Err(err).Msg("could not read settings, using defaults")
		settings = repositories.DefaultAppSettings()
	}

	generator := client.NewLazyGeminiImageClient(keyringService.ResolveGeminiKey, func() string {
		if model := strings.TrimSpace(os.Getenv("REACTIVATOR_IMAGE_MODEL")); model != "" {
			return model
		}
		if current, err := dbService.AppSettings.Get(); err == nil {
			return current.ImageModel
		}
		return repositories.DefaultImageModel
	}, catalog.Milestones())

	var mailer services.Mailer
	if cfg, ok := services.SMTPConfigFromEnv(); ok {
		mailer = services.NewSMTPMailer(cfg)
	} else {
		log.Info().Msg("SMTP is not configured, email sharing is disabled")
	}

	sessionService := services.NewSessionService(services.SessionDeps{
		Catalog:      catalog,
		Orchestrator: services.NewBatchOrchestrator(generator, catalog, services.WithMaxConcurrent(settings.MaxConcurrent)),
		History:      dbService.History,
		Payments:     services.NewMockPaymentService(1500 * time.Millisecond),
		Email:        services.NewEmailService(mailer),
		Settings:     dbService.AppSettings,
		GateDelay:    settings.PaymentGateDelay(),
	})
	app.AppSettings = dbService.AppSettings
	app.Session = sessionService

	// Create application with options
	err = wails.Run(&options.App{
		Title:  "Reactivator",
		Width:  1024,
		Height: 768,
		AssetServer: &assetserver.Options{
			Assets: frontendAssets,
		},
		Linux: &linux.Options{
			WindowIsTranslucent: false,
			WebviewGpuPolicy:    linux.WebviewGpuPolicyAlways,
			ProgramName:         "Reactivator",
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup: func(ctx context.Context) {
			app.startup(ctx)
			events.EnableRuntimeEmitter()
			dbService.StartDbServices(ctx)
			sessionService.Startup(ctx)
		},
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
			dbService.AppSettings,
			sessionService,
			keyringService,
		},
	})

	if err != nil {
		log.Error().Err(err).Msg("wails run failed")
	}
}
