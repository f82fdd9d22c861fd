package main

import (
	"context"
	"errors"
	"espdesk/internal/aws"
	"espdesk/internal/cache"
	"espdesk/internal/config"
	"espdesk/internal/controller"
	"espdesk/internal/database"
	"espdesk/internal/events"
	"espdesk/internal/model"
	"espdesk/internal/orchestrator"
	"espdesk/internal/rabbitmq"
	"espdesk/internal/server"
	"espdesk/pkg/esp"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const statusSweepInterval = 10 * time.Second

func main() {
	configPath := os.Getenv("ESPDESK_CONFIG")
	if configPath == "" {
		configPath = "config/config.json"
	}

	// Load configuration
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Logging)
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info().Str("env", cfg.Env).Int("port", cfg.Port).Msg("Starting espdesk")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open account store")
	}

	// Optional infrastructure. A nil interface means the component is disabled.
	var redisCache cache.Cache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize redis cache connection")
		}
		redisCache = rc
	}

	var rabbit rabbitmq.Client
	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQ.Enabled {
		rabbit, err = rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
		}
		publisher, err = events.NewRabbitPublisher(rabbit, cfg.RabbitMQ.ExchangeName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up job event publisher")
		}
	}

	var fileService aws.FileService
	if cfg.S3.Enabled {
		fileService, err = aws.NewFileService(cfg.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 file service")
		}
	}

	gateways := newGatewayRegistry(cfg, redisCache)
	accounts := controller.NewAccountSource(db)

	imports := orchestrator.NewImportRegistry(accounts, gateways, publisher, orchestrator.ImportOptions{
		MaxDelay: time.Duration(cfg.Jobs.MaxDelaySeconds) * time.Second,
	})
	imports.Start(ctx)

	statuses := orchestrator.NewStatusStore(
		time.Duration(cfg.Jobs.DeletionRetentionSeconds)*time.Second,
		time.Duration(cfg.Jobs.DeletionMaxUnreadMinutes)*time.Minute,
		nil,
	)
	go statuses.Run(ctx, statusSweepInterval)

	deletions := orchestrator.NewDeletionRunner(accounts, gateways, statuses, publisher, orchestrator.DeletionOptions{
		PageSize: cfg.Jobs.DeletionPageSize,
	})

	var catalogCache cache.Cache
	if cfg.Providers.Cache {
		catalogCache = redisCache
	}

	sc := controller.NewServer(db, redisCache, rabbit, fileService)
	ac := controller.NewAccountController(db, gateways, imports, redisCache)
	pc := controller.NewProviderController(accounts, gateways, catalogCache, time.Duration(cfg.Providers.DefaultCacheTTL)*time.Second)
	jc := controller.NewJobController(imports, deletions, fileService, cfg.S3.Prefix)

	httpServer := server.New(*cfg, sc, ac, pc, jc).HTTPServer()

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	imports.Stop()
	deletions.Stop()

	if redisCache != nil {
		redisCache.Close()
	}
	if rabbit != nil {
		rabbit.Close()
	}
	if err := db.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to close account store")
	}

	log.Info().Msg("Shutdown complete")
}

// newGatewayRegistry builds one client per provider. SendPulse tokens are
// shared through redis when it is available.
func newGatewayRegistry(cfg *config.Config, redisCache cache.Cache) *orchestrator.GatewayRegistry {
	opts := esp.Options{
		RequestsPerMinute: cfg.Providers.RequestsPerMinute,
		Timeout:           time.Duration(cfg.Providers.TimeoutSeconds) * time.Second,
	}

	var tokens esp.TokenCache
	if redisCache != nil {
		tokens = redisCache
	}

	p := cfg.Providers
	gateways := orchestrator.NewGatewayRegistry()
	gateways.Register(model.ProviderSendX, esp.NewSendX(p.SendX.BaseURL, opts))
	gateways.Register(model.ProviderSendPulse, esp.NewSendPulse(p.SendPulse.BaseURL, p.SendPulse.TokenURL, tokens, opts))
	gateways.Register(model.ProviderGetResponse, esp.NewGetResponse(p.GetResponse.BaseURL, opts))
	gateways.Register(model.ProviderMagicLink, esp.NewMagicLink(p.MagicLink.BaseURL, opts))

	log.Info().Interface("providers", gateways.AvailableProviders()).Msg("Provider gateways registered")

	return gateways
}

func setupLogger(config config.LoggingConfig) {
	// Set global log level
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure logger output
	switch config.Format {
	case "json":
		// JSON is the default for zerolog
	case "console", "combined":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	// Add timestamp
	log.Logger = log.With().Timestamp().Logger()
}
