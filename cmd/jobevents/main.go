package main

import (
	"espdesk/internal/config"
	"espdesk/internal/events"
	"espdesk/internal/rabbitmq"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Set up logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	configPath := "config/config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Load configuration
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize RabbitMQ client
	client, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	defer client.Close()

	// Check RabbitMQ health
	if err := client.Health(); err != nil {
		log.Fatal().Err(err).Msg("RabbitMQ health check failed")
	}
	log.Info().Msg("RabbitMQ health check passed")

	// every import.* and deletion.* event
	if err := client.DeclareTopology(cfg.RabbitMQ.ExchangeName, cfg.RabbitMQ.QueueName, "#"); err != nil {
		log.Fatal().Err(err).Msg("Failed to declare job event topology")
	}

	deliveries, err := client.Consume(cfg.RabbitMQ.QueueName, "jobevents")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start consuming")
	}

	go func() {
		log.Info().Msg("Waiting for job events. Press CTRL+C to exit.")

		for delivery := range deliveries {
			event, err := events.Decode(delivery.Body)
			if err != nil {
				log.Error().Err(err).Msg("Failed to decode job event")
				delivery.Nack(false, false)
				continue
			}

			log.Info().
				Str("eventType", string(event.Type)).
				Str("jobId", event.JobID).
				Str("accountId", event.AccountID).
				Str("listId", event.ListID).
				Str("status", event.Status).
				Float64("progress", event.Progress).
				Str("message", event.Message).
				Time("at", event.At).
				Msg("Job event")

			delivery.Ack(false)
		}
	}()

	// Keep the application running until interrupted
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
}
