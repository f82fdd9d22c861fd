package events

import (
	"context"
	"encoding/json"
	"espdesk/internal/rabbitmq"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Type names a job lifecycle transition. It doubles as the routing key.
type Type string

const (
	ImportStarted   Type = "import.started"
	ImportPaused    Type = "import.paused"
	ImportResumed   Type = "import.resumed"
	ImportCompleted Type = "import.completed"
	ImportCancelled Type = "import.cancelled"

	DeletionStarted   Type = "deletion.started"
	DeletionCompleted Type = "deletion.completed"
	DeletionFailed    Type = "deletion.failed"
)

// Event describes a job lifecycle transition
type Event struct {
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id"`
	AccountID string    `json:"account_id"`
	ListID    string    `json:"list_id"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher fans job events out to interested consumers
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

type rabbitPublisher struct {
	client   rabbitmq.Client
	exchange string
}

// NewRabbitPublisher publishes events as JSON onto a topic exchange
func NewRabbitPublisher(client rabbitmq.Client, exchange string) (Publisher, error) {
	if err := client.DeclareExchange(exchange, "topic"); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return &rabbitPublisher{client: client, exchange: exchange}, nil
}

func (p *rabbitPublisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	headers := amqp.Table{
		"event_type": string(event.Type),
		"job_id":     event.JobID,
	}

	if err := p.client.Publish(ctx, p.exchange, string(event.Type), body, headers); err != nil {
		log.Warn().
			Err(err).
			Str("eventType", string(event.Type)).
			Str("jobId", event.JobID).
			Msg("Failed to publish job event")
		return err
	}

	return nil
}

// Decode parses an event delivered by the broker
func Decode(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}
