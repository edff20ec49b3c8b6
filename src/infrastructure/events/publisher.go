package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	CampaignStarted = "campaign.started"
	CampaignClosed  = "campaign.closed"
)

// Event is a campaign lifecycle notification
type Event struct {
	Type       string                       `json:"type"`
	CampaignID int                          `json:"campaignId"`
	Status     domainCampaign.Status        `json:"status"`
	Counts     *domainCampaign.StatusCounts `json:"counts,omitempty"`
	OccurredAt time.Time                    `json:"occurredAt"`
}

// Publisher delivers lifecycle events. Publishing is best effort:
// callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NewPublisher returns an AMQP publisher, or a no-op one when url is empty
func NewPublisher(url string, exchange string, loggerInstance *logger.Logger) (Publisher, error) {
	if url == "" {
		loggerInstance.Info("EVENTS_AMQP_URL not set, campaign events are disabled")
		return NoopPublisher{}, nil
	}
	return NewAMQPPublisher(url, exchange, loggerInstance)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// AMQPPublisher publishes JSON events to a durable topic exchange,
// routed by event type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	mu       sync.Mutex
	Logger   *logger.Logger
}

func NewAMQPPublisher(url string, exchange string, loggerInstance *logger.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	loggerInstance.Info("AMQP publisher ready", zap.String("exchange", exchange))
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, Logger: loggerInstance}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.Publish(
		p.exchange,
		event.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			Body:         body,
		})
	if err != nil {
		p.Logger.Warn("Failed to publish campaign event", zap.Error(err), zap.String("type", event.Type), zap.Int("campaignID", event.CampaignID))
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	p.Logger.Debug("Campaign event published", zap.String("type", event.Type), zap.Int("campaignID", event.CampaignID))
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// EncodeEvent renders the wire body of an event
func EncodeEvent(event Event) ([]byte, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(event)
}
