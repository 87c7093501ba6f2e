package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	connectAttempts   = 5
	reconnectInterval = 5 * time.Second
	publisherChannel  = "publisher"
	topologyChannel   = "topology"
)

type RabbitMQManager struct {
	url        string
	connection *amqp.Connection
	logger     *zap.Logger
	mutex      sync.RWMutex
	channels   map[string]*amqp.Channel
	exchanges  map[string]struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

func NewRabbitMQManager(url string, logger *zap.Logger) *RabbitMQManager {
	return &RabbitMQManager{
		url:       url,
		logger:    logger,
		channels:  make(map[string]*amqp.Channel),
		exchanges: make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

func (r *RabbitMQManager) Connect() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.connection != nil && !r.connection.IsClosed() {
		return nil // Already connected
	}

	var conn *amqp.Connection
	var err error

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err = amqp.Dial(r.url)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < connectAttempts {
			time.Sleep(backoffFor(attempt))
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", connectAttempts, err)
	}

	r.connection = conn
	r.logger.Info("Successfully connected to RabbitMQ")

	go r.monitorConnection(conn)

	return nil
}

func (r *RabbitMQManager) Close() error {
	r.closeOnce.Do(func() { close(r.done) })

	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, ch := range r.channels {
		if ch != nil && !ch.IsClosed() {
			ch.Close()
		}
	}
	r.channels = make(map[string]*amqp.Channel)

	if r.connection != nil && !r.connection.IsClosed() {
		if err := r.connection.Close(); err != nil {
			r.logger.Error("Error closing RabbitMQ connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}

func (r *RabbitMQManager) GetChannel(channelID string) (*amqp.Channel, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.connection == nil || r.connection.IsClosed() {
		return nil, fmt.Errorf("RabbitMQ connection is not available")
	}

	if ch, exists := r.channels[channelID]; exists {
		if ch != nil && !ch.IsClosed() {
			return ch, nil
		}
		delete(r.channels, channelID)
	}

	ch, err := r.connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	r.channels[channelID] = ch
	return ch, nil
}

func (r *RabbitMQManager) CloseChannel(channelID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if ch, exists := r.channels[channelID]; exists {
		delete(r.channels, channelID)
		if ch != nil && !ch.IsClosed() {
			return ch.Close()
		}
	}
	return nil
}

// DeclareExchange declares a durable topic exchange once per connection.
func (r *RabbitMQManager) DeclareExchange(name string) error {
	r.mutex.RLock()
	_, declared := r.exchanges[name]
	r.mutex.RUnlock()
	if declared {
		return nil
	}

	ch, err := r.GetChannel(topologyChannel)
	if err != nil {
		return fmt.Errorf("failed to get channel for exchange declaration: %w", err)
	}

	err = ch.ExchangeDeclare(
		name,    // name
		"topic", // kind
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}

	r.mutex.Lock()
	r.exchanges[name] = struct{}{}
	r.mutex.Unlock()

	r.logger.Info("Exchange declared", zap.String("exchange", name))
	return nil
}

// Publish sends a persistent JSON message to an exchange.
func (r *RabbitMQManager) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	if err := r.DeclareExchange(exchange); err != nil {
		return err
	}

	ch, err := r.GetChannel(publisherChannel)
	if err != nil {
		return fmt.Errorf("failed to get channel for publishing: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now(),
			Headers:      headers,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", exchange, routingKey, err)
	}

	r.logger.Debug("Message published successfully",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey))
	return nil
}

func (r *RabbitMQManager) monitorConnection(conn *amqp.Connection) {
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-r.done:
		return
	case err := <-closeChan:
		if err != nil {
			r.logger.Error("RabbitMQ connection lost", zap.Error(err))
			r.attemptReconnect()
		}
	}
}

func (r *RabbitMQManager) attemptReconnect() {
	r.logger.Info("Attempting to reconnect to RabbitMQ...")

	r.mutex.Lock()
	r.connection = nil
	// channels and declarations die with the connection
	r.channels = make(map[string]*amqp.Channel)
	r.exchanges = make(map[string]struct{})
	r.mutex.Unlock()

	for {
		select {
		case <-r.done:
			return
		default:
		}

		if err := r.Connect(); err != nil {
			r.logger.Error("Failed to reconnect to RabbitMQ", zap.Error(err))
			select {
			case <-r.done:
				return
			case <-time.After(reconnectInterval):
			}
			continue
		}
		r.logger.Info("Successfully reconnected to RabbitMQ")
		return
	}
}

func (r *RabbitMQManager) IsConnected() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.connection != nil && !r.connection.IsClosed()
}

func backoffFor(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}
