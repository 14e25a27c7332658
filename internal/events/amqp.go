package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "holdem.events"

// RoutingKey returns the routing key used for a table's hand events.
func RoutingKey(tableID string) string { return "hand.completed." + tableID }

// AMQPPublisher publishes persistent JSON messages to a durable topic
// exchange. A closed channel is redialled once per publish.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *log.Logger
	now      func() time.Time

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects and declares the exchange.
func DialAMQP(url, exchange string, logger *log.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		logger:   logger.WithPrefix("events"),
		now:      time.Now,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		conn.Close()
		return fmt.Errorf("amqp exchange declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) PublishHandCompleted(ctx context.Context, ev HandCompleted) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal hand event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.HandID,
		Type:         "hand.completed",
		Timestamp:    p.now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.reconnect(); err != nil {
			return err
		}
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev.TableID), false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		p.logger.Warn("Channel closed, redialling", "table", ev.TableID)
		if err := p.reconnect(); err != nil {
			return err
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev.TableID), false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("publish hand %s: %w", ev.HandID, err)
	}
	p.logger.Debug("Published hand", "table", ev.TableID, "hand", ev.Number)
	return nil
}

func (p *AMQPPublisher) reconnect() error {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	return p.connect()
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}
