package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// PurchasePaidQueue is the default queue for PurchasePaidEvent.
const PurchasePaidQueue = "purchase.paid"

// AMQPPublisher publishes domain events to RabbitMQ.  A connection is
// dialled per message; purchases are rare enough that pooling is not
// worth a long lived connection to babysit.
type AMQPPublisher struct {
	url    string
	queue  string
	logger *logrus.Logger
}

// NewAMQPPublisher returns a publisher for the given broker and queue.
// An empty queue name selects PurchasePaidQueue.
func NewAMQPPublisher(url, queue string, logger *logrus.Logger) *AMQPPublisher {
	if queue == "" {
		queue = PurchasePaidQueue
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AMQPPublisher{url: url, queue: queue, logger: logger}
}

// PublishPurchasePaid sends ev as a persistent JSON message.  Errors
// are logged and returned so the caller can decide to ignore them.
func (p *AMQPPublisher) PublishPurchasePaid(ctx context.Context, ev PurchasePaidEvent) error {
	log := p.logger.WithContext(ctx).WithFields(logrus.Fields{
		"queue":       p.queue,
		"purchase_id": ev.PurchaseID,
	})

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.WithError(err).Warn("rabbitmq: dial failed")
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.WithError(err).Warn("rabbitmq: channel open failed")
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch, p.queue); err != nil {
		log.WithError(err).Warn("rabbitmq: queue declare failed")
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("purchase-%d", ev.PurchaseID),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		log.WithError(err).Warn("rabbitmq: publish failed")
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// declare makes sure the durable queue exists.
func declare(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}
