package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const auditFile = "purchase.log"

// StartPurchaseConsumer consumes PurchasePaidEvent messages from queue
// and appends one line per settled purchase to purchase.log under
// auditDir.  It reconnects with exponential backoff until ctx is
// cancelled, then returns ctx.Err().  Messages that cannot be handled
// are rejected without requeue so a poison message cannot spin.
func StartPurchaseConsumer(ctx context.Context, url, queue, auditDir string, logger *logrus.Logger) error {
	if queue == "" {
		queue = PurchasePaidQueue
	}
	log := logger.WithField("queue", queue)
	path := filepath.Join(auditDir, auditFile)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			b.Reset()
			err = consumeLoop(ctx, conn, queue, path, log)
			_ = conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		wait := b.NextBackOff()
		log.WithError(err).WithField("retry_in", wait.String()).Warn("purchase consumer disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queue, path string, log *logrus.Entry) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.WithError(err).Warn("set QoS failed")
	}
	if err := declare(ch, queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info("purchase consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(path, d.Body); err != nil {
				log.WithError(err).Error("handle purchase message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(path string, body []byte) error {
	var ev PurchasePaidEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.PurchaseID == 0 {
		return errors.New("event without purchase_id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatAuditLine(ev)); err != nil {
		return fmt.Errorf("write audit line: %w", err)
	}
	return nil
}

func formatAuditLine(ev PurchasePaidEvent) string {
	ids := make([]string, len(ev.TicketIDs))
	for i, id := range ev.TicketIDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("[%s] Purchase paid | purchase_id=%d | customer_id=%d | total=%s | payment_ref=%s | tickets=[%s]\n",
		ev.PaidAt, ev.PurchaseID, ev.CustomerID, ev.TotalAmount, ev.PaymentRef, strings.Join(ids, ","))
}
