// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package rss

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakeshuffle/internal/shuffle"
)

var _ shuffle.RemoteWriter = (*AMQPWriter)(nil)

var (
	// ErrNacked is returned by Flush when the broker rejected a publish.
	ErrNacked = errors.New("rss: publish not acknowledged by broker")
	// ErrConfirmsClosed is returned when the confirm channel closes with
	// publishes outstanding.
	ErrConfirmsClosed = errors.New("rss: confirm channel closed")
)

// Publisher is the publishing side of an AMQP channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPWriter publishes every write as one message to an exchange, routed by
// partition id. The channel must be in confirm mode; Flush waits until every
// publish was confirmed.
type AMQPWriter struct {
	pub       Publisher
	confirms  <-chan amqp.Confirmation
	exchange  string
	shuffleID string
	timeout   time.Duration
	closer    func() error

	pending int
	nacks   int
}

// NewAMQPWriter returns a writer publishing through pub. confirms must be
// the channel's publish confirmations.
func NewAMQPWriter(pub Publisher, confirms <-chan amqp.Confirmation, exchange, shuffleID string, timeout time.Duration) *AMQPWriter {
	return &AMQPWriter{
		pub:       pub,
		confirms:  confirms,
		exchange:  exchange,
		shuffleID: shuffleID,
		timeout:   timeout,
	}
}

// DialAMQP connects to the broker, declares the exchange and puts the
// channel in confirm mode.
func DialAMQP(ctx context.Context, cfg AMQPConfig, shuffleID string) (*AMQPWriter, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ connection: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	closer := func() error {
		var result *multierror.Error
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			result = multierror.Append(result, err)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}

	exchangeType := cfg.ExchangeType
	if exchangeType == "" {
		exchangeType = amqp.ExchangeDirect
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeType, true, false, false, false, nil); err != nil {
		_ = closer()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = closer()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, cfg.ConfirmBuffer))

	w := NewAMQPWriter(ch, confirms, cfg.Exchange, shuffleID, cfg.ConfirmTimeout)
	w.closer = closer
	return w, nil
}

func (w *AMQPWriter) Write(ctx context.Context, partitionID int, p []byte) error {
	// Confirms that already arrived are taken here so the notification
	// buffer never fills up during a long write.
	w.collect()

	err := w.pub.PublishWithContext(ctx, w.exchange, strconv.Itoa(partitionID), false, false, amqp.Publishing{
		ContentType:  objectContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers: amqp.Table{
			"shuffle_id":   w.shuffleID,
			"partition_id": int64(partitionID),
		},
		Body: p,
	})
	if err != nil {
		return fmt.Errorf("publish partition %d: %w", partitionID, err)
	}
	w.pending++
	writeBytes.Add(ctx, int64(len(p)), metric.WithAttributes(attribute.String("backend", BackendAMQP)))
	return nil
}

func (w *AMQPWriter) collect() {
	for w.pending > 0 {
		select {
		case c, ok := <-w.confirms:
			if !ok {
				return
			}
			w.record(c)
		default:
			return
		}
	}
}

func (w *AMQPWriter) record(c amqp.Confirmation) {
	w.pending--
	if !c.Ack {
		w.nacks++
	}
}

// Flush waits for the confirmation of every publish.
func (w *AMQPWriter) Flush(ctx context.Context) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	for w.pending > 0 {
		select {
		case c, ok := <-w.confirms:
			if !ok {
				return fmt.Errorf("%w with %d publishes unconfirmed", ErrConfirmsClosed, w.pending)
			}
			w.record(c)
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d confirms: %w", w.pending, ctx.Err())
		}
	}
	if w.nacks > 0 {
		nackCount.Add(ctx, int64(w.nacks))
		n := w.nacks
		w.nacks = 0
		return fmt.Errorf("%w: %d messages", ErrNacked, n)
	}
	return nil
}

// Close closes the channel and connection opened by DialAMQP.
func (w *AMQPWriter) Close() error {
	if w.closer == nil {
		return nil
	}
	err := w.closer()
	w.closer = nil
	return err
}
