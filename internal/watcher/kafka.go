package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	kafkaLib "github.com/segmentio/kafka-go"

	"custody-ledger/internal/observability"
)

const transportKafka = "kafka"

// MessageReader is the subset of *kafka.Reader used by KafkaFeed.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkaLib.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkaLib.Message) error
	Close() error
}

var _ MessageReader = (*kafkaLib.Reader)(nil)

// NewKafkaReader creates a consumer-group reader for the watcher topic.
// Offsets are committed explicitly, so a crash replays unacknowledged
// messages; the reconciler makes replays harmless.
func NewKafkaReader(brokers []string, topic, groupID string) *kafkaLib.Reader {
	return kafkaLib.NewReader(kafkaLib.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafkaLib.FirstOffset,
	})
}

// KafkaFeed applies watcher messages from a Kafka topic. A message offset
// is committed only after the handler has accepted or permanently
// rejected it.
type KafkaFeed struct {
	reader  MessageReader
	handler Handler
	retry   Backoff
	logger  *log.Logger
}

// NewKafkaFeed creates a feed over reader.
func NewKafkaFeed(reader MessageReader, handler Handler, retry *Backoff, logger *log.Logger) *KafkaFeed {
	b := DefaultBackoff()
	if retry != nil {
		b = *retry
	}
	if logger == nil {
		logger = log.Default()
	}
	return &KafkaFeed{reader: reader, handler: handler, retry: b, logger: logger}
}

// Run consumes until ctx is cancelled. Fetch errors are retried with
// backoff; the reader is closed on return.
func (f *KafkaFeed) Run(ctx context.Context) error {
	defer f.reader.Close()

	delay := f.retry.Initial
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observability.RecordWatcherReconnect(transportKafka)
			f.logger.Printf("kafka fetch failed, retrying in %v: %v", delay, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = f.retry.next(delay)
			continue
		}
		delay = f.retry.Initial

		if err := f.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle applies msg and commits its offset.
func (f *KafkaFeed) handle(ctx context.Context, msg kafkaLib.Message) error {
	if err := process(ctx, f.handler, msg.Value, transportKafka, f.retry, f.logger); err != nil {
		return err
	}

	delay := f.retry.Initial
	for {
		err := f.reader.CommitMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
		f.logger.Printf("commit offset %d failed, retrying in %v: %v", msg.Offset, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = f.retry.next(delay)
	}
}
