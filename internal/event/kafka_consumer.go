package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultPollWindow = 50 * time.Millisecond

// messageReader is the part of *kafka.Reader the consumer relies on.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConsumer struct {
	reader     messageReader
	brokers    []string
	pollWindow time.Duration
}

func NewKafkaConsumer(ctx context.Context, brokers []string, topic, groupID string) (*KafkaConsumer, error) {
	if err := pingBrokers(ctx, brokers); err != nil {
		return nil, err
	}

	rCfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10mb
		MaxWait:  defaultPollWindow,
		// A new group starts from the oldest retained vote, the tally
		// store is idempotent so replaying history is safe
		StartOffset: kafka.FirstOffset,
		// Offsets are committed explicitly, one per acked vote
		CommitInterval: 0,
	}
	r := kafka.NewReader(rCfg)

	return &KafkaConsumer{reader: r, brokers: brokers, pollWindow: defaultPollWindow}, nil
}

// Pop waits at most one poll window for the next message. Kafka keeps the
// message until its offset is committed by Ack.
func (kc *KafkaConsumer) Pop(ctx context.Context) (*Delivery, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, kc.pollWindow)
	defer cancel()

	msg, err := kc.reader.FetchMessage(fetchCtx)
	if err != nil {
		// Our own poll window ran out, the partition is just empty
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching message from kafka: %w", err)
	}

	return NewDelivery(msg.Value, func(ctx context.Context) error {
		if err := kc.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("error committing kafka offset: %w", err)
		}
		return nil
	}), nil
}

func (kc *KafkaConsumer) Ping(ctx context.Context) error {
	return pingBrokers(ctx, kc.brokers)
}

func (kc *KafkaConsumer) Close() error {
	if err := kc.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}

// pingBrokers succeeds as soon as one broker accepts a connection.
func pingBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	var errs []error
	for _, b := range brokers {
		c, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.Close()
		return nil
	}
	return fmt.Errorf("error connecting to kafka: %w", errors.Join(errs...))
}

// DialKafka returns a dial function for a connection manager. A new reader
// resumes from the group's last committed offset.
func DialKafka(brokers []string, topic, groupID string) func(ctx context.Context) (VoteConsumer, error) {
	return func(ctx context.Context) (VoteConsumer, error) {
		kc, err := NewKafkaConsumer(ctx, brokers, topic, groupID)
		if err != nil {
			return nil, err
		}
		return kc, nil
	}
}
