package event

import (
	"context"
	"fmt"
	"time"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/model"
	"github.com/segmentio/kafka-go"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

/*
Balancer: &kafka.Hash{}: messages with the same key go to the same
partition. The key is the voter id, so every vote of one voter is consumed
in the order it was cast and last-write-wins in the store holds.

RequiredAcks: kafka.RequireAll: wait for every in-sync replica before the
vote counts as queued. The vote survives the leader going down right after
receipt.

Compression: kafka.Snappy: votes are small JSON documents, they compress
well and batches get cheaper on the brokers.
*/
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            5,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{writer: w}, nil
}

func (kp *KafkaPublisher) Publish(ctx context.Context, vote model.Vote, key string) error {
	vb, err := vote.Encode()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: vb,
	}

	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

func (kp *KafkaPublisher) Close() error {
	if err := kp.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
