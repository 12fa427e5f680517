package event

import (
	"context"
)

// Delivery is one payload taken from the queue. It stays owned by the
// queue until it is acked, so an unacked delivery is seen again after a
// restart.
type Delivery struct {
	Payload []byte
	ack     func(ctx context.Context) error
}

func NewDelivery(payload []byte, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{Payload: payload, ack: ack}
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

type VoteConsumer interface {
	// Pop takes the next pending payload without blocking. It returns
	// nil, nil when the queue is empty.
	Pop(ctx context.Context) (*Delivery, error)
	Ping(ctx context.Context) error
	Close() error
}
