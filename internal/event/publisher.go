package event

import (
	"context"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/model"
)

type VotePublisher interface {
	Publish(ctx context.Context, vote model.Vote, key string) error
	Close() error
}
