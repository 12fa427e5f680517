package store

import (
	"context"
	"fmt"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/model"
)

type VoteStore interface {
	EnsureSchema(ctx context.Context) error
	// UpsertVote records the voter's latest choice, one row per voter.
	UpsertVote(ctx context.Context, vote model.Vote) error
	// CountByChoice returns the number of voters per choice.
	CountByChoice(ctx context.Context) (map[string]int, error)
	// Ping is the keepalive used while the queue is idle.
	Ping(ctx context.Context) error
	Close() error
}

// QueryError is a failed statement on a connection that was otherwise
// believed healthy.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
