package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedVote is matched by every MalformedVoteError.
var ErrMalformedVote = errors.New("malformed vote")

// Vote is a single choice made by a voter. It only lives in the queue and
// in memory while it is being consumed.
type Vote struct {
	VoterID string `json:"voter_id"`
	Choice  string `json:"vote"`
}

// MalformedVoteError reports a queue payload that can never decode into a Vote.
type MalformedVoteError struct {
	Payload string
	Reason  string
	Err     error
}

func (e *MalformedVoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed vote %q: %s: %v", e.Payload, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed vote %q: %s", e.Payload, e.Reason)
}

func (e *MalformedVoteError) Unwrap() error { return e.Err }

func (e *MalformedVoteError) Is(target error) bool { return target == ErrMalformedVote }

// ParseVote decodes a queue payload. Both fields are required. The voter id
// is kept exactly as sent since it keys the votes table.
func ParseVote(payload []byte) (Vote, error) {
	var v Vote
	if err := json.Unmarshal(payload, &v); err != nil {
		return Vote{}, &MalformedVoteError{Payload: string(payload), Reason: "invalid json", Err: err}
	}

	v.Choice = strings.TrimSpace(v.Choice)
	if strings.TrimSpace(v.VoterID) == "" {
		return Vote{}, &MalformedVoteError{Payload: string(payload), Reason: "missing voter_id"}
	}
	if v.Choice == "" {
		return Vote{}, &MalformedVoteError{Payload: string(payload), Reason: "missing vote"}
	}

	return v, nil
}

// Encode is the wire form pushed onto the queue.
func (v Vote) Encode() ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vote: %w", err)
	}
	return b, nil
}
