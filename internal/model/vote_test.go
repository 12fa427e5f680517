package model

import (
	"errors"
	"testing"
)

func TestParseVote(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		want      Vote
		malformed bool
	}{
		{
			name:    "valid vote",
			payload: `{"voter_id":"3f2a","vote":"a"}`,
			want:    Vote{VoterID: "3f2a", Choice: "a"},
		},
		{
			name:    "extra fields are ignored",
			payload: `{"voter_id":"x1","vote":"b","ts":12}`,
			want:    Vote{VoterID: "x1", Choice: "b"},
		},
		{
			name:    "voter id whitespace is kept",
			payload: `{"voter_id":" v1 ","vote":" a "}`,
			want:    Vote{VoterID: " v1 ", Choice: "a"},
		},
		{
			name:      "blank voter id",
			payload:   `{"voter_id":"   ","vote":"a"}`,
			malformed: true,
		},
		{
			name:      "not json",
			payload:   `voter_id=x1&vote=a`,
			malformed: true,
		},
		{
			name:      "missing voter id",
			payload:   `{"vote":"a"}`,
			malformed: true,
		},
		{
			name:      "blank choice",
			payload:   `{"voter_id":"x1","vote":"  "}`,
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVote([]byte(tt.payload))
			if tt.malformed {
				if !errors.Is(err, ErrMalformedVote) {
					t.Fatalf("expected ErrMalformedVote, got %v", err)
				}
				var mErr *MalformedVoteError
				if !errors.As(err, &mErr) || mErr.Payload != tt.payload {
					t.Errorf("expected MalformedVoteError carrying the payload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestVoteEncodeMatchesQueueFormat(t *testing.T) {
	b, err := Vote{VoterID: "v1", Choice: "a"}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"voter_id":"v1","vote":"a"}` {
		t.Errorf("unexpected payload %s", b)
	}
}

func TestTallySnapshotSeedsChoices(t *testing.T) {
	s := NewTallySnapshot([]string{"a", "b"})
	if len(s) != 2 || s["a"] != 0 || s["b"] != 0 {
		t.Fatalf("expected {a:0 b:0}, got %v", s)
	}

	s.Merge(map[string]int{"a": 2, "c": 1})
	if s["a"] != 2 || s["b"] != 0 || s["c"] != 1 {
		t.Errorf("unexpected merge result %v", s)
	}
	if s.Total() != 3 {
		t.Errorf("expected total 3, got %d", s.Total())
	}
}
