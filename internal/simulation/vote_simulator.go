package simulation

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/event"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/model"
)

// Every revoteFrequency-th vote comes from a voter who already voted, to
// exercise last-write-wins downstream.
const revoteFrequency = 5

type Simulator struct {
	eventPublisher event.VotePublisher
	choices        []string
	voters         []string
	interval       time.Duration
	logger         *slog.Logger
	rnd            *rand.Rand
}

func New(ep event.VotePublisher, choices []string, voters int, interval time.Duration, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if voters <= 0 {
		voters = 1000
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ids := make([]string, voters)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	return &Simulator{
		eventPublisher: ep,
		choices:        choices,
		voters:         ids,
		interval:       interval,
		logger:         logger,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next simulated vote. revote is true when it replays the
// previous voter with a possibly different choice.
func (s *Simulator) Next(counter int, last model.Vote) (v model.Vote, revote bool) {
	choice := s.choices[s.rnd.Intn(len(s.choices))]
	if counter%revoteFrequency == 0 && last.VoterID != "" {
		return model.Vote{VoterID: last.VoterID, Choice: choice}, true
	}
	return model.Vote{VoterID: s.voters[s.rnd.Intn(len(s.voters))], Choice: choice}, false
}

func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var counter int
	var last model.Vote
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulator received shutdown signal")
			return nil

		case <-ticker.C:
			counter++
			v, revote := s.Next(counter, last)
			if revote {
				s.logger.Debug("generating a revote on purpose", "voter_id", v.VoterID)
			}
			last = v

			publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			s.logger.Info("generating vote", "voter_id", v.VoterID, "choice", v.Choice)
			if err := s.eventPublisher.Publish(publishCtx, v, v.VoterID); err != nil {
				s.logger.Error("failed to publish vote", "error", err)
			}
			cancel()
		}
	}
}
