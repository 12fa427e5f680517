package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/model"
)

const (
	schema = `
CREATE TABLE IF NOT EXISTS votes (
    id TEXT NOT NULL UNIQUE,
    vote TEXT NOT NULL
)`

	// Single statement, so two writers for the same voter cannot race
	// between a failed insert and the update.
	upsertVote = `
INSERT INTO votes (id, vote) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET vote = excluded.vote`

	countByChoice = `SELECT vote, COUNT(id) AS count FROM votes GROUP BY vote`

	keepAlive = `SELECT 1`
)

// SQLStore keeps the tally in the votes relation. It works with the
// "postgres" (lib/pq) and "sqlite" (modernc.org/sqlite) drivers; the caller
// imports the driver it needs.
type SQLStore struct {
	db     *sql.DB
	upsert string
}

// Open connects, verifies the connection and creates the schema. A store
// is only returned once it can serve queries.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if driver == "sqlite" {
		// One writer at a time, avoids SQLITE_BUSY between the consumer
		// and the keepalive
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &SQLStore{db: db, upsert: upsertVote}
	if driver == "sqlite" {
		// SQLite spells numbered parameters ?NNN
		s.upsert = strings.ReplaceAll(upsertVote, "$", "?")
	}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// EnsureSchema is safe to call multiple times.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &QueryError{Op: "failed to create schema", Err: err}
	}
	return nil
}

func (s *SQLStore) UpsertVote(ctx context.Context, vote model.Vote) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, vote.VoterID, vote.Choice); err != nil {
		return &QueryError{Op: "failed to upsert vote", Err: err}
	}
	return nil
}

func (s *SQLStore) CountByChoice(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, countByChoice)
	if err != nil {
		return nil, &QueryError{Op: "failed to count votes", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var choice string
		var n int
		if err := rows.Scan(&choice, &n); err != nil {
			return nil, &QueryError{Op: "failed to scan vote count", Err: err}
		}
		counts[choice] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Op: "failed to iterate vote counts", Err: err}
	}

	return counts, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, keepAlive); err != nil {
		return &QueryError{Op: "keepalive failed", Err: err}
	}
	return nil
}

func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("error closing database: %w", err)
	}
	return nil
}

// Dial returns a dial function for a connection manager.
func Dial(driver, dsn string) func(ctx context.Context) (VoteStore, error) {
	return func(ctx context.Context) (VoteStore, error) {
		s, err := Open(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
