package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

// Notification channels.
const (
	ChannelDecisions = "arcc_decisions"
)

// DecisionEvent is the payload announced on ChannelDecisions for every
// recorded audit decision.
type DecisionEvent struct {
	ID           uuid.UUID          `json:"id"`
	RunID        *uuid.UUID         `json:"run_id,omitempty"`
	DecisionType model.DecisionType `json:"decision_type"`
	Confidence   float64            `json:"confidence"`
}

// Notify sends a notification on the specified channel.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	_, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}

// DecisionListener receives DecisionEvents on a dedicated pool connection.
// It is not safe for concurrent use.
type DecisionListener struct {
	conn *pgxpool.Conn
}

// ListenDecisions holds a connection out of the pool and starts listening
// on ChannelDecisions. Decisions committed after it returns are delivered by
// Next. Close returns the connection.
func (db *DB) ListenDecisions(ctx context.Context) (*DecisionListener, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChannelDecisions}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("storage: listen %s: %w", ChannelDecisions, err)
	}
	return &DecisionListener{conn: conn}, nil
}

// Next blocks until a decision is announced or ctx ends.
func (l *DecisionListener) Next(ctx context.Context) (DecisionEvent, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("storage: wait for decision: %w", err)
	}
	var ev DecisionEvent
	if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
		return DecisionEvent{}, fmt.Errorf("storage: decode decision event: %w", err)
	}
	return ev, nil
}

// Close stops listening and returns the connection to the pool.
func (l *DecisionListener) Close() {
	// A connection broken by a canceled wait is discarded by the pool on release.
	_, _ = l.conn.Exec(context.Background(), "UNLISTEN *")
	l.conn.Release()
}
