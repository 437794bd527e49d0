package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planloom/planloom/pkg/models"
)

// notifyLimit keeps NOTIFY payloads under PostgreSQL's 8000-byte cap, with
// headroom for protocol overhead.
const notifyLimit = 7900

// PostgresLog is the durable EventLog. Each append inserts into the events
// table and fires pg_notify in the same transaction, so subscribers never
// see an event that was not committed.
type PostgresLog struct {
	db *sql.DB
}

var _ EventLog = (*PostgresLog)(nil)

// NewPostgresLog creates an event log over the database client's pool.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Append persists the event and broadcasts it to the goal channel and the
// global goals channel. pg_notify is transactional, held until COMMIT.
func (l *PostgresLog) Append(ctx context.Context, goalID, taskID string, kind models.EventKind, payload map[string]any) (*models.Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	event := &models.Event{
		GoalID:  goalID,
		TaskID:  taskID,
		Kind:    kind,
		Payload: payload,
	}

	var task sql.NullString
	if taskID != "" {
		task = sql.NullString{String: taskID, Valid: true}
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (goal_id, task_id, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING seq, created_at`,
		goalID, task, string(kind), payloadJSON, time.Now(),
	).Scan(&event.Seq, &event.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := notifyJSON(event)
	if err != nil {
		return nil, err
	}
	for _, channel := range []string{GoalChannel(goalID), GlobalGoalsChannel} {
		if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
			return nil, fmt.Errorf("pg_notify failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return event, nil
}

// Replay returns the goal's committed events after the given sequence.
func (l *PostgresLog) Replay(ctx context.Context, goalID string, afterSeq int64) ([]*models.Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT seq, goal_id, task_id, kind, payload, created_at
		 FROM events WHERE goal_id = $1 AND seq > $2 ORDER BY seq`,
		goalID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var task sql.NullString
		var payloadJSON []byte
		if err := rows.Scan(&event.Seq, &event.GoalID, &task, &event.Kind, &payloadJSON, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.TaskID = task.String
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// notifyJSON marshals the event for NOTIFY delivery. Oversized payloads are
// reduced to a routing envelope; subscribers fetch the full event by seq.
func notifyJSON(event *models.Event) (string, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal NOTIFY payload: %w", err)
	}
	if len(raw) <= notifyLimit {
		return string(raw), nil
	}

	truncated, err := json.Marshal(map[string]any{
		"seq":       event.Seq,
		"goal_id":   event.GoalID,
		"task_id":   event.TaskID,
		"kind":      event.Kind,
		"truncated": true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated NOTIFY payload: %w", err)
	}
	return string(truncated), nil
}
