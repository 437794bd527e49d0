// Package events records the append-only per-goal event history and fans
// live events out to in-process subscribers. The durable implementation
// rides PostgreSQL NOTIFY so every replica sees every event.
package events

import (
	"context"
	"regexp"

	"github.com/planloom/planloom/pkg/models"
)

// EventLog is the append-only record of goal history. Appends are atomic
// with their notification; Replay returns a consistent prefix of the log.
type EventLog interface {
	// Append records one event and returns it with its sequence number set.
	Append(ctx context.Context, goalID, taskID string, kind models.EventKind, payload map[string]any) (*models.Event, error)

	// Replay returns the goal's events with Seq greater than afterSeq, in
	// sequence order. afterSeq 0 replays from the beginning.
	Replay(ctx context.Context, goalID string, afterSeq int64) ([]*models.Event, error)
}

// GlobalGoalsChannel carries every goal's events for list views.
const GlobalGoalsChannel = "planloom_goals"

var channelSafe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// GoalChannel returns the NOTIFY channel name for a goal's events. Channel
// names must be valid PostgreSQL identifiers, so unsafe runes are stripped.
func GoalChannel(goalID string) string {
	return "planloom_goal_" + channelSafe.ReplaceAllString(goalID, "_")
}
