package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/planloom/planloom/pkg/models"
)

// MemoryLog is the in-memory EventLog used by tests and single-process
// runs. Events are broadcast to an optional Broadcaster on append.
type MemoryLog struct {
	mu     sync.Mutex
	seq    int64
	byGoal map[string][]*models.Event
	fanout *Broadcaster
	now    func() time.Time
}

var _ EventLog = (*MemoryLog)(nil)

// NewMemoryLog creates an empty in-memory event log. fanout may be nil.
func NewMemoryLog(fanout *Broadcaster) *MemoryLog {
	return &MemoryLog{
		byGoal: make(map[string][]*models.Event),
		fanout: fanout,
		now:    time.Now,
	}
}

// Append records one event under the goal's history.
func (l *MemoryLog) Append(_ context.Context, goalID, taskID string, kind models.EventKind, payload map[string]any) (*models.Event, error) {
	l.mu.Lock()
	l.seq++
	event := &models.Event{
		Seq:       l.seq,
		Timestamp: l.now(),
		GoalID:    goalID,
		TaskID:    taskID,
		Kind:      kind,
		Payload:   payload,
	}
	l.byGoal[goalID] = append(l.byGoal[goalID], event)
	l.mu.Unlock()

	if l.fanout != nil {
		if raw, err := json.Marshal(event); err == nil {
			l.fanout.Broadcast(GoalChannel(goalID), raw)
			l.fanout.Broadcast(GlobalGoalsChannel, raw)
		}
	}
	return event, nil
}

// Replay returns the goal's events after the given sequence number.
func (l *MemoryLog) Replay(_ context.Context, goalID string, afterSeq int64) ([]*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.Event
	for _, event := range l.byGoal[goalID] {
		if event.Seq > afterSeq {
			out = append(out, event)
		}
	}
	return out, nil
}
