package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloom/planloom/pkg/models"
)

func TestMemoryLogAppendAndReplay(t *testing.T) {
	log := NewMemoryLog(nil)
	ctx := context.Background()

	first, err := log.Append(ctx, "goal-1", "", models.EventGoalCreated, map[string]any{"title": "demo"})
	require.NoError(t, err)
	second, err := log.Append(ctx, "goal-1", "task-1", models.EventTaskCreated, nil)
	require.NoError(t, err)
	_, err = log.Append(ctx, "goal-2", "", models.EventGoalCreated, nil)
	require.NoError(t, err)

	assert.Less(t, first.Seq, second.Seq)

	replayed, err := log.Replay(ctx, "goal-1", 0)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, models.EventGoalCreated, replayed[0].Kind)
	assert.Equal(t, "task-1", replayed[1].TaskID)

	// Replay after a checkpoint returns the strict suffix.
	tail, err := log.Replay(ctx, "goal-1", first.Seq)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, second.Seq, tail[0].Seq)
}

func TestMemoryLogReplayIsPrefixStable(t *testing.T) {
	log := NewMemoryLog(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, "goal-1", "", models.EventTaskStarted, nil)
		require.NoError(t, err)
	}

	before, err := log.Replay(ctx, "goal-1", 0)
	require.NoError(t, err)

	_, err = log.Append(ctx, "goal-1", "", models.EventTaskCompleted, nil)
	require.NoError(t, err)

	after, err := log.Replay(ctx, "goal-1", 0)
	require.NoError(t, err)

	// Earlier replay is a strict prefix of the later one.
	require.Len(t, after, len(before)+1)
	for i := range before {
		assert.Equal(t, before[i].Seq, after[i].Seq)
		assert.Equal(t, before[i].Kind, after[i].Kind)
	}
}

func TestMemoryLogBroadcastsToSubscribers(t *testing.T) {
	fanout := NewBroadcaster()
	log := NewMemoryLog(fanout)

	ch, cancel := fanout.Subscribe(GoalChannel("goal-1"), 4)
	defer cancel()

	_, err := log.Append(context.Background(), "goal-1", "task-1", models.EventTaskStarted, nil)
	require.NoError(t, err)

	select {
	case raw := <-ch:
		var event models.Event
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, models.EventTaskStarted, event.Kind)
		assert.Equal(t, "task-1", event.TaskID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBroadcasterSlowSubscriberDoesNotBlock(t *testing.T) {
	fanout := NewBroadcaster()
	ch, cancel := fanout.Subscribe("ch", 1)
	defer cancel()

	fanout.Broadcast("ch", []byte("one"))
	fanout.Broadcast("ch", []byte("two")) // Dropped, buffer full

	assert.Equal(t, []byte("one"), <-ch)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %q", extra)
	default:
	}
}

func TestBroadcasterCancelRemovesSubscription(t *testing.T) {
	fanout := NewBroadcaster()
	_, cancel := fanout.Subscribe("ch", 1)
	require.Equal(t, 1, fanout.SubscriberCount("ch"))

	cancel()
	assert.Equal(t, 0, fanout.SubscriberCount("ch"))
	cancel() // Second cancel is a no-op
}

func TestGoalChannelSanitizes(t *testing.T) {
	assert.Equal(t, "planloom_goal_g_1", GoalChannel("g-1"))
	assert.Equal(t, "planloom_goal_abc_123", GoalChannel("abc 123"))
}
