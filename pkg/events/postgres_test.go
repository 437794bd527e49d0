package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/planloom/planloom/pkg/database"
	"github.com/planloom/planloom/pkg/models"
)

// newPostgresLog provisions a migrated database and returns a log plus the
// connection string for LISTEN tests. CI supplies CI_DATABASE_URL; local
// runs use testcontainers.
func newPostgresLog(t *testing.T) (*PostgresLog, string) {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := pgContainer.Terminate(ctx); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.RunMigrations(ctx, db, "test"))

	_, err = db.ExecContext(ctx, `TRUNCATE goals, tasks, events`)
	require.NoError(t, err)

	return NewPostgresLog(db), connStr
}

func TestPostgresLog_AppendAndReplay(t *testing.T) {
	log, _ := newPostgresLog(t)
	ctx := context.Background()

	created, err := log.Append(ctx, "goal-1", "", models.EventGoalCreated, map[string]any{"title": "demo"})
	require.NoError(t, err)
	assert.Positive(t, created.Seq)
	assert.False(t, created.Timestamp.IsZero())

	started, err := log.Append(ctx, "goal-1", "task-1", models.EventTaskStarted, nil)
	require.NoError(t, err)
	assert.Greater(t, started.Seq, created.Seq)

	_, err = log.Append(ctx, "goal-2", "", models.EventGoalCreated, nil)
	require.NoError(t, err)

	replayed, err := log.Replay(ctx, "goal-1", 0)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, "demo", replayed[0].Payload["title"])
	assert.Equal(t, "task-1", replayed[1].TaskID)

	tail, err := log.Replay(ctx, "goal-1", created.Seq)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, started.Seq, tail[0].Seq)
}

func TestPostgresLog_ListenerReceivesCommittedEvents(t *testing.T) {
	log, connStr := newPostgresLog(t)
	ctx := context.Background()

	fanout := NewBroadcaster()
	listener := NewListener(connStr, fanout)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { listener.Stop(context.Background()) })

	channel := GoalChannel("goal-live")
	require.NoError(t, listener.Subscribe(ctx, channel))
	ch, cancel := fanout.Subscribe(channel, 8)
	defer cancel()

	appended, err := log.Append(ctx, "goal-live", "task-1", models.EventTaskCompleted, map[string]any{"result": "ok"})
	require.NoError(t, err)

	select {
	case raw := <-ch:
		var event models.Event
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, appended.Seq, event.Seq)
		assert.Equal(t, models.EventTaskCompleted, event.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestPostgresLog_OversizedPayloadTruncatesNotify(t *testing.T) {
	log, connStr := newPostgresLog(t)
	ctx := context.Background()

	fanout := NewBroadcaster()
	listener := NewListener(connStr, fanout)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { listener.Stop(context.Background()) })

	channel := GoalChannel("goal-big")
	require.NoError(t, listener.Subscribe(ctx, channel))
	ch, cancel := fanout.Subscribe(channel, 8)
	defer cancel()

	big := make([]byte, 16000)
	for i := range big {
		big[i] = 'x'
	}
	appended, err := log.Append(ctx, "goal-big", "", models.EventTaskCompleted, map[string]any{"blob": string(big)})
	require.NoError(t, err)

	select {
	case raw := <-ch:
		var envelope map[string]any
		require.NoError(t, json.Unmarshal(raw, &envelope))
		assert.Equal(t, true, envelope["truncated"])
		assert.EqualValues(t, appended.Seq, envelope["seq"])
	case <-time.After(5 * time.Second):
		t.Fatal("notification not received")
	}

	// The full payload is still in the log for catchup by seq.
	replayed, err := log.Replay(ctx, "goal-big", appended.Seq-1)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.Len(t, replayed[0].Payload["blob"], 16000)
}
