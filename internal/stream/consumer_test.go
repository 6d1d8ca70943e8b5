package stream_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/stream"
)

func rawPushEvent(id string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "PushEvent",
		"actor": {"login": "octocat"},
		"repo": {"name": "acme/api"},
		"created_at": "2026-03-04T12:00:00Z",
		"payload": {"ref": "refs/heads/dev", "size": 1, "distinct_size": 1,
			"commits": [{"sha": "abc", "message": "routine change"}]}
	}`, id)
}

func TestConsumerProcessesIngestedEvents(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	processor, _ := newTestProcessor(t, st)
	consumer := stream.NewConsumer(st, processor, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, st.Client().RPush(ctx, stream.IngestKey,
		rawPushEvent("1"), rawPushEvent("2")).Err())

	errCh := make(chan error, 1)

	go func() { errCh <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return processor.Stats().EventsProcessed == 2
	}, 10*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}

func TestConsumerSkipsUndecodableEvents(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	processor, _ := newTestProcessor(t, st)
	consumer := stream.NewConsumer(st, processor, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, st.Client().RPush(ctx, stream.IngestKey,
		"{not json", rawPushEvent("1")).Err())

	errCh := make(chan error, 1)

	go func() { errCh <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return processor.Stats().EventsProcessed == 1
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	<-errCh

	// The bad value was consumed, not left to spin on.
	length, err := st.Client().LLen(context.Background(), stream.IngestKey).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}
