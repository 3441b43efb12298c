package worker

import (
	"context"
	"testing"
	"time"

	appkafka "example.com/postfeed/internal/broker"
	"example.com/postfeed/internal/cache"
	"github.com/segmentio/kafka-go"
)

// TestWorker_GracefulShutdown ensures that the worker:
// 1. Processes queued events from Kafka.
// 2. Invalidates the cache for remote events only.
// 3. Shuts down gracefully when the context is canceled.
func TestWorker_GracefulShutdown(t *testing.T) {
	pc := cache.New(nil)

	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{
			eventMessage(t, appkafka.ContentEvent{Type: appkafka.PostCreated, PostID: 1, Origin: "node-b"}),
			{Value: nil},
			eventMessage(t, appkafka.ContentEvent{Type: appkafka.PostCreated, PostID: 2, Origin: "node-a"}),
			eventMessage(t, appkafka.ContentEvent{Type: appkafka.PostDeleted, PostID: 1, Origin: "node-c"}),
		},
	}

	// Context with timeout to simulate graceful shutdown signal
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	worker := New(pc, mockKafka, "node-a", 2, 4)

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
		if worker.Applied() != 2 || worker.Skipped() != 1 {
			t.Fatalf("unexpected counters: applied=%d skipped=%d", worker.Applied(), worker.Skipped())
		}
		if pc.Stats().Invalidations != 2 {
			t.Fatalf("expected 2 invalidations, got %d", pc.Stats().Invalidations)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not shutdown gracefully in time")
	}

	if err := worker.Close(); err != nil {
		t.Fatalf("worker Close() error: %v", err)
	}
	if !mockKafka.Closed {
		t.Fatal("expected Kafka reader to be closed")
	}
}
