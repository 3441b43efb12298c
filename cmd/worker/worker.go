package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	appkafka "example.com/postfeed/internal/broker"
	"example.com/postfeed/internal/logger"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

// Invalidator is the part of the page cache the listener drives.
type Invalidator interface {
	Invalidate()
}

// Worker consumes content events from other instances and invalidates the
// local page cache. Events carrying this instance's origin were already
// handled synchronously by the mutation and are skipped.
type Worker struct {
	cache        Invalidator
	reader       appkafka.KafkaReader
	origin       string
	workerCount  int
	jobQueueSize int

	applied atomic.Uint64
	skipped atomic.Uint64
}

// New creates a listener using pre-initialized dependencies.
func New(cache Invalidator, reader appkafka.KafkaReader, origin string, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = 1
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 16
	}
	return &Worker{
		cache:        cache,
		reader:       reader,
		origin:       origin,
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
	}
}

// Run starts message reading and processing. It returns after ctx is done
// and every processing goroutine has stopped.
func (w *Worker) Run(ctx context.Context) {
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.jobQueueSize <= 0 {
		w.jobQueueSize = 16
	}

	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" listeners with queue size "+fmt.Sprint(w.jobQueueSize))

	jobs := make(chan kafka.Message, w.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(ctx, jobs)
		}()
	}

	w.readLoop(ctx, jobs)

	close(jobs)
	wg.Wait()
	logg.Info("worker", "All listeners stopped gracefully")
}

// readLoop reads Kafka messages and pushes them into a job queue.
func (w *Worker) readLoop(ctx context.Context, jobs chan<- kafka.Message) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := w.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				logg.Error("worker", "Kafka read error, backing off", err)
				if !waitWithContext(ctx, backoff) {
					return
				}
				retry++
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				if !waitWithContext(ctx, 50*time.Millisecond) {
					return
				}
				continue
			}

			select {
			case jobs <- msg:
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				// A dropped event still has to take effect, so fall back to
				// invalidating inline.
				logg.Info("worker", "Queue full, invalidating inline")
				w.cache.Invalidate()
				w.applied.Add(1)
			}
		}
	}
}

// processLoop decodes events and applies them.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.handle(msg); err != nil {
				logg.Error("worker", "Invalid content event in Kafka message", err)
			}
		}
	}
}

// handle applies a single encoded event.
func (w *Worker) handle(msg kafka.Message) error {
	e, err := appkafka.DecodeEvent(msg)
	if err != nil {
		return err
	}
	if e.Origin != "" && e.Origin == w.origin {
		w.skipped.Add(1)
		return nil
	}
	w.cache.Invalidate()
	w.applied.Add(1)
	logg.Debug("worker", fmt.Sprintf("Page cache invalidated by remote %s", e.Type))
	return nil
}

// Applied returns how many remote events invalidated the cache.
func (w *Worker) Applied() uint64 { return w.applied.Load() }

// Skipped returns how many events were ignored as this instance's own.
func (w *Worker) Skipped() uint64 { return w.skipped.Load() }

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down the Kafka reader.
func (w *Worker) Close() error {
	logg.Info("worker", "Closing Kafka reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
		return err
	}
	return nil
}
