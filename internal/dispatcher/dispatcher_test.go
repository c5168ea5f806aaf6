package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/pipeline"
	"github.com/JakeFAU/tech-intel-harvester/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin dequeuing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 2)}
	workers := []*worker.Worker{
		worker.New(worker.Deps{Queue: queue}, worker.Config{}, zap.NewNop()),
		worker.New(worker.Deps{Queue: queue}, worker.Config{}, zap.NewNop()),
	}
	dispatch := New(queue, workers)
	if dispatch.Workers() != 2 {
		t.Fatalf("expected 2 workers, got %d", dispatch.Workers())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-queue.started:
		case <-time.After(time.Second):
			t.Fatal("worker did not begin dequeuing")
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), pipeline.QueueItem{RunID: "run"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, pipeline.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (pipeline.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return pipeline.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, pipeline.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (pipeline.QueueItem, error) {
	return pipeline.QueueItem{}, q.err
}
