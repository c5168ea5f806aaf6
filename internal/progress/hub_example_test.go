package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit demonstrates emitting account events and flushing via Close.
func ExampleHub_Emit() {
	var items int64
	sink := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			items += evt.Items
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for _, handle := range []string{"karpathy", "simonw"} {
		hub.Emit(Event{
			RunID:   runID,
			TS:      time.Unix(0, 0),
			Stage:   StageAccountDone,
			Handle:  handle,
			Outcome: "succeeded",
			Items:   3,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("items reported: %d\n", items)
	// Output:
	// items reported: 6
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
