package ledger

import (
	"context"
	"testing"
	"time"

	"fedlearn-node/internal/roundstate"
)

func TestFakeLedgerCompletesTaskOnLastSubmission(t *testing.T) {
	f := NewFake()
	f.SeedTask(roundstate.Task{TaskID: 1, TotalChunks: 2, RemainingChunks: 2, Exists: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := f.ObserveEvents(ctx, 1)
	if err != nil {
		t.Fatalf("ObserveEvents: %v", err)
	}

	if err := f.SubmitWeights(ctx, 1, "hash-a"); err != nil {
		t.Fatalf("SubmitWeights 1: %v", err)
	}
	if err := f.SubmitWeights(ctx, 1, "hash-b"); err != nil {
		t.Fatalf("SubmitWeights 2: %v", err)
	}

	var kinds []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if kinds[0] != "WeightsSubmitted" || kinds[1] != "WeightsSubmitted" || kinds[2] != "TaskCompleted" {
		t.Fatalf("unexpected event sequence: %v", kinds)
	}

	task, err := f.GetTask(ctx, 1)
	if err == nil || task.Exists {
		t.Fatalf("expected task to no longer exist after completion")
	}
}
