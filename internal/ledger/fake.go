package ledger

import (
	"context"
	"fmt"
	"sync"

	"fedlearn-node/internal/roundstate"
)

// Fake is an in-memory Ledger used by client/trainer tests so they don't
// need a live JSON-RPC endpoint.
type Fake struct {
	mu     sync.Mutex
	tasks  map[uint64]roundstate.Task
	events map[uint64][]Event
	subs   map[uint64][]chan Event
	Logs   []string

	// Address is reported as the trainer of every WeightsSubmitted event,
	// standing in for the sender address the real contract records.
	Address string
}

// NewFake returns an empty Fake ledger.
func NewFake() *Fake {
	return &Fake{
		tasks:  make(map[uint64]roundstate.Task),
		events: make(map[uint64][]Event),
		subs:   make(map[uint64][]chan Event),
	}
}

// SeedTask installs a task record as if the contract had already created it.
func (f *Fake) SeedTask(task roundstate.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.TaskID] = task
}

func (f *Fake) GetTask(_ context.Context, taskID uint64) (roundstate.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || !task.Exists {
		return roundstate.Task{}, fmt.Errorf("fake ledger: task %d not found", taskID)
	}
	return task, nil
}

// SubmitWeights records a WeightsSubmitted event and decrements the fake
// task's remaining chunk count, emitting TaskCompleted at zero.
func (f *Fake) SubmitWeights(_ context.Context, taskID uint64, weightsHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok || !task.Exists {
		return fmt.Errorf("fake ledger: task %d not found", taskID)
	}
	task.RemainingChunks--
	ev := Event{Kind: "WeightsSubmitted", TaskID: taskID, Trainer: f.Address, WeightsHash: weightsHash, RemainingChunksAfter: task.RemainingChunks}
	f.events[taskID] = append(f.events[taskID], ev)
	f.broadcast(taskID, ev)

	if task.RemainingChunks == 0 {
		task.Exists = false
		completed := Event{Kind: "TaskCompleted", TaskID: taskID}
		f.events[taskID] = append(f.events[taskID], completed)
		f.broadcast(taskID, completed)
	}
	f.tasks[taskID] = task
	return nil
}

func (f *Fake) broadcast(taskID uint64, ev Event) {
	for _, ch := range f.subs[taskID] {
		ch <- ev
	}
}

// ObserveEvents replays already-recorded events, then streams new ones as
// SubmitWeights is called. Callers must drain the channel; it never closes
// on its own within the fake (tests cancel via context and stop reading).
func (f *Fake) ObserveEvents(ctx context.Context, taskID uint64) (<-chan Event, error) {
	f.mu.Lock()
	ch := make(chan Event, 16)
	for _, ev := range f.events[taskID] {
		ch <- ev
	}
	f.subs[taskID] = append(f.subs[taskID], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
	}()
	return ch, nil
}

func (f *Fake) PublishLog(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logs = append(f.Logs, message)
	return nil
}

var _ Ledger = (*Fake)(nil)
