// Package trainer implements the Trainer role: joins a round
// topic, waits for an assignment, fetches its assigned dataset chunk(s) and
// the model artifact over signed URLs, executes the model, uploads the
// resulting weights, and submits the weights hash to the ledger. Model
// execution runs in-process for WASM artifacts and as an external process
// otherwise.
package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fedlearn-node/internal/ledger"
	"fedlearn-node/internal/overlay"
	"fedlearn-node/internal/roundstate"
	"fedlearn-node/internal/wire"
)

// ObjectStore is the subset of *objectstore.Client a trainer needs: content
// addressing its finished weights. Narrowed for testability, matching the
// same pattern used by the client role.
type ObjectStore interface {
	Upload(ctx context.Context, payload []byte) (string, error)
}

// Phase is a trainer's per-topic lifecycle state. A trainer may
// be Joined to several topics at once, one per round it participates in;
// Working/Submitted are per-topic substates.
type Phase string

const (
	PhaseJoined    Phase = "Joined"
	PhaseWorking   Phase = "Working"
	PhaseSubmitted Phase = "Submitted"
	PhaseIdle      Phase = "Idle"
)

type topicState struct {
	Phase        Phase
	CurrentChunk uint32
	done         map[uint32]struct{} // chunks already submitted, for Assign-replay idempotence
}

// Trainer tracks the lifecycle of every round topic this node has joined.
type Trainer struct {
	PeerID  string
	Address string // this trainer's ledger-signing address

	overlay           *overlay.Node
	ledger            ledger.Ledger
	store             ObjectStore
	trainerExecutable string
	httpClient        *http.Client
	selectExecutor    func(modelURL, trainerExecutable string) Executor

	mu     sync.Mutex
	topics map[string]*topicState
}

// New builds a Trainer around its collaborators. trainerExecutable is the
// external model-runner invoked for non-WASM model artifacts (env
// TRAINER_EXECUTABLE); it may be empty if only WASM models are expected.
func New(ov *overlay.Node, led ledger.Ledger, store ObjectStore, address, trainerExecutable string) *Trainer {
	return &Trainer{
		PeerID:            ov.ID().String(),
		Address:           address,
		overlay:           ov,
		ledger:            led,
		store:             store,
		trainerExecutable: trainerExecutable,
		httpClient:        &http.Client{Timeout: 2 * time.Minute},
		selectExecutor:    SelectExecutor,
		topics:            make(map[string]*topicState),
	}
}

// Join implements Idle -> Joined(topic): subscribes to the round topic and
// announces this trainer's role and ledger address on the discovery topic
// so the client can later route a WeightsSubmitted event back to this peer.
func (tr *Trainer) Join(taskID uint64, topic string) error {
	tr.mu.Lock()
	if _, ok := tr.topics[topic]; ok {
		tr.mu.Unlock()
		return nil
	}
	tr.topics[topic] = &topicState{Phase: PhaseJoined, done: make(map[uint32]struct{})}
	tr.mu.Unlock()

	msgs, err := tr.overlay.Subscribe(topic)
	if err != nil {
		return fmt.Errorf("trainer: subscribe topic %s: %w", topic, err)
	}
	go tr.consumeRoundTopic(taskID, topic, msgs)

	raw, err := wire.Encode(wire.TagAnnounceRole, tr.PeerID, taskID, wire.AnnounceRolePayload{
		Role: "Trainer", Topics: []string{topic}, Address: tr.Address,
	})
	if err != nil {
		return err
	}
	return tr.overlay.Publish(overlay.DiscoveryTag, raw)
}

func (tr *Trainer) consumeRoundTopic(taskID uint64, topic string, msgs <-chan overlay.Message) {
	for msg := range msgs {
		env, err := wire.Decode(msg.Data)
		if err != nil {
			logrus.Debugf("trainer: dropping malformed round message on %s: %v", topic, err)
			continue
		}
		if env.Tag != wire.TagAssign {
			continue // SubmitAck/AnnounceRole on this topic require no trainer action
		}
		var payload wire.AssignPayload
		if err := json.Unmarshal(env.Body, &payload); err != nil {
			logrus.Debugf("trainer: dropping malformed Assign payload: %v", err)
			continue
		}
		tr.handleAssign(context.Background(), taskID, topic, payload)
	}
}

// handleAssign implements Joined -> Working -> Submitted -> Idle: resolves
// this trainer's own assigned chunks and processes them sequentially (spec
// §4.2). A retransmitted Assign with chunks already submitted is a no-op
// idempotence requirement.
func (tr *Trainer) handleAssign(ctx context.Context, taskID uint64, topic string, payload wire.AssignPayload) {
	var mine []uint32
	for _, a := range payload.Assignments {
		if a.TrainerPeerID == tr.PeerID {
			mine = append(mine, a.ChunkIdx)
		}
	}
	if len(mine) == 0 {
		return
	}

	tr.mu.Lock()
	st, ok := tr.topics[topic]
	if !ok {
		st = &topicState{Phase: PhaseJoined, done: make(map[uint32]struct{})}
		tr.topics[topic] = st
	}
	pending := make([]uint32, 0, len(mine))
	for _, idx := range mine {
		if _, done := st.done[idx]; !done {
			pending = append(pending, idx)
		}
	}
	if len(pending) == 0 {
		tr.mu.Unlock()
		return // every assigned chunk already submitted; replay is a no-op
	}
	st.Phase = PhaseWorking
	tr.mu.Unlock()

	task, err := tr.ledger.GetTask(ctx, taskID)
	if err != nil {
		logrus.Errorf("trainer: fetch task %d for manifest validation: %v", taskID, err)
		return
	}
	manifestBody, err := tr.fetch(ctx, payload.ManifestSignedURL)
	if err != nil {
		logrus.Errorf("trainer: fetch manifest for task %d: %v", taskID, err)
		return
	}
	manifest, err := roundstate.ParseManifest(string(manifestBody), task.TotalChunks)
	if err != nil {
		logrus.Errorf("trainer: parse manifest for task %d: %v", taskID, err)
		return
	}
	modelBytes, err := tr.fetch(ctx, payload.ModelSignedURL)
	if err != nil {
		logrus.Errorf("trainer: fetch model for task %d: %v", taskID, err)
		return
	}
	executor := tr.selectExecutor(payload.ModelSignedURL, tr.trainerExecutable)

	for _, chunkIdx := range pending {
		if err := tr.processChunk(ctx, taskID, topic, chunkIdx, manifest, modelBytes, executor); err != nil {
			logrus.Errorf("trainer: chunk %d of task %d: %v", chunkIdx, taskID, err)
			tr.mu.Lock()
			st.Phase = PhaseJoined
			tr.mu.Unlock()
			return
		}
	}

	tr.mu.Lock()
	st.Phase = PhaseIdle
	tr.mu.Unlock()
}

func (tr *Trainer) processChunk(ctx context.Context, taskID uint64, topic string, chunkIdx uint32, manifest roundstate.DatasetManifest, modelBytes []byte, executor Executor) error {
	tr.mu.Lock()
	st := tr.topics[topic]
	st.CurrentChunk = chunkIdx
	tr.mu.Unlock()

	chunkURL, err := manifest.URLFor(chunkIdx)
	if err != nil {
		return fmt.Errorf("resolve chunk url: %w", err)
	}
	chunkBytes, err := tr.fetch(ctx, chunkURL)
	if err != nil {
		return fmt.Errorf("fetch chunk: %w", err)
	}

	weights, err := executor.Execute(ctx, modelBytes, chunkBytes)
	if err != nil {
		return fmt.Errorf("execute model: %w", err)
	}

	weightsHash, err := tr.store.Upload(ctx, weights)
	if err != nil {
		return fmt.Errorf("upload weights: %w", err)
	}

	if err := tr.ledger.SubmitWeights(ctx, taskID, weightsHash); err != nil {
		return fmt.Errorf("submit weights: %w", err)
	}

	tr.mu.Lock()
	st.Phase = PhaseSubmitted
	st.done[chunkIdx] = struct{}{}
	tr.mu.Unlock()

	logRaw, err := wire.Encode(wire.TagLog, tr.PeerID, taskID, wire.LogPayload{
		Text: fmt.Sprintf("submitted chunk %d weightsHash=%s", chunkIdx, weightsHash),
	})
	if err == nil {
		_ = tr.overlay.Publish(topic, logRaw)
	}
	return nil
}

func (tr *Trainer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := tr.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// Status returns a snapshot safe to expose over HTTP: one entry per joined
// topic with its current phase and in-flight chunk.
func (tr *Trainer) Status() map[string]any {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	topics := make(map[string]any, len(tr.topics))
	for topic, st := range tr.topics {
		topics[topic] = map[string]any{"phase": string(st.Phase), "chunk": st.CurrentChunk}
	}
	return map[string]any{"status": "running", "topics": topics}
}
