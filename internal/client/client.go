// Package client implements the Client role: originates a round, assembles
// trainers from the mesh, issues chunk assignments, and drives the round
// through to on-chain settlement.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"fedlearn-node/internal/ledger"
	"fedlearn-node/internal/overlay"
	"fedlearn-node/internal/roundstate"
	"fedlearn-node/internal/wire"
)

// ObjectStore is the subset of *objectstore.Client the client role needs:
// resolving a content hash to a fresh, time-limited download URL. A narrow
// interface here lets tests substitute a fake presigner instead of standing
// up a real S3-compatible endpoint.
type ObjectStore interface {
	PresignGet(contentHash string, ttl time.Duration) (string, error)
}

// Client drives one task's round to completion. A real deployment runs one
// Client process per funded task; the state machine itself only ever tracks
// a single in-flight Round at a time.
type Client struct {
	PeerID        string
	Address       string // this client's own ledger-signing address
	BootstrapAddr string // overlay multiaddr of the bootstrap, for the bootmesh command

	overlay *overlay.Node
	ledger  ledger.Ledger
	store   ObjectStore
	dedup   *wire.Dedup

	mu        sync.Mutex
	round     *roundstate.Round
	peerRoles map[peer.ID]string // populated from AnnounceRole on the discovery topic

	// peerByAddr translates a trainer's ledger-signing address (as reported
	// by a WeightsSubmitted event) back to the overlay peer it was assigned
	// to, since the contract event carries no peer id of its own. Populated
	// from the Address field trainers attach to their AnnounceRole.
	peerByAddr map[string]peer.ID
}

// New wires a Client around its collaborators and starts consuming the
// discovery topic for peer role announcements.
func New(ov *overlay.Node, led ledger.Ledger, store ObjectStore, address, bootstrapAddr string) (*Client, error) {
	c := &Client{
		PeerID:        ov.ID().String(),
		Address:       address,
		BootstrapAddr: bootstrapAddr,
		overlay:       ov,
		ledger:        led,
		store:         store,
		dedup:         wire.NewDedup(),
		peerRoles:     make(map[peer.ID]string),
		peerByAddr:    make(map[string]peer.ID),
	}

	msgs, err := ov.Subscribe(overlay.DiscoveryTag)
	if err != nil {
		return nil, err
	}
	go c.consumeDiscovery(msgs)

	return c, nil
}

func (c *Client) consumeDiscovery(msgs <-chan overlay.Message) {
	for msg := range msgs {
		env, err := wire.Decode(msg.Data)
		if err != nil || env.Tag != wire.TagAnnounceRole {
			continue
		}
		key := wire.Key(env.Tag, env.TaskID, 0, env.Origin)
		if c.dedup.Seen(key) {
			continue
		}
		var payload wire.AnnounceRolePayload
		if err := json.Unmarshal(env.Body, &payload); err != nil {
			continue
		}
		c.mu.Lock()
		c.recordAnnounce(msg.From, payload)
		c.mu.Unlock()
	}
}

func (c *Client) recordAnnounce(from peer.ID, payload wire.AnnounceRolePayload) {
	c.peerRoles[from] = payload.Role
	if payload.Address != "" {
		c.peerByAddr[strings.ToLower(payload.Address)] = from
	}
	if c.round != nil && c.round.Phase == roundstate.PhaseAssembling && payload.Role == "Trainer" {
		c.round.AddCandidate(from)
	}
}

// Advertize implements Idle -> Advertising: subscribes to the
// round topic, announces the task on the discovery topic, and transitions
// into Assembling as soon as the round-topic subscription is in place,
// without waiting for any round-topic message.
func (c *Client) Advertize(ctx context.Context, taskID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, err := c.ledger.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("client: advertize task %d: %w", taskID, err)
	}

	topic := fmt.Sprintf("%d", taskID)
	round := roundstate.NewRound(task)
	round.Advertise(topic)
	c.round = round

	roundMsgs, err := c.overlay.Subscribe(topic)
	if err != nil {
		return fmt.Errorf("client: subscribe round topic: %w", err)
	}
	go c.consumeRoundTopic(roundMsgs)

	raw, err := wire.Encode(wire.TagAnnounceRole, c.PeerID, taskID, wire.AnnounceRolePayload{
		Role: "Client", Topics: []string{topic}, Address: c.Address,
	})
	if err != nil {
		return err
	}
	if err := c.overlay.Publish(overlay.DiscoveryTag, raw); err != nil {
		return fmt.Errorf("client: announce role: %w", err)
	}

	adv, err := wire.Encode(wire.TagAdvertise, c.PeerID, taskID, wire.AdvertisePayload{})
	if err != nil {
		return err
	}
	if err := c.overlay.Publish(topic, adv); err != nil {
		logrus.Warnf("client: advertise publish on %s failed: %v", topic, err)
	}

	round.Assemble() // Advertising -> Assembling is automatic once subscribed

	if err := c.ledger.PublishLog(ctx, fmt.Sprintf("client %s advertised task %d on topic %s", c.PeerID, taskID, topic)); err != nil {
		logrus.Warnf("client: publish advertise log entry: %v", err)
	}
	return nil
}

func (c *Client) consumeRoundTopic(msgs <-chan overlay.Message) {
	for msg := range msgs {
		env, err := wire.Decode(msg.Data)
		if err != nil {
			logrus.Debugf("client: dropping malformed round message: %v", err)
			continue
		}
		if env.Tag != wire.TagAnnounceRole {
			continue // Assign/SubmitAck on this topic are this client's own echoes
		}
		key := wire.Key(env.Tag, env.TaskID, 0, env.Origin)
		if c.dedup.Seen(key) {
			continue
		}
		var payload wire.AnnounceRolePayload
		if err := json.Unmarshal(env.Body, &payload); err != nil {
			continue
		}
		c.mu.Lock()
		c.recordAnnounce(msg.From, payload)
		c.mu.Unlock()
	}
}

// Train implements Assembling -> Training: freezes the
// candidate set and distributes the assignment list.
func (c *Client) Train(ctx context.Context, taskID uint64, modelHash, manifestURL string, sessionPubKey []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.round == nil || c.round.Task.TaskID != taskID {
		return fmt.Errorf("client: no advertised round for task %d", taskID)
	}
	if c.round.Phase != roundstate.PhaseAssembling {
		return fmt.Errorf("client: task %d is not in Assembling (phase=%s)", taskID, c.round.Phase)
	}

	// Reconcile against the overlay's own mesh view in case some
	// AnnounceRole messages raced the freeze (Mesh() is eventually
	// consistent).
	for _, p := range c.overlay.Mesh(c.round.Topic) {
		if c.peerRoles[p] == "Trainer" {
			c.round.AddCandidate(p)
		}
	}

	chunks, err := c.round.Freeze()
	if err != nil {
		return err // errs.ErrNoTrainers: Freeze leaves the phase at Assembling
	}

	assignments := make([]wire.Assignment, len(chunks))
	for i, ch := range chunks {
		assignments[i] = wire.Assignment{ChunkIdx: ch.Index, TrainerPeerID: ch.Trainer.String()}
	}
	modelURL, err := c.store.PresignGet(modelHash, 0)
	if err != nil {
		return fmt.Errorf("client: presign model: %w", err)
	}

	raw, err := wire.Encode(wire.TagAssign, c.PeerID, taskID, wire.AssignPayload{
		ModelSignedURL:    modelURL,
		ManifestSignedURL: manifestURL,
		SessionPubKey:     sessionPubKey,
		Assignments:       assignments,
	})
	if err != nil {
		return err
	}
	if err := c.overlay.Publish(c.round.Topic, raw); err != nil {
		return fmt.Errorf("client: publish assignment: %w", err)
	}

	go c.observeLedger(ctx, taskID)
	return nil
}

// observeLedger drains WeightsSubmitted/TaskCompleted events into the round
// state, driving the transition from Training to Settling.
func (c *Client) observeLedger(ctx context.Context, taskID uint64) {
	events, err := c.ledger.ObserveEvents(ctx, taskID)
	if err != nil {
		logrus.Errorf("client: observe ledger events for task %d: %v", taskID, err)
		return
	}
	for ev := range events {
		c.mu.Lock()
		c.handleLedgerEvent(taskID, ev)
		c.mu.Unlock()
	}
}

func (c *Client) handleLedgerEvent(taskID uint64, ev ledger.Event) {
	if c.round == nil || c.round.Task.TaskID != taskID {
		return
	}
	switch ev.Kind {
	case "WeightsSubmitted":
		trainer, ok := c.peerByAddr[strings.ToLower(ev.Trainer)]
		if !ok {
			logrus.Warnf("client: WeightsSubmitted from unknown address %s for task %d", ev.Trainer, taskID)
			return
		}
		chunkIdx, ok := c.round.NextUnsubmittedChunkFor(trainer)
		if !ok {
			return
		}
		c.round.ObserveSubmission(chunkIdx, ev.WeightsHash)
		ack, err := wire.Encode(wire.TagSubmitAck, c.PeerID, taskID, wire.SubmitAckPayload{
			ChunkIdx: chunkIdx, TrainerPeerID: trainer.String(), WeightsHash: ev.WeightsHash,
		})
		if err == nil {
			_ = c.overlay.Publish(c.round.Topic, ack)
		}
		if c.round.AllSubmitted() {
			c.round.Settle()
			c.round.Finish()
		}
	case "TaskCompleted":
		c.round.Settle()
		c.round.Finish()
	}
}

// Status returns a snapshot safe to expose over HTTP.
func (c *Client) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.round == nil {
		return map[string]any{"status": "running", "round": nil}
	}
	return map[string]any{
		"status": "running",
		"round": map[string]any{
			"taskId": c.round.Task.TaskID,
			"phase":  string(c.round.Phase),
			"topic":  c.round.Topic,
		},
	}
}

// WeightsHashes exposes the weightsHash of every chunk of the current round
// submitted so far; the set is complete once the round has reached Done.
func (c *Client) WeightsHashes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.round == nil {
		return nil
	}
	return c.round.WeightsHashes()
}

// ResultURLs resolves the current round's weightsHash set into fresh
// presigned download URLs, one per trained chunk. Hashes are read under the
// round lock and released before the presign calls, which hit the object
// store over the network and must not block the rest of the state machine.
func (c *Client) ResultURLs() ([]ResultURL, error) {
	hashes := c.WeightsHashes()
	out := make([]ResultURL, 0, len(hashes))
	for _, hash := range hashes {
		url, err := c.store.PresignGet(hash, 0)
		if err != nil {
			return nil, fmt.Errorf("client: presign result %s: %w", hash, err)
		}
		out = append(out, ResultURL{WeightsHash: hash, URL: url})
	}
	return out, nil
}

// ResultURL pairs a submitted chunk's content hash with a freshly signed
// download URL.
type ResultURL struct {
	WeightsHash string `json:"weightsHash"`
	URL         string `json:"url"`
}

// Abort moves the current round to Aborted from any state.
func (c *Client) Abort(err error) {
	c.mu.Lock()
	taskID := uint64(0)
	if c.round != nil {
		taskID = c.round.Task.TaskID
		c.round.Abort(err)
	}
	c.mu.Unlock()

	if pubErr := c.ledger.PublishLog(context.Background(), fmt.Sprintf("client %s aborted task %d: %v", c.PeerID, taskID, err)); pubErr != nil {
		logrus.Warnf("client: publish abort log entry: %v", pubErr)
	}
}
