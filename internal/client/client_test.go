package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"fedlearn-node/internal/ledger"
	"fedlearn-node/internal/overlay"
	"fedlearn-node/internal/roundstate"
	"fedlearn-node/internal/wire"
)

var errTimeout = errors.New("timed out waiting for condition")

type fakeStore struct{}

func (fakeStore) PresignGet(contentHash string, _ time.Duration) (string, error) {
	return "https://mock.local/" + contentHash, nil
}

func newTestOverlay(t *testing.T) *overlay.Node {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	n, err := overlay.New(priv, overlay.Config{ListenPort: 0})
	if err != nil {
		t.Fatalf("overlay.New: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func waitForMesh(t *testing.T, n *overlay.Node, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(n.Mesh(topic)) >= want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d mesh members on %s", want, topic)
}

func TestAdvertizeAssembleTrainCompletesRound(t *testing.T) {
	clientOv := newTestOverlay(t)
	trainerOv := newTestOverlay(t)

	if _, err := trainerOv.Connect(clientOv.Addrs()[0]); err != nil {
		t.Fatalf("trainer connect to client: %v", err)
	}

	fakeLedger := ledger.NewFake()
	fakeLedger.Address = "0xTrainerAddr" // the trainer address the submission below is reported under
	fakeLedger.SeedTask(roundstate.Task{TaskID: 1, TotalChunks: 1, RemainingChunks: 1, Exists: true})

	c, err := New(clientOv, fakeLedger, fakeStore{}, "0xclientaddr", "")
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Advertize(ctx, 1); err != nil {
		t.Fatalf("Advertize: %v", err)
	}

	// Simulate a trainer joining the round topic and announcing its role.
	if _, err := trainerOv.Subscribe("1"); err != nil {
		t.Fatalf("trainer subscribe round topic: %v", err)
	}
	waitForMesh(t, clientOv, "1", 1)

	raw, err := wire.Encode(wire.TagAnnounceRole, trainerOv.ID().String(), 1, wire.AnnounceRolePayload{
		Role: "Trainer", Topics: []string{"1"}, Address: "0xTrainerAddr",
	})
	if err != nil {
		t.Fatalf("encode announce: %v", err)
	}
	if err := trainerOv.Publish("1", raw); err != nil {
		t.Fatalf("trainer publish announce: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.Status()["round"] == nil {
		time.Sleep(10 * time.Millisecond)
		if time.Now().After(deadline) {
			t.Fatalf("round never initialised")
		}
	}

	if err := waitForCandidate(c, trainerOv.ID(), 5*time.Second); err != nil {
		t.Fatalf("candidate never observed: %v", err)
	}

	if err := c.Train(ctx, 1, "modelhash", "manifest-url", nil); err != nil {
		t.Fatalf("Train: %v", err)
	}

	if err := fakeLedger.SubmitWeights(ctx, 1, "weights-hash-1"); err != nil {
		t.Fatalf("fake SubmitWeights: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		status := c.Status()
		round := status["round"].(map[string]any)
		if round["phase"] == string(roundstate.PhaseDone) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("round never reached Done, last status: %+v", round)
		}
		time.Sleep(20 * time.Millisecond)
	}

	hashes := c.WeightsHashes()
	if len(hashes) != 1 || hashes[0] != "weights-hash-1" {
		t.Fatalf("unexpected weights hashes: %v", hashes)
	}

	urls, err := c.ResultURLs()
	if err != nil {
		t.Fatalf("ResultURLs: %v", err)
	}
	if len(urls) != 1 || urls[0].WeightsHash != "weights-hash-1" || urls[0].URL != "https://mock.local/weights-hash-1" {
		t.Fatalf("unexpected result urls: %+v", urls)
	}

	if len(fakeLedger.Logs) == 0 {
		t.Fatalf("expected advertize to publish a log entry via the ledger")
	}
}

func TestAbortPublishesLogEntry(t *testing.T) {
	clientOv := newTestOverlay(t)
	fakeLedger := ledger.NewFake()
	fakeLedger.SeedTask(roundstate.Task{TaskID: 7, TotalChunks: 1, RemainingChunks: 1, Exists: true})

	c, err := New(clientOv, fakeLedger, fakeStore{}, "0xclientaddr", "")
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Advertize(ctx, 7); err != nil {
		t.Fatalf("Advertize: %v", err)
	}

	before := len(fakeLedger.Logs)
	c.Abort(errors.New("operator requested cancel"))

	if c.Status()["round"].(map[string]any)["phase"] != string(roundstate.PhaseAborted) {
		t.Fatalf("expected round phase Aborted after Abort")
	}
	if len(fakeLedger.Logs) <= before {
		t.Fatalf("expected Abort to publish a log entry via the ledger")
	}
}

func waitForCandidate(c *Client, id peer.ID, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		_, ok := c.round.Candidates[id]
		c.mu.Unlock()
		if ok {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return errTimeout
}
