package trainer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"fedlearn-node/internal/ledger"
	"fedlearn-node/internal/overlay"
	"fedlearn-node/internal/roundstate"
	"fedlearn-node/internal/wire"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (m *memStore) Upload(_ context.Context, payload []byte) (string, error) {
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])
	m.mu.Lock()
	m.objects[hash] = payload
	m.mu.Unlock()
	return hash, nil
}

func newTestOverlayNode(t *testing.T) *overlay.Node {
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

// executeUpper is a fake Executor standing in for a real model: it upper-cases
// the chunk bytes, so tests can assert on recognisable weights content
// without standing up a real WASM module or external binary.
type executeUpper struct{}

func (executeUpper) Execute(_ context.Context, _ []byte, chunkBytes []byte) ([]byte, error) {
	return []byte(strings.ToUpper(string(chunkBytes))), nil
}

func TestTrainerProcessesAssignedChunkAndSubmits(t *testing.T) {
	ov := newTestOverlayNode(t)
	store := newMemStore()
	fakeLedger := ledger.NewFake()
	fakeLedger.SeedTask(roundstate.Task{TaskID: 7, TotalChunks: 1, RemainingChunks: 1, Exists: true})

	tr := New(ov, fakeLedger, store, "0xtrainer", "")
	tr.selectExecutor = func(string, string) Executor { return executeUpper{} }

	modelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-model"))
	}))
	defer modelSrv.Close()

	chunkSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("header\nrow1\n"))
	}))
	defer chunkSrv.Close()

	manifestSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chunkSrv.URL))
	}))
	defer manifestSrv.Close()

	if err := tr.Join(7, "7"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	payload := wire.AssignPayload{
		ModelSignedURL:    modelSrv.URL,
		ManifestSignedURL: manifestSrv.URL,
		Assignments:       []wire.Assignment{{ChunkIdx: 0, TrainerPeerID: tr.PeerID}},
	}
	tr.handleAssign(context.Background(), 7, "7", payload)

	deadline := time.Now().Add(3 * time.Second)
	for {
		status := tr.Status()
		topics := status["topics"].(map[string]any)
		topic, ok := topics["7"].(map[string]any)
		if ok && topic["phase"] == string(PhaseIdle) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("trainer never reached Idle after submission, status=%+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.objects) != 1 {
		t.Fatalf("expected exactly one uploaded object, got %d", len(store.objects))
	}
	for _, payload := range store.objects {
		if string(payload) != "HEADER\nROW1\n" {
			t.Fatalf("unexpected uploaded weights: %q", payload)
		}
	}
}

func TestTrainerRetransmittedAssignIsNoOp(t *testing.T) {
	ov := newTestOverlayNode(t)
	store := newMemStore()
	fakeLedger := ledger.NewFake()
	fakeLedger.SeedTask(roundstate.Task{TaskID: 9, TotalChunks: 1, RemainingChunks: 1, Exists: true})

	tr := New(ov, fakeLedger, store, "0xtrainer", "")
	tr.selectExecutor = func(string, string) Executor { return executeUpper{} }

	modelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-model"))
	}))
	defer modelSrv.Close()
	chunkSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("header\nrow1\n"))
	}))
	defer chunkSrv.Close()
	manifestSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chunkSrv.URL))
	}))
	defer manifestSrv.Close()

	if err := tr.Join(9, "9"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	payload := wire.AssignPayload{
		ModelSignedURL:    modelSrv.URL,
		ManifestSignedURL: manifestSrv.URL,
		Assignments:       []wire.Assignment{{ChunkIdx: 0, TrainerPeerID: tr.PeerID}},
	}
	tr.handleAssign(context.Background(), 9, "9", payload)

	deadline := time.Now().Add(3 * time.Second)
	for {
		tr.mu.Lock()
		st := tr.topics["9"]
		phase := st.Phase
		tr.mu.Unlock()
		if phase == PhaseIdle {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("trainer never finished first Assign")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Replay the identical Assign; since chunk 0 is already recorded done,
	// no second upload or submission should occur.
	tr.handleAssign(context.Background(), 9, "9", payload)

	store.mu.Lock()
	count := len(store.objects)
	store.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected replay to leave exactly one uploaded object, got %d", count)
	}
}

func TestSelectExecutorPicksWasmForWasmSuffix(t *testing.T) {
	if _, ok := SelectExecutor("https://store.local/model.wasm?sig=abc", "").(wasmExecutor); !ok {
		t.Fatalf("expected wasmExecutor for a .wasm URL")
	}
	if _, ok := SelectExecutor("https://store.local/model.bin", "/usr/bin/run-model").(externalExecutor); !ok {
		t.Fatalf("expected externalExecutor for a non-wasm URL")
	}
}
