package overlay

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	n, err := New(priv, Config{ListenPort: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	if len(a.Addrs()) == 0 {
		t.Fatalf("expected node a to have at least one listen addr")
	}
	if _, err := b.Connect(a.Addrs()[0]); err != nil {
		t.Fatalf("b.Connect(a): %v", err)
	}

	const topic = "round-test"
	msgs, err := b.Subscribe(topic)
	if err != nil {
		t.Fatalf("b.Subscribe: %v", err)
	}
	if _, err := a.Subscribe(topic); err != nil {
		t.Fatalf("a.Subscribe: %v", err)
	}

	// Allow gossipsub's mesh heartbeat to connect the two subscribers.
	deadline := time.Now().Add(5 * time.Second)
	for len(a.Mesh(topic)) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	if err := a.Publish(topic, []byte("hello")); err != nil {
		t.Fatalf("a.Publish: %v", err)
	}

	select {
	case msg := <-msgs:
		if string(msg.Data) != "hello" {
			t.Fatalf("unexpected payload: %q", msg.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestPublishCheckedNoPeers(t *testing.T) {
	a := newTestNode(t)
	if err := a.PublishChecked("empty-topic", []byte("x")); err == nil {
		t.Fatalf("expected ErrNoPeers on a topic with no mesh members")
	}
}
