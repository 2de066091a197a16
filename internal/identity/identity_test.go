package identity

import (
	"testing"

	"fedlearn-node/internal/testutil"
)

func TestLoadOrGenerateCreatesThenReuses(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	priv1, rec1, err := LoadOrGenerate(sb.Root)
	if err != nil {
		t.Fatalf("first LoadOrGenerate failed: %v", err)
	}
	if rec1.PeerID == "" {
		t.Fatalf("expected non-empty peer id")
	}

	priv2, rec2, err := LoadOrGenerate(sb.Root)
	if err != nil {
		t.Fatalf("second LoadOrGenerate failed: %v", err)
	}
	if rec1.PeerID != rec2.PeerID {
		t.Fatalf("peer id changed across reload: %s != %s", rec1.PeerID, rec2.PeerID)
	}
	if !priv1.Equals(priv2) {
		t.Fatalf("private key changed across reload")
	}
}
