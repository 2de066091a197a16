package wire

import "testing"

func TestDedupSeen(t *testing.T) {
	d := NewDedup()
	key := Key(TagAssign, 7, 3, "peer-a")

	if d.Seen(key) {
		t.Fatalf("first Seen should report unseen")
	}
	if !d.Seen(key) {
		t.Fatalf("second Seen should report seen")
	}

	other := Key(TagAssign, 7, 4, "peer-a")
	if d.Seen(other) {
		t.Fatalf("distinct chunk index must not collide")
	}
}

func TestDedupEvictsOldest(t *testing.T) {
	d := NewDedup()
	d.capacity = 2

	k1 := Key(TagLog, 1, 0, "")
	k2 := Key(TagLog, 2, 0, "")
	k3 := Key(TagLog, 3, 0, "")

	d.Seen(k1)
	d.Seen(k2)
	d.Seen(k3) // evicts k1

	// k2 is checked first: checking k1 re-inserts it, which at capacity 2
	// evicts the least recently used key.
	if !d.Seen(k2) {
		t.Fatalf("k2 should still be tracked")
	}
	if d.Seen(k1) {
		t.Fatalf("k1 should have been evicted and reported unseen")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := Encode(TagAdvertise, "peer-a", 42, AdvertisePayload{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Tag != TagAdvertise || env.Origin != "peer-a" || env.TaskID != 42 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
