package bootstrap

import "testing"

func TestDirectoryConnectAnnounceDisconnect(t *testing.T) {
	d := NewDirectory()
	d.Connect("peer-a", "addr-a")

	snap := d.Snapshot()
	if len(snap.Peers) != 1 || snap.Peers[0].Role != string(RoleUnknown) {
		t.Fatalf("expected one Unknown peer, got %+v", snap.Peers)
	}

	d.AnnounceRole("peer-a", RoleTrainer, []string{"1", "fedlearn"})
	snap = d.Snapshot()
	if snap.Peers[0].Role != string(RoleTrainer) {
		t.Fatalf("expected role Trainer after announce, got %s", snap.Peers[0].Role)
	}

	mesh := d.MeshFor("1")
	if len(mesh) != 1 || mesh[0] != "peer-a" {
		t.Fatalf("expected peer-a in mesh for topic 1, got %v", mesh)
	}

	d.Disconnect("peer-a")
	if len(d.Snapshot().Peers) != 0 {
		t.Fatalf("expected empty directory after disconnect")
	}
}

func TestDirectoryConnectIsIdempotent(t *testing.T) {
	d := NewDirectory()
	d.Connect("peer-a", "addr-a")
	d.AnnounceRole("peer-a", RoleTrainer, []string{"1"})
	d.Connect("peer-a", "addr-a-again") // must not reset the announced role

	snap := d.Snapshot()
	if snap.Peers[0].Role != string(RoleTrainer) {
		t.Fatalf("re-Connect overwrote an existing role: %+v", snap.Peers[0])
	}
}
