package bootstrap

import (
	"encoding/json"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"fedlearn-node/internal/overlay"
	"fedlearn-node/internal/wire"
)

// Node runs the Bootstrap role: an overlay node, a peer directory kept in
// sync with overlay connect/disconnect events and discovery-topic
// AnnounceRole messages, and (via Server) the admin HTTP endpoint.
type Node struct {
	Overlay   *overlay.Node
	Directory *Directory
	dedup     *wire.Dedup
}

// New wires an overlay node to a fresh Directory and starts consuming
// discovery-topic announcements.
func New(ov *overlay.Node) (*Node, error) {
	n := &Node{Overlay: ov, Directory: NewDirectory(), dedup: wire.NewDedup()}

	ov.OnPeerSeen(func(id peer.ID) {
		n.Directory.Connect(id, "")
	})
	ov.OnPeerGone(func(id peer.ID) {
		n.Directory.Disconnect(id)
	})

	msgs, err := ov.Subscribe(overlay.DiscoveryTag)
	if err != nil {
		return nil, err
	}
	go n.consumeDiscovery(msgs)

	return n, nil
}

func (n *Node) consumeDiscovery(msgs <-chan overlay.Message) {
	for msg := range msgs {
		env, err := wire.Decode(msg.Data)
		if err != nil {
			logrus.Debugf("bootstrap: dropping malformed discovery message: %v", err)
			continue
		}
		if env.Tag != wire.TagAnnounceRole {
			continue
		}
		key := wire.Key(env.Tag, env.TaskID, 0, env.Origin)
		if n.dedup.Seen(key) {
			continue
		}

		var payload wire.AnnounceRolePayload
		if err := json.Unmarshal(env.Body, &payload); err != nil {
			logrus.Debugf("bootstrap: dropping malformed AnnounceRole payload: %v", err)
			continue
		}
		n.Directory.AnnounceRole(msg.From, Role(payload.Role), payload.Topics)
	}
}
