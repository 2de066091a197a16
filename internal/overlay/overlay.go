// Package overlay wraps a libp2p host and gossipsub router into the peer
// mesh used by every node role: connect to a bootstrap address, discover
// peers over mDNS, join/leave topics, and publish/receive framed messages.
// A single role-agnostic overlay usable by Bootstrap, Client and Trainer.
package overlay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"fedlearn-node/internal/errs"
)

const (
	// DiscoveryTag is the mDNS service tag every node advertises under,
	// independent of any round-specific pubsub topic.
	DiscoveryTag = "fedlearn"

	dialBackoffBase = time.Second
	dialBackoffCap  = 30 * time.Second
	heartbeatPeriod = 10 * time.Second
)

// Message is a decoded pubsub delivery.
type Message struct {
	From  peer.ID
	Topic string
	Data  []byte
}

// Config parameterises Node construction.
type Config struct {
	ListenPort    int
	BootstrapAddr string // multiaddr of a seed peer; empty for the bootstrap role itself
	NodeIP        string // externally reachable IP to advertise when IsCloud is set
	IsCloud       bool
}

// Node is the peer-overlay handle shared by every role's constructor.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[peer.ID]time.Time // last-seen

	onPeer func(peer.ID) // optional hook, e.g. bootstrap directory insert
	onGone func(peer.ID) // optional hook, e.g. bootstrap directory removal
}

// New creates and bootstraps a peer-overlay node: a libp2p host, a gossipsub
// router, mDNS discovery, and (if cfg.BootstrapAddr is set) a dial to the
// seed with exponential backoff.
func New(priv crypto.PrivKey, cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)
	opts := []libp2p.Option{libp2p.Identity(priv), libp2p.ListenAddrStrings(listenAddr)}
	if cfg.IsCloud && cfg.NodeIP != "" {
		// Cloud hosts sit behind a load balancer or fixed public IP; skip NAT
		// discovery and advertise the given address directly.
		opts = append(opts, libp2p.AddrsFactory(staticAddrsFactory(cfg.NodeIP, cfg.ListenPort)))
	} else if !cfg.IsCloud {
		// Off-cloud, try NAT-PMP/UPnP port mapping; libp2p treats a failed
		// mapping as non-fatal.
		opts = append(opts, libp2p.NATPortMap())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("overlay: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("overlay: create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[peer.ID]time.Time),
	}

	if cfg.BootstrapAddr != "" {
		go n.dialWithBackoff(cfg.BootstrapAddr)
	}

	if svc, err := mdns.NewMdnsService(h, DiscoveryTag, n); err != nil {
		logrus.Warnf("overlay: mdns discovery unavailable: %v", err)
	} else {
		_ = svc
	}

	go n.heartbeatLoop()

	return n, nil
}

// ID returns the node's own peer identifier.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Addrs returns the multiaddrs this node is reachable on.
func (n *Node) Addrs() []string {
	var out []string
	for _, a := range n.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return out
}

// OnPeerSeen registers a callback invoked every time a peer is marked seen:
// on connect, on mDNS rediscovery, and again on every heartbeat while it
// stays connected.
// Used by the bootstrap role to maintain its PeerRecord directory.
func (n *Node) OnPeerSeen(fn func(peer.ID)) { n.onPeer = fn }

// OnPeerGone registers a callback invoked when heartbeatLoop evicts a peer
// that no longer appears among the live libp2p network connections. Used by
// the bootstrap role to remove the peer's PeerRecord from its directory.
func (n *Node) OnPeerGone(fn func(peer.ID)) { n.onGone = fn }

// HandlePeerFound implements mdns.Notifee.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.Warnf("overlay: connect to discovered peer %s: %v", info.ID, err)
		return
	}
	n.markSeen(info.ID)
	logrus.Infof("overlay: connected to %s via mDNS", info.ID)
}

// Connect dials a specific peer address directly, e.g. a client joining the
// trainer mesh for a round it already knows the bootstrap directory for.
func (n *Node) Connect(addr string) (peer.ID, error) {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return "", fmt.Errorf("overlay: invalid addr %s: %w", addr, err)
	}
	if err := n.host.Connect(n.ctx, *pi); err != nil {
		return "", fmt.Errorf("overlay: connect %s: %w", addr, err)
	}
	n.markSeen(pi.ID)
	return pi.ID, nil
}

func (n *Node) dialWithBackoff(addr string) {
	backoff := dialBackoffBase
	for {
		if _, err := n.Connect(addr); err == nil {
			logrus.Infof("overlay: bootstrapped to %s", addr)
			return
		} else {
			logrus.Warnf("overlay: dial %s failed, retrying in %s: %v", addr, backoff, err)
		}

		select {
		case <-n.ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > dialBackoffCap {
			backoff = dialBackoffCap
		}
	}
}

// Publish sends data on topic, joining it first if necessary.
func (n *Node) Publish(topic string, data []byte) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	if len(t.ListPeers()) == 0 && topic != DiscoveryTag {
		logrus.Debugf("overlay: publishing on %s with no mesh peers yet", topic)
	}
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("overlay: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of decoded messages on topic. The channel
// closes when the node shuts down or the subscription errors.
func (n *Node) Subscribe(topic string) (<-chan Message, error) {
	n.topicLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		if _, err := n.joinTopic(topic); err != nil {
			n.topicLock.Unlock()
			return nil, err
		}
		var err error
		sub, err = n.topics[topic].Subscribe()
		if err != nil {
			n.topicLock.Unlock()
			return nil, fmt.Errorf("overlay: subscribe %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.topicLock.Unlock()

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				if n.ctx.Err() == nil {
					logrus.Warnf("overlay: subscription %s ended: %v", topic, err)
				}
				return
			}
			if msg.GetFrom() == n.host.ID() {
				continue // gossipsub echoes our own publishes back
			}
			out <- Message{From: msg.GetFrom(), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

func (n *Node) joinTopic(topic string) (*pubsub.Topic, error) {
	n.topicLock.Lock()
	defer n.topicLock.Unlock()
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("overlay: join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

// Topics returns the names of every topic this node currently holds a
// subscription to, for the `topics` admin command.
func (n *Node) Topics() []string {
	n.topicLock.Lock()
	defer n.topicLock.Unlock()
	out := make([]string, 0, len(n.subs))
	for topic := range n.subs {
		out = append(out, topic)
	}
	return out
}

// Unsubscribe cancels this node's subscription to topic. The topic handle
// itself is kept so a later Publish can still reach it; only message
// delivery to this node stops.
func (n *Node) Unsubscribe(topic string) error {
	n.topicLock.Lock()
	defer n.topicLock.Unlock()
	sub, ok := n.subs[topic]
	if !ok {
		return nil
	}
	sub.Cancel()
	delete(n.subs, topic)
	return nil
}

// Mesh returns the peers gossipsub considers part of topic's mesh.
func (n *Node) Mesh(topic string) []peer.ID {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	n.topicLock.Unlock()
	if !ok {
		return nil
	}
	return t.ListPeers()
}

// Peers returns every peer seen recently enough to still be considered live.
func (n *Node) Peers() []peer.ID {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	out := make([]peer.ID, 0, len(n.peers))
	for id := range n.peers {
		out = append(out, id)
	}
	return out
}

func (n *Node) markSeen(id peer.ID) {
	n.peerLock.Lock()
	n.peers[id] = time.Now()
	n.peerLock.Unlock()
	if n.onPeer != nil {
		n.onPeer(id)
	}
}

// heartbeatLoop reconciles the tracked peer set against the live libp2p
// network connections every heartbeatPeriod, evicting peers that dropped
// without a clean disconnect notification.
func (n *Node) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			live := make(map[peer.ID]struct{})
			for _, id := range n.host.Network().Peers() {
				live[id] = struct{}{}
				n.markSeen(id)
			}
			n.peerLock.Lock()
			var gone []peer.ID
			for id := range n.peers {
				if _, ok := live[id]; !ok {
					delete(n.peers, id)
					gone = append(gone, id)
				}
			}
			n.peerLock.Unlock()
			if n.onGone != nil {
				for _, id := range gone {
					n.onGone(id)
				}
			}
		}
	}
}

// Close tears down the host and all background loops.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// PublishChecked is Publish but returns errs.ErrNoPeers when the topic's
// mesh is empty, for callers that must distinguish "sent into the void"
// from a transport failure (e.g. a client advertising a round with no
// trainers yet subscribed).
func (n *Node) PublishChecked(topic string, data []byte) error {
	if len(n.Mesh(topic)) == 0 {
		return errs.ErrNoPeers
	}
	return n.Publish(topic, data)
}
