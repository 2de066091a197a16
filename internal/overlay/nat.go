package overlay

import (
	"fmt"

	"github.com/multiformats/go-multiaddr"
)

// staticAddrsFactory returns an AddrsFactory that replaces the host's
// auto-detected listen addresses with a single fixed public address. Used
// when IS_CLOUD is set: cloud deployments sit behind a stable,
// externally reachable IP and gain nothing from the NAT-PMP/UPnP discovery
// dance that otherwise helps home-network trainers.
func staticAddrsFactory(ip string, port int) func([]multiaddr.Multiaddr) []multiaddr.Multiaddr {
	addr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip, port))
	if err != nil {
		return func(in []multiaddr.Multiaddr) []multiaddr.Multiaddr { return in }
	}
	return func([]multiaddr.Multiaddr) []multiaddr.Multiaddr {
		return []multiaddr.Multiaddr{addr}
	}
}
