package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/multiformats/go-multiaddr"

	"fedlearn-node/internal/httpapi"
)

// bootstrapAdminPort is the admin HTTP port every bootstrap node listens on
// by default. There is no separate admin-address configuration value; the
// client derives the host from the same BootstrapAddr multiaddr it dials
// for the overlay.
const bootstrapAdminPort = 9000

// queryBootstrap forwards cmd to the bootstrap node's admin HTTP endpoint
// and returns its decoded result, fetching the bootstrap's mesh view for
// the client's `bootmesh` command.
func queryBootstrap(bootstrapAddr string, cmd httpapi.Command) (any, error) {
	host, err := adminHostFromMultiaddr(bootstrapAddr)
	if err != nil {
		return nil, fmt.Errorf("client: bootmesh: %w", err)
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s:%d/command", host, bootstrapAdminPort)
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: bootmesh: request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	var env httpapi.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("client: bootmesh: decode response: %w", err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("client: bootmesh: bootstrap reported: %s", env.Error)
	}
	return env.Result, nil
}

func adminHostFromMultiaddr(addr string) (string, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("invalid bootstrap multiaddr %s: %w", addr, err)
	}
	if host, err := ma.ValueForProtocol(multiaddr.P_IP4); err == nil {
		return host, nil
	}
	if host, err := ma.ValueForProtocol(multiaddr.P_DNS4); err == nil {
		return host, nil
	}
	return "", fmt.Errorf("no ip4/dns4 component in %s", addr)
}
