// Package identity manages the node's persistent cryptographic identity: a
// keypair whose public key deterministically yields the node's peer
// identifier. Generated once at first launch and reused thereafter, via a
// load-or-generate shape.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"fedlearn-node/pkg/utils"
)

const fileName = "identity.json"

// Persistent holds the marshalled private key and its derived peer ID.
type Persistent struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

// LoadOrGenerate loads the identity stored under dir, or generates and
// persists a fresh Ed25519 keypair if none exists. It returns the libp2p
// private key along with its on-disk record.
func LoadOrGenerate(dir string) (crypto.PrivKey, *Persistent, error) {
	path := filepath.Join(dir, fileName)

	if data, err := os.ReadFile(path); err == nil {
		var rec Persistent
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, nil, utils.Wrap(err, "decode identity")
		}
		priv, err := crypto.UnmarshalPrivateKey(rec.PrivKey)
		if err != nil {
			return nil, nil, utils.Wrap(err, "unmarshal private key")
		}
		return priv, &rec, nil
	} else if !os.IsNotExist(err) {
		return nil, nil, utils.Wrap(err, "read identity file")
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, nil, utils.Wrap(err, "generate identity")
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, nil, utils.Wrap(err, "derive peer id")
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, nil, utils.Wrap(err, "marshal private key")
	}
	rec := &Persistent{PrivKey: privBytes, PeerID: pid.String()}
	if err := save(path, rec); err != nil {
		return nil, nil, err
	}
	return priv, rec, nil
}

func save(path string, rec *Persistent) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return utils.Wrap(err, "encode identity")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return utils.Wrap(err, "create identity directory")
	}
	return os.WriteFile(path, data, 0o600)
}
