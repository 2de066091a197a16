// Package config loads the node's immutable configuration from environment
// variables. Environment reads are confined to Load; every other package
// receives a *Config instead of calling os.Getenv directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"fedlearn-node/pkg/utils"
)

// Role identifies which of the three node roles this process runs as.
type Role string

const (
	RoleBootstrap Role = "bootstrap"
	RoleClient    Role = "client"
	RoleTrainer   Role = "trainer"
)

// Config is the unified, immutable configuration for a node. It is built
// once at startup by Load and threaded through constructors from there.
type Config struct {
	Role Role

	// Ledger signing identity.
	OperatorID  string
	OperatorKey string // ECDSA secp256k1 hex
	ContractID  string
	TopicID     string

	// LedgerRPCURL is the JSON-RPC endpoint dialed by the ethclient, distinct
	// from the contract address itself.
	LedgerRPCURL string

	// Overlay.
	BootstrapAddr string
	NodeIP        string
	IsCloud       bool
	ListenPort    int

	// Object store.
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreEndpoint  string
	ObjectStoreBucket    string

	// Ambient.
	Home              string // persistent identity + cache directory
	LogLevel          string
	NodeEnv           string
	HTTPPort          int
	TrainerExecutable string
}

// Load reads the process environment (after optionally merging a local .env
// file, if present) into a Config. It fails fast on missing required fields
// so that configuration errors are caught before the node starts listening.
func Load(role Role) (*Config, error) {
	_ = godotenv.Load() // best effort; absence of .env is not an error

	home := utils.EnvOrDefault("FEDLEARN_HOME", defaultHome())
	cfg := &Config{
		Role: role,

		OperatorID:   os.Getenv("OPERATOR_ID"),
		OperatorKey:  os.Getenv("OPERATOR_KEY"),
		ContractID:   os.Getenv("CONTRACT_ID"),
		TopicID:      os.Getenv("TOPIC_ID"),
		LedgerRPCURL: os.Getenv("LEDGER_RPC_URL"),

		BootstrapAddr: os.Getenv("BOOTSTRAP_ADDR"),
		NodeIP:        os.Getenv("NODE_IP"),
		IsCloud:       utils.EnvOrDefault("IS_CLOUD", "false") == "true",
		ListenPort:    utils.EnvOrDefaultInt("LISTEN_PORT", defaultListenPort(role)),

		ObjectStoreAccessKey: os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		ObjectStoreSecretKey: os.Getenv("OBJECT_STORE_SECRET_KEY"),
		ObjectStoreEndpoint:  os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStoreBucket:    os.Getenv("OBJECT_STORE_BUCKET"),

		Home:              home,
		LogLevel:          utils.EnvOrDefault("LOG_LEVEL", "info"),
		NodeEnv:           utils.EnvOrDefault("NODE_ENV", "development"),
		HTTPPort:          utils.EnvOrDefaultInt("HTTP_PORT", defaultHTTPPort(role)),
		TrainerExecutable: os.Getenv("TRAINER_EXECUTABLE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, utils.Wrap(err, "config")
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, utils.Wrap(err, "create home directory")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Role != RoleBootstrap && c.BootstrapAddr == "" {
		return fmt.Errorf("BOOTSTRAP_ADDR is required for role %s", c.Role)
	}
	if c.Role != RoleBootstrap {
		if c.OperatorID == "" || c.OperatorKey == "" {
			return fmt.Errorf("OPERATOR_ID and OPERATOR_KEY are required for role %s", c.Role)
		}
		if c.ContractID == "" {
			return fmt.Errorf("CONTRACT_ID is required for role %s", c.Role)
		}
		if c.LedgerRPCURL == "" {
			return fmt.Errorf("LEDGER_RPC_URL is required for role %s", c.Role)
		}
	}
	return nil
}

func defaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".fedlearn")
	}
	return ".fedlearn"
}

func defaultListenPort(role Role) int {
	if role == RoleBootstrap {
		return 4001
	}
	return 0 // ephemeral
}

func defaultHTTPPort(role Role) int {
	if role == RoleBootstrap {
		return 9000
	}
	return 9001
}
