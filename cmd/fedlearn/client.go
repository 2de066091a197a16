package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fedlearn-node/internal/client"
	"fedlearn-node/internal/ledger"
	"fedlearn-node/pkg/config"
)

func newClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "client",
		Short: "run the round-originating node: advertises tasks, assigns chunks, drives settlement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient()
		},
	}
}

func runClient() error {
	cfg, err := config.Load(config.RoleClient)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logrus.SetLevel(logLevelFromString(cfg.LogLevel))

	ov, err := newOverlay(cfg)
	if err != nil {
		return err
	}
	defer ov.Close()

	led, err := newLedger(context.Background(), cfg, ov)
	if err != nil {
		return err
	}

	store, err := newObjectStore(cfg)
	if err != nil {
		return err
	}

	address, err := ledger.AddressFromPrivateKeyHex(cfg.OperatorKey)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	c, err := client.New(ov, led, store, address, cfg.BootstrapAddr)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	srv := client.NewServer(c)
	return runServer(srv, fmt.Sprintf(":%d", cfg.HTTPPort))
}
