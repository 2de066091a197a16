package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fedlearn-node/internal/ledger"
	"fedlearn-node/internal/trainer"
	"fedlearn-node/pkg/config"
)

func newTrainerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trainer",
		Short: "run a compute node: executes assigned chunks and submits weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrainer()
		},
	}
}

func runTrainer() error {
	cfg, err := config.Load(config.RoleTrainer)
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
		return fmt.Errorf("trainer: %w", err)
	}

	tr := trainer.New(ov, led, store, address, cfg.TrainerExecutable)

	srv := trainer.NewServer(tr)
	return runServer(srv, fmt.Sprintf(":%d", cfg.HTTPPort))
}
