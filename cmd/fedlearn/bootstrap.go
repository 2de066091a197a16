package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fedlearn-node/internal/bootstrap"
	"fedlearn-node/pkg/config"
)

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "run the rendezvous node: peer directory and admin HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap()
		},
	}
}

func runBootstrap() error {
	cfg, err := config.Load(config.RoleBootstrap)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logrus.SetLevel(logLevelFromString(cfg.LogLevel))

	ov, err := newOverlay(cfg)
	if err != nil {
		return err
	}
	defer ov.Close()

	node, err := bootstrap.New(ov)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	srv := bootstrap.NewServer(node)
	return runServer(srv, fmt.Sprintf(":%d", cfg.HTTPPort))
}
