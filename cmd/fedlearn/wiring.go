package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fedlearn-node/internal/identity"
	"fedlearn-node/internal/ledger"
	"fedlearn-node/internal/objectstore"
	"fedlearn-node/internal/overlay"
	"fedlearn-node/pkg/config"
)

// logLevelFromString parses cfg.LogLevel, defaulting to info on anything it
// does not recognise rather than failing startup over a logging knob.
func logLevelFromString(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// bootstrapDialTimeout bounds the synchronous first-contact dial performed
// at startup: failure to connect to bootstrap here is a fatal startup error
// (exit code 2). The overlay's own dialWithBackoff loop runs in the
// background alongside this check and retries without a bound until its
// first successful dial, after which it stops.
const bootstrapDialTimeout = 15 * time.Second

// newOverlay builds the peer-overlay node from cfg, applying its own
// persistent identity, and for non-bootstrap roles blocks briefly to
// confirm the configured bootstrap is actually reachable before returning.
func newOverlay(cfg *config.Config) (*overlay.Node, error) {
	priv, rec, err := identity.LoadOrGenerate(cfg.Home)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	logrus.Infof("%s: peer id %s", cfg.Role, rec.PeerID)

	ov, err := overlay.New(priv, overlay.Config{
		ListenPort:    cfg.ListenPort,
		BootstrapAddr: cfg.BootstrapAddr,
		NodeIP:        cfg.NodeIP,
		IsCloud:       cfg.IsCloud,
	})
	if err != nil {
		return nil, fmt.Errorf("create overlay: %w", err)
	}

	if cfg.Role != config.RoleBootstrap {
		if err := waitForBootstrap(ov, cfg.BootstrapAddr, bootstrapDialTimeout); err != nil {
			ov.Close()
			return nil, &roleError{code: exitBootstrapUnreach, err: fmt.Errorf("bootstrap unreachable: %w", err)}
		}
	}
	return ov, nil
}

// waitForBootstrap makes a bounded number of direct dial attempts against
// addr, distinct from the overlay's unbounded background retry loop, purely
// to decide the process's startup exit code.
func waitForBootstrap(ov *overlay.Node, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if _, err := ov.Connect(addr); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(time.Second)
	}
	return lastErr
}

// newLedger dials the ledger adapter, mapping a dial failure to exit code 3.
// The overlay node is threaded through so PublishLog can republish on the
// consensus log topic.
func newLedger(ctx context.Context, cfg *config.Config, ov *overlay.Node) (*ledger.Contract, error) {
	c, err := ledger.Dial(ctx, cfg.LedgerRPCURL, cfg.ContractID, cfg.OperatorKey, cfg.TopicID, ov)
	if err != nil {
		return nil, &roleError{code: exitLedgerUnreach, err: fmt.Errorf("ledger unreachable: %w", err)}
	}
	return c, nil
}

// newObjectStore builds the object-store adapter from cfg.
func newObjectStore(cfg *config.Config) (*objectstore.Client, error) {
	store, err := objectstore.New(cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, cfg.ObjectStoreEndpoint, cfg.ObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("create object store: %w", err)
	}
	return store, nil
}

// runServer listens on addr, returning when the process receives SIGINT or
// SIGTERM. In-flight HTTP requests are given a 30s graceful-shutdown window
// rather than being killed outright. Work running outside an HTTP request,
// such as a trainer's chunk processing and its ledger submission, is not
// waited for.
func runServer(handler http.Handler, addr string) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sig:
		logrus.Info("received shutdown signal, draining")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}
