package cmd

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	abciserver "github.com/cometbft/cometbft/abci/server"
	"github.com/spf13/cobra"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/chain"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/config"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/peer"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/store"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/transport"
)

func newStartCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the node: websocket mesh, escrow ledger, hand archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), cfg)
		},
	}
}

func runNode(ctx context.Context, cfg config.Config) error {
	filter, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log_level: %w", err)
	}
	logger := log.NewLogger(os.Stderr, log.FilterOption(filter))

	key, err := loadOrCreateNodeKey(cfg.NodeKeyPath())
	if err != nil {
		return err
	}
	selfKey := hex.EncodeToString(key.Public().(ed25519.PublicKey))
	logger.Info("node identity",
		"key", selfKey,
		"name", cfg.Name,
		"modulus_bits", cfg.ModulusBits,
		"action_timeout_secs", cfg.ActionTimeoutSecs,
		"escrow_timeout_blocks", cfg.EscrowTimeoutBlocks,
	)

	archive, err := store.Open(cfg.ArchivePath())
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()

	app, err := chain.New(cfg.ChainDir())
	if err != nil {
		return err
	}
	abciSrv, err := abciserver.NewServer(cfg.ListenABCI, "socket", app)
	if err != nil {
		return fmt.Errorf("build abci server: %w", err)
	}
	if err := abciSrv.Start(); err != nil {
		return fmt.Errorf("start abci server: %w", err)
	}
	defer func() { _ = abciSrv.Stop() }()
	logger.Info("escrow ledger serving", "addr", cfg.ListenABCI)

	hub := transport.NewHub(selfKey, logger)
	engine, err := peer.New(key, peer.Options{
		Name:        cfg.Name,
		ModulusBits: cfg.ModulusBits,
	}, logger, hub, nil)
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.SetRecorder(archive)
	hub.Bind(engine)
	go hub.Run()
	defer hub.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	httpSrv := &http.Server{Addr: cfg.ListenWS, Handler: mux}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()
	logger.Info("mesh listening", "addr", cfg.ListenWS)

	for _, addr := range cfg.Peers {
		if err := hub.Dial(addr); err != nil {
			logger.Error("peer dial failed", "addr", addr, "err", err)
			continue
		}
		logger.Info("peer dialed", "addr", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-httpErr:
		logger.Error("mesh listener failed", "err", err)
		runErr = err
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return runErr
}
