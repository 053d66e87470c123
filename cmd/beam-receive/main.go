// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/beam/internal/authorizer"
	"github.com/nishisan-dev/beam/internal/config"
	"github.com/nishisan-dev/beam/internal/discovery"
	"github.com/nishisan-dev/beam/internal/logging"
	"github.com/nishisan-dev/beam/internal/progress"
	"github.com/nishisan-dev/beam/internal/transfer"
)

func main() {
	configPath := flag.String("config", "/etc/beam/receive.yaml", "path to receiver config file")
	key := flag.String("key", "", "shared key required of incoming transfers")
	acceptAll := flag.Bool("accept-all", false, "accept every incoming transfer without prompting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	go func() {
		handle := func(req discovery.Request, from net.IP) {
			logger.Info("discovery request answered", "from", from.String(), "filename", req.Filename, "size", req.Size)
		}
		if err := discovery.Listen(ctx, logger, handle); err != nil {
			logger.Error("discovery listener stopped", "error", err)
		}
	}()

	rc := transfer.NewReceiver(transfer.ReceiverConfig{
		Authorizer:     authorizer.Static{AcceptAll: *acceptAll, Key: *key},
		DownloadDir:    cfg.DownloadDir,
		Progress:       progress.NopReporter{},
		Log:            logger,
		TransferLogDir: cfg.Logging.TransferLogDir,
	})

	logger.Info("beam-receive listening", "port", transfer.Port, "download_dir", cfg.DownloadDir)
	if err := rc.ListenAndServe(ctx); err != nil {
		logger.Error("receiver error", "error", err)
		os.Exit(1)
	}
}
