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
	"path/filepath"

	"github.com/nishisan-dev/beam/internal/config"
	"github.com/nishisan-dev/beam/internal/logging"
	"github.com/nishisan-dev/beam/internal/progress"
	"github.com/nishisan-dev/beam/internal/transfer"
)

func main() {
	configPath := flag.String("config", "/etc/beam/send.yaml", "path to sender config file")
	key := flag.String("key", "", "shared key the receiver must be configured with")
	receiverIP := flag.String("to", "", "receiver IP address, skips UDP discovery when set")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: beam-send [flags] <path>\n")
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	info, err := os.Stat(path)
	if err != nil {
		logger.Error("cannot stat path", "path", path, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	ip := net.ParseIP(*receiverIP)
	if ip == nil {
		var size uint64
		if !info.IsDir() {
			size = uint64(info.Size())
		}
		logger.Info("no --to given, broadcasting discovery request", "filename", filepath.Base(path))
		ip, err = transfer.Locate(ctx, logger, filepath.Base(path), size, *key)
		if err != nil {
			logger.Error("discovery failed", "error", err)
			os.Exit(1)
		}
	}

	rep := &progress.AccumulatingReporter{}
	err = transfer.Send(ctx, transfer.SendRequest{
		Path:       path,
		ReceiverIP: ip,
		Key:        *key,
		Options:    cfg.Transfer.ToDescriptorOptions(),
		Progress:   rep,
		Log:        logger,
	})
	if err != nil {
		logger.Error("send failed", "error", err)
		os.Exit(1)
	}

	logger.Info("transfer complete", "bytes", rep.Bytes)
}
