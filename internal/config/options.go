// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega os defaults de transferência do Beam de um
// arquivo YAML: diretório de download, tamanho de chunk, nível de
// compressão, número de streams paralelos e limite de banda. Nada aqui é
// trocado no wire — é puramente a configuração local que alimenta
// internal/transfer/descriptor.Options antes de um Send ou de um
// Receiver.ListenAndServe.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/beam/internal/transfer/descriptor"
)

// Config é a configuração completa carregada de um arquivo YAML.
type Config struct {
	DownloadDir string          `yaml:"download_dir"`
	Transfer    TransferOptions `yaml:"transfer"`
	Logging     LoggingInfo     `yaml:"logging"`
}

// TransferOptions espelha descriptor.Options em forma YAML-friendly:
// tamanhos e taxas como strings human-readable ("256kb", "10mb"), com os
// valores parseados preenchidos por validate().
type TransferOptions struct {
	ChunkSize         string `yaml:"chunk_size"`         // ex: "256kb" (default, e também o mínimo permitido)
	ChunkSizeRaw      int64  `yaml:"-"`
	EnableCompression bool   `yaml:"enable_compression"`
	CompressionLevel  int    `yaml:"compression_level"` // 0-9, 0 desabilita mesmo com enable_compression:true
	ParallelStreams   int    `yaml:"parallel_streams"`  // 1-4
	BandwidthLimit    string `yaml:"bandwidth_limit"`   // ex: "10mb" por segundo, "" = ilimitado
	BandwidthLimitRaw int64  `yaml:"-"`
}

// LoggingInfo contém as configurações de logging consumidas por
// internal/logging.NewLogger.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// TransferLogDir, quando não vazio, habilita um arquivo de log JSON
	// dedicado por transferência no receiver ({dir}/{transfer_id}.log).
	TransferLogDir string `yaml:"transfer_log_dir"`
}

// ToDescriptorOptions converte para o tipo que o motor de transferência
// consome. A normalização final (clamps de faixa) é responsabilidade de
// descriptor.Options.Normalize, chamada por NewFileDescriptor /
// NewDirectoryDescriptor — ToDescriptorOptions só traduz os campos já
// parseados por esta struct.
func (t TransferOptions) ToDescriptorOptions() descriptor.Options {
	return descriptor.Options{
		ChunkSize:         uint32(t.ChunkSizeRaw),
		EnableCompression: t.EnableCompression,
		CompressionLevel:  uint8(t.CompressionLevel),
		ParallelStreams:   t.ParallelStreams,
		BandwidthLimit:    t.BandwidthLimitRaw,
	}
}

// Load lê e valida o arquivo YAML de configuração em path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DownloadDir == "" {
		c.DownloadDir = "."
	}

	if c.Transfer.ChunkSize == "" {
		c.Transfer.ChunkSize = "256kb"
	}
	chunkSize, err := ParseByteSize(c.Transfer.ChunkSize)
	if err != nil {
		return fmt.Errorf("transfer.chunk_size: %w", err)
	}
	if chunkSize < descriptor.MinChunkSize {
		return fmt.Errorf("transfer.chunk_size must be at least 256kb, got %s", c.Transfer.ChunkSize)
	}
	c.Transfer.ChunkSizeRaw = chunkSize

	if c.Transfer.CompressionLevel < 0 || c.Transfer.CompressionLevel > descriptor.MaxCompressionLvl {
		return fmt.Errorf("transfer.compression_level must be between 0 and %d, got %d", descriptor.MaxCompressionLvl, c.Transfer.CompressionLevel)
	}

	if c.Transfer.ParallelStreams == 0 {
		c.Transfer.ParallelStreams = descriptor.MinParallelStreams
	}
	if c.Transfer.ParallelStreams < descriptor.MinParallelStreams || c.Transfer.ParallelStreams > descriptor.MaxParallelStreams {
		return fmt.Errorf("transfer.parallel_streams must be between %d and %d, got %d", descriptor.MinParallelStreams, descriptor.MaxParallelStreams, c.Transfer.ParallelStreams)
	}

	if c.Transfer.BandwidthLimit == "" || c.Transfer.BandwidthLimit == "0" {
		c.Transfer.BandwidthLimitRaw = 0
	} else {
		limit, err := ParseByteSize(c.Transfer.BandwidthLimit)
		if err != nil {
			return fmt.Errorf("transfer.bandwidth_limit: %w", err)
		}
		c.Transfer.BandwidthLimitRaw = limit
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	return nil
}

// ParseByteSize converte strings human-readable como "256kb", "1gb" para
// bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Ordenado do sufixo mais longo para o mais curto para evitar que
	// "mb" matche como "b".
	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil || num < 0 {
				return 0, fmt.Errorf("invalid number %q", numStr)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil || num < 0 {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
