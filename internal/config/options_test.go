// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "beam.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	return path
}

func TestLoad_DefaultsAppliedOnEmptyConfig(t *testing.T) {
	path := writeTempConfig(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.DownloadDir != "." {
		t.Errorf("DownloadDir = %q, want \".\"", cfg.DownloadDir)
	}
	if cfg.Transfer.ChunkSizeRaw != 256*1024 {
		t.Errorf("ChunkSizeRaw = %d, want %d", cfg.Transfer.ChunkSizeRaw, 256*1024)
	}
	if cfg.Transfer.ParallelStreams != 1 {
		t.Errorf("ParallelStreams = %d, want 1", cfg.Transfer.ParallelStreams)
	}
	if cfg.Transfer.BandwidthLimitRaw != 0 {
		t.Errorf("BandwidthLimitRaw = %d, want 0", cfg.Transfer.BandwidthLimitRaw)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want \"info\"", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want \"text\"", cfg.Logging.Format)
	}
}

func TestLoad_ParsesHumanReadableSizes(t *testing.T) {
	path := writeTempConfig(t, `
download_dir: /tmp/incoming
transfer:
  chunk_size: 1mb
  enable_compression: true
  compression_level: 6
  parallel_streams: 4
  bandwidth_limit: 10mb
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.DownloadDir != "/tmp/incoming" {
		t.Errorf("DownloadDir = %q", cfg.DownloadDir)
	}
	if cfg.Transfer.ChunkSizeRaw != 1024*1024 {
		t.Errorf("ChunkSizeRaw = %d, want %d", cfg.Transfer.ChunkSizeRaw, 1024*1024)
	}
	if !cfg.Transfer.EnableCompression {
		t.Error("EnableCompression = false, want true")
	}
	if cfg.Transfer.CompressionLevel != 6 {
		t.Errorf("CompressionLevel = %d, want 6", cfg.Transfer.CompressionLevel)
	}
	if cfg.Transfer.ParallelStreams != 4 {
		t.Errorf("ParallelStreams = %d, want 4", cfg.Transfer.ParallelStreams)
	}
	if cfg.Transfer.BandwidthLimitRaw != 10*1024*1024 {
		t.Errorf("BandwidthLimitRaw = %d, want %d", cfg.Transfer.BandwidthLimitRaw, 10*1024*1024)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_RejectsChunkSizeBelowMinimum(t *testing.T) {
	path := writeTempConfig(t, "transfer:\n  chunk_size: 1kb\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for chunk_size below the minimum")
	}
}

func TestLoad_RejectsInvalidCompressionLevel(t *testing.T) {
	path := writeTempConfig(t, "transfer:\n  compression_level: 42\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for an out-of-range compression_level")
	}
}

func TestLoad_RejectsInvalidParallelStreams(t *testing.T) {
	path := writeTempConfig(t, "transfer:\n  parallel_streams: 9\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for parallel_streams above the maximum")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestTransferOptions_ToDescriptorOptions(t *testing.T) {
	path := writeTempConfig(t, `
transfer:
  chunk_size: 512kb
  enable_compression: true
  compression_level: 3
  parallel_streams: 2
  bandwidth_limit: 5mb
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	opts := cfg.Transfer.ToDescriptorOptions()
	if opts.ChunkSize != 512*1024 {
		t.Errorf("ChunkSize = %d, want %d", opts.ChunkSize, 512*1024)
	}
	if !opts.EnableCompression {
		t.Error("EnableCompression = false, want true")
	}
	if opts.CompressionLevel != 3 {
		t.Errorf("CompressionLevel = %d, want 3", opts.CompressionLevel)
	}
	if opts.ParallelStreams != 2 {
		t.Errorf("ParallelStreams = %d, want 2", opts.ParallelStreams)
	}
	if opts.BandwidthLimit != 5*1024*1024 {
		t.Errorf("BandwidthLimit = %d, want %d", opts.BandwidthLimit, 5*1024*1024)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"256kb", 256 * 1024, false},
		{"1gb", 1024 * 1024 * 1024, false},
		{"10mb", 10 * 1024 * 1024, false},
		{"100b", 100, false},
		{"100", 100, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-1mb", 0, true},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if !c.wantErr && got != c.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
