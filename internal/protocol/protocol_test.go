// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func sampleHeader() *PrimaryHeader {
	h := &PrimaryHeader{
		Filename:         "photos.tar",
		TotalSize:        1 << 24,
		Flags:            FlagCompress | FlagMultiStream | FlagTarArchive,
		CompressionLevel: 6,
		StreamCount:      2,
		ChunkSize:        256 * 1024,
		Segments: []StreamSegment{
			{Offset: 0, Length: 1 << 23},
			{Offset: 1 << 23, Length: 1 << 23},
		},
	}
	h.KeyHash[0] = 0xAB
	h.TransferID[0] = 0xCD
	h.Segments[0].IV[0] = 0x01
	h.Segments[1].IV[0] = 0x02
	return h
}

func TestPrimaryHeader_RoundTrip(t *testing.T) {
	h := sampleHeader()
	var buf bytes.Buffer
	if err := WritePrimaryHeader(&buf, h); err != nil {
		t.Fatalf("WritePrimaryHeader error: %v", err)
	}

	var lenBytes [4]byte
	if _, err := io.ReadFull(&buf, lenBytes[:]); err != nil {
		t.Fatalf("reading filename_len: %v", err)
	}
	if IsStreamMagic(lenBytes) {
		t.Fatalf("filename_len collided with stream magic")
	}

	got, err := ReadPrimaryHeader(&buf, lenBytes)
	if err != nil {
		t.Fatalf("ReadPrimaryHeader error: %v", err)
	}

	if got.Filename != h.Filename {
		t.Fatalf("filename mismatch: got %q want %q", got.Filename, h.Filename)
	}
	if got.TotalSize != h.TotalSize {
		t.Fatalf("total_size mismatch: got %d want %d", got.TotalSize, h.TotalSize)
	}
	if got.KeyHash != h.KeyHash {
		t.Fatalf("key_hash mismatch")
	}
	if got.Flags != h.Flags {
		t.Fatalf("flags mismatch: got %x want %x", got.Flags, h.Flags)
	}
	if !got.HasFlag(FlagCompress) || !got.HasFlag(FlagMultiStream) || !got.HasFlag(FlagTarArchive) {
		t.Fatalf("expected all flags set")
	}
	if got.CompressionLevel != h.CompressionLevel {
		t.Fatalf("compression_level mismatch")
	}
	if got.StreamCount != h.StreamCount {
		t.Fatalf("stream_count mismatch")
	}
	if got.ChunkSize != h.ChunkSize {
		t.Fatalf("chunk_size mismatch")
	}
	if got.TransferID != h.TransferID {
		t.Fatalf("transfer_id mismatch")
	}
	if len(got.Segments) != len(h.Segments) {
		t.Fatalf("segment count mismatch: got %d want %d", len(got.Segments), len(h.Segments))
	}
	for i := range h.Segments {
		if got.Segments[i] != h.Segments[i] {
			t.Fatalf("segment %d mismatch: got %+v want %+v", i, got.Segments[i], h.Segments[i])
		}
	}
}

func TestWritePrimaryHeader_RejectsAmbiguousFilename(t *testing.T) {
	h := sampleHeader()
	h.Filename = "STRMisfake.bin"
	var buf bytes.Buffer
	if err := WritePrimaryHeader(&buf, h); err == nil {
		t.Fatalf("expected error for filename colliding with stream magic")
	}
}

func TestWritePrimaryHeader_RejectsEmptyFilename(t *testing.T) {
	h := sampleHeader()
	h.Filename = ""
	var buf bytes.Buffer
	if err := WritePrimaryHeader(&buf, h); err == nil {
		t.Fatalf("expected error for empty filename")
	}
}

func TestWritePrimaryHeader_RejectsMismatchedSegmentCount(t *testing.T) {
	h := sampleHeader()
	h.Segments = h.Segments[:1]
	var buf bytes.Buffer
	if err := WritePrimaryHeader(&buf, h); err == nil {
		t.Fatalf("expected error for stream_count/segments mismatch")
	}
}

func TestWritePrimaryHeader_RejectsZeroStreams(t *testing.T) {
	h := sampleHeader()
	h.StreamCount = 0
	h.Segments = nil
	var buf bytes.Buffer
	if err := WritePrimaryHeader(&buf, h); err == nil {
		t.Fatalf("expected error for zero stream_count")
	}
}

func TestReadPrimaryHeader_TruncatedFrame(t *testing.T) {
	h := sampleHeader()
	var buf bytes.Buffer
	if err := WritePrimaryHeader(&buf, h); err != nil {
		t.Fatalf("WritePrimaryHeader error: %v", err)
	}

	full := buf.Bytes()
	truncated := bytes.NewReader(full[:len(full)-10])

	var lenBytes [4]byte
	if _, err := io.ReadFull(truncated, lenBytes[:]); err != nil {
		t.Fatalf("reading filename_len: %v", err)
	}
	if _, err := ReadPrimaryHeader(truncated, lenBytes); err == nil {
		t.Fatalf("expected error reading truncated header")
	}
}

func TestStreamHandshake_RoundTrip(t *testing.T) {
	want := &StreamHandshake{StreamIndex: 3}
	want.TransferID[0] = 0xEF
	var buf bytes.Buffer
	if err := WriteStreamHandshake(&buf, want); err != nil {
		t.Fatalf("WriteStreamHandshake error: %v", err)
	}

	var magic [4]byte
	if _, err := io.ReadFull(&buf, magic[:]); err != nil {
		t.Fatalf("reading magic: %v", err)
	}
	if !IsStreamMagic(magic) {
		t.Fatalf("expected stream magic, got %q", magic)
	}

	got, err := ReadStreamHandshake(&buf)
	if err != nil {
		t.Fatalf("ReadStreamHandshake error: %v", err)
	}
	if got.StreamIndex != want.StreamIndex {
		t.Fatalf("stream_index mismatch: got %d want %d", got.StreamIndex, want.StreamIndex)
	}
	if got.TransferID != want.TransferID {
		t.Fatalf("transfer_id mismatch")
	}
}

func TestChunk_RoundTrip(t *testing.T) {
	payload := []byte("some encrypted chunk payload")
	var buf bytes.Buffer
	if err := WriteChunk(&buf, uint32(len(payload)+5), payload); err != nil {
		t.Fatalf("WriteChunk error: %v", err)
	}

	hdr, err := ReadChunkHeader(&buf)
	if err != nil {
		t.Fatalf("ReadChunkHeader error: %v", err)
	}
	if hdr.IsSentinel() {
		t.Fatalf("did not expect sentinel")
	}
	if hdr.PlainLen != uint32(len(payload)+5) {
		t.Fatalf("plain_len mismatch: got %d", hdr.PlainLen)
	}
	if hdr.PayloadLen != uint32(len(payload)) {
		t.Fatalf("payload_len mismatch: got %d", hdr.PayloadLen)
	}

	got := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(&buf, got); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestSentinel_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSentinel(&buf); err != nil {
		t.Fatalf("WriteSentinel error: %v", err)
	}
	hdr, err := ReadChunkHeader(&buf)
	if err != nil {
		t.Fatalf("ReadChunkHeader error: %v", err)
	}
	if !hdr.IsSentinel() {
		t.Fatalf("expected sentinel header")
	}
}

func TestControl_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteControl(&buf, ControlYes); err != nil {
		t.Fatalf("WriteControl error: %v", err)
	}
	b, err := ReadControl(&buf)
	if err != nil {
		t.Fatalf("ReadControl error: %v", err)
	}
	if b != ControlYes {
		t.Fatalf("got %q want %q", b, ControlYes)
	}
}

func TestIsStreamMagic_DistinguishesFilenameLen(t *testing.T) {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], 10)
	if IsStreamMagic(lenBytes) {
		t.Fatalf("ordinary filename_len misidentified as stream magic")
	}
	if !IsStreamMagic(StreamMagic) {
		t.Fatalf("expected StreamMagic to identify as stream magic")
	}
}
