// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WritePrimaryHeader escreve o handshake primário (sender → receiver).
// Formato: filename_len(u32) + filename + total_size(u64)
// + key_hash(32) + flags(u8) + compression_level(u8) + stream_count(u16) +
// chunk_size(u32) + transfer_id(16) + stream_count * (iv(16)+offset(u64)+length(u64)).
func WritePrimaryHeader(w io.Writer, h *PrimaryHeader) error {
	if len(h.Filename) == 0 {
		return fmt.Errorf("writing primary header: empty filename")
	}
	if len(h.Filename) > MaxFilenameLen {
		return fmt.Errorf("writing primary header: %w", ErrFilenameTooLong)
	}
	if len(h.Filename) >= 4 && h.Filename[:4] == string(StreamMagic[:]) {
		return fmt.Errorf("writing primary header: %w", ErrAmbiguousName)
	}
	if h.StreamCount == 0 {
		return fmt.Errorf("writing primary header: %w", ErrZeroStreams)
	}
	if int(h.StreamCount) != len(h.Segments) {
		return fmt.Errorf("writing primary header: stream_count %d does not match %d segments", h.StreamCount, len(h.Segments))
	}

	buf := make([]byte, 0, 4+len(h.Filename)+8+32+1+1+2+4+16+len(h.Segments)*32)

	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(h.Filename)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, h.Filename...)

	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], h.TotalSize)
	buf = append(buf, tmp8[:]...)

	buf = append(buf, h.KeyHash[:]...)
	buf = append(buf, h.Flags, h.CompressionLevel)

	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], h.StreamCount)
	buf = append(buf, tmp2[:]...)

	binary.BigEndian.PutUint32(tmp4[:], h.ChunkSize)
	buf = append(buf, tmp4[:]...)

	buf = append(buf, h.TransferID[:]...)

	for _, seg := range h.Segments {
		buf = append(buf, seg.IV[:]...)
		binary.BigEndian.PutUint64(tmp8[:], seg.Offset)
		buf = append(buf, tmp8[:]...)
		binary.BigEndian.PutUint64(tmp8[:], seg.Length)
		buf = append(buf, tmp8[:]...)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing primary header: %w", err)
	}
	return nil
}

// WriteStreamHandshake escreve o handshake de uma conexão auxiliar.
// Formato: magic "STRM"(4) + stream_index(u16) + transfer_id(16).
func WriteStreamHandshake(w io.Writer, h *StreamHandshake) error {
	buf := make([]byte, 0, 4+2+16)
	buf = append(buf, StreamMagic[:]...)
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], h.StreamIndex)
	buf = append(buf, tmp2[:]...)
	buf = append(buf, h.TransferID[:]...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing stream handshake: %w", err)
	}
	return nil
}

// WriteChunk escreve um frame de chunk completo: cabeçalho + payload.
func WriteChunk(w io.Writer, plainLen uint32, payload []byte) error {
	hdr := make([]byte, ChunkHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], plainLen)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("writing chunk header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing chunk payload: %w", err)
		}
	}
	return nil
}

// WriteSentinel escreve o frame terminador (plain_len=0, payload_len=0).
func WriteSentinel(w io.Writer) error {
	return WriteChunk(w, 0, nil)
}

// WriteControl escreve um único byte de controle ('Y' ou 'N') no canal
// primário.
func WriteControl(w io.Writer, b byte) error {
	if _, err := w.Write([]byte{b}); err != nil {
		return fmt.Errorf("writing control byte: %w", err)
	}
	return nil
}
