// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// IsStreamMagic reporta se os 4 bytes lidos no início de uma conexão de
// dados identificam um handshake de stream auxiliar em vez de um
// filename_len de handshake primário.
func IsStreamMagic(b [4]byte) bool { return b == StreamMagic }

// ReadPrimaryHeader lê o restante do handshake primário dado que os
// primeiros 4 bytes (filenameLen) já foram lidos pelo dispatcher do
// receiver, que precisa inspecioná-los antes de decidir a rota.
func ReadPrimaryHeader(r io.Reader, filenameLenBytes [4]byte) (*PrimaryHeader, error) {
	filenameLen := binary.BigEndian.Uint32(filenameLenBytes[:])
	if filenameLen == 0 {
		return nil, fmt.Errorf("reading primary header: empty filename")
	}
	if filenameLen > MaxFilenameLen {
		return nil, fmt.Errorf("reading primary header: %w", ErrFilenameTooLong)
	}

	nameBuf := make([]byte, filenameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return nil, fmt.Errorf("reading primary header filename: %w", err)
	}
	if filenameLen >= 4 && string(nameBuf[:4]) == string(StreamMagic[:]) {
		return nil, fmt.Errorf("reading primary header: %w", ErrAmbiguousName)
	}

	var rest [8 + 32 + 1 + 1 + 2 + 4 + 16]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return nil, fmt.Errorf("reading primary header fixed fields: %w", err)
	}

	h := &PrimaryHeader{Filename: string(nameBuf)}
	off := 0
	h.TotalSize = binary.BigEndian.Uint64(rest[off : off+8])
	off += 8
	copy(h.KeyHash[:], rest[off:off+32])
	off += 32
	h.Flags = rest[off]
	off++
	h.CompressionLevel = rest[off]
	off++
	h.StreamCount = binary.BigEndian.Uint16(rest[off : off+2])
	off += 2
	h.ChunkSize = binary.BigEndian.Uint32(rest[off : off+4])
	off += 4
	copy(h.TransferID[:], rest[off:off+16])

	if h.StreamCount == 0 {
		return nil, fmt.Errorf("reading primary header: %w", ErrZeroStreams)
	}
	if h.StreamCount > MaxStreamCount {
		return nil, fmt.Errorf("reading primary header: %w", ErrTooManyStreams)
	}

	h.Segments = make([]StreamSegment, h.StreamCount)
	segBuf := make([]byte, 32)
	for i := range h.Segments {
		if _, err := io.ReadFull(r, segBuf); err != nil {
			return nil, fmt.Errorf("reading segment %d: %w", i, err)
		}
		var seg StreamSegment
		copy(seg.IV[:], segBuf[0:16])
		seg.Offset = binary.BigEndian.Uint64(segBuf[16:24])
		seg.Length = binary.BigEndian.Uint64(segBuf[24:32])
		h.Segments[i] = seg
	}

	return h, nil
}

// ReadStreamHandshake lê o restante do handshake de stream auxiliar dado
// que o magic "STRM" já foi consumido pelo dispatcher.
func ReadStreamHandshake(r io.Reader) (*StreamHandshake, error) {
	var buf [2 + 16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("reading stream handshake: %w", err)
	}
	h := &StreamHandshake{}
	h.StreamIndex = binary.BigEndian.Uint16(buf[0:2])
	copy(h.TransferID[:], buf[2:18])
	return h, nil
}

// ReadChunkHeader lê um cabeçalho de chunk (8 bytes).
func ReadChunkHeader(r io.Reader) (ChunkHeader, error) {
	var buf [ChunkHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ChunkHeader{}, fmt.Errorf("reading chunk header: %w", err)
	}
	return ChunkHeader{
		PlainLen:   binary.BigEndian.Uint32(buf[0:4]),
		PayloadLen: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// ReadControl lê um único byte de controle do canal primário.
func ReadControl(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("reading control byte: %w", err)
	}
	return b[0], nil
}
