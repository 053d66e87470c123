// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package descriptor contém o TransferDescriptor trocado entre os engines
// de sender e receiver e o colaborador authorizer, mantido em pacote
// folha próprio para que internal/authorizer e internal/transfer possam
// depender dele sem ciclo de import.
package descriptor

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/nishisan-dev/beam/internal/protocol"
)

// Options são os knobs de transferência fornecidos pelo chamador, antes
// da normalização: chunk_size tem piso de 256 KiB, compression_level é
// limitado a [0,9], parallel_streams é limitado a [1,4].
type Options struct {
	ChunkSize         uint32
	EnableCompression bool
	CompressionLevel  uint8
	ParallelStreams   int
	BandwidthLimit    int64 // bytes/seg, 0 = ilimitado
}

const (
	MinChunkSize       = 256 * 1024
	MaxCompressionLvl  = 9
	MinParallelStreams = 1
	MaxParallelStreams = 4

	// MultiStreamThreshold é o tamanho mínimo de arquivo a partir do qual
	// ParallelStreams se aplica. Arquivos menores sempre são planejados
	// como stream único, independente do parallel_streams pedido.
	MultiStreamThreshold = 256 * 1024 * 1024
)

// Normalize restringe todos os campos de Options às suas faixas válidas.
func (o Options) Normalize() Options {
	if o.ChunkSize < MinChunkSize {
		o.ChunkSize = MinChunkSize
	}
	if o.CompressionLevel > MaxCompressionLvl {
		o.CompressionLevel = MaxCompressionLvl
	}
	if o.CompressionLevel == 0 {
		o.EnableCompression = false
	}
	if o.ParallelStreams < MinParallelStreams {
		o.ParallelStreams = MinParallelStreams
	}
	if o.ParallelStreams > MaxParallelStreams {
		o.ParallelStreams = MaxParallelStreams
	}
	return o
}

// Segment espelha protocol.StreamSegment com os campos que o engine usa
// em tipos Go puros antes da serialização.
type Segment struct {
	IV     [16]byte
	Offset uint64
	Length uint64
}

// TransferDescriptor é construído pelo sender, serializado no header
// primário e reconstruído pelo receiver a partir do header parseado. É a
// fonte única de verdade que os dois lados usam para planejar as tasks
// de segmento.
type TransferDescriptor struct {
	Filename         string
	TotalSize        uint64
	KeyHash          [32]byte
	IsDirectory      bool
	EnableCompress   bool
	CompressionLevel uint8
	StreamCount      uint16
	ChunkSize        uint32
	TransferID       [16]byte
	Segments         []Segment
}

// NewFileDescriptor monta o descriptor de uma transferência de arquivo:
// stream_count = options.ParallelStreams, com segmentos cobrindo
// [0,totalSize) sem lacuna — o último segmento absorve o resto do
// arredondamento. ParallelStreams só se aplica a partir de
// MultiStreamThreshold (256 MiB); arquivos menores sempre viram stream
// único.
func NewFileDescriptor(filename string, totalSize uint64, keyHash [32]byte, opts Options) (TransferDescriptor, error) {
	opts = opts.Normalize()

	streamCount := opts.ParallelStreams
	if totalSize < MultiStreamThreshold {
		streamCount = 1
	}

	segments := make([]Segment, streamCount)
	base := totalSize / uint64(streamCount)
	if base == 0 {
		base = totalSize
	}
	var offset uint64
	for i := 0; i < streamCount; i++ {
		length := base
		if i == streamCount-1 {
			length = totalSize - offset
		}
		iv, err := randomIV()
		if err != nil {
			return TransferDescriptor{}, fmt.Errorf("descriptor: generating segment %d iv: %w", i, err)
		}
		segments[i] = Segment{IV: iv, Offset: offset, Length: length}
		offset += length
	}

	transferID, err := randomTransferID()
	if err != nil {
		return TransferDescriptor{}, fmt.Errorf("descriptor: generating transfer id: %w", err)
	}

	return TransferDescriptor{
		Filename:         filename,
		TotalSize:        totalSize,
		KeyHash:          keyHash,
		IsDirectory:      false,
		EnableCompress:   opts.EnableCompression,
		CompressionLevel: opts.CompressionLevel,
		StreamCount:      uint16(streamCount),
		ChunkSize:        opts.ChunkSize,
		TransferID:       transferID,
		Segments:         segments,
	}, nil
}

// NewDirectoryDescriptor monta o descriptor de uma transferência de
// diretório: stream_count=1, um único segmento de length zero (o tamanho
// real é desconhecido a priori, já que o stream vem do producer tar até
// EOF) e a flag TAR_ARCHIVE setada na serialização.
func NewDirectoryDescriptor(arcname string, keyHash [32]byte, opts Options) (TransferDescriptor, error) {
	opts = opts.Normalize()

	iv, err := randomIV()
	if err != nil {
		return TransferDescriptor{}, fmt.Errorf("descriptor: generating segment iv: %w", err)
	}
	transferID, err := randomTransferID()
	if err != nil {
		return TransferDescriptor{}, fmt.Errorf("descriptor: generating transfer id: %w", err)
	}

	return TransferDescriptor{
		Filename:         arcname,
		TotalSize:        0,
		KeyHash:          keyHash,
		IsDirectory:      true,
		EnableCompress:   opts.EnableCompression,
		CompressionLevel: opts.CompressionLevel,
		StreamCount:      1,
		ChunkSize:        opts.ChunkSize,
		TransferID:       transferID,
		Segments:         []Segment{{IV: iv, Offset: 0, Length: 0}},
	}, nil
}

// ToHeader converte o descriptor no PrimaryHeader de nível de wire.
func (d TransferDescriptor) ToHeader() *protocol.PrimaryHeader {
	var flags uint8
	if d.EnableCompress {
		flags |= protocol.FlagCompress
	}
	if d.StreamCount > 1 {
		flags |= protocol.FlagMultiStream
	}
	if d.IsDirectory {
		flags |= protocol.FlagTarArchive
	}

	segs := make([]protocol.StreamSegment, len(d.Segments))
	for i, s := range d.Segments {
		segs[i] = protocol.StreamSegment{IV: s.IV, Offset: s.Offset, Length: s.Length}
	}

	return &protocol.PrimaryHeader{
		Filename:         d.Filename,
		TotalSize:        d.TotalSize,
		KeyHash:          d.KeyHash,
		Flags:            flags,
		CompressionLevel: d.CompressionLevel,
		StreamCount:      d.StreamCount,
		ChunkSize:        d.ChunkSize,
		TransferID:       d.TransferID,
		Segments:         segs,
	}
}

// FromHeader reconstrói um TransferDescriptor a partir de um
// PrimaryHeader parseado, como o receiver faz após ler o handshake.
func FromHeader(h *protocol.PrimaryHeader) TransferDescriptor {
	segs := make([]Segment, len(h.Segments))
	for i, s := range h.Segments {
		segs[i] = Segment{IV: s.IV, Offset: s.Offset, Length: s.Length}
	}
	return TransferDescriptor{
		Filename:         h.Filename,
		TotalSize:        h.TotalSize,
		KeyHash:          h.KeyHash,
		IsDirectory:      h.HasFlag(protocol.FlagTarArchive),
		EnableCompress:   h.HasFlag(protocol.FlagCompress),
		CompressionLevel: h.CompressionLevel,
		StreamCount:      h.StreamCount,
		ChunkSize:        h.ChunkSize,
		TransferID:       h.TransferID,
		Segments:         segs,
	}
}

// ValidateSegments confere a invariante de tiling que o receiver precisa
// impor sobre um header que não construiu: todo [offset, offset+length)
// de segmento cai dentro de [0, totalSize), e os segmentos cobrem a faixa
// em ordem, sem lacuna nem sobreposição. O segmento placeholder de length
// zero de um descriptor de diretório sempre passa, já que seu tamanho
// real só se conhece quando o stream tar termina.
func (d TransferDescriptor) ValidateSegments() error {
	if d.IsDirectory {
		return nil
	}
	if len(d.Segments) != int(d.StreamCount) {
		return fmt.Errorf("descriptor: %d segments declared but stream_count is %d", len(d.Segments), d.StreamCount)
	}

	var offset uint64
	for i, s := range d.Segments {
		if s.Offset != offset {
			return fmt.Errorf("descriptor: segment %d starts at %d, expected %d", i, s.Offset, offset)
		}
		end := s.Offset + s.Length
		if end < s.Offset {
			return fmt.Errorf("descriptor: segment %d length overflows", i)
		}
		if end > d.TotalSize {
			return fmt.Errorf("descriptor: segment %d [%d,%d) exceeds total size %d", i, s.Offset, end, d.TotalSize)
		}
		offset = end
	}
	if offset != d.TotalSize {
		return fmt.Errorf("descriptor: segments cover %d bytes, want %d", offset, d.TotalSize)
	}
	return nil
}

func randomIV() ([16]byte, error) {
	var iv [16]byte
	_, err := io.ReadFull(rand.Reader, iv[:])
	return iv, err
}

func randomTransferID() ([16]byte, error) {
	var id [16]byte
	_, err := io.ReadFull(rand.Reader, id[:])
	return id, err
}
