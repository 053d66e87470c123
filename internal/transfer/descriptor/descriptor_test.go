// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package descriptor

import "testing"

func TestNewFileDescriptor_SmallFileCollapsesToSingleStream(t *testing.T) {
	d, err := NewFileDescriptor("a.bin", MultiStreamThreshold-1, [32]byte{1}, Options{ParallelStreams: 4})
	if err != nil {
		t.Fatalf("NewFileDescriptor error: %v", err)
	}
	if d.StreamCount != 1 {
		t.Fatalf("StreamCount = %d, want 1 for a file just under the threshold", d.StreamCount)
	}
	if len(d.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(d.Segments))
	}
}

func TestNewFileDescriptor_AtThresholdUsesRequestedStreams(t *testing.T) {
	d, err := NewFileDescriptor("a.bin", MultiStreamThreshold, [32]byte{1}, Options{ParallelStreams: 4})
	if err != nil {
		t.Fatalf("NewFileDescriptor error: %v", err)
	}
	if d.StreamCount != 4 {
		t.Fatalf("StreamCount = %d, want 4 once size reaches the threshold", d.StreamCount)
	}
	if len(d.Segments) != 4 {
		t.Fatalf("len(Segments) = %d, want 4", len(d.Segments))
	}
}

func TestNewFileDescriptor_AboveThresholdClampsToMaxParallelStreams(t *testing.T) {
	d, err := NewFileDescriptor("a.bin", MultiStreamThreshold*2, [32]byte{1}, Options{ParallelStreams: 99})
	if err != nil {
		t.Fatalf("NewFileDescriptor error: %v", err)
	}
	if d.StreamCount != MaxParallelStreams {
		t.Fatalf("StreamCount = %d, want %d", d.StreamCount, MaxParallelStreams)
	}
}

func TestNewFileDescriptor_SegmentsTileWithoutGapOrOverlap(t *testing.T) {
	d, err := NewFileDescriptor("a.bin", MultiStreamThreshold+777, [32]byte{1}, Options{ParallelStreams: 3})
	if err != nil {
		t.Fatalf("NewFileDescriptor error: %v", err)
	}
	var offset uint64
	for i, seg := range d.Segments {
		if seg.Offset != offset {
			t.Fatalf("segment %d offset = %d, want %d", i, seg.Offset, offset)
		}
		offset += seg.Length
	}
	if offset != d.TotalSize {
		t.Fatalf("segments cover %d bytes, want %d", offset, d.TotalSize)
	}
}

func TestValidateSegments_AcceptsWellTiledDescriptor(t *testing.T) {
	d, err := NewFileDescriptor("a.bin", 300, [32]byte{1}, Options{ParallelStreams: 3})
	if err != nil {
		t.Fatalf("NewFileDescriptor error: %v", err)
	}
	if err := d.ValidateSegments(); err != nil {
		t.Fatalf("ValidateSegments() = %v, want nil", err)
	}
}

func TestValidateSegments_AcceptsDirectoryPlaceholder(t *testing.T) {
	d, err := NewDirectoryDescriptor("album", [32]byte{1}, Options{})
	if err != nil {
		t.Fatalf("NewDirectoryDescriptor error: %v", err)
	}
	if err := d.ValidateSegments(); err != nil {
		t.Fatalf("ValidateSegments() = %v, want nil for a directory placeholder", err)
	}
}

func TestValidateSegments_RejectsOutOfRangeSegment(t *testing.T) {
	d, err := NewFileDescriptor("a.bin", 100, [32]byte{1}, Options{ParallelStreams: 1})
	if err != nil {
		t.Fatalf("NewFileDescriptor error: %v", err)
	}
	d.Segments[0].Length = 150
	if err := d.ValidateSegments(); err == nil {
		t.Fatal("expected ValidateSegments to reject a segment exceeding total size")
	}
}

// twoSegmentDescriptor monta à mão um descriptor de dois segmentos, como
// um receiver o veria depois de FromHeader — NewFileDescriptor nunca
// produz dois streams para tamanhos pequenos, e o que se quer exercitar
// aqui é a validação de um header que o receiver não construiu.
func twoSegmentDescriptor(totalSize uint64) TransferDescriptor {
	half := totalSize / 2
	return TransferDescriptor{
		Filename:    "a.bin",
		TotalSize:   totalSize,
		StreamCount: 2,
		ChunkSize:   MinChunkSize,
		Segments: []Segment{
			{Offset: 0, Length: half},
			{Offset: half, Length: totalSize - half},
		},
	}
}

func TestValidateSegments_RejectsOverlap(t *testing.T) {
	d := twoSegmentDescriptor(100)
	d.Segments[1].Offset = d.Segments[0].Offset
	if err := d.ValidateSegments(); err == nil {
		t.Fatal("expected ValidateSegments to reject overlapping segments")
	}
}

func TestValidateSegments_RejectsGap(t *testing.T) {
	d := twoSegmentDescriptor(100)
	d.Segments[1].Offset += 5
	if err := d.ValidateSegments(); err == nil {
		t.Fatal("expected ValidateSegments to reject a gap between segments")
	}
}

func TestValidateSegments_AcceptsHandBuiltTwoSegmentTiling(t *testing.T) {
	d := twoSegmentDescriptor(100)
	if err := d.ValidateSegments(); err != nil {
		t.Fatalf("ValidateSegments() = %v, want nil", err)
	}
}

func TestValidateSegments_RejectsSegmentCountMismatch(t *testing.T) {
	d, err := NewFileDescriptor("a.bin", 100, [32]byte{1}, Options{ParallelStreams: 1})
	if err != nil {
		t.Fatalf("NewFileDescriptor error: %v", err)
	}
	d.StreamCount = 2
	if err := d.ValidateSegments(); err == nil {
		t.Fatal("expected ValidateSegments to reject a stream_count/segments length mismatch")
	}
}

func TestNewFileDescriptor_EmptyFileIsSingleZeroLengthSegment(t *testing.T) {
	d, err := NewFileDescriptor("empty.bin", 0, [32]byte{1}, Options{ParallelStreams: 4})
	if err != nil {
		t.Fatalf("NewFileDescriptor error: %v", err)
	}
	if d.StreamCount != 1 || len(d.Segments) != 1 {
		t.Fatalf("expected a single segment for an empty file, got StreamCount=%d len(Segments)=%d", d.StreamCount, len(d.Segments))
	}
	if d.Segments[0].Length != 0 {
		t.Fatalf("Segments[0].Length = %d, want 0", d.Segments[0].Length)
	}
}
