// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"os"
	"sync"

	"github.com/nishisan-dev/beam/internal/progress"
	"github.com/nishisan-dev/beam/internal/tarpipeline"
	"github.com/nishisan-dev/beam/internal/transfer/descriptor"
)

// ActiveTransfer rastreia uma transferência em andamento no receiver: o
// descriptor, o destino (arquivo pré-alocado para transferência de
// arquivo, ou a fila tar alimentando o worker de extração), os contadores
// de bytes restantes por segmento e o latch de conclusão sobre o qual
// toda task de segmento e o handler primário esperam.
type ActiveTransfer struct {
	ID         [16]byte
	Descriptor descriptor.TransferDescriptor
	Progress   progress.Reporter

	File     *os.File
	TarQueue *tarpipeline.Queue

	// ExtractedDir é preenchido quando tarpipeline.Consume retorna, com o
	// diretório top-level que ele de fato criou (após a resolução de
	// colisão de nomes). Vazio até a extração terminar e em
	// transferências de arquivo.
	ExtractedDir string

	mu             sync.Mutex
	remaining      map[uint16]uint64
	activeSegments int

	latch *errorLatch
}

// NewActiveTransfer monta um ActiveTransfer de arquivo, apoiado em um
// arquivo pré-alocado.
func NewActiveTransfer(d descriptor.TransferDescriptor, file *os.File, rep progress.Reporter) *ActiveTransfer {
	remaining := make(map[uint16]uint64, len(d.Segments))
	for i, seg := range d.Segments {
		remaining[uint16(i)] = seg.Length
	}
	return &ActiveTransfer{
		ID:             d.TransferID,
		Descriptor:     d,
		Progress:       rep,
		File:           file,
		remaining:      remaining,
		activeSegments: len(d.Segments),
		latch:          newErrorLatch(),
	}
}

// NewDirectoryActiveTransfer monta um ActiveTransfer de diretório,
// apoiado na fila de extração tar em vez de um arquivo.
func NewDirectoryActiveTransfer(d descriptor.TransferDescriptor, q *tarpipeline.Queue, rep progress.Reporter) *ActiveTransfer {
	return &ActiveTransfer{
		ID:             d.TransferID,
		Descriptor:     d,
		Progress:       rep,
		TarQueue:       q,
		remaining:      map[uint16]uint64{0: 0},
		activeSegments: 1,
		latch:          newErrorLatch(),
	}
}

// RemainingFor retorna os bytes restantes do segmento index.
func (t *ActiveTransfer) RemainingFor(index uint16) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining[index]
}

// ConsumeRemaining subtrai n do contador restante do segmento index.
// Retorna false se n excede o que restava (underflow, que o chamador
// deve tratar como UnexpectedEof fatal).
func (t *ActiveTransfer) ConsumeRemaining(index uint16, n uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > t.remaining[index] {
		return false
	}
	t.remaining[index] -= n
	return true
}

// SegmentFinished registra o fim de uma task de segmento, com err
// opcional. O latch de conclusão dispara quando todos os segmentos
// terminam com sucesso, ou assim que o primeiro erro é registrado — o
// que vier primeiro.
func (t *ActiveTransfer) SegmentFinished(err error) {
	if err != nil {
		t.latch.Fail(err)
		return
	}

	t.mu.Lock()
	t.activeSegments--
	done := t.activeSegments <= 0
	t.mu.Unlock()

	if done {
		t.latch.Fail(nil)
	}
}

// Done retorna um channel fechado quando a transferência concluir
// (com sucesso ou não).
func (t *ActiveTransfer) Done() <-chan struct{} { return t.latch.Done() }

// Err retorna o primeiro erro registrado, ou nil em caso de sucesso.
func (t *ActiveTransfer) Err() error { return t.latch.Err() }
