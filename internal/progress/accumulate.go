// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package progress

import "sync"

// AccumulatingReporter registra cada chamada recebida, para asserções em
// testes que precisam confirmar que a contagem de bytes avança
// monotonicamente e que Finish é chamado.
type AccumulatingReporter struct {
	mu sync.Mutex

	Total        *uint64
	Label        string
	Advances     []uint64
	Bytes        uint64
	Finished     int
	StartCall    int
	TotalObjects int
}

// Start registra o total e o label anunciados.
func (a *AccumulatingReporter) Start(total *uint64, label string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Total = total
	a.Label = label
	a.StartCall++
}

// Advance acumula n em Bytes e anexa em Advances.
func (a *AccumulatingReporter) Advance(n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Advances = append(a.Advances, n)
	a.Bytes += n
}

// SetTotalObjects registra a contagem de arquivos do pré-scan.
func (a *AccumulatingReporter) SetTotalObjects(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.TotalObjects = n
}

// Finish incrementa o contador Finished.
func (a *AccumulatingReporter) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Finished++
}

var _ Reporter = (*AccumulatingReporter)(nil)
