// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package progress

// NopReporter implementa Reporter como no-op, para chamadores que não
// precisam de feedback de progresso.
type NopReporter struct{}

func (NopReporter) Start(total *uint64, label string) {}
func (NopReporter) Advance(n uint64)                  {}
func (NopReporter) SetTotalObjects(n int)             {}
func (NopReporter) Finish()                           {}

var _ Reporter = NopReporter{}
