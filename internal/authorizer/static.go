// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package authorizer

import "github.com/nishisan-dev/beam/internal/transfer/descriptor"

// Static é um Authorizer de respostas fixas, para testes e para wiring de
// linha de comando sem prompt interativo.
type Static struct {
	AcceptAll bool
	Key       string
}

func (s Static) Accept(d descriptor.TransferDescriptor) bool { return s.AcceptAll }
func (s Static) RequestKey() string                          { return s.Key }

var _ Authorizer = Static{}
