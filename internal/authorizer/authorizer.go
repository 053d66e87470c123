// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package authorizer define a superfície de callback que o engine de
// transferência usa para decidir se aceita uma transferência entrante e
// para obter a chave compartilhada, sem depender de nenhuma UI específica
// (prompt de TTY, diálogo gráfico ou política automatizada).
package authorizer

import "github.com/nishisan-dev/beam/internal/transfer/descriptor"

// Authorizer é invocado pelo receiver uma vez por handshake primário
// entrante, antes de qualquer byte ser escrito em disco.
type Authorizer interface {
	// Accept reporta se a transferência descrita por d deve prosseguir.
	Accept(d descriptor.TransferDescriptor) bool
	// RequestKey retorna a chave compartilhada para comparar com o
	// key_hash do sender. Chamado apenas depois de Accept retornar true.
	RequestKey() string
}
