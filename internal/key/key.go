// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package key implementa a geração da chave de transferência e o hash
// derivado dela, usados tanto para autenticar o handshake quanto como
// chave do cifrador AES-256-CTR.
package key

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

// alphabet é o conjunto de caracteres usado pela chave gerada.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLength é o comprimento padrão da chave (6 caracteres).
const DefaultLength = 6

// Generate produz uma chave aleatória de n caracteres maiúsculos
// alfanuméricos usando crypto/rand. n<=0 usa DefaultLength.
func Generate(n int) (string, error) {
	if n <= 0 {
		n = DefaultLength
	}

	// Rejection sampling: bytes acima do maior múltiplo de len(alphabet)
	// são descartados, senão o módulo enviesaria os primeiros caracteres
	// do alfabeto (256 não é múltiplo de 36).
	const limit = byte(256 / len(alphabet) * len(alphabet))

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating key: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// Hash calcula o SHA-256 da chave, usado como chave do cifrador e como
// autenticador comparado pelo receiver no handshake primário.
func Hash(k string) [32]byte {
	return sha256.Sum256([]byte(k))
}

// Equal compara dois hashes de chave em tempo constante.
func Equal(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
