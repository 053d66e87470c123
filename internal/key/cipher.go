// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package key

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// IVSize é o tamanho do IV usado para inicializar o contador do AES-CTR.
const IVSize = aes.BlockSize // 16 bytes

// Cipher é um cifrador/decifrador AES-256-CTR de streaming. CTR é um
// keystream simétrico: Update faz o mesmo XOR byte-a-byte em ambas as
// direções, por isso um único tipo serve para encrypt e decrypt. Cada
// segmento de uma transferência possui seu próprio Cipher — nunca é
// compartilhado entre goroutines de segmentos distintos.
type Cipher struct {
	stream cipher.Stream
}

// NewCipher cria um Cipher AES-256-CTR a partir do hash da chave (32 bytes,
// usado diretamente como chave AES-256) e de um IV de 16 bytes.
func NewCipher(keyHash [32]byte, iv [IVSize]byte) (*Cipher, error) {
	block, err := aes.NewCipher(keyHash[:])
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	return &Cipher{stream: cipher.NewCTR(block, iv[:])}, nil
}

// Update aplica o keystream a src e escreve o resultado em dst. dst e src
// podem apontar para o mesmo slice (XOR in-place). O comprimento é
// preservado: len(dst) == len(src) é exigido pelo cipher.Stream subjacente.
func (c *Cipher) Update(dst, src []byte) {
	c.stream.XORKeyStream(dst, src)
}

// Finalize não tem estado de cauda a liberar em CTR; retorna sempre nil.
func (c *Cipher) Finalize() []byte {
	return nil
}

// NewIV gera um IV de 16 bytes aleatório e distinto para um novo segmento.
func NewIV() ([IVSize]byte, error) {
	var iv [IVSize]byte
	if _, err := io.ReadFull(rand.Reader, iv[:]); err != nil {
		return iv, fmt.Errorf("generating IV: %w", err)
	}
	return iv, nil
}
