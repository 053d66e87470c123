// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package throttle limita a taxa de leitura de uma fonte usando token
// bucket, de forma que a leitura do plaintext de um segmento seja
// ritmada antes de chegar à compressão e à cifra.
package throttle

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize é o tamanho máximo de burst para o rate limiter (256KB).
// Alinhado ao chunk mínimo do loop de leitura do sender.
const maxBurstSize = 256 * 1024

// Reader é um io.Reader com rate limiting baseado em token bucket.
type Reader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewReader cria um Reader com a taxa máxima em bytes/segundo.
// Se bytesPerSec <= 0, retorna o reader original sem throttle (bypass).
func NewReader(ctx context.Context, r io.Reader, bytesPerSec int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &Reader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Read implementa io.Reader com rate limiting. Leituras maiores que o
// burst são truncadas por chamada para consumir tokens gradualmente.
func (tr *Reader) Read(p []byte) (int, error) {
	if len(p) > tr.limiter.Burst() {
		p = p[:tr.limiter.Burst()]
	}

	n, err := tr.r.Read(p)
	if n > 0 {
		if waitErr := tr.limiter.WaitN(tr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
