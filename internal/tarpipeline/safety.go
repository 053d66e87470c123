// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tarpipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath marca uma entrada de tar cujo nome escaparia do diretório
// de destino. Chamadores distinguem essa classe de falha com errors.Is.
var ErrUnsafePath = errors.New("tarpipeline: unsafe entry path")

// validateEntryName rejeita nomes de entrada de tar perigosos antes que
// sejam unidos ao diretório de destino: caminhos absolutos, componentes
// ".." e bytes NUL. O prefixo "./" emitido por arquivadores GNU tar é
// aceito e removido pelo chamador antes desta checagem.
func validateEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty entry name", ErrUnsafePath)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: entry name contains null byte: %q", ErrUnsafePath, name)
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("%w: entry name is absolute: %q", ErrUnsafePath, name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return fmt.Errorf("%w: entry name contains path traversal: %q", ErrUnsafePath, name)
		}
	}
	return nil
}

// resolveEntryPath une name a baseDir e confirma que o resultado
// permanece dentro de baseDir, defesa em profundidade contra o caso em
// que validateEntryName não for suficiente (p.ex. links simbólicos em
// baseDir). Retorna o caminho absoluto resolvido.
func resolveEntryPath(baseDir, name string) (string, error) {
	if err := validateEntryName(name); err != nil {
		return "", err
	}

	target := filepath.Join(baseDir, name)

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("tarpipeline: resolving base dir: %w", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("tarpipeline: resolving entry path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: entry %q escapes destination directory", ErrUnsafePath, name)
	}

	return absTarget, nil
}

// uniqueDestination retorna destDir se ele ainda não existir, ou
// destDir com um sufixo "_1", "_2", ... até encontrar um nome livre. Usado
// quando o diretório de nível superior recebido colidiria com um já
// existente no destino do receiver.
func uniqueDestination(destDir string) string {
	if _, err := os.Lstat(destDir); os.IsNotExist(err) {
		return destDir
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", destDir, i)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
