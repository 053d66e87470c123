// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tarpipeline

import (
	"io/fs"
	"os"
	"path/filepath"
)

// PreScan conta o número de arquivos regulares sob root sem ler seu
// conteúdo, para que o chamador possa reportar um total de itens ao
// Progress antes (ou durante) que o produtor comece a serializar o tar.
// Roda tipicamente em sua própria goroutine, em paralelo ao início real da
// transferência, e um erro de caminhada apenas interrompe a contagem sem
// propagar para a transferência em si.
func PreScan(root string) (fileCount int, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !d.IsDir() {
			fileCount++
		}
		return nil
	})
	return fileCount, err
}
