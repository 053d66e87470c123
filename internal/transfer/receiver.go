// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/nishisan-dev/beam/internal/authorizer"
	"github.com/nishisan-dev/beam/internal/key"
	"github.com/nishisan-dev/beam/internal/logging"
	"github.com/nishisan-dev/beam/internal/progress"
	"github.com/nishisan-dev/beam/internal/protocol"
	"github.com/nishisan-dev/beam/internal/tarpipeline"
	"github.com/nishisan-dev/beam/internal/transfer/descriptor"
	"github.com/nishisan-dev/beam/internal/transport"
)

// minFreeSpaceMargin é mantido livre além do tamanho declarado da
// transferência, para que um recebimento nunca leve o filesystem de
// destino a zero bytes disponíveis.
const minFreeSpaceMargin = 16 * 1024 * 1024

// ReceiverConfig reúne os colaboradores do Receiver: a política que
// decide quais transferências aceitar, onde colocar arquivos e
// diretórios recebidos, e onde reportar progresso.
type ReceiverConfig struct {
	Authorizer  authorizer.Authorizer
	DownloadDir string
	Progress    progress.Reporter
	Log         *slog.Logger
	// TransferLogDir, quando não vazio, grava um log JSON de nível Debug
	// por transferência em {TransferLogDir}/{transfer_id}.log, removido
	// quando a transferência termina com sucesso.
	TransferLogDir string
}

// Receiver aceita transferências entrantes em Port e conduz cada uma por
// handshake, recepção de segmentos e conclusão.
type Receiver struct {
	cfg      ReceiverConfig
	registry *Registry
	log      *slog.Logger
}

// NewReceiver monta um Receiver pronto para ListenAndServe.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{cfg: cfg, registry: NewRegistry(), log: log}
}

// ListenAndServe faz bind em Port e serve conexões entrantes até ctx ser
// cancelado ou o listener falhar.
func (rc *Receiver) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", Port))
	if err != nil {
		return newErr(KindIOError, fmt.Errorf("listening on port %d: %w", Port, err))
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return newErr(KindIOError, fmt.Errorf("accepting connection: %w", err))
		}
		go rc.handleConn(ctx, conn)
	}
}

// handleConn lê os primeiros 4 bytes de uma conexão recém-aceita e a
// roteia para o caminho de stream auxiliar ou de handshake primário,
// conforme a desambiguação por magic bytes.
func (rc *Receiver) handleConn(ctx context.Context, conn net.Conn) {
	transport.TuneConn(rc.log, conn)

	var magic [4]byte
	if _, err := io.ReadFull(conn, magic[:]); err != nil {
		conn.Close()
		return
	}

	if protocol.IsStreamMagic(magic) {
		rc.handleAuxiliary(conn)
		return
	}

	rc.handlePrimary(ctx, conn, magic)
}

// handleAuxiliary despacha uma conexão de dados aberta para um stream
// paralelo de uma transferência já registrada. Handshake referenciando
// transfer id desconhecido ou índice fora de alcance é descartado em
// silêncio: o sender já se comprometeu com o stream count no header
// primário, então isso só acontece para transferência que o receiver
// nunca registrou (chave recusada, restart) e não existe mais canal para
// reportar erro de volta.
func (rc *Receiver) handleAuxiliary(conn net.Conn) {
	hs, err := protocol.ReadStreamHandshake(conn)
	if err != nil {
		conn.Close()
		return
	}

	at := rc.registry.Lookup(hs.TransferID)
	if at == nil || int(hs.StreamIndex) >= len(at.Descriptor.Segments) {
		conn.Close()
		return
	}

	err = rc.receiveSegment(conn, at, int(hs.StreamIndex), true)
	at.SegmentFinished(err)
}

// handlePrimary executa o ciclo de vida completo da conexão primária:
// parse do handshake, autorização e verificação da chave, preparação do
// destino, registro da transferência, recepção do próprio segmento
// (segmento 0 sempre viaja na conexão primária), espera pela conclusão de
// todos os segmentos e escrita do byte de controle final.
func (rc *Receiver) handlePrimary(ctx context.Context, conn net.Conn, filenameLenBytes [4]byte) {
	defer conn.Close()

	header, err := protocol.ReadPrimaryHeader(conn, filenameLenBytes)
	if err != nil {
		rc.log.Debug("receiver: malformed primary header", "error", err)
		return
	}
	desc := descriptor.FromHeader(header)

	// Segmentos fora de alcance ou sem tiling fecham a conexão em
	// silêncio, igual a um short read ou length inválido mais cedo em
	// ReadPrimaryHeader — nenhum byte de controle é devido a um peer que
	// nunca enviou um handshake bem-formado.
	if err := desc.ValidateSegments(); err != nil {
		rc.log.Debug("receiver: rejecting malformed header", "error", err)
		return
	}

	if !rc.cfg.Authorizer.Accept(desc) {
		_ = protocol.WriteControl(conn, protocol.ControlNo)
		return
	}

	// A chave digitada pelo operador é aparada e maiusculizada antes do
	// hash; Generate só emite [A-Z0-9], então entrada em caixa baixa é
	// erro de digitação, não chave distinta.
	entered := strings.ToUpper(strings.TrimSpace(rc.cfg.Authorizer.RequestKey()))
	expectedKey := key.Hash(entered)
	if !key.Equal(desc.KeyHash, expectedKey) {
		_ = protocol.WriteControl(conn, protocol.ControlNo)
		return
	}

	rep := rc.cfg.Progress
	if rep == nil {
		rep = progress.NopReporter{}
	}

	at, destPath, err := rc.prepareDestination(desc, rep)
	if err != nil {
		rc.log.Debug("receiver: preparing destination failed", "error", err)
		_ = protocol.WriteControl(conn, protocol.ControlNo)
		return
	}

	if !rc.registry.Register(at) {
		rc.abandon(at, destPath)
		_ = protocol.WriteControl(conn, protocol.ControlNo)
		return
	}
	defer rc.registry.Unregister(at.ID)

	transferID := hex.EncodeToString(at.ID[:])
	tlog, tlogCloser, _, err := logging.NewTransferLogger(rc.log, rc.cfg.TransferLogDir, transferID)
	if err != nil {
		rc.log.Debug("receiver: per-transfer log unavailable", "transfer_id", transferID, "error", err)
		tlog = rc.log
	} else {
		defer tlogCloser.Close()
	}
	tlog.Info("receiver: transfer accepted",
		"transfer_id", transferID,
		"filename", desc.Filename,
		"total_size", desc.TotalSize,
		"streams", desc.StreamCount,
		"directory", desc.IsDirectory)

	if err := protocol.WriteControl(conn, protocol.ControlYes); err != nil {
		rc.abandon(at, destPath)
		return
	}

	rep.Start(totalSizePtr(desc), desc.Filename)

	if desc.IsDirectory {
		rc.runDirectoryReceive(conn, at, destPath)
	} else {
		go func() {
			at.SegmentFinished(rc.receiveSegment(conn, at, 0, false))
		}()
	}

	select {
	case <-at.Done():
	case <-ctx.Done():
		at.SegmentFinished(newErr(KindIOError, ctx.Err()))
	}

	final := protocol.ControlYes
	if err := at.Err(); err != nil {
		final = protocol.ControlNo
		tlog.Warn("receiver: transfer failed", "transfer", desc.Filename, "error", err)
		rc.abandon(at, destPath)
	} else {
		if at.File != nil {
			_ = at.File.Close()
		}
		tlog.Info("receiver: transfer complete", "transfer", desc.Filename)
		logging.RemoveTransferLog(rc.cfg.TransferLogDir, transferID)
	}

	_ = protocol.WriteControl(conn, final)
	rep.Finish()
}

// runDirectoryReceive alimenta a fila tar da transferência com o stream
// de chunks da conexão primária enquanto, em paralelo, drena a fila pelo
// extrator tar, e então resolve o segmento quando as duas metades
// assentam. O par espelha a divisão producer/consumer do lado do sender.
func (rc *Receiver) runDirectoryReceive(conn net.Conn, at *ActiveTransfer, destDir string) {
	extractDone := make(chan error, 1)
	go func() {
		topLevel, err := tarpipeline.Consume(destDir, tarpipeline.NewReader(at.TarQueue))
		at.ExtractedDir = topLevel
		if err != nil {
			// Envenena a fila: sem extrator drenando, o Push do lado da
			// rede encheria a capacidade e bloquearia para sempre. Com a
			// fila fechada, Push retorna ErrQueueClosed e receiveSegment
			// aborta prontamente.
			at.TarQueue.Close()
		}
		extractDone <- err
	}()

	readErr := rc.receiveSegment(conn, at, 0, false)
	at.TarQueue.Close()
	extractErr := <-extractDone

	// Se o leitor só falhou porque o extrator fechou a fila, a causa raiz
	// é o erro de extração, não o ErrQueueClosed derivado dele.
	if errors.Is(readErr, tarpipeline.ErrQueueClosed) && extractErr != nil {
		readErr = nil
	}
	if readErr != nil {
		at.SegmentFinished(readErr)
		return
	}
	if extractErr != nil {
		kind := KindIOError
		if errors.Is(extractErr, tarpipeline.ErrUnsafePath) {
			kind = KindUnsafePath
		}
		at.SegmentFinished(newErr(kind, extractErr))
		return
	}
	at.SegmentFinished(nil)
}

// receiveSegment lê frames de chunk de um segmento até o sentinela,
// decifrando e (se habilitado) inflando cada payload, e roteia o
// plaintext para o arquivo de destino no offset absoluto ou para a fila
// tar da transferência. closeAfter fecha conn quando o sentinela chega,
// seguindo o ciclo de vida das conexões auxiliares.
func (rc *Receiver) receiveSegment(conn net.Conn, at *ActiveTransfer, segIndex int, closeAfter bool) error {
	seg := at.Descriptor.Segments[segIndex]
	cipher, err := key.NewCipher(at.Descriptor.KeyHash, seg.IV)
	if err != nil {
		if closeAfter {
			conn.Close()
		}
		return newErr(KindIOError, err)
	}

	var written uint64
	for {
		hdr, err := protocol.ReadChunkHeader(conn)
		if err != nil {
			if closeAfter {
				conn.Close()
			}
			return newErr(KindUnexpectedEOF, err)
		}
		if hdr.IsSentinel() {
			break
		}

		ciphertext := make([]byte, hdr.PayloadLen)
		if _, err := io.ReadFull(conn, ciphertext); err != nil {
			if closeAfter {
				conn.Close()
			}
			return newErr(KindUnexpectedEOF, err)
		}

		plain := make([]byte, len(ciphertext))
		cipher.Update(plain, ciphertext)

		data := plain
		if at.Descriptor.EnableCompress {
			inflated, err := zlibDecompress(plain)
			if err != nil {
				if closeAfter {
					conn.Close()
				}
				return newErr(KindIOError, err)
			}
			data = inflated
		}

		if uint32(len(data)) != hdr.PlainLen {
			if closeAfter {
				conn.Close()
			}
			return newErr(KindChunkLengthMismatch, fmt.Errorf("chunk declared %d plaintext bytes, decoded %d", hdr.PlainLen, len(data)))
		}

		if at.Descriptor.IsDirectory {
			if err := at.TarQueue.Push(data); err != nil {
				if closeAfter {
					conn.Close()
				}
				return newErr(KindIOError, err)
			}
		} else {
			if !at.ConsumeRemaining(uint16(segIndex), uint64(len(data))) {
				if closeAfter {
					conn.Close()
				}
				return newErr(KindUnexpectedEOF, fmt.Errorf("segment %d received more data than declared", segIndex))
			}
			if _, err := at.File.WriteAt(data, int64(seg.Offset+written)); err != nil {
				if closeAfter {
					conn.Close()
				}
				return newErr(KindIOError, err)
			}
			written += uint64(len(data))
		}

		at.Progress.Advance(uint64(len(data)))
	}

	if closeAfter {
		conn.Close()
	}

	// Sentinela antes do segmento completo é entrega truncada: o arquivo
	// pré-alocado ficaria com um buraco de zeros e ainda assim ganharia o
	// 'Y' final. ConsumeRemaining só pega excesso; a falta é pega aqui.
	if !at.Descriptor.IsDirectory {
		if rem := at.RemainingFor(uint16(segIndex)); rem != 0 {
			return newErr(KindUnexpectedEOF, fmt.Errorf("segment %d: sentinel arrived with %d bytes still expected", segIndex, rem))
		}
	}
	return nil
}

func zlibDecompress(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// prepareDestination cria o arquivo ou a fila tar em que a transferência
// vai escrever e os embrulha em um ActiveTransfer, sem registrá-lo ainda
// (o chamador registra quando o destino se mostrar válido).
func (rc *Receiver) prepareDestination(desc descriptor.TransferDescriptor, rep progress.Reporter) (*ActiveTransfer, string, error) {
	if err := os.MkdirAll(rc.cfg.DownloadDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("creating download directory: %w", err)
	}

	if desc.IsDirectory {
		queue := tarpipeline.NewQueue(4 * int64(desc.ChunkSize))
		return NewDirectoryActiveTransfer(desc, queue, rep), rc.cfg.DownloadDir, nil
	}

	name, err := sanitizeFilename(desc.Filename)
	if err != nil {
		return nil, "", newErr(KindUnsafePath, err)
	}

	if err := rc.checkFreeSpace(desc.TotalSize); err != nil {
		return nil, "", err
	}

	// Transferência de arquivo sobrescreve o que já existir no caminho de
	// destino; apenas extração de diretório (tarpipeline.uniqueDestination)
	// deduplica em colisão.
	path := filepath.Join(rc.cfg.DownloadDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("creating destination file: %w", err)
	}
	if err := f.Truncate(int64(desc.TotalSize)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("preallocating destination file: %w", err)
	}

	return NewActiveTransfer(desc, f, rep), path, nil
}

// checkFreeSpace é um preflight best-effort contra o filesystem de
// download encher no meio da transferência. Falha ao consultar o
// filesystem é logada e ignorada; a escrita em si falha alto se o espaço
// realmente acabar.
func (rc *Receiver) checkFreeSpace(need uint64) error {
	usage, err := disk.Usage(rc.cfg.DownloadDir)
	if err != nil {
		rc.log.Debug("receiver: disk usage check failed", "dir", rc.cfg.DownloadDir, "error", err)
		return nil
	}
	if usage.Free < need+minFreeSpaceMargin {
		return fmt.Errorf("insufficient free space in %q: need %d, have %d", rc.cfg.DownloadDir, need+minFreeSpaceMargin, usage.Free)
	}
	return nil
}

// abandon remove um destino preparado mas não concluído: o file handle e
// os bytes em disco de uma transferência de arquivo, ou a árvore
// parcialmente extraída de uma transferência de diretório (UnsafePath e
// qualquer outro erro fatal de recepção exigem o diretório parcial
// removido, não deixado para inspeção). at.ExtractedDir é o diretório
// top-level que tarpipeline.Consume de fato criou, que pode diferir de
// Descriptor.Filename se uma colisão de nome forçou sufixo; fica vazio se
// a extração falhou antes de criar qualquer coisa, caso em que não há
// nada a remover.
func (rc *Receiver) abandon(at *ActiveTransfer, destPath string) {
	if at.File != nil {
		at.File.Close()
		os.Remove(destPath)
	}
	if at.TarQueue != nil {
		at.TarQueue.Close()
		if at.ExtractedDir != "" {
			if err := os.RemoveAll(at.ExtractedDir); err != nil {
				rc.log.Debug("receiver: removing partial directory failed", "path", at.ExtractedDir, "error", err)
			}
		}
	}
}

// sanitizeFilename rejeita um filename vindo do sender contendo separador
// de caminho, nulo ou traversal, e retorna o nome puro que o receiver
// aceita criar dentro de DownloadDir.
func sanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty filename")
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("filename %q contains a path separator", name)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("filename %q contains a null byte", name)
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("filename %q is not a valid file name", name)
	}
	return name, nil
}
