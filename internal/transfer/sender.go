// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/nishisan-dev/beam/internal/discovery"
	"github.com/nishisan-dev/beam/internal/key"
	"github.com/nishisan-dev/beam/internal/progress"
	"github.com/nishisan-dev/beam/internal/protocol"
	"github.com/nishisan-dev/beam/internal/tarpipeline"
	"github.com/nishisan-dev/beam/internal/throttle"
	"github.com/nishisan-dev/beam/internal/transfer/descriptor"
	"github.com/nishisan-dev/beam/internal/transport"
)

// Port é a porta TCP em que o receiver escuta. É var em vez de const para
// que testes possam apontar Send e Receiver para uma porta alternativa
// sem tocar a well-known 25001 de uma interface real.
var Port = 25001

const (
	handshakeTimeout = 30 * time.Second
	finalAckTimeout  = 30 * time.Second
)

// SendRequest reúne tudo que o sender precisa para empurrar um arquivo ou
// diretório a um receiver já conhecido por endereço, sem passar por
// discovery (usado diretamente por testes e por chamadores que já
// resolveram um endereço via discovery.Locate).
type SendRequest struct {
	Path       string
	ReceiverIP net.IP
	Key        string
	Options    descriptor.Options
	Progress   progress.Reporter
	Log        *slog.Logger
}

// Send planeja os segmentos de Path, disca para o receiver, executa o
// handshake e todas as tasks de segmento, e reporta o resultado. Sucesso
// retorna nil; qualquer outro caso retorna um *Error.
func Send(ctx context.Context, req SendRequest) error {
	if req.Progress == nil {
		req.Progress = progress.NopReporter{}
	}
	log := req.Log
	if log == nil {
		log = slog.Default()
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		return newErr(KindIOError, fmt.Errorf("stat %q: %w", req.Path, err))
	}

	keyHash := key.Hash(req.Key)

	var desc descriptor.TransferDescriptor
	if info.IsDir() {
		desc, err = descriptor.NewDirectoryDescriptor(filepath.Base(filepath.Clean(req.Path)), keyHash, req.Options)
	} else {
		desc, err = descriptor.NewFileDescriptor(filepath.Base(req.Path), uint64(info.Size()), keyHash, req.Options)
	}
	if err != nil {
		return newErr(KindIOError, err)
	}

	addr := &net.TCPAddr{IP: req.ReceiverIP, Port: Port}
	primaryConn, err := net.DialTimeout("tcp", addr.String(), handshakeTimeout)
	if err != nil {
		return newErr(KindIOError, fmt.Errorf("dialing receiver %s: %w", addr, err))
	}
	transport.TuneConn(log, primaryConn)
	defer primaryConn.Close()

	if err := protocol.WritePrimaryHeader(primaryConn, desc.ToHeader()); err != nil {
		return newErr(KindIOError, err)
	}

	if err := primaryConn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		log.Debug("sender: SetReadDeadline failed", "error", err)
	}
	accept, err := protocol.ReadControl(primaryConn)
	if err != nil {
		return newErr(KindHandshakeTimeout, err)
	}
	_ = primaryConn.SetReadDeadline(time.Time{})
	if accept != protocol.ControlYes {
		return ErrTransferDeclined
	}

	conns := make([]net.Conn, desc.StreamCount)
	conns[0] = primaryConn
	for i := 1; i < int(desc.StreamCount); i++ {
		c, err := net.DialTimeout("tcp", addr.String(), handshakeTimeout)
		if err != nil {
			closeAll(conns[:i])
			return newErr(KindIOError, fmt.Errorf("dialing auxiliary stream %d: %w", i, err))
		}
		transport.TuneConn(log, c)
		if err := protocol.WriteStreamHandshake(c, &protocol.StreamHandshake{
			StreamIndex: uint16(i),
			TransferID:  desc.TransferID,
		}); err != nil {
			closeAll(conns[:i])
			c.Close()
			return newErr(KindIOError, err)
		}
		conns[i] = c
	}

	latch := newErrorLatch()
	var wg sync.WaitGroup

	req.Progress.Start(totalSizePtr(desc), req.Path)

	if desc.IsDirectory {
		queue := tarpipeline.NewQueue(4 * int64(desc.ChunkSize))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tarpipeline.Produce(req.Path, queue); err != nil {
				latch.Fail(newErr(KindIOError, err))
			}
		}()

		go func() {
			count, err := tarpipeline.PreScan(req.Path)
			if err != nil {
				log.Debug("sender: pre-scan failed", "path", req.Path, "error", err)
				return
			}
			req.Progress.SetTotalObjects(count)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			var r io.Reader = tarpipeline.NewReader(queue)
			if req.Options.BandwidthLimit > 0 {
				r = throttle.NewReader(ctx, r, req.Options.BandwidthLimit)
			}
			if err := runSegmentSend(ctx, conns[0], r, desc, 0, req.Progress, false); err != nil {
				latch.Fail(err)
				for _, c := range conns {
					c.Close()
				}
			}
		}()
	} else {
		f, err := os.Open(req.Path)
		if err != nil {
			closeAll(conns)
			return newErr(KindIOError, err)
		}
		defer f.Close()

		for i, seg := range desc.Segments {
			i, seg := i, seg
			wg.Add(1)
			go func() {
				defer wg.Done()
				segFile, err := os.Open(req.Path)
				if err != nil {
					latch.Fail(newErr(KindIOError, err))
					return
				}
				defer segFile.Close()
				if _, err := segFile.Seek(int64(seg.Offset), io.SeekStart); err != nil {
					latch.Fail(newErr(KindIOError, err))
					return
				}

				var r io.Reader = io.LimitReader(segFile, int64(seg.Length))
				if req.Options.BandwidthLimit > 0 {
					r = throttle.NewReader(ctx, r, req.Options.BandwidthLimit)
				}

				if err := runSegmentSend(ctx, conns[i], r, desc, i, req.Progress, i > 0); err != nil {
					latch.Fail(err)
					for _, c := range conns {
						c.Close()
					}
				}
			}()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		closeAll(conns)
		<-done
	}

	if err := latch.Err(); err != nil {
		req.Progress.Finish()
		return err
	}

	if err := primaryConn.SetReadDeadline(time.Now().Add(finalAckTimeout)); err != nil {
		log.Debug("sender: SetReadDeadline failed", "error", err)
	}
	final, err := protocol.ReadControl(primaryConn)
	req.Progress.Finish()
	if err != nil {
		return newErr(KindHandshakeTimeout, err)
	}
	if final != protocol.ControlYes {
		return newErr(KindIOError, fmt.Errorf("receiver reported failure"))
	}
	return nil
}

// runSegmentSend dirige o loop ler/comprimir/cifrar/enquadrar/enviar de
// um segmento, escrevendo em conn até o segmento (ou, para diretórios, o
// stream tar) se esgotar, e então emite o frame sentinela. closeAfter
// fecha conn depois do sentinela, seguindo o ciclo de vida das conexões
// auxiliares.
func runSegmentSend(ctx context.Context, conn net.Conn, src io.Reader, desc descriptor.TransferDescriptor, segIndex int, rep progress.Reporter, closeAfter bool) error {
	seg := desc.Segments[segIndex]
	cipher, err := key.NewCipher(desc.KeyHash, seg.IV)
	if err != nil {
		return newErr(KindIOError, err)
	}

	bounded := !desc.IsDirectory
	remaining := seg.Length
	buf := make([]byte, desc.ChunkSize)

	for {
		if ctx.Err() != nil {
			return newErr(KindIOError, ctx.Err())
		}

		readLen := len(buf)
		if bounded {
			if remaining == 0 {
				break
			}
			if uint64(readLen) > remaining {
				readLen = int(remaining)
			}
		}

		n, readErr := src.Read(buf[:readLen])
		if n == 0 {
			if readErr == io.EOF {
				if bounded {
					return newErr(KindUnexpectedEOF, fmt.Errorf("segment exhausted early: %d bytes still expected", remaining))
				}
				break
			}
			return newErr(KindIOError, readErr)
		}

		plain := buf[:n]
		payload := plain
		if desc.EnableCompress {
			compressed, err := zlibCompress(plain, int(desc.CompressionLevel))
			if err != nil {
				return newErr(KindIOError, err)
			}
			payload = compressed
		}

		ciphertext := make([]byte, len(payload))
		cipher.Update(ciphertext, payload)

		if err := protocol.WriteChunk(conn, uint32(n), ciphertext); err != nil {
			return newErr(KindIOError, err)
		}
		rep.Advance(uint64(n))

		if bounded {
			remaining -= uint64(n)
		}

		if readErr != nil && readErr != io.EOF {
			return newErr(KindIOError, readErr)
		}
		if !bounded && readErr == io.EOF {
			break
		}
	}

	if err := protocol.WriteSentinel(conn); err != nil {
		return newErr(KindIOError, err)
	}
	if closeAfter {
		conn.Close()
	}
	return nil
}

func zlibCompress(plain []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func closeAll(conns []net.Conn) {
	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
}

func totalSizePtr(d descriptor.TransferDescriptor) *uint64 {
	if d.IsDirectory {
		return nil
	}
	total := d.TotalSize
	return &total
}

// Locate embrulha discovery.Locate no tipo de erro do pacote transfer.
func Locate(ctx context.Context, log *slog.Logger, filename string, size uint64, transferKey string) (net.IP, error) {
	ip, err := discovery.Locate(ctx, log, discovery.Request{Filename: filename, Size: size, Key: transferKey})
	if err != nil {
		return nil, newErr(KindNoReceiverFound, err)
	}
	return ip, nil
}
