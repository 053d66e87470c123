// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transport aplica tuning best-effort de socket TCP às conexões
// do engine de transferência. Falha de tuning é logada, nunca fatal.
package transport

import (
	"log/slog"
	"net"
	"time"
)

const (
	sendBufferSize  = 16 * 1024 * 1024
	recvBufferSize  = 16 * 1024 * 1024
	keepAlivePeriod = 30 * time.Second
)

// TuneConn aplica buffers de socket, TCP_NODELAY e SO_KEEPALIVE em conn
// quando ela é um *net.TCPConn. Conexões não-TCP (ex: pipes em testes)
// passam intocadas.
func TuneConn(log *slog.Logger, conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if err := tcpConn.SetNoDelay(true); err != nil {
		log.Debug("transport: SetNoDelay failed", "error", err)
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		log.Debug("transport: SetKeepAlive failed", "error", err)
	}
	if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
		log.Debug("transport: SetKeepAlivePeriod failed", "error", err)
	}
	if err := tcpConn.SetReadBuffer(recvBufferSize); err != nil {
		log.Debug("transport: SetReadBuffer failed", "error", err)
	}
	if err := tcpConn.SetWriteBuffer(sendBufferSize); err != nil {
		log.Debug("transport: SetWriteBuffer failed", "error", err)
	}
}
