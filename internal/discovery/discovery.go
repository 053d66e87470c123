// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package discovery implementa o protocolo de descoberta por broadcast UDP
// usado pelo sender para localizar um receiver na mesma LAN, sem exigir
// endereço conhecido de antemão. O sender transmite um pedido em texto
// simples separado por ":" em todo endereço de broadcast alcançável e
// aceita a primeira resposta de um host que não seja ele mesmo.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Port é a porta UDP fixa usada pelo protocolo de descoberta em ambos os
// lados.
const Port = 25000

const (
	requestPrefix = "SENDER_REQUEST"
	readyMessage  = "RECEIVER_READY"

	broadcastInterval = 500 * time.Millisecond
	broadcastWindow   = 3 * time.Second

	maxDatagramSize = 2048
)

// ErrNoReceiverFound é retornado por Locate quando nenhuma resposta chega
// dentro da janela de broadcast.
var ErrNoReceiverFound = errors.New("discovery: no receiver responded")

// Request descreve o anúncio transmitido pelo sender a cada tick.
type Request struct {
	Filename string
	Size     uint64
	Key      string
}

// Encode serializa o pedido no formato "SENDER_REQUEST:<filename>:<size>:<key>".
func (r Request) Encode() []byte {
	return []byte(fmt.Sprintf("%s:%s:%d:%s", requestPrefix, r.Filename, r.Size, r.Key))
}

// ParseRequest decodifica um datagrama de pedido recebido pelo receiver.
// Aceita nomes de arquivo contendo ":" usando SplitN com o número fixo de
// campos esperados.
func ParseRequest(b []byte) (Request, error) {
	parts := strings.SplitN(string(b), ":", 4)
	if len(parts) != 4 || parts[0] != requestPrefix {
		return Request{}, fmt.Errorf("discovery: malformed request %q", string(b))
	}
	size, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Request{}, fmt.Errorf("discovery: invalid size field: %w", err)
	}
	return Request{Filename: parts[1], Size: size, Key: parts[3]}, nil
}

// Locate transmite Request em todos os endereços de broadcast locais e em
// 255.255.255.255 a cada broadcastInterval, por até broadcastWindow, e
// retorna o endereço IP do primeiro host que responder RECEIVER_READY e
// não for um dos próprios endereços locais do sender. Retorna
// ErrNoReceiverFound se a janela expirar sem resposta.
func Locate(ctx context.Context, log *slog.Logger, req Request) (net.IP, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery: opening broadcast socket: %w", err)
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		return nil, fmt.Errorf("discovery: enabling broadcast: %w", err)
	}

	localIPs, err := localIPv4Set()
	if err != nil {
		log.Warn("discovery: could not enumerate local addresses", "error", err)
	}

	destinations := broadcastDestinations()
	payload := req.Encode()

	ctx, cancel := context.WithTimeout(ctx, broadcastWindow)
	defer cancel()

	found := make(chan net.IP, 1)
	go readResponses(conn, localIPs, found)

	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	send := func() {
		for _, dest := range destinations {
			addr := &net.UDPAddr{IP: dest, Port: Port}
			if _, err := conn.WriteToUDP(payload, addr); err != nil {
				log.Debug("discovery: broadcast send failed", "dest", dest.String(), "error", err)
			}
		}
	}

	send()
	for {
		select {
		case ip := <-found:
			return ip, nil
		case <-ticker.C:
			send()
		case <-ctx.Done():
			return nil, ErrNoReceiverFound
		}
	}
}

// setBroadcast habilita SO_BROADCAST em conn. Sem ele o kernel recusa
// WriteToUDP para endereço de broadcast com EPERM/EACCES, e um datagrama
// destinado a 255.255.255.255 ou ao broadcast da subrede nunca sai do
// host.
func setBroadcast(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("getting raw conn: %w", err)
	}

	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return fmt.Errorf("control fd: %w", err)
	}
	return sysErr
}

func readResponses(conn *net.UDPConn, localIPs map[string]bool, found chan<- net.IP) {
	buf := make([]byte, maxDatagramSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(broadcastWindow + time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if strings.TrimSpace(string(buf[:n])) != readyMessage {
			continue
		}
		if localIPs[addr.IP.String()] {
			continue
		}
		select {
		case found <- addr.IP:
		default:
		}
		return
	}
}

// broadcastDestinations enumera o endereço de broadcast /24 (três primeiros
// octetos do endereço local e .255) de cada endereço IPv4 das interfaces
// locais up e, como fallback, inclui sempre 255.255.255.255.
func broadcastDestinations() []net.IP {
	dests := []net.IP{net.IPv4bcast}

	ifaces, err := net.Interfaces()
	if err != nil {
		return dests
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			bcast := net.IPv4(ip4[0], ip4[1], ip4[2], 255).To4()
			dests = append(dests, bcast)
		}
	}
	return dests
}

func localIPv4Set() (map[string]bool, error) {
	set := map[string]bool{}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return set, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			set[ip4.String()] = true
		}
	}
	return set, nil
}

// Listen abre o socket de descoberta do receiver na porta fixa Port e
// entrega cada pedido válido recebido ao callback handle, respondendo
// RECEIVER_READY ao remetente do datagrama. Bloqueia até que ctx seja
// cancelado.
func Listen(ctx context.Context, log *slog.Logger, handle func(Request, net.IP)) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if err != nil {
		return fmt.Errorf("discovery: listening on UDP port %d: %w", Port, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discovery: reading datagram: %w", err)
		}
		req, err := ParseRequest(buf[:n])
		if err != nil {
			log.Debug("discovery: dropping malformed datagram", "from", addr.String(), "error", err)
			continue
		}
		if _, err := conn.WriteToUDP([]byte(readyMessage), addr); err != nil {
			log.Debug("discovery: reply send failed", "to", addr.String(), "error", err)
			continue
		}
		handle(req, addr.IP)
	}
}
