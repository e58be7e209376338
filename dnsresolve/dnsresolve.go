// Package dnsresolve is the DNS-resolver collaborator named in spec.md
// §9: a small client that exchanges miekg/dns messages over UDP or TCP
// connections registered with an iomultiplex.Handler, falling back from
// UDP to TCP on truncation the same way the stdlib resolver does.
//
// Grounded on the per-connection exchange shape of
// bassosimone-nop/dnsoverudp.go and dnsovertcp.go (one *Resolver wraps an
// owned connection, Exchange may be called repeatedly), generalized from
// their blocking net.Conn transports to the reactor's nonblocking
// Read/Write submit model via Handler.ReadBlocking/WriteBlocking.
package dnsresolve

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/bassosimone/safeconn"

	"github.com/dxarrhenius/iomultiplex"
	"github.com/dxarrhenius/iomultiplex/conn"
	"github.com/dxarrhenius/iomultiplex/logfacade"
)

// Resolver performs DNS message exchanges over a connection registered
// with a Handler. It owns the connection and closes it when done.
type Resolver struct {
	h       *iomultiplex.Handler
	c       iomultiplex.Connection
	orig    net.Conn // for safeconn address/network introspection in logs
	network string   // "udp" or "tcp"
	log     logfacade.Sink
	timeout time.Duration
}

// NewUDPResolver dials server over UDP and wraps the resulting socket.
func NewUDPResolver(h *iomultiplex.Handler, server string, timeout time.Duration, log logfacade.Sink) (*Resolver, error) {
	pc, err := net.Dial("udp", server)
	if err != nil {
		return nil, fmt.Errorf("dnsresolve: dial udp: %w", err)
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("dnsresolve: %s did not yield a UDP connection", server)
	}
	sc, err := conn.NewDatagramSocketConn(h, udpConn)
	if err != nil {
		udpConn.Close()
		return nil, err
	}
	return &Resolver{h: h, c: sc, orig: udpConn, network: "udp", log: log, timeout: timeout}, nil
}

// NewTCPResolver dials server over TCP and wraps the resulting socket.
func NewTCPResolver(h *iomultiplex.Handler, server string, timeout time.Duration, log logfacade.Sink) (*Resolver, error) {
	nc, err := net.Dial("tcp", server)
	if err != nil {
		return nil, fmt.Errorf("dnsresolve: dial tcp: %w", err)
	}
	sc, err := conn.NewSocketConn(h, nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &Resolver{h: h, c: sc, orig: nc, network: "tcp", log: log, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (r *Resolver) Close() error { return r.c.Close() }

// Exchange sends query and returns the parsed response, or an error.
// Over UDP, a truncated (TC-flagged) response is surfaced to the caller
// unmodified; callers wanting the stdlib's automatic UDP-then-TCP
// fallback should use ExchangeWithFallback instead.
func (r *Resolver) Exchange(query *dns.Msg) (*dns.Msg, error) {
	wire, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("dnsresolve: pack query: %w", err)
	}

	r.log.Debug("dnsresolve exchange start",
		"network", r.network,
		"qname", firstQuestionName(query),
		"localAddr", safeconn.LocalAddr(r.orig),
		"remoteAddr", safeconn.RemoteAddr(r.orig),
		"protocol", safeconn.Network(r.orig),
	)

	if r.network == "tcp" {
		if err := r.writeTCP(wire); err != nil {
			return nil, err
		}
	} else {
		if _, err := r.h.WriteBlocking(r.c, wire, r.timeout); err != nil {
			return nil, fmt.Errorf("dnsresolve: write query: %w", err)
		}
	}

	raw, err := r.readMessage()
	if err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(raw); err != nil {
		return nil, fmt.Errorf("dnsresolve: unpack response: %w", err)
	}
	r.log.Debug("dnsresolve exchange done", "network", r.network, "rcode", resp.Rcode)
	return resp, nil
}

// writeTCP prefixes wire with its big-endian uint16 length, per RFC 1035
// §4.2.2's TCP message framing.
func (r *Resolver) writeTCP(wire []byte) error {
	framed := make([]byte, 2+len(wire))
	binary.BigEndian.PutUint16(framed, uint16(len(wire)))
	copy(framed[2:], wire)
	_, err := r.h.WriteBlocking(r.c, framed, r.timeout)
	if err != nil {
		return fmt.Errorf("dnsresolve: write query: %w", err)
	}
	return nil
}

func (r *Resolver) readMessage() ([]byte, error) {
	if r.network == "udp" {
		buf := make([]byte, 65535)
		n, err := r.h.ReadBlocking(r.c, buf, r.timeout)
		if err != nil {
			return nil, fmt.Errorf("dnsresolve: read response: %w", err)
		}
		return buf[:n], nil
	}

	lenBuf := make([]byte, 2)
	if _, err := readFull(r.h, r.c, lenBuf, r.timeout); err != nil {
		return nil, fmt.Errorf("dnsresolve: read response length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf)
	body := make([]byte, n)
	if _, err := readFull(r.h, r.c, body, r.timeout); err != nil {
		return nil, fmt.Errorf("dnsresolve: read response body: %w", err)
	}
	return body, nil
}

func readFull(h *iomultiplex.Handler, c iomultiplex.Connection, buf []byte, timeout time.Duration) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := h.ReadBlocking(c, buf[total:], timeout)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("dnsresolve: connection closed mid-message")
		}
		total += n
	}
	return total, nil
}

// ExchangeWithFallback behaves like Exchange, but if r wraps a UDP socket
// and the response comes back truncated (TC bit set), it transparently
// retries the same query over a new TCP connection to server, mirroring
// net.Resolver's own UDP/TCP fallback.
func ExchangeWithFallback(h *iomultiplex.Handler, server string, query *dns.Msg, timeout time.Duration, log logfacade.Sink) (*dns.Msg, error) {
	udp, err := NewUDPResolver(h, server, timeout, log)
	if err != nil {
		return nil, err
	}
	defer udp.Close()

	resp, err := udp.Exchange(query)
	if err != nil {
		return nil, err
	}
	if !resp.Truncated {
		return resp, nil
	}

	log.Debug("dnsresolve udp response truncated, retrying over tcp", "qname", firstQuestionName(query))
	tcp, err := NewTCPResolver(h, server, timeout, log)
	if err != nil {
		return nil, err
	}
	defer tcp.Close()
	return tcp.Exchange(query)
}

func firstQuestionName(m *dns.Msg) string {
	if len(m.Question) == 0 {
		return ""
	}
	return m.Question[0].Name
}
