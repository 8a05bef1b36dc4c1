// Package tlsterm implements a loopback TLS listener that terminates
// the handshake using the shared certificate bundle and hands the
// plaintext byte stream upward tagged with the negotiated SNI host. It
// never parses HTTP.
//
// The accept-loop-plus-per-connection-goroutine shape mirrors a
// standard admission webhook server; SNI extraction goes through
// tls.Config.GetConfigForClient so every connection's ClientHello can
// be inspected before a certificate is committed to.
package tlsterm

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/rai-connect/core/pkg/logging"
	"github.com/rai-connect/core/pkg/trustanchor"
)

// Conn pairs a completed TLS connection with the SNI host the client
// requested during the handshake.
type Conn struct {
	net.Conn
	SNIHost string
}

// Terminator binds a loopback listener and performs the TLS handshake
// for every accepted connection.
type Terminator struct {
	bundle           *trustanchor.CertificateBundle
	handshakeTimeout time.Duration
	log              *logging.Sink
	listener         net.Listener
}

// New builds a Terminator using the given certificate bundle. Call
// Listen to bind, then Accept in a loop.
func New(bundle *trustanchor.CertificateBundle, handshakeTimeout time.Duration, log *logging.Sink) *Terminator {
	return &Terminator{bundle: bundle, handshakeTimeout: handshakeTimeout, log: log}
}

// Listen binds a TCP listener at addr (expected to be a loopback
// address; the proxy never binds a non-loopback interface) and wraps
// it in a TLS listener that always serves the shared bundle while
// still allowing GetConfigForClient to inspect the ClientHello for SNI.
func (t *Terminator) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	cert := tls.Certificate{
		Certificate: [][]byte{t.bundle.CertDER},
		PrivateKey:  t.bundle.PrivateKey,
		Leaf:        t.bundle.Certificate,
	}
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			if hello.ServerName == "" {
				// No portable way to force the exact unrecognized_name alert
				// byte from this callback; returning an error here aborts
				// the handshake before any certificate is sent, which is
				// the closest stdlib equivalent.
				return nil, errNoSNI
			}
			return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
		},
	}
	t.listener = tls.NewListener(ln, tlsCfg)
	return nil
}

// Addr returns the bound address. Valid only after Listen succeeds.
func (t *Terminator) Addr() net.Addr { return t.listener.Addr() }

// Close releases the underlying listener.
func (t *Terminator) Close() error { return t.listener.Close() }

// Accept blocks for the next connection, completes its TLS handshake
// within the configured timeout, and extracts the negotiated SNI host.
// A missing SNI is rejected by refusing the handshake before it
// completes, the closest stdlib equivalent to an unrecognized_name alert.
func (t *Terminator) Accept(ctx context.Context) (*Conn, error) {
	raw, err := t.listener.Accept()
	if err != nil {
		return nil, err
	}

	tlsConn, ok := raw.(*tls.Conn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("unexpected connection type %T", raw)
	}

	if t.handshakeTimeout > 0 {
		_ = tlsConn.SetDeadline(time.Now().Add(t.handshakeTimeout))
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		if t.log != nil {
			t.log.Warnf("tlsterm", "tls handshake failed from %s: %v", raw.RemoteAddr(), err)
		}
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	sniHost := tlsConn.ConnectionState().ServerName
	if sniHost == "" {
		tlsConn.Close()
		return nil, errNoSNI
	}

	if t.handshakeTimeout > 0 {
		_ = tlsConn.SetDeadline(time.Time{})
	}

	return &Conn{Conn: tlsConn, SNIHost: sniHost}, nil
}

var errNoSNI = fmt.Errorf("tls handshake: no SNI presented")
