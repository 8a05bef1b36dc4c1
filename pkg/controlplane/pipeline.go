package controlplane

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rai-connect/core/pkg/bancho"
	"github.com/rai-connect/core/pkg/logging"
	"github.com/rai-connect/core/pkg/router"
	"github.com/rai-connect/core/pkg/tlsterm"
	"github.com/rai-connect/core/pkg/upstream"
)

// acceptLoop runs until ctx is cancelled (Stop()), handing each
// accepted connection its own goroutine tracked by connsWG so Stop can
// wait for in-flight work to drain.
func (p *Plane) acceptLoop(ctx context.Context, term *tlsterm.Terminator) {
	for {
		conn, err := term.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if p.log != nil {
					p.log.Warnf("controlplane", "accept failed: %v", err)
				}
				continue
			}
		}

		p.connsWG.Add(1)
		connID := logging.NewConnID()
		connLog := p.log.Conn(connID)
		go func() {
			defer p.connsWG.Done()
			defer conn.Close()
			if err := p.handleConn(ctx, conn, connLog); err != nil && err != io.EOF {
				connLog.Warnf("controlplane", "connection ended: %v", err)
			}
		}()
	}
}

// handleConn reads one HTTP/1.1 request at a time from the terminated
// connection, classifies it, and dispatches to the matching route.
// Persistent connections keep reading further requests until the client
// closes the connection or a BanchoSplice takes it over entirely.
func (p *Plane) handleConn(ctx context.Context, conn *tlsterm.Conn, log *logging.ConnLogger) error {
	br := bufio.NewReader(conn)

	for {
		req, err := router.ReadRequest(br)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		route := router.Classify(router.Config{
			OfficialBaseHost:    p.cfg.OfficialBaseHost,
			MirrorAPIBaseURL:    p.cfg.MirrorAPIBaseURL,
			MirrorDirectBaseURL: p.cfg.MirrorDirectBaseURL,
		}, conn.SNIHost, req.Method, req.URL.RequestURI())

		switch route.Kind {
		case router.KindBanchoSplice:
			return p.handleBanchoSplice(ctx, conn, br, req, log)

		case router.KindMirrorRedirect:
			p.counters.AddRequestsProxied(1)
			if strings.HasPrefix(req.URL.Path, "/d/") {
				p.counters.AddBeatmapsDownloaded(1)
			}
			writeRedirect(conn, route.RedirectLocation)

		case router.KindMirrorForward:
			p.counters.AddRequestsProxied(1)
			if err := p.forwardAndRelay(ctx, conn, req, route.TargetHost); err != nil {
				log.Warnf("upstream", "mirror forward failed: %v", err)
			}

		case router.KindUpstreamPassthrough:
			p.counters.AddRequestsProxied(1)
			if err := p.forwardAndRelay(ctx, conn, req, route.TargetHost); err != nil {
				log.Warnf("upstream", "passthrough forward failed: %v", err)
			}

		default:
			writeMisdirected(conn)
		}
	}
}

func (p *Plane) forwardAndRelay(ctx context.Context, conn *tlsterm.Conn, req *http.Request, targetHost string) error {
	resp, err := p.dispatcher.Forward(ctx, req, targetHost)
	if err != nil {
		status := http.StatusBadGateway
		var statusErr *upstream.StatusError
		if errorsAsStatus(err, &statusErr) {
			status = statusErr.Status
		}
		writeStatus(conn, status)
		return err
	}
	defer resp.Body.Close()
	return resp.Write(conn)
}

func errorsAsStatus(err error, target **upstream.StatusError) bool {
	for err != nil {
		if se, ok := err.(*upstream.StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// handleBanchoSplice forwards the buffered login POST over a raw TLS
// connection to the Bancho host, relays its response, then hands both
// sides to the Bancho splicer for the remainder of the connection's
// lifetime.
func (p *Plane) handleBanchoSplice(ctx context.Context, conn *tlsterm.Conn, br *bufio.Reader, req *http.Request, log *logging.ConnLogger) error {
	server, err := p.dispatcher.DialRaw(ctx, conn.SNIHost)
	if err != nil {
		return fmt.Errorf("dial bancho upstream: %w", err)
	}

	outreq := req.Clone(ctx)
	outreq.URL.Scheme = "https"
	outreq.URL.Host = conn.SNIHost
	outreq.RequestURI = ""
	if err := outreq.Write(server); err != nil {
		server.Close()
		return fmt.Errorf("write bancho login request: %w", err)
	}

	serverBR := bufio.NewReader(server)
	resp, err := http.ReadResponse(serverBR, outreq)
	if err != nil {
		server.Close()
		return fmt.Errorf("read bancho login response: %w", err)
	}
	if err := resp.Write(conn); err != nil {
		resp.Body.Close()
		server.Close()
		return fmt.Errorf("relay bancho login response: %w", err)
	}
	resp.Body.Close()

	clientStream := &bufferedConn{Conn: conn, br: br}
	serverStream := &bufferedConn{Conn: server, br: serverBR}

	return bancho.Splice(clientStream, serverStream, p.cfg.InjectSupporter, &p.counters, log)
}

// bufferedConn makes a net.Conn's already-buffered unread bytes (from an
// earlier bufio.Reader peel) visible to a new reader, so handing the
// connection off to a different consumer doesn't drop bytes already
// pulled into the buffer.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.br.Read(p) }

func writeRedirect(w io.Writer, location string) {
	resp := &http.Response{
		StatusCode: http.StatusFound,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Location": {location}, "Content-Length": {"0"}},
		Body:       http.NoBody,
	}
	_ = resp.Write(w)
}

func writeMisdirected(w io.Writer) {
	writeStatus(w, http.StatusMisdirectedRequest)
}

func writeStatus(w io.Writer, status int) {
	resp := &http.Response{
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Length": {"0"}},
		Body:       http.NoBody,
	}
	_ = resp.Write(w)
}
