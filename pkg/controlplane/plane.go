// Package controlplane owns the proxy's lifecycle state machine, its
// atomic Counters, and the Control API an external UI drives
// (start/stop/status/getCounters/getLogs/clearLogs).
//
// The start/stop already-started/already-stopped guard pattern follows
// the same shape as an external process supervisor's Start()/Stop(),
// adapted here to an internal TLS listener and accept loop instead of a
// child OS process.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	sockaddr "github.com/hashicorp/go-sockaddr"

	"github.com/rai-connect/core/pkg/config"
	"github.com/rai-connect/core/pkg/hostsfile"
	"github.com/rai-connect/core/pkg/logging"
	"github.com/rai-connect/core/pkg/tlsterm"
	"github.com/rai-connect/core/pkg/trustanchor"
	"github.com/rai-connect/core/pkg/upstream"
)

// defaultShutdownDrain is how long Stop waits for in-flight connections
// to finish on their own before giving up on them, used when
// cfg.ShutdownDrain is unset.
const defaultShutdownDrain = 5 * time.Second

// Plane owns the proxy's full lifecycle: trust anchor, hosts file
// block, TLS listener, accept loop, and counters.
type Plane struct {
	mu    sync.Mutex
	state State
	err   error

	cfg config.ProxyConfig
	log *logging.Sink

	anchor   *trustanchor.Anchor
	hosts    *hostsfile.Manager
	counters Counters

	listener   *tlsterm.Terminator
	dispatcher *upstream.Dispatcher

	cancel  context.CancelFunc
	connsWG sync.WaitGroup

	trustDirOverride  string
	hostsPathOverride string
}

// Option configures a Plane at construction time using the standard
// functional-options shape.
type Option func(*Plane)

// WithTrustAnchorDir overrides the certificate bundle's on-disk
// directory, normally trustanchor.DefaultDir(). Exists so tests don't
// touch the real user home directory.
func WithTrustAnchorDir(dir string) Option {
	return func(p *Plane) { p.trustDirOverride = dir }
}

// WithHostsPath overrides the managed hosts file path, normally
// hostsfile.DefaultPath. Exists so tests don't touch /etc/hosts.
func WithHostsPath(path string) Option {
	return func(p *Plane) { p.hostsPathOverride = path }
}

// New builds a Plane in the Stopped state, ready for Start.
func New(log *logging.Sink, opts ...Option) *Plane {
	p := &Plane{state: StateStopped, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start performs, in order: ensure the certificate bundle, best-effort
// install it to the system trust store, ensure the hosts file block,
// bind the loopback listener, and spawn the accept loop. Any failure
// transitions to Failed(reason) and is returned to the caller.
func (p *Plane) Start(cfg config.ProxyConfig) error {
	p.mu.Lock()
	if p.state != StateStopped && p.state != StateFailed {
		p.mu.Unlock()
		return errors.New("control plane is already started")
	}
	p.state = StateStarting
	p.cfg = cfg
	p.mu.Unlock()

	if err := p.start(cfg); err != nil {
		p.mu.Lock()
		p.state = StateFailed
		p.err = err
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.state = StateRunning
	p.err = nil
	p.mu.Unlock()
	return nil
}

func (p *Plane) start(cfg config.ProxyConfig) error {
	if err := validateLoopback(cfg.BindAddress); err != nil {
		return fmt.Errorf("bind address validation: %w", err)
	}

	dir := p.trustDirOverride
	if dir == "" {
		var err error
		dir, err = trustanchor.DefaultDir()
		if err != nil {
			return fmt.Errorf("resolve trust anchor directory: %w", err)
		}
	}
	aliases := requiredAliases(cfg.OfficialBaseHost)
	p.anchor = trustanchor.New(dir, aliases)

	bundle, err := p.anchor.Ensure()
	if err != nil {
		return fmt.Errorf("ensure certificate bundle: %w", err)
	}

	if err := p.anchor.InstallToSystemTrust(bundle); err != nil {
		if trustanchor.IsAlreadyPresent(err) {
			p.log.Infof("controlplane", "certificate already present in system trust store")
		} else {
			p.log.Warnf("controlplane", "best-effort trust store install failed: %v", err)
		}
	}

	hostsPath := p.hostsPathOverride
	if hostsPath == "" {
		hostsPath = hostsfile.DefaultPath
	}
	p.hosts = hostsfile.New(hostsPath)
	if err := p.hosts.EnsureAliases(aliases); err != nil {
		return fmt.Errorf("ensure hosts file block: %w", err)
	}

	dispatcher, err := upstream.New(p.log)
	if err != nil {
		return fmt.Errorf("build upstream dispatcher: %w", err)
	}
	p.dispatcher = dispatcher

	term := tlsterm.New(bundle, cfg.HandshakeTimeout, p.log)
	addr := fmt.Sprintf("%s:%d", cfg.BindAddress.String(), cfg.HTTPSPort)
	if err := term.Listen(addr); err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	p.listener = term

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.acceptLoop(ctx, term)

	return nil
}

// Stop closes the listener, waits up to shutdownDrain for in-flight
// connections, removes the hosts block, and leaves the certificate
// installed — uninstalling it from the system trust store is a
// separate, explicit action, not implied by Stop.
func (p *Plane) Stop() error {
	p.mu.Lock()
	if p.state != StateRunning && p.state != StateFailed {
		p.mu.Unlock()
		return errors.New("control plane is already stopped")
	}
	p.state = StateStopping
	cancel := p.cancel
	listener := p.listener
	p.mu.Unlock()

	var result *multierror.Error

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close listener: %w", err))
		}
	}

	drain := p.cfg.ShutdownDrain
	if drain <= 0 {
		drain = defaultShutdownDrain
	}

	drained := make(chan struct{})
	go func() {
		p.connsWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drain):
		// Connections did not finish in time. Stop returns without them:
		// closing the listener does not close connections it already
		// accepted, and Stop does not close them either, so they keep
		// running until they end on their own.
	}

	if p.hosts != nil {
		if err := p.hosts.RemoveBlock(); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove hosts block: %w", err))
		}
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()

	return result.ErrorOrNil()
}

// Status returns the current lifecycle state, a counters snapshot, and
// the last fatal error (if any).
func (p *Plane) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{State: p.state, Counters: p.counters.ReadSnapshot()}
	if p.err != nil {
		s.LastError = p.err.Error()
	}
	return s
}

// GetCounters returns a point-in-time counters snapshot.
func (p *Plane) GetCounters() Snapshot {
	return p.counters.ReadSnapshot()
}

// GetLogs returns every buffered log record since the given time.
func (p *Plane) GetLogs(since time.Time) []logging.Record {
	if p.log == nil {
		return nil
	}
	return p.log.Logs(since)
}

// ClearLogs empties the in-memory log buffer.
func (p *Plane) ClearLogs() {
	if p.log != nil {
		p.log.Clear()
	}
}

// requiredAliases is the minimum set of hostnames that must resolve to
// loopback for one official base host: the four osu!-domain subdomains
// the router classifies on, plus their .localhost equivalents.
func requiredAliases(official string) []string {
	return []string{
		"osu." + official, "c." + official, "b." + official, "a." + official,
		"osu.localhost", "c.localhost", "b.localhost", "a.localhost",
	}
}

// validateLoopback rejects any configured bind address that isn't
// loopback: this proxy is never meant to accept connections from
// another host on the network.
func validateLoopback(addr net.IP) error {
	sa, err := sockaddr.NewIPAddr(addr.String())
	if err != nil {
		return fmt.Errorf("parse bind address %s: %w", addr, err)
	}
	if !sockaddr.IsLoopbackAddr(sa) {
		return fmt.Errorf("bind address %s is not loopback", addr)
	}
	return nil
}
