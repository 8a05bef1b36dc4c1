// Package upstream is a pooled TLS dispatcher that forwards requests to
// the official upstream or the mirror host, using the system's default
// trust roots rather than the proxy's own terminating CA.
//
// The per-target pool follows the same shape as an LRU credential cache:
// an hashicorp/golang-lru/v2 cache bounding memory plus a side map
// enforcing a TTL, here holding one *http.Client connection pool per
// target host instead of a cached credential string.
package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	rootcerts "github.com/hashicorp/go-rootcerts"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rai-connect/core/pkg/logging"
)

const (
	maxIdleConnsPerTarget = 4
	poolLifetime          = 60 * time.Second
	maxTrackedTargets     = 256

	headerTimeout = 30 * time.Second
	totalTimeout  = 5 * time.Minute

	// lockShards stripes the target-pool cache across this many
	// independently-locked shards, so one busy target's cache lookup
	// never blocks a request to an unrelated target.
	lockShards = 32

	// lockAcquireTimeout bounds how long poolFor spins trying to acquire
	// its shard's lock before giving up and dialing a fresh, uncached
	// connection instead.
	lockAcquireTimeout = 100 * time.Millisecond
	lockRetryInterval  = 2 * time.Millisecond
)

// hopByHopHeaders are connection-specific and must never be forwarded
// (RFC 7230 §6.1).
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Connection",
	"Transfer-Encoding", "TE", "Trailer", "Upgrade",
}

// StatusError carries the HTTP status a forward failure should be
// reported to the client as (502 Bad Gateway or 504 Gateway Timeout),
// so callers can respond without re-deriving it from the underlying
// error.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return fmt.Sprintf("%d: %v", e.Status, e.Err) }
func (e *StatusError) Unwrap() error { return e.Err }

// defaultTargetPort is the port every dialed target is assumed to
// speak TLS on; every route this dispatcher ever forwards to (mirror
// API, mirror direct, official upstream) is HTTPS-on-443.
const defaultTargetPort = 443

// Dispatcher forwards requests to upstream hosts through a bounded set
// of per-target connection pools.
type Dispatcher struct {
	shards     [lockShards]dispatcherShard
	rootTLS    *tls.Config
	log        *logging.Sink
	targetPort int
}

// dispatcherShard is one stripe of the target-pool cache: its own LRU,
// its own expiry map, and its own lock, so contention on one shard never
// blocks a lookup that hashes to a different one.
type dispatcherShard struct {
	mu     sync.Mutex
	pools  *lru.Cache[string, *targetPool]
	expiry map[string]time.Time
}

type targetPool struct {
	client *http.Client
}

// New builds a Dispatcher using the system's default trust roots,
// loaded via go-rootcerts.
func New(log *logging.Sink) (*Dispatcher, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if err := rootcerts.ConfigureTLS(tlsCfg, &rootcerts.Config{}); err != nil {
		return nil, fmt.Errorf("configure system trust roots: %w", err)
	}

	d := &Dispatcher{rootTLS: tlsCfg, log: log, targetPort: defaultTargetPort}
	if err := d.initShards(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) initShards() error {
	perShard := maxTrackedTargets / lockShards
	if perShard < 1 {
		perShard = 1
	}
	for i := range d.shards {
		pools, err := lru.New[string, *targetPool](perShard)
		if err != nil {
			return err
		}
		d.shards[i].pools = pools
		d.shards[i].expiry = make(map[string]time.Time)
	}
	return nil
}

func shardIndex(target string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(target))
	return int(h.Sum32() % lockShards)
}

// poolFor returns a pooled client for target, acquiring only that
// target's shard lock rather than one shared across every target. If
// the shard is still held by another goroutine after lockAcquireTimeout,
// poolFor gives up on the cache and builds a fresh, uncached pool
// instead of blocking the caller indefinitely.
func (d *Dispatcher) poolFor(target string) *targetPool {
	shard := &d.shards[shardIndex(target)]

	if !tryLockWithin(&shard.mu, lockAcquireTimeout) {
		if d.log != nil {
			d.log.Warnf("upstream", "lock contention dialing %s, opening uncached connection", target)
		}
		return newTargetPool(d.rootTLS)
	}
	defer shard.mu.Unlock()

	now := time.Now()
	if p, ok := shard.pools.Get(target); ok {
		if expiry, exists := shard.expiry[target]; exists && now.Before(expiry) {
			return p
		}
		shard.pools.Remove(target)
		delete(shard.expiry, target)
	}

	p := newTargetPool(d.rootTLS)
	shard.pools.Add(target, p)
	shard.expiry[target] = now.Add(poolLifetime)
	return p
}

func newTargetPool(rootTLS *tls.Config) *targetPool {
	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSClientConfig = rootTLS.Clone()
	transport.MaxIdleConnsPerHost = maxIdleConnsPerTarget
	transport.MaxIdleConns = maxIdleConnsPerTarget
	transport.IdleConnTimeout = poolLifetime
	transport.ResponseHeaderTimeout = headerTimeout
	return &targetPool{client: &http.Client{Transport: transport}}
}

// tryLockWithin attempts to acquire mu, retrying for up to timeout
// before giving up and returning false.
func tryLockWithin(mu *sync.Mutex, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(lockRetryInterval)
	}
}

// evict drops target's pool so the next Forward call builds a fresh
// one; called after a transport-level error, since a pooled connection
// that just failed shouldn't be handed to the retry either.
func (d *Dispatcher) evict(target string) {
	shard := &d.shards[shardIndex(target)]
	if !tryLockWithin(&shard.mu, lockAcquireTimeout) {
		return
	}
	defer shard.mu.Unlock()
	shard.pools.Remove(target)
	delete(shard.expiry, target)
}

// Forward dials (or reuses) a pooled connection to targetHost:443,
// rewrites the Host header and strips hop-by-hop headers, and streams
// the request/response bodies through. GET/HEAD requests are retried
// once if the pooled connection fails before any response byte arrives;
// no retry is attempted once any byte has reached the client.
func (d *Dispatcher) Forward(ctx context.Context, req *http.Request, targetHost string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)

	outreq := d.prepareRequest(req, targetHost)

	resp, err := d.doOnce(ctx, targetHost, outreq)
	if err != nil && isRetryable(req.Method) {
		if d.log != nil {
			d.log.Warnf("upstream", "retrying %s %s after pooled connection failure: %v", req.Method, targetHost, err)
		}
		d.evict(targetHost)
		outreq2 := d.prepareRequest(req, targetHost)
		resp, err = d.doOnce(ctx, targetHost, outreq2)
	}
	if err != nil {
		cancel()
		return nil, classifyError(err)
	}
	// The total timeout also covers streaming the body, so the context is
	// released only when the caller closes it.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases a Forward call's timeout context once the
// caller is done with the response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (d *Dispatcher) doOnce(ctx context.Context, targetHost string, req *http.Request) (*http.Response, error) {
	pool := d.poolFor(targetHost)
	resp, err := pool.client.Do(req.WithContext(ctx))
	if err != nil {
		d.evict(targetHost)
		return nil, err
	}
	return resp, nil
}

func isRetryable(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func (d *Dispatcher) prepareRequest(req *http.Request, targetHost string) *http.Request {
	out := req.Clone(req.Context())
	out.Host = targetHost
	out.URL.Host = fmt.Sprintf("%s:%d", targetHost, d.targetPort)
	out.URL.Scheme = "https"
	out.RequestURI = ""
	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}
	return out
}

// DialRaw opens a bare TLS connection to targetHost using the same
// system trust roots as pooled requests, bypassing the pooled
// *http.Client. The Bancho splicer (pkg/bancho) needs this: after the
// login POST's response, the connection becomes an opaque duplex byte
// stream that no longer speaks HTTP, so it cannot be obtained through
// Dispatcher.Forward's http.Client.
func (d *Dispatcher) DialRaw(ctx context.Context, targetHost string) (net.Conn, error) {
	dialer := &tls.Dialer{Config: d.rootTLS.Clone()}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", targetHost, d.targetPort))
	if err != nil {
		return nil, classifyError(err)
	}
	return conn, nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &StatusError{Status: http.StatusGatewayTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StatusError{Status: http.StatusGatewayTimeout, Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &StatusError{Status: http.StatusBadGateway, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &StatusError{Status: http.StatusBadGateway, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &StatusError{Status: http.StatusBadGateway, Err: err}
	}
	return &StatusError{Status: http.StatusBadGateway, Err: err}
}
