package upstream

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rai-connect/core/pkg/router"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := &Dispatcher{
		rootTLS:    &tls.Config{InsecureSkipVerify: true},
		targetPort: defaultTargetPort,
	}
	require.NoError(t, d.initShards())
	return d
}

func TestPrepareRequestRewritesHostAndStripsHopByHop(t *testing.T) {
	d := testDispatcher(t)
	req := httptest.NewRequest(http.MethodGet, "http://osu.ppy.sh/web/x", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("X-Custom", "value")

	out := d.prepareRequest(req, "mirror.example.com")

	assert.Equal(t, "mirror.example.com", out.Host)
	assert.Equal(t, "mirror.example.com:443", out.URL.Host)
	assert.Equal(t, "https", out.URL.Scheme)
	assert.Empty(t, out.RequestURI)
	assert.Empty(t, out.Header.Get("Connection"))
	assert.Empty(t, out.Header.Get("Keep-Alive"))
	assert.Equal(t, "value", out.Header.Get("X-Custom"))
}

func TestPrepareRequestStripsAllHopByHopHeaders(t *testing.T) {
	d := testDispatcher(t)
	req := httptest.NewRequest(http.MethodGet, "http://osu.ppy.sh/", nil)
	for _, h := range hopByHopHeaders {
		req.Header.Set(h, "x")
	}

	out := d.prepareRequest(req, "target.example.com")
	for _, h := range hopByHopHeaders {
		assert.Empty(t, out.Header.Get(h), h)
	}
}

// TestPoolForFallsBackWhenShardLockIsContended verifies the
// per-target-shard lock never makes a caller wait past
// lockAcquireTimeout: holding a shard's lock for longer than that still
// lets a concurrent poolFor call for a target hashing to that shard
// return promptly, with a fresh, uncached pool rather than the one
// under lock.
func TestPoolForFallsBackWhenShardLockIsContended(t *testing.T) {
	d := testDispatcher(t)
	target := "contended.example.com"
	shard := &d.shards[shardIndex(target)]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	start := time.Now()
	p := d.poolFor(target)
	elapsed := time.Since(start)

	require.NotNil(t, p)
	assert.Less(t, elapsed, 500*time.Millisecond)
	_, cached := shard.pools.Get(target)
	assert.False(t, cached, "contended lookup must not have written into the locked shard's cache")
}

func TestIsRetryableOnlyGetAndHead(t *testing.T) {
	assert.True(t, isRetryable(http.MethodGet))
	assert.True(t, isRetryable(http.MethodHead))
	assert.False(t, isRetryable(http.MethodPost))
	assert.False(t, isRetryable(http.MethodPut))
}

func TestClassifyErrorDefaultsToBadGateway(t *testing.T) {
	err := classifyError(assertErr{"boom"})
	var se *StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

// TestClassifyMirrorForwardRouteDialsSuccessfully drives a MirrorForward
// request through router.Classify and then Dispatcher.Forward together,
// guarding the host-format contract between the two packages: Classify
// must hand Forward a bare hostname it can append its own port to, not
// a scheme-prefixed URL.
func TestClassifyMirrorForwardRouteDialsSuccessfully(t *testing.T) {
	mirror := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/web/osu-search.php", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("beatmapset results"))
	}))
	defer mirror.Close()

	mirrorURL, err := url.Parse(mirror.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(mirrorURL.Port())
	require.NoError(t, err)

	route := router.Classify(router.Config{
		OfficialBaseHost: "ppy.sh",
		MirrorAPIBaseURL: mirror.URL,
	}, "osu.ppy.sh", "GET", "/web/osu-search.php?q=foo")

	require.Equal(t, router.KindMirrorForward, route.Kind)
	require.Equal(t, mirrorURL.Hostname(), route.TargetHost)

	d := testDispatcher(t)
	d.targetPort = port

	req := httptest.NewRequest(http.MethodGet, "https://osu.ppy.sh/web/osu-search.php?q=foo", nil)
	resp, err := d.Forward(context.Background(), req, route.TargetHost)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
