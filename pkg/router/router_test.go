package router

import (
	"bufio"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		OfficialBaseHost:    "ppy.sh",
		MirrorAPIBaseURL:    "https://api.chimu.moe",
		MirrorDirectBaseURL: "https://catboy.best",
	}
}

func TestClassifyBanchoHost(t *testing.T) {
	got := Classify(testConfig(), "c.ppy.sh", "POST", "/")
	assert.Equal(t, KindBanchoSplice, got.Kind)
}

func TestClassifyOsuSearchForwardsToMirrorAPI(t *testing.T) {
	for _, path := range []string{
		"/web/osu-search.php?q=foo",
		"/web/osu-search-set.php?s=1",
		"/web/osu-getbeatmapinfo.php",
	} {
		got := Classify(testConfig(), "osu.ppy.sh", "GET", path)
		assert.Equal(t, KindMirrorForward, got.Kind, path)
		assert.Equal(t, "api.chimu.moe", got.TargetHost)
	}
}

func TestClassifyBeatmapDownloadRedirectsToMirror(t *testing.T) {
	got := Classify(testConfig(), "osu.ppy.sh", "GET", "/d/123")
	require.Equal(t, KindMirrorRedirect, got.Kind)
	assert.Equal(t, "https://catboy.best/d/123", got.RedirectLocation)

	got = Classify(testConfig(), "osu.ppy.sh", "GET", "/d/123n")
	require.Equal(t, KindMirrorRedirect, got.Kind)
	assert.Equal(t, "https://catboy.best/d/123n", got.RedirectLocation)
}

func TestClassifyThumbAndPreviewRedirectToMirror(t *testing.T) {
	got := Classify(testConfig(), "b.ppy.sh", "GET", "/thumb/123l.jpg")
	require.Equal(t, KindMirrorRedirect, got.Kind)
	assert.Equal(t, "https://catboy.best/thumb/123l.jpg", got.RedirectLocation)

	got = Classify(testConfig(), "b.ppy.sh", "GET", "/preview/123.mp3")
	require.Equal(t, KindMirrorRedirect, got.Kind)
}

func TestClassifyOtherOfficialHostsPassThrough(t *testing.T) {
	got := Classify(testConfig(), "a.ppy.sh", "GET", "/whatever")
	assert.Equal(t, KindUpstreamPassthrough, got.Kind)
	assert.Equal(t, "a.ppy.sh", got.TargetHost)
}

func TestClassifyUnknownHostIsMisdirected(t *testing.T) {
	got := Classify(testConfig(), "evil.example.com", "GET", "/")
	assert.Equal(t, KindMisdirected, got.Kind)
}

func TestClassifyOsuSearchWrongMethodFallsThroughToPassthrough(t *testing.T) {
	got := Classify(testConfig(), "osu.ppy.sh", "POST", "/web/osu-search.php")
	assert.Equal(t, KindUpstreamPassthrough, got.Kind)
}

func TestClassifyNonNumericBeatmapIDIsNotMatched(t *testing.T) {
	got := Classify(testConfig(), "osu.ppy.sh", "GET", "/d/abc")
	assert.Equal(t, KindUpstreamPassthrough, got.Kind)
}

func TestReadRequestParsesRequestLine(t *testing.T) {
	raw := "GET /web/osu-search.php?q=foo HTTP/1.1\r\nHost: osu.ppy.sh\r\n\r\n"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/web/osu-search.php", req.URL.Path)
	assert.Equal(t, "q=foo", req.URL.RawQuery)
}

// TestProperty_ClassifyIsDeterministic checks that Classify is a pure
// function of its inputs: identical (host, method, path) always
// produces an identical Route, across randomized trials.
func TestProperty_ClassifyIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	hosts := []string{"c.ppy.sh", "osu.ppy.sh", "b.ppy.sh", "a.ppy.sh", "evil.com"}
	methods := []string{"GET", "POST", "HEAD"}
	paths := []string{"/web/osu-search.php", "/d/42", "/d/42n", "/thumb/1.jpg", "/other"}

	cfg := testConfig()
	for i := 0; i < 50; i++ {
		host := hosts[rng.Intn(len(hosts))]
		method := methods[rng.Intn(len(methods))]
		path := paths[rng.Intn(len(paths))]

		first := Classify(cfg, host, method, path)
		second := Classify(cfg, host, method, path)
		assert.Equal(t, first, second)
	}
}
