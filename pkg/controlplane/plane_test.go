package controlplane

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rai-connect/core/pkg/config"
	"github.com/rai-connect/core/pkg/logging"
)

func testPlane(t *testing.T) *Plane {
	t.Helper()
	sink, err := logging.NewDevelopment(100)
	require.NoError(t, err)

	hostsPath := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(hostsPath, []byte("127.0.0.1 localhost\n"), 0o644))

	return New(sink, WithTrustAnchorDir(t.TempDir()), WithHostsPath(hostsPath))
}

func testConfig() config.ProxyConfig {
	cfg := config.Defaults()
	cfg.BindAddress = net.ParseIP("127.0.0.1")
	cfg.HTTPSPort = 0
	return cfg
}

func TestStartTransitionsToRunningThenStopToStopped(t *testing.T) {
	p := testPlane(t)

	require.NoError(t, p.Start(testConfig()))
	assert.Equal(t, StateRunning, p.Status().State)

	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.Status().State)
}

func TestStartTwiceFails(t *testing.T) {
	p := testPlane(t)
	require.NoError(t, p.Start(testConfig()))
	defer p.Stop()

	err := p.Start(testConfig())
	assert.Error(t, err)
}

func TestStopWithoutStartFails(t *testing.T) {
	p := testPlane(t)
	err := p.Stop()
	assert.Error(t, err)
}

func TestStartRejectsNonLoopbackBind(t *testing.T) {
	p := testPlane(t)
	cfg := testConfig()
	cfg.BindAddress = net.ParseIP("8.8.8.8")

	err := p.Start(cfg)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, p.Status().State)
}

func TestStartAddsHostsBlockAndStopRemovesIt(t *testing.T) {
	hostsPath := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(hostsPath, []byte("127.0.0.1 localhost\n"), 0o644))

	sink, err := logging.NewDevelopment(100)
	require.NoError(t, err)
	p := New(sink, WithTrustAnchorDir(t.TempDir()), WithHostsPath(hostsPath))

	require.NoError(t, p.Start(testConfig()))
	during, err := os.ReadFile(hostsPath)
	require.NoError(t, err)
	assert.Contains(t, string(during), "osu.ppy.sh")

	require.NoError(t, p.Stop())
	after, err := os.ReadFile(hostsPath)
	require.NoError(t, err)
	assert.NotContains(t, string(after), "osu.ppy.sh")
}

func TestGetCountersStartsAtZero(t *testing.T) {
	p := testPlane(t)
	snap := p.GetCounters()
	assert.Zero(t, snap.RequestsProxied)
	assert.Zero(t, snap.BeatmapsDownloaded)
	assert.Zero(t, snap.BanchoPacketsInjected)
}

func TestClearLogsEmptiesBuffer(t *testing.T) {
	p := testPlane(t)
	p.log.Infof("test", "hello")
	require.NotEmpty(t, p.GetLogs(time.Time{}))

	p.ClearLogs()
	assert.Empty(t, p.GetLogs(time.Time{}))
}

func TestRequiredAliasesCoversMinimumSet(t *testing.T) {
	got := requiredAliases("ppy.sh")
	assert.Contains(t, got, "osu.ppy.sh")
	assert.Contains(t, got, "c.ppy.sh")
	assert.Contains(t, got, "b.ppy.sh")
	assert.Contains(t, got, "a.ppy.sh")
	assert.Contains(t, got, "osu.localhost")
	assert.Contains(t, got, "c.localhost")
	assert.Contains(t, got, "b.localhost")
	assert.Contains(t, got, "a.localhost")
}
