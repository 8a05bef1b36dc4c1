// Package config resolves ProxyConfig from flags, the RAI_* environment,
// and an optional config file via viper. It only handles runtime
// parameterization; a UI layer's own persisted settings, if any, are
// untouched by this package.
package config

import (
	"fmt"
	"net"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ProxyConfig is immutable for the lifetime of a single run: changing
// any field requires a stop + start of the Plane, not a live reload.
type ProxyConfig struct {
	BindAddress         net.IP `mapstructure:"bind-address"`
	HTTPSPort           int    `mapstructure:"https-port"`
	OfficialBaseHost    string `mapstructure:"official-base-host"`
	MirrorAPIBaseURL    string `mapstructure:"mirror-api-base-url"`
	MirrorDirectBaseURL string `mapstructure:"mirror-direct-base-url"`
	InjectSupporter     bool   `mapstructure:"inject-supporter"`

	// ControlAddr is the loopback-only address the daemon's control API
	// (status/getCounters/getLogs/clearLogs/stop) listens on, separate
	// from HTTPSPort.
	ControlAddr string `mapstructure:"control-addr"`

	// Ambient timeouts, given defaults below. HandshakeTimeout and
	// ShutdownDrain are applied by the control plane. IdleTimeout,
	// UpstreamHeaderTimeout and UpstreamTotalTimeout are resolved here but
	// not read elsewhere: the upstream dispatcher uses its own fixed 30s
	// header and 5min total timeouts, and no per-connection idle timeout
	// is applied.
	HandshakeTimeout      time.Duration `mapstructure:"handshake-timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle-timeout"`
	UpstreamHeaderTimeout time.Duration `mapstructure:"upstream-header-timeout"`
	UpstreamTotalTimeout  time.Duration `mapstructure:"upstream-total-timeout"`
	ShutdownDrain         time.Duration `mapstructure:"shutdown-drain"`
}

// Defaults returns the configuration a daemon starts with absent any
// flag, env var, or config file override.
func Defaults() ProxyConfig {
	return ProxyConfig{
		BindAddress:           net.ParseIP("127.0.0.1"),
		HTTPSPort:             443,
		OfficialBaseHost:      "ppy.sh",
		MirrorAPIBaseURL:      "https://api.chimu.moe",
		MirrorDirectBaseURL:   "https://catboy.best",
		InjectSupporter:       true,
		ControlAddr:           "127.0.0.1:9119",
		HandshakeTimeout:      10 * time.Second,
		IdleTimeout:           5 * time.Minute,
		UpstreamHeaderTimeout: 30 * time.Second,
		UpstreamTotalTimeout:  5 * time.Minute,
		ShutdownDrain:         5 * time.Second,
	}
}

// RegisterFlags attaches the ProxyConfig flag surface to a pflag.FlagSet,
// typically a cobra command's Flags().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("bind-address", d.BindAddress.String(), "loopback address to bind the HTTPS listener to")
	fs.Int("https-port", d.HTTPSPort, "port to terminate TLS on")
	fs.String("official-base-host", d.OfficialBaseHost, "official upstream base host, e.g. ppy.sh")
	fs.String("mirror-api-base-url", d.MirrorAPIBaseURL, "base URL of the mirror's search/info API")
	fs.String("mirror-direct-base-url", d.MirrorDirectBaseURL, "base URL of the mirror's direct download/thumbnail host")
	fs.Bool("inject-supporter", d.InjectSupporter, "set the SUPPORTER bit in UserPrivileges packets")
	fs.String("control-addr", d.ControlAddr, "loopback address the control API (status/logs/stop) listens on")
	fs.Duration("handshake-timeout", d.HandshakeTimeout, "TLS handshake timeout")
	fs.Duration("idle-timeout", d.IdleTimeout, "per-connection idle timeout")
	fs.Duration("upstream-header-timeout", d.UpstreamHeaderTimeout, "time to receive upstream response headers")
	fs.Duration("upstream-total-timeout", d.UpstreamTotalTimeout, "total time allowed for one upstream request")
	fs.Duration("shutdown-drain", d.ShutdownDrain, "time to wait for in-flight connections to finish on stop")
}

// Load resolves a ProxyConfig from v, which the caller has already bound
// to a command's flags (viper.BindPFlags) and pointed at an optional
// config file. Env vars are read under the RAI_ prefix.
func Load(v *viper.Viper) (ProxyConfig, error) {
	v.SetEnvPrefix("RAI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := Defaults()

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		stringToIPHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)

	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return ProxyConfig{}, fmt.Errorf("decode config: %w", err)
	}

	// upstream-header-timeout is re-read through parseutil. Only values
	// the duration decode hook above already accepted reach this point: a
	// bare number such as "30" fails that hook, and Load returns the
	// decode error.
	if raw := v.GetString("upstream-header-timeout"); raw != "" {
		d, err := parseutil.ParseDurationSecond(raw)
		if err == nil {
			cfg.UpstreamHeaderTimeout = d
		}
	}

	return cfg, nil
}

// stringToIPHookFunc lets ProxyConfig.BindAddress be supplied as a plain
// dotted-quad string from a flag, env var, or config file.
func stringToIPHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Kind, to reflect.Kind, data interface{}) (interface{}, error) {
		if from != reflect.String || to != reflect.Slice {
			return data, nil
		}
		s, ok := data.(string)
		if !ok || s == "" {
			return data, nil
		}
		ip := net.ParseIP(s)
		if ip == nil {
			return data, fmt.Errorf("invalid IP address %q", s)
		}
		return ip, nil
	}
}
