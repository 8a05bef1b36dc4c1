// Package router classifies an incoming HTTP/1.1 request line plus SNI
// host into one of the Route variants the rest of the proxy acts on.
// Classify never touches I/O: it's a pure switch over its inputs, so the
// routing decision for a given host/method/path never depends on
// connection state or timing.
package router

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Kind discriminates the Route variants Classify can produce.
type Kind int

const (
	// KindBanchoSplice hands the connection off to the Bancho stream
	// splicer (pkg/bancho), which forwards raw bytes instead of HTTP.
	KindBanchoSplice Kind = iota
	// KindMirrorForward proxies the request to the mirror's API host,
	// returning the mirror's response as-is.
	KindMirrorForward
	// KindMirrorRedirect responds directly with a 302 to the mirror.
	KindMirrorRedirect
	// KindUpstreamPassthrough forwards unchanged to the same host on
	// the official upstream.
	KindUpstreamPassthrough
	// KindMisdirected rejects the request with 421.
	KindMisdirected
)

// Route is the classification result for one request.
type Route struct {
	Kind Kind

	// TargetHost is set for KindMirrorForward and KindUpstreamPassthrough:
	// the bare hostname the dispatcher (pkg/upstream) should dial.
	TargetHost string

	// RedirectLocation is set for KindMirrorRedirect: the Location
	// header value to respond with.
	RedirectLocation string
}

// Config is the subset of the proxy's configuration Classify needs.
// Defined locally (rather than importing pkg/config) so this package
// stays a pure function of its inputs with no dependency on the
// ambient config/logging stack.
type Config struct {
	OfficialBaseHost    string
	MirrorAPIBaseURL    string
	MirrorDirectBaseURL string
}

// Classify walks a fixed table of routing rules, first match wins. Each
// row is tried in order; a row whose host/method match but whose path
// pattern doesn't falls through to the next row rather than committing
// to Misdirected, so the generic "any other *.official" catch-all still
// applies to unmatched paths on osu./b. hosts.
func Classify(cfg Config, sniHost, method, path string) Route {
	official := cfg.OfficialBaseHost

	if sniHost == "c."+official {
		return Route{Kind: KindBanchoSplice}
	}

	if sniHost == "osu."+official && method == "GET" {
		if isOsuSearchPath(path) {
			return mirrorForward(cfg.MirrorAPIBaseURL)
		}
		if id, suffix, ok := parseBeatmapDownloadPath(path); ok {
			return mirrorRedirect(cfg.MirrorDirectBaseURL, "/d/"+id+suffix)
		}
	}

	if sniHost == "b."+official && method == "GET" {
		if strings.HasPrefix(path, "/thumb/") || strings.HasPrefix(path, "/preview/") {
			return mirrorRedirect(cfg.MirrorDirectBaseURL, path)
		}
	}

	if strings.HasSuffix(sniHost, "."+official) {
		return Route{Kind: KindUpstreamPassthrough, TargetHost: sniHost}
	}

	return Route{Kind: KindMisdirected}
}

func isOsuSearchPath(path string) bool {
	base, _ := splitPathQuery(path)
	switch base {
	case "/web/osu-search.php", "/web/osu-search-set.php", "/web/osu-getbeatmapinfo.php":
		return true
	default:
		return false
	}
}

// parseBeatmapDownloadPath matches /d/<id> or /d/<id>n, returning the
// numeric id and the optional "n" (no-video) suffix.
func parseBeatmapDownloadPath(path string) (id string, suffix string, ok bool) {
	base, _ := splitPathQuery(path)
	rest := strings.TrimPrefix(base, "/d/")
	if rest == base || rest == "" {
		return "", "", false
	}
	if strings.HasSuffix(rest, "n") {
		numeric := strings.TrimSuffix(rest, "n")
		if isNumeric(numeric) {
			return numeric, "n", true
		}
		return "", "", false
	}
	if isNumeric(rest) {
		return rest, "", true
	}
	return "", "", false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

func splitPathQuery(path string) (base, query string) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// mirrorForward builds a MirrorForward route, extracting just the host
// component of baseURL: the dispatcher treats TargetHost as a bare
// hostname to dial (see pkg/upstream.Dispatcher.Forward), the same
// convention KindUpstreamPassthrough uses for the SNI host.
func mirrorForward(baseURL string) Route {
	return Route{Kind: KindMirrorForward, TargetHost: hostOnly(baseURL)}
}

func hostOnly(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}

func mirrorRedirect(baseURL, path string) Route {
	return Route{Kind: KindMirrorRedirect, RedirectLocation: joinURL(baseURL, path)}
}

func joinURL(base, path string) string {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Sprintf("%s%s", base, path)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}
