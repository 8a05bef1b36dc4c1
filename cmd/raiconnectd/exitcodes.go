package main

import "strings"

// Exit codes for a direct daemon run: 0 clean, 2 permission denied on
// port/trust/hosts, 3 certificate generation failed, 4 internal error.
const (
	exitCodeClean            = 0
	exitCodePermissionDenied = 2
	exitCodeCertGenFailed    = 3
	exitCodeInternal         = 4
)

// classifyStartError maps a Plane.Start failure to an exit code by
// inspecting the wrap prefixes start() attaches (bind/hosts/trust vs.
// certificate generation vs. everything else). The error chain is
// plain fmt.Errorf wrapping, so a substring match on those prefixes is
// simpler than exporting a parallel sentinel-error taxonomy for the
// sake of one CLI's exit code.
func classifyStartError(err error) int {
	if err == nil {
		return exitCodeClean
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "bind address validation", "bind listener", "hosts file", "trust store", "permission"):
		return exitCodePermissionDenied
	case containsAny(msg, "certificate bundle", "trust anchor directory"):
		return exitCodeCertGenFailed
	default:
		return exitCodeInternal
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
