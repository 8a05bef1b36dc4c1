//go:build !windows

package hostsfile

// DefaultPath is the OS-conventional hosts file location.
const DefaultPath = "/etc/hosts"
