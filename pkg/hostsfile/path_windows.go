//go:build windows

package hostsfile

import (
	"os"
	"path/filepath"
)

func defaultPath() string {
	systemRoot := os.Getenv("SystemRoot")
	if systemRoot == "" {
		systemRoot = `C:\Windows`
	}
	return filepath.Join(systemRoot, "System32", "drivers", "etc", "hosts")
}

// DefaultPath is the OS-conventional hosts file location.
var DefaultPath = defaultPath()
