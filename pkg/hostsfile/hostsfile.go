// Package hostsfile manages a delimited block inside the system hosts
// file, idempotently, so every configured alias resolves to loopback.
//
// Writes reuse the same atomic write-to-temp-then-rename approach as
// pkg/trustanchor, and alias normalization goes through
// hashicorp/go-secure-stdlib/strutil.
package hostsfile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-secure-stdlib/strutil"
)

const (
	beginMarker = "# BEGIN rai-connect"
	endMarker   = "# END rai-connect"

	maxLockRetries = 3
	lockRetryDelay = 100 * time.Millisecond
)

// Manager owns mutation of a single hosts file path.
type Manager struct {
	path string
}

// New builds a Manager for the given hosts file path. Use DefaultPath
// for the OS-appropriate location.
func New(path string) *Manager {
	return &Manager{path: path}
}

// EnsureAliases reads the hosts file, locates the delimited block (if
// any), and replaces its contents with the current alias set, loopback
// mapped. Writes are atomic (write-to-temp + rename). Concurrent callers
// are serialized by a best-effort advisory lock with bounded retries.
func (m *Manager) EnsureAliases(aliases []string) error {
	normalized := normalizeAliases(aliases)

	return withLock(m.path, func() error {
		original, err := os.ReadFile(m.path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read hosts file: %w", err)
		}

		updated, err := replaceBlock(original, renderBlock(normalized))
		if err != nil {
			return err
		}
		return writeFileAtomic(m.path, updated)
	})
}

// RemoveBlock deletes the managed block, including its markers, leaving
// surrounding content byte-for-byte intact beyond at most one adjacent
// trailing newline.
func (m *Manager) RemoveBlock() error {
	return withLock(m.path, func() error {
		original, err := os.ReadFile(m.path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("read hosts file: %w", err)
		}

		updated, found := stripBlock(original)
		if !found {
			return nil
		}
		return writeFileAtomic(m.path, updated)
	})
}

func normalizeAliases(aliases []string) []string {
	trimmed := strutil.TrimStrings(aliases)
	deduped := strutil.RemoveDuplicates(trimmed, true)
	out := make([]string, 0, len(deduped))
	for _, a := range deduped {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func renderBlock(aliases []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(beginMarker)
	buf.WriteByte('\n')
	for _, alias := range aliases {
		fmt.Fprintf(&buf, "127.0.0.1 %s\n", alias)
	}
	buf.WriteString(endMarker)
	buf.WriteByte('\n')
	return buf.Bytes()
}

// replaceBlock returns original with the managed block's contents
// replaced by block, or block appended if no block exists (a newline is
// added first when non-empty original does not already end with one).
func replaceBlock(original []byte, block []byte) ([]byte, error) {
	start, end, found, err := findBlock(original)
	if err != nil {
		return nil, err
	}
	if !found {
		if len(original) == 0 {
			return block, nil
		}
		out := append([]byte{}, original...)
		if !bytes.HasSuffix(out, []byte("\n")) {
			out = append(out, '\n')
		}
		out = append(out, block...)
		return out, nil
	}

	out := make([]byte, 0, len(original)-(end-start)+len(block))
	out = append(out, original[:start]...)
	out = append(out, block...)
	out = append(out, original[end:]...)
	return out, nil
}

// stripBlock removes the managed block including its markers, preserving
// surrounding content beyond at most one adjacent trailing newline.
func stripBlock(original []byte) ([]byte, bool) {
	start, end, found, err := findBlock(original)
	if err != nil || !found {
		return original, false
	}

	before := original[:start]
	after := original[end:]

	// If everything before the block is a single newline, drop that
	// newline along with the block.
	if bytes.HasSuffix(before, []byte("\n")) && len(before) > 0 {
		trimmedBefore := bytes.TrimSuffix(before, []byte("\n"))
		if len(trimmedBefore) == 0 {
			before = trimmedBefore
		}
	}

	out := append([]byte{}, before...)
	out = append(out, after...)
	return out, true
}

// findBlock locates the [start, end) byte range of the managed block,
// including its markers and trailing newline, using a line scanner so
// marker matching is exact-line rather than substring based.
func findBlock(original []byte) (start, end int, found bool, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(original))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	offset := 0
	beginOffset := -1
	for scanner.Scan() {
		line := scanner.Text()
		lineLen := len(scanner.Bytes()) + 1 // +1 for the newline this Scan consumed
		if end := offset + len(scanner.Bytes()); end < len(original) && original[end] == '\r' {
			lineLen++ // ScanLines also drops the '\r' of a CRLF line ending
		}
		if offset+lineLen > len(original) {
			lineLen = len(original) - offset
		}

		switch {
		case beginOffset < 0 && strings.TrimRight(line, "\r") == beginMarker:
			beginOffset = offset
		case beginOffset >= 0 && strings.TrimRight(line, "\r") == endMarker:
			return beginOffset, offset + lineLen, true, nil
		}
		offset += lineLen
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, false, fmt.Errorf("scan hosts file: %w", err)
	}
	if beginOffset >= 0 {
		return 0, 0, false, fmt.Errorf("hosts file has %s with no matching %s", beginMarker, endMarker)
	}
	return 0, 0, false, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".rai-connect.tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
