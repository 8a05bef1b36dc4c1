package router

import (
	"bufio"
	"fmt"
	"net/http"
)

// ReadRequest parses one HTTP/1.1 request from r using the stdlib
// request reader rather than a hand-rolled line scanner. Persistent
// connections are supported; pipelined requests are drained one at a
// time by calling ReadRequest again on the same *bufio.Reader.
func ReadRequest(r *bufio.Reader) (*http.Request, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return req, nil
}
