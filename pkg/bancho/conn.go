package bancho

import (
	"io"
	"sync"

	"github.com/rai-connect/core/pkg/logging"
)

// stagingBufferSize bounds the per-direction copy buffer: a slow
// consumer applies back-pressure to the producer instead of the
// splicer buffering unboundedly.
const stagingBufferSize = 8 * 1024

// Counters is the subset of the proxy's counters the splicer mutates.
type Counters interface {
	AddBanchoPacketsInjected(n uint64)
}

// Splice runs both directions of a Bancho connection until either side
// closes or the other is closed out from under it. client is the
// already-accepted plaintext stream from the TLS terminator/router;
// server is the upstream Bancho connection opened by the dispatcher for
// the login POST and reused here as an opaque duplex stream. Splice
// blocks until both directions finish.
//
// Client→server is a straight copy, never inspected. Server→client runs
// through the pure Step state machine.
func Splice(client io.ReadWriteCloser, server io.ReadWriteCloser, injectSupporter bool, counters Counters, log *logging.ConnLogger) error {
	var wg sync.WaitGroup
	var clientToServerErr, serverToClientErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer server.Close() //nolint:errcheck
		_, err := copyBuffered(server, client)
		clientToServerErr = err
	}()

	go func() {
		defer wg.Done()
		defer client.Close() //nolint:errcheck
		serverToClientErr = spliceServerToClient(client, server, injectSupporter, counters, log)
	}()

	wg.Wait()

	if clientToServerErr != nil && clientToServerErr != io.EOF {
		return clientToServerErr
	}
	if serverToClientErr != nil && serverToClientErr != io.EOF {
		return serverToClientErr
	}
	return nil
}

func copyBuffered(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, stagingBufferSize)
	return io.CopyBuffer(dst, src, buf)
}

func spliceServerToClient(client io.Writer, server io.Reader, injectSupporter bool, counters Counters, log *logging.ConnLogger) error {
	state := NewState(injectSupporter)
	buf := make([]byte, stagingBufferSize)
	var lastInjected uint64

	for {
		n, readErr := server.Read(buf)
		if n > 0 {
			var out []byte
			state, out = state.Step(buf[:n])
			if injected := state.Injected(); injected > lastInjected {
				if counters != nil {
					counters.AddBanchoPacketsInjected(injected - lastInjected)
				}
				lastInjected = injected
			}
			if state.TookMalformedWarning() && log != nil {
				log.Warnf("bancho", "malformed UserPrivileges packet, abandoning inspection for remainder of connection")
			}
			if len(out) > 0 {
				if _, err := client.Write(out); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
