// Package bancho implements the Bancho stream splicer: a stateful
// parser over the server→client byte stream that locates
// UserPrivileges packets (id 71) and sets the SUPPORTER bit in their
// payload in place, forwarding every other byte unchanged.
//
// The core is a pure state-machine function with no I/O, so it can be
// driven byte-by-byte or in arbitrary chunks and tested directly
// without a socket; the socket-facing glue lives in conn.go.
package bancho

import "encoding/binary"

// Bancho's binary packet framing: a 7-byte header (u16 id, u8
// compressionFlag, u32 length) followed by length bytes of payload.
const (
	userPrivilegesID  uint16 = 71
	supporterBit      uint32 = 0x04
	maxPayloadSize           = 1 << 20 // 1 MiB cap on a UserPrivileges payload before it's treated as malformed
	headerSize               = 7       // u16 id | u8 compressionFlag | u32 length
)

// Phase is the splicer's current position within a packet.
type Phase int

const (
	// PhaseHeader is accumulating the 7-byte packet header.
	PhaseHeader Phase = iota
	// PhasePayload is accumulating a UserPrivileges payload destined for
	// mutation.
	PhasePayload
	// PhasePassThrough is forwarding a known-length run of bytes: a
	// non-target packet's payload. (The remainder of the connection after
	// a malformed UserPrivileges packet is tracked by State.abandoned,
	// not by this phase.)
	PhasePassThrough
)

// State is the splicer's full state, threaded through successive calls
// to Step. The zero value is a valid starting state (PhaseHeader, no
// accumulated bytes).
type State struct {
	phase Phase

	header    [headerSize]byte
	headerLen int

	payload    []byte
	payloadLen int

	passThroughBudget int

	// abandoned is set once a malformed UserPrivileges packet is seen;
	// from then on every byte is passed through unchanged regardless of
	// parsed packet boundaries.
	abandoned bool

	// injected counts how many UserPrivileges packets this state has
	// mutated, for the caller to fold into its own packet-injected counter.
	injected uint64

	// injectSupporter is carried on the state since it cannot change
	// mid-connection.
	injectSupporter bool

	// warnMalformed is set exactly once, when abandonment happens, so
	// the caller can log a single warning rather than one per byte.
	warnMalformed bool
}

// NewState returns a starting State for one connection's server→client
// direction.
func NewState(injectSupporter bool) State {
	return State{injectSupporter: injectSupporter}
}

// Injected returns how many UserPrivileges packets have been mutated so
// far on this state.
func (s State) Injected() uint64 { return s.injected }

// Abandoned reports whether inspection has permanently fallen back to
// PassThrough after a malformed packet.
func (s State) Abandoned() bool { return s.abandoned }

// TookMalformedWarning reports, and clears, the one-shot malformed-packet
// warning flag so the caller logs it exactly once.
func (s *State) TookMalformedWarning() bool {
	if s.warnMalformed {
		s.warnMalformed = false
		return true
	}
	return false
}

// Step consumes in, which may be any non-empty slice of any length down
// to a single byte — the parser must tolerate an arbitrarily fragmented
// feed from the underlying TCP stream — and returns the next state plus
// the bytes to emit to the client. Step never blocks and performs no I/O.
func (s State) Step(in []byte) (State, []byte) {
	out := make([]byte, 0, len(in))
	for len(in) > 0 {
		var emitted []byte
		s, emitted, in = s.stepOnce(in)
		out = append(out, emitted...)
	}
	return s, out
}

// stepOnce advances the state machine by consuming as much of in as one
// phase transition allows, returning the unconsumed remainder.
func (s State) stepOnce(in []byte) (State, []byte, []byte) {
	if s.abandoned {
		n := len(in)
		if s.passThroughBudget > 0 && s.passThroughBudget < n {
			n = s.passThroughBudget
		}
		if s.passThroughBudget > 0 {
			s.passThroughBudget -= n
		}
		return s, in[:n], in[n:]
	}

	switch s.phase {
	case PhaseHeader:
		return s.stepHeader(in)
	case PhasePayload:
		return s.stepPayload(in)
	case PhasePassThrough:
		return s.stepPassThrough(in)
	default:
		// Unreachable phase value; fail open to passthrough rather
		// than panic the connection.
		s.abandoned = true
		return s, nil, in
	}
}

func (s State) stepHeader(in []byte) (State, []byte, []byte) {
	n := copy(s.header[s.headerLen:], in)
	s.headerLen += n
	rest := in[n:]
	if s.headerLen < headerSize {
		return s, nil, rest
	}

	id := binary.LittleEndian.Uint16(s.header[0:2])
	// A compressed UserPrivileges packet is never decoded, only passed
	// through unchanged; compressionFlag is read here only to detect that case.
	compressionFlag := s.header[2]
	length := binary.LittleEndian.Uint32(s.header[3:7])

	s.headerLen = 0

	if id == userPrivilegesID && length == 4 && compressionFlag == 0 && s.injectSupporter {
		s.phase = PhasePayload
		s.payload = make([]byte, 0, 4)
		s.payloadLen = 0
		return s, nil, rest
	}

	if id == userPrivilegesID && length > maxPayloadSize {
		s.abandoned = true
		s.warnMalformed = true
		header := s.header
		return s, header[:], rest
	}

	// Any other packet (including a compressed or wrong-length
	// UserPrivileges packet): emit the header immediately and pass the
	// declared-length payload through untouched.
	s.phase = PhasePassThrough
	s.passThroughBudget = int(length)
	header := s.header
	return s, header[:], rest
}

func (s State) stepPayload(in []byte) (State, []byte, []byte) {
	need := 4 - s.payloadLen
	n := len(in)
	if n > need {
		n = need
	}
	s.payload = append(s.payload, in[:n]...)
	s.payloadLen += n
	rest := in[n:]

	if s.payloadLen < 4 {
		return s, nil, rest
	}

	oldMask := binary.LittleEndian.Uint32(s.payload)
	newMask := oldMask | supporterBit
	if newMask != oldMask {
		s.injected++
	}

	out := make([]byte, headerSize+4)
	copy(out[0:headerSize], s.header[:])
	binary.LittleEndian.PutUint32(out[headerSize:], newMask)

	s.phase = PhaseHeader
	s.payload = nil
	s.payloadLen = 0
	return s, out, rest
}

func (s State) stepPassThrough(in []byte) (State, []byte, []byte) {
	n := len(in)
	if n > s.passThroughBudget {
		n = s.passThroughBudget
	}
	s.passThroughBudget -= n
	if s.passThroughBudget == 0 {
		s.phase = PhaseHeader
	}
	return s, in[:n], in[n:]
}
