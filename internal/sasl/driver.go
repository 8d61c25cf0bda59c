package sasl

import (
	"encoding/base64"
	"fmt"
	"strings"

	gosasl "github.com/emersion/go-sasl"
)

// Conn is the minimal surface the Driver needs from a connection:
// emitting a "+ base64" continuation. Client responses arrive through
// ReadInput instead. internal/protocol.Conn satisfies it.
type Conn interface {
	WriteContinuation(text string) error
}

// Driver runs the generic SASL challenge/response loop of spec.md §5.1
// on top of any gosasl.Server mechanism: base64-encoding challenges,
// base64-decoding responses, and honoring the client's "*" abort. It
// does not reserve the connection's input itself: the caller
// (internal/imapcmd's authenticateHandler) reserves the raw input stream
// for the duration of the exchange (spec.md §4.4) so the scheduler
// routes continuation lines to ReadInput instead of parsing them as
// commands.
type Driver struct {
	conn    Conn
	server  gosasl.Server
	initial []byte // SASL-IR initial response, if the client supplied one

	done    bool
	failed  error
}

// NewDriver starts a dialogue for server, optionally seeded with the
// client's SASL-IR initial response (an empty non-nil slice means the
// client explicitly sent an empty initial response, distinct from none).
func NewDriver(conn Conn, server gosasl.Server, initialResponse []byte) *Driver {
	return &Driver{conn: conn, server: server, initial: initialResponse}
}

// ReadInput implements protocol.InputReader: it receives one raw
// continuation line (already stripped of CRLF) from the reserved input
// stream, applies one step of the SASL exchange, and reports whether the
// dialogue is finished.
func (d *Driver) ReadInput(line []byte) (done bool, err error) {
	if d.done {
		return true, d.failed
	}

	if string(line) == "*" {
		d.done = true
		d.failed = fmt.Errorf("sasl: authentication aborted by client")
		return true, d.failed
	}

	var response []byte
	if len(line) > 0 {
		response, err = base64.StdEncoding.DecodeString(string(line))
		if err != nil {
			d.done = true
			d.failed = fmt.Errorf("sasl: invalid base64 continuation: %w", err)
			return true, d.failed
		}
	}

	return d.step(response)
}

// Start kicks off the exchange: if the client supplied an initial
// response (SASL-IR), it is fed to the mechanism immediately; otherwise
// the first challenge is solicited with a nil response, matching
// gosasl.Server.Next's "no initial response" contract.
func (d *Driver) Start() (done bool, err error) {
	if d.initial != nil {
		return d.step(d.initial)
	}
	return d.step(nil)
}

func (d *Driver) step(response []byte) (done bool, err error) {
	challenge, done, err := d.server.Next(response)
	if err != nil {
		d.done = true
		d.failed = err
		return true, err
	}
	if done {
		d.done = true
		return true, nil
	}

	encoded := base64.StdEncoding.EncodeToString(challenge)
	if werr := d.conn.WriteContinuation(encoded); werr != nil {
		d.done = true
		d.failed = werr
		return true, werr
	}
	return false, nil
}

// DecodeInitialResponse parses the optional base64 initial-response
// argument some AUTHENTICATE grammars accept (SASL-IR, RFC 4959): "="
// means an explicit empty initial response, "" means none was given.
func DecodeInitialResponse(arg string) ([]byte, error) {
	if arg == "" {
		return nil, nil
	}
	if arg == "=" {
		return []byte{}, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(arg))
	if err != nil {
		return nil, fmt.Errorf("sasl: invalid initial response: %w", err)
	}
	return data, nil
}
