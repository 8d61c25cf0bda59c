package sasl

import (
	"bytes"
	"fmt"
)

// PlainVerifier authenticates a decoded PLAIN (RFC 4616) username/password
// pair, optionally honoring a distinct authorization identity.
type PlainVerifier func(authzid, authcid, password string) error

type plainServer struct {
	authenticate PlainVerifier
	done         bool
	authcid      string
}

// NewPlainServer builds a PLAIN mechanism server. The wire format and
// authzid/authcid/password splitting are adapted from the teacher's
// Dovecot-auth-socket PLAIN decoder (internal/sasl/server.go
// handlePlain), generalized to the three-field RFC 4616 form with an
// optional authzid.
func NewPlainServer(authenticate PlainVerifier) *plainServer {
	return &plainServer{authenticate: authenticate}
}

func (p *plainServer) Next(response []byte) (challenge []byte, done bool, err error) {
	if p.done {
		return nil, false, fmt.Errorf("sasl: unexpected response after PLAIN completed")
	}
	if response == nil {
		return []byte{}, false, nil
	}

	p.done = true

	parts := bytes.SplitN(response, []byte{0}, 3)
	if len(parts) != 3 {
		return nil, true, fmt.Errorf("sasl: malformed PLAIN response")
	}
	authzid, authcid, password := string(parts[0]), string(parts[1]), string(parts[2])
	p.authcid = authcid

	return nil, true, p.authenticate(authzid, authcid, password)
}

// Login returns the authentication identity presented, valid once Next
// has completed.
func (p *plainServer) Login() string { return p.authcid }
