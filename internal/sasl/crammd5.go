// Package sasl implements the SASL challenge/response dialogue driver for
// AUTHENTICATE (spec.md §5) plus two concrete mechanisms: CRAM-MD5 (RFC
// 2195, ported line-for-line from original_source/sasl/cram-md5.cpp) and
// PLAIN (adapted from the teacher's Dovecot-auth-socket bridge).
package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	gosasl "github.com/emersion/go-sasl"
)

// Verifier resolves a login name to its stored CRAM-MD5 shared secret
// (spec.md §5.2: the secret is the plaintext password, never a hash, so
// it can be re-keyed into HMAC-MD5 for comparison). It reports whether
// login is known and, separately, whether anonymous bypass applies.
type Verifier interface {
	// Secret returns the stored plaintext secret for login, or ok=false
	// if no such user exists.
	Secret(login string) (secret string, ok bool)
	// AnonymousAllowed reports whether the anonymous pseudo-user bypasses
	// digest verification entirely (spec.md §5.2's AuthAnonymous toggle).
	AnonymousAllowed(login string) bool
}

// fallbackHostname is used for the challenge's domain part when the
// configured hostname is empty or has no dot, exactly as the original
// falls back rather than emitting an unqualified or blank hostname.
const fallbackHostname = "oryx.invalid"

// CramMD5Server implements gosasl.Server for RFC 2195 CRAM-MD5.
type CramMD5Server struct {
	hostname string
	verifier Verifier

	challengeSent string
	login         string
	secret        string // lower-cased hex digest presented by the client
	state         cramState
}

type cramState int

const (
	cramAwaitingResponse cramState = iota
	cramDone
)

// NewCramMD5Server builds a fresh per-authentication CRAM-MD5 server;
// hostname is the server's configured name (spec.md §2's Hostname), used
// to qualify the challenge string.
func NewCramMD5Server(hostname string, verifier Verifier) *CramMD5Server {
	return &CramMD5Server{hostname: hostname, verifier: verifier}
}

// Next implements gosasl.Server. The first call (response == nil) issues
// the challenge; the second call parses and verifies the client's
// response and concludes the exchange.
func (c *CramMD5Server) Next(response []byte) (challenge []byte, done bool, err error) {
	if c.state == cramDone {
		return nil, false, gosasl.ErrUnexpectedClientResponse
	}

	if response == nil {
		c.challengeSent = c.challenge()
		return []byte(c.challengeSent), false, nil
	}

	c.state = cramDone
	if err := c.parseResponse(string(response)); err != nil {
		return nil, true, err
	}
	if !c.verify() {
		return nil, true, fmt.Errorf("sasl: cram-md5 authentication failed")
	}
	return nil, true, nil
}

// challenge builds "<base64(12 random bytes)@hostname>", falling back to
// fallbackHostname when the configured hostname is empty or unqualified.
func (c *CramMD5Server) challenge() string {
	hn := c.hostname
	if hn == "" || !strings.Contains(hn, ".") {
		hn = fallbackHostname
	}

	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// unavailable, a condition we cannot usefully recover from here.
		panic("sasl: cram-md5 challenge: " + err.Error())
	}
	random := base64.StdEncoding.EncodeToString(buf)

	return "<" + random + "@" + hn + ">"
}

// parseResponse splits "login digest" on the last space, matching the
// original's right-to-left scan (a login name itself may contain spaces).
func (c *CramMD5Server) parseResponse(s string) error {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return fmt.Errorf("sasl: malformed cram-md5 response: no space")
	}
	c.login = s[:i]
	c.secret = strings.ToLower(s[i+1:])
	return nil
}

// verify reports whether c.secret matches hex(HMAC-MD5(storedSecret,
// challengeSent)), or bypasses the check entirely for an allowed
// anonymous login.
func (c *CramMD5Server) verify() bool {
	if c.verifier.AnonymousAllowed(c.login) {
		return true
	}

	stored, ok := c.verifier.Secret(c.login)
	if !ok {
		return false
	}

	mac := hmac.New(md5.New, []byte(stored))
	mac.Write([]byte(c.challengeSent))
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(want), []byte(c.secret))
}

// Login returns the username the client presented, valid once Next has
// returned done=true with a nil error.
func (c *CramMD5Server) Login() string { return c.login }
