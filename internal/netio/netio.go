// Package netio owns the two TLS entry points spec.md §4.9/§4.10
// describe: the STARTTLS upgrade path shared by IMAP and SMTP, and the
// IMAPS/SMTPS implicit-TLS listener. Grounded on the teacher's
// internal/server/auth/handler_auth.go (HandleStartTLS/HandleSSLConnection):
// both wrap the existing net.Conn in place with crypto/tls.Server and keep
// using the resulting *tls.Conn as the connection going forward. That
// collapses the original's dedicated TLS pump thread entirely — Go's
// crypto/tls.Conn already does synchronous record-layer encode/decode
// inline with Read/Write, so no separate bridging goroutine is needed
// (see DESIGN.md's note on the dropped TLS-bridge design).
package netio

import (
	"crypto/tls"
	"fmt"
	"net"
)

// UpgradeSTARTTLS wraps conn in a TLS server connection and performs the
// handshake synchronously, so a failed handshake is reported to the
// caller immediately rather than surfacing later on the first Read. This
// is the function IMAP's STARTTLS handler and smtp.Session.UpgradeTLS
// both plug in as their upgrade callback.
func UpgradeSTARTTLS(conn net.Conn, config *tls.Config) (net.Conn, error) {
	tlsConn := tls.Server(conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("netio: TLS handshake: %w", err)
	}
	return tlsConn, nil
}

// ListenImplicitTLS opens a listener for IMAPS/SMTPS-style implicit TLS
// (port 993/465/(LMTP has no implicit-TLS equivalent)): every accepted
// connection is already wrapped in the TLS handshake before the caller's
// Accept returns, mirroring the teacher's HandleSSLConnection but at the
// listener level via the stdlib's own tls.NewListener rather than
// per-connection wrapping, since nothing else about the connection
// varies by client here.
func ListenImplicitTLS(network, addr string, config *tls.Config) (net.Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen %s: %w", addr, err)
	}
	return tls.NewListener(ln, config), nil
}
