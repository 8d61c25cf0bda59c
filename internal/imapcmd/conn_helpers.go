package imapcmd

import (
	"crypto/tls"

	"github.com/corvid-mail/corvid/internal/protocol"
)

// connTLSActive reports whether conn's underlying network connection is
// already a TLS connection (either upgraded via STARTTLS or accepted off
// an implicit-TLS listener), so CAPABILITY/STARTTLS know not to
// advertise/re-offer STARTTLS.
func connTLSActive(conn *protocol.Conn) bool {
	_, ok := conn.Conn.(*tls.Conn)
	return ok
}

// requireUser fails cmd with NO and returns false if conn has not
// authenticated; every post-login command guards with this first.
func requireUser(cmd *protocol.Command, conn *protocol.Conn) bool {
	if conn.UserID == 0 {
		cmd.Error(protocol.StatusNO, "not authenticated")
		return false
	}
	return true
}
