package imapcmd

import (
	"github.com/corvid-mail/corvid/internal/netio"
	"github.com/corvid-mail/corvid/internal/protocol"
)

// starttlsHandler implements protocol.TransportUpgrader: its tagged OK is
// flushed on the plaintext connection like any other command's, and only
// once that happens does the scheduler call UpgradeTransport to perform
// the handshake and swap conn's underlying net.Conn.
type starttlsHandler struct {
	env *Env
}

func (h *starttlsHandler) Group() int { return 0 }

func (h *starttlsHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.NotAuthenticated
}

func (h *starttlsHandler) Parse(*protocol.Command, *protocol.ArgReader) error { return nil }

func (h *starttlsHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if h.env.TLSConfig == nil {
		cmd.Error(protocol.StatusNO, "TLS not available")
		return true, nil
	}
	if connTLSActive(conn) {
		cmd.Error(protocol.StatusBAD, "TLS already active")
		return true, nil
	}
	cmd.OK("begin TLS negotiation now")
	return true, nil
}

func (h *starttlsHandler) UpgradeTransport(conn *protocol.Conn) error {
	tlsConn, err := netio.UpgradeSTARTTLS(conn.Conn, h.env.TLSConfig)
	if err != nil {
		return err
	}
	conn.Upgrade(tlsConn)
	return nil
}
