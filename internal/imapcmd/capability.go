package imapcmd

import "github.com/corvid-mail/corvid/internal/protocol"

// capabilities lists the extensions spec.md §6 requires advertising.
func capabilities(env *Env, tlsActive bool) []string {
	// AUTH=PLAIN is always offered: plaintextLogin falls back to a direct
	// users.secret comparison when env.PlainAuth isn't configured.
	caps := []string{"IMAP4rev1", "ID", "LITERAL+", "IDLE", "LIST-EXTENDED", "AUTH=PLAIN"}
	if env.Verifier != nil {
		caps = append(caps, "AUTH=CRAM-MD5")
	}
	if env.TLSConfig != nil && !tlsActive {
		caps = append(caps, "STARTTLS")
	}
	return caps
}

type capabilityHandler struct {
	env *Env
}

func (h *capabilityHandler) Group() int                        { return 1 }
func (h *capabilityHandler) ValidIn(protocol.ConnState) bool    { return true }
func (h *capabilityHandler) Parse(*protocol.Command, *protocol.ArgReader) error {
	return nil
}

func (h *capabilityHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	line := "CAPABILITY"
	for _, c := range capabilities(h.env, connTLSActive(conn)) {
		line += " " + c
	}
	cmd.Respond(line)
	cmd.OK("CAPABILITY completed")
	return true, nil
}

type noopHandler struct{}

func (h *noopHandler) Group() int                     { return 1 }
func (h *noopHandler) ValidIn(protocol.ConnState) bool { return true }
func (h *noopHandler) Parse(*protocol.Command, *protocol.ArgReader) error {
	return nil
}
func (h *noopHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	cmd.OK("NOOP completed")
	return true, nil
}

type logoutHandler struct{}

func (h *logoutHandler) Group() int                     { return 0 }
func (h *logoutHandler) ValidIn(protocol.ConnState) bool { return true }
func (h *logoutHandler) Parse(*protocol.Command, *protocol.ArgReader) error {
	return nil
}
func (h *logoutHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	conn.SetState(protocol.LogoutState)
	cmd.Respond("BYE logging out")
	cmd.OK("LOGOUT completed")
	return true, nil
}
