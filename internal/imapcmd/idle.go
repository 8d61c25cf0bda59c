package imapcmd

import (
	"strings"

	"github.com/corvid-mail/corvid/internal/protocol"
)

// idleHandler implements IDLE (RFC 2177): the tagged response is
// withheld until the client sends a bare "DONE" continuation line,
// mirroring authenticateHandler's blocking-Execute plus
// ReadInput-signals-completion shape — the one other command in this
// package that needs Handler.Execute's documented ability to block.
type idleHandler struct {
	waitCh chan struct{}
}

func (h *idleHandler) Group() int { return 0 }
func (h *idleHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}
func (h *idleHandler) Parse(*protocol.Command, *protocol.ArgReader) error { return nil }

func (h *idleHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if conn.UserID == 0 {
		cmd.Error(protocol.StatusNO, "not authenticated")
		return true, nil
	}
	h.waitCh = make(chan struct{})
	conn.Scheduler().Reserve(cmd)
	if err := conn.WriteContinuation("idling"); err != nil {
		conn.Scheduler().Release(cmd)
		return true, err
	}
	<-h.waitCh
	conn.Scheduler().Release(cmd)
	cmd.OK("IDLE terminated")
	return true, nil
}

// ReadInput implements protocol.InputReader: any line other than "DONE"
// is ignored (RFC 2177 defines no other client input while idling).
func (h *idleHandler) ReadInput(line []byte) (bool, error) {
	if strings.EqualFold(strings.TrimSpace(string(line)), "DONE") {
		close(h.waitCh)
		return true, nil
	}
	return false, nil
}
