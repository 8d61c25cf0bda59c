package imapcmd

import (
	"fmt"
	"strings"

	"github.com/corvid-mail/corvid/internal/protocol"
)

// storeHandler implements STORE, grounded on
// _examples/LSFLK-raven/internal/server/message/handler_message.go's
// FLAGS/+FLAGS/-FLAGS and ".SILENT" suffix handling. The teacher's
// Junk/NonJunk-triggered auto-move-between-mailboxes side effect is a
// product feature with no counterpart named anywhere in the spec this
// module implements, so it is not carried over here — STORE only ever
// touches the flags table.
type storeHandler struct {
	env     *Env
	uidMode bool

	set    string
	mode   string // "", "+", "-"
	silent bool
	names  []string
}

func (h *storeHandler) Group() int { return 1 }
func (h *storeHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Selected
}

func (h *storeHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	set, err := args.Atom()
	if err != nil {
		return &protocol.ParseError{Msg: "STORE requires a sequence set"}
	}
	h.set = set

	action, err := args.Atom()
	if err != nil {
		return &protocol.ParseError{Msg: "STORE requires a message data item"}
	}
	upper := strings.ToUpper(action)
	switch {
	case strings.HasPrefix(upper, "+FLAGS"):
		h.mode = "+"
		h.silent = strings.HasSuffix(upper, ".SILENT")
	case strings.HasPrefix(upper, "-FLAGS"):
		h.mode = "-"
		h.silent = strings.HasSuffix(upper, ".SILENT")
	case strings.HasPrefix(upper, "FLAGS"):
		h.mode = ""
		h.silent = strings.HasSuffix(upper, ".SILENT")
	default:
		return &protocol.ParseError{Msg: "unsupported STORE data item " + action}
	}

	names, err := args.List()
	if err != nil {
		return &protocol.ParseError{Msg: "STORE requires a flag list"}
	}
	h.names = names
	return nil
}

func (h *storeHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if conn.UserID == 0 {
		cmd.Error(protocol.StatusNO, "not authenticated")
		return true, nil
	}
	if conn.ReadOnly {
		cmd.Error(protocol.StatusNO, "mailbox is read-only")
		return true, nil
	}

	uids, err := mailboxUIDs(h.env.DB, conn.SelectedBox)
	if err != nil {
		cmd.Error(protocol.StatusNO, "STORE failed")
		return true, nil
	}
	matched, err := resolveSet(h.set, h.uidMode, uids)
	if err != nil {
		return false, &protocol.ParseError{Msg: err.Error()}
	}

	for _, uid := range matched {
		flags, err := setFlags(h.env.DB, conn.SelectedBox, uid, h.mode, h.names)
		if err != nil {
			cmd.Error(protocol.StatusNO, "STORE failed: %v", err)
			return true, nil
		}
		if !h.silent {
			seq := seqNumOf(uids, uid)
			extra := ""
			if h.uidMode {
				extra = fmt.Sprintf(" UID %d", uid)
			}
			cmd.Respond(fmt.Sprintf("%d FETCH (FLAGS (%s)%s)", seq, strings.Join(flags, " "), extra))
		}
	}
	cmd.OK("STORE completed")
	return true, nil
}
