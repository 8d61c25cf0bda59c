package imapcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/inject"
	"github.com/corvid-mail/corvid/internal/message"
	"github.com/corvid-mail/corvid/internal/protocol"
)

// appendHandler implements APPEND, grounded on
// _examples/LSFLK-raven/internal/server/message/handler_message.go's
// handling of the literal message argument and its RFC 4315 APPENDUID
// response code; the literal itself is read by ArgReader.Literal once
// Framer has already spliced its bytes into the command's argument text
// (spec.md §4.2), so no separate streaming read off the connection is
// needed here.
type appendHandler struct {
	env *Env

	mailbox      string
	flags        []string
	internalDate time.Time
	raw          []byte
}

func (h *appendHandler) Group() int { return 0 }
func (h *appendHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}

func (h *appendHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	mailbox, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "APPEND requires a mailbox name"}
	}
	h.mailbox = mailbox

	if b, ok := args.Peek(); ok && b == '(' {
		flags, ferr := args.List()
		if ferr != nil {
			return &protocol.ParseError{Msg: "malformed APPEND flag list"}
		}
		h.flags = flags
	}

	if b, ok := args.Peek(); ok && (b == '"' || (b >= '0' && b <= '9')) {
		date, _, derr := args.NString()
		if derr != nil {
			return &protocol.ParseError{Msg: "malformed APPEND internal date"}
		}
		t, perr := time.Parse("2-Jan-2006 15:04:05 -0700", date)
		if perr != nil {
			return &protocol.ParseError{Msg: "malformed APPEND internal date"}
		}
		h.internalDate = t
	}

	raw, err := args.Literal()
	if err != nil {
		return &protocol.ParseError{Msg: "APPEND requires a message literal"}
	}
	h.raw = []byte(raw)
	return nil
}

func (h *appendHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if !requireUser(cmd, conn) {
		return true, nil
	}

	mailboxID, err := db.MailboxByName(h.env.DB, conn.UserID, h.mailbox)
	if err != nil {
		cmd.Error(protocol.StatusNO, "[TRYCREATE] mailbox %q does not exist", h.mailbox)
		return true, nil
	}

	msg, parseErr := message.Parse(h.raw)
	if parseErr != nil {
		msg = nil
	}

	req := inject.Request{
		Targets:      []inject.Target{{MailboxID: mailboxID, MailboxName: h.mailbox}},
		Flags:        h.flags,
		Message:      msg,
		Raw:          h.raw,
		InternalDate: h.internalDate,
	}

	result, err := h.env.Injector.Inject(context.Background(), req)
	if err != nil {
		cmd.Error(protocol.StatusNO, "APPEND failed: %v", err)
		return true, nil
	}

	var uidvalidity int64
	text := "APPEND completed"
	if derr := h.env.DB.QueryRow(`SELECT uidvalidity FROM mailboxes WHERE id = ?`, mailboxID).Scan(&uidvalidity); derr == nil {
		text = fmt.Sprintf("[APPENDUID %d %d] APPEND completed", uidvalidity, result.Outcomes[0].UID)
	}
	cmd.OK(text)
	return true, nil
}
