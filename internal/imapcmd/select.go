package imapcmd

import (
	"fmt"
	"strings"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/protocol"
)

// selectHandler implements SELECT and EXAMINE (readOnly distinguishes
// them), grounded on the response ordering of
// _examples/LSFLK-raven/internal/server/selection/selection.go:
// FLAGS, then EXISTS/RECENT, then the OK-UNSEEN/OK-UIDVALIDITY/
// OK-UIDNEXT response codes, then the tagged
// OK [READ-WRITE]/[READ-ONLY] completion.
type selectHandler struct {
	env      *Env
	readOnly bool

	name string
}

func (h *selectHandler) Group() int { return 0 }

func (h *selectHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}

func (h *selectHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	name, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "SELECT requires a mailbox name"}
	}
	h.name = name
	return nil
}

func (h *selectHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if !requireUser(cmd, conn) {
		return true, nil
	}

	mailboxID, err := db.MailboxByName(h.env.DB, conn.UserID, h.name)
	if err != nil {
		cmd.Error(protocol.StatusNO, "mailbox %q does not exist", h.name)
		return true, nil
	}

	counts, err := loadMailboxCounts(h.env.DB, mailboxID)
	if err != nil {
		cmd.Error(protocol.StatusNO, "SELECT failed")
		return true, nil
	}

	if !h.readOnly {
		if _, err := h.env.DB.Exec(`UPDATE mailboxes SET first_recent = uidnext WHERE id = ?`, mailboxID); err != nil {
			cmd.Error(protocol.StatusNO, "SELECT failed")
			return true, nil
		}
	}

	cmd.Respond(fmt.Sprintf("FLAGS (%s)", strings.Join(systemFlags, " ")))
	cmd.Respond(fmt.Sprintf("%d EXISTS", counts.Exists))
	cmd.Respond(fmt.Sprintf("%d RECENT", counts.Recent))
	cmd.Respond(fmt.Sprintf("OK [UNSEEN %d]", counts.Unseen))
	if h.readOnly {
		cmd.Respond("PERMANENTFLAGS ()")
	} else {
		cmd.Respond(fmt.Sprintf("PERMANENTFLAGS (%s \\*)", strings.Join(systemFlags, " ")))
	}
	cmd.Respond(fmt.Sprintf("OK [UIDVALIDITY %d]", counts.UIDValidity))
	cmd.Respond(fmt.Sprintf("OK [UIDNEXT %d]", counts.UIDNext))

	conn.SelectedBox = mailboxID
	conn.SelectedName = h.name
	conn.ReadOnly = h.readOnly
	conn.SetState(protocol.Selected)

	if h.readOnly {
		cmd.OK("[READ-ONLY] EXAMINE completed")
	} else {
		cmd.OK("[READ-WRITE] SELECT completed")
	}
	return true, nil
}
