package imapcmd

import (
	"fmt"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/protocol"
)

// copyHandler implements COPY. UID allocation reuses
// internal/inject.selectUIDs's mailboxes.uidnext/nextmodseq counter
// pattern directly (not the teacher's transaction-scoped
// "SELECT COALESCE(MAX(uid),0)+1" from
// _examples/LSFLK-raven/internal/server/message/handler_message.go),
// so a COPY's destination UIDs stay consistent with every UID APPEND or
// injection assigns in that mailbox.
type copyHandler struct {
	env     *Env
	uidMode bool

	set  string
	dest string
}

func (h *copyHandler) Group() int { return 1 }
func (h *copyHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Selected
}

func (h *copyHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	set, err := args.Atom()
	if err != nil {
		return &protocol.ParseError{Msg: "COPY requires a sequence set"}
	}
	dest, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "COPY requires a destination mailbox"}
	}
	h.set, h.dest = set, dest
	return nil
}

func (h *copyHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if conn.UserID == 0 {
		cmd.Error(protocol.StatusNO, "not authenticated")
		return true, nil
	}

	destID, err := db.MailboxByName(h.env.DB, conn.UserID, h.dest)
	if err != nil {
		cmd.Error(protocol.StatusNO, "[TRYCREATE] mailbox %q does not exist", h.dest)
		return true, nil
	}

	uids, err := mailboxUIDs(h.env.DB, conn.SelectedBox)
	if err != nil {
		cmd.Error(protocol.StatusNO, "COPY failed")
		return true, nil
	}
	matched, err := resolveSet(h.set, h.uidMode, uids)
	if err != nil {
		return false, &protocol.ParseError{Msg: err.Error()}
	}

	var firstSrc, lastSrc, firstDst, lastDst int64
	for i, uid := range matched {
		newUID, err := h.copyOne(conn.SelectedBox, destID, uid)
		if err != nil {
			cmd.Error(protocol.StatusNO, "COPY failed: %v", err)
			return true, nil
		}
		if i == 0 {
			firstSrc, firstDst = uid, newUID
		}
		lastSrc, lastDst = uid, newUID
	}

	if len(matched) == 0 {
		cmd.OK("COPY completed")
		return true, nil
	}

	var uidvalidity int64
	h.env.DB.QueryRow(`SELECT uidvalidity FROM mailboxes WHERE id = ?`, destID).Scan(&uidvalidity)
	cmd.OK(fmt.Sprintf("[COPYUID %d %d:%d %d:%d] COPY completed", uidvalidity, firstSrc, lastSrc, firstDst, lastDst))
	return true, nil
}

// copyOne duplicates one message's rows (messages, part_numbers, flags,
// header_fields, address_fields, date_fields, annotations) into destID
// under a freshly allocated UID, inside one transaction.
func (h *copyHandler) copyOne(srcMailbox, destID, uid int64) (int64, error) {
	tx, err := h.env.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	var newUID, newModSeq int64
	if err := tx.QueryRow(`SELECT uidnext, nextmodseq FROM mailboxes WHERE id = ?`, destID).Scan(&newUID, &newModSeq); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`UPDATE mailboxes SET uidnext = uidnext + 1, nextmodseq = nextmodseq + 1 WHERE id = ?`, destID); err != nil {
		return 0, err
	}

	var idate, size int64
	if err := tx.QueryRow(`SELECT idate, rfc822size FROM messages WHERE mailbox = ? AND uid = ?`, srcMailbox, uid).
		Scan(&idate, &size); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`INSERT INTO messages(mailbox, uid, idate, rfc822size) VALUES (?, ?, ?, ?)`,
		destID, newUID, idate, size); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`INSERT INTO modsequences(mailbox, uid, modseq) VALUES (?, ?, ?)`, destID, newUID, newModSeq); err != nil {
		return 0, err
	}

	copies := []struct{ table, cols string }{
		{"part_numbers", "part, bodypart, bytes, lines"},
		{"header_fields", "part, position, field, value"},
		{"address_fields", "part, position, field, address, number"},
		{"annotations", "name, value, owner"},
	}
	for _, c := range copies {
		if _, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s(mailbox, uid, %s) SELECT ?, ?, %s FROM %s WHERE mailbox = ? AND uid = ?`,
			c.table, c.cols, c.cols, c.table),
			destID, newUID, srcMailbox, uid); err != nil {
			return 0, err
		}
	}
	if _, err := tx.Exec(`INSERT INTO date_fields(mailbox, uid, value) SELECT ?, ?, value FROM date_fields WHERE mailbox = ? AND uid = ?`,
		destID, newUID, srcMailbox, uid); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`INSERT INTO flags(flag, uid, mailbox) SELECT flag, ?, ? FROM flags WHERE mailbox = ? AND uid = ?`,
		newUID, destID, srcMailbox, uid); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newUID, nil
}
