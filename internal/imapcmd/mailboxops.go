package imapcmd

import (
	"strings"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/protocol"
)

// createHandler implements CREATE, grounded on
// _examples/LSFLK-raven/internal/server/mailbox/mailbox.go: INBOX may not
// be (re)created, and every intermediate "/"-separated hierarchy level is
// created along with the leaf.
type createHandler struct {
	env  *Env
	name string
}

func (h *createHandler) Group() int { return 0 }
func (h *createHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}
func (h *createHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	name, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "CREATE requires a mailbox name"}
	}
	h.name = name
	return nil
}
func (h *createHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if !requireUser(cmd, conn) {
		return true, nil
	}
	if strings.EqualFold(h.name, "INBOX") {
		cmd.Error(protocol.StatusNO, "cannot create INBOX")
		return true, nil
	}

	segments := strings.Split(h.name, "/")
	path := ""
	for _, seg := range segments {
		if path == "" {
			path = seg
		} else {
			path = path + "/" + seg
		}
		if _, err := db.MailboxByName(h.env.DB, conn.UserID, path); err == nil {
			continue
		}
		if _, err := db.CreateMailbox(h.env.DB, conn.UserID, path, ""); err != nil {
			cmd.Error(protocol.StatusNO, "CREATE failed: %v", err)
			return true, nil
		}
	}
	cmd.OK("CREATE completed")
	return true, nil
}

// deleteHandler implements DELETE.
type deleteHandler struct {
	env  *Env
	name string
}

func (h *deleteHandler) Group() int { return 0 }
func (h *deleteHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}
func (h *deleteHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	name, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "DELETE requires a mailbox name"}
	}
	h.name = name
	return nil
}
func (h *deleteHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if !requireUser(cmd, conn) {
		return true, nil
	}
	if strings.EqualFold(h.name, "INBOX") {
		cmd.Error(protocol.StatusNO, "cannot delete INBOX")
		return true, nil
	}
	mailboxID, err := db.MailboxByName(h.env.DB, conn.UserID, h.name)
	if err != nil {
		cmd.Error(protocol.StatusNO, "mailbox %q does not exist", h.name)
		return true, nil
	}
	if conn.SelectedBox == mailboxID {
		cmd.Error(protocol.StatusNO, "mailbox is selected")
		return true, nil
	}
	tx, err := h.env.DB.Begin()
	if err != nil {
		cmd.Error(protocol.StatusNO, "DELETE failed")
		return true, nil
	}
	defer tx.Rollback() //nolint:errcheck
	for _, stmt := range []string{
		`DELETE FROM flags WHERE mailbox = ?`,
		`DELETE FROM part_numbers WHERE mailbox = ?`,
		`DELETE FROM header_fields WHERE mailbox = ?`,
		`DELETE FROM address_fields WHERE mailbox = ?`,
		`DELETE FROM date_fields WHERE mailbox = ?`,
		`DELETE FROM annotations WHERE mailbox = ?`,
		`DELETE FROM messages WHERE mailbox = ?`,
		`DELETE FROM mailboxes WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, mailboxID); err != nil {
			cmd.Error(protocol.StatusNO, "DELETE failed: %v", err)
			return true, nil
		}
	}
	if err := tx.Commit(); err != nil {
		cmd.Error(protocol.StatusNO, "DELETE failed")
		return true, nil
	}
	cmd.OK("DELETE completed")
	return true, nil
}

// renameHandler implements RENAME: the target name may not be INBOX, per
// the teacher's own restriction (RFC 3501 only forbids renaming INBOX
// itself, but a second INBOX would collide with the always-present one).
type renameHandler struct {
	env           *Env
	oldName, newName string
}

func (h *renameHandler) Group() int { return 0 }
func (h *renameHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}
func (h *renameHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	oldName, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "RENAME requires a source mailbox name"}
	}
	newName, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "RENAME requires a destination mailbox name"}
	}
	h.oldName, h.newName = oldName, newName
	return nil
}
func (h *renameHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if !requireUser(cmd, conn) {
		return true, nil
	}
	if strings.EqualFold(h.newName, "INBOX") {
		cmd.Error(protocol.StatusNO, "cannot rename to INBOX")
		return true, nil
	}
	mailboxID, err := db.MailboxByName(h.env.DB, conn.UserID, h.oldName)
	if err != nil {
		cmd.Error(protocol.StatusNO, "mailbox %q does not exist", h.oldName)
		return true, nil
	}
	if _, err := h.env.DB.Exec(`UPDATE mailboxes SET name = ? WHERE id = ?`, h.newName, mailboxID); err != nil {
		cmd.Error(protocol.StatusNO, "RENAME failed: %v", err)
		return true, nil
	}
	if conn.SelectedBox == mailboxID {
		conn.SelectedName = h.newName
	}
	cmd.OK("RENAME completed")
	return true, nil
}

// subscribeHandler implements both SUBSCRIBE and UNSUBSCRIBE.
type subscribeHandler struct {
	env       *Env
	subscribe bool
	name      string
}

func (h *subscribeHandler) Group() int { return 0 }
func (h *subscribeHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}
func (h *subscribeHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	name, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "mailbox name required"}
	}
	h.name = name
	return nil
}
func (h *subscribeHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if !requireUser(cmd, conn) {
		return true, nil
	}
	if h.subscribe {
		if _, err := h.env.DB.Exec(`INSERT OR IGNORE INTO subscriptions(user_id, mailbox_name) VALUES (?, ?)`,
			conn.UserID, h.name); err != nil {
			cmd.Error(protocol.StatusNO, "SUBSCRIBE failed")
			return true, nil
		}
		cmd.OK("SUBSCRIBE completed")
	} else {
		if _, err := h.env.DB.Exec(`DELETE FROM subscriptions WHERE user_id = ? AND mailbox_name = ?`,
			conn.UserID, h.name); err != nil {
			cmd.Error(protocol.StatusNO, "UNSUBSCRIBE failed")
			return true, nil
		}
		cmd.OK("UNSUBSCRIBE completed")
	}
	return true, nil
}

// statusHandler implements STATUS, grounded on mailbox.go's parenthesized
// data-item list handling: only the requested items are returned, in the
// order requested, and an unrecognized item is a BAD parse error.
type statusHandler struct {
	env   *Env
	name  string
	items []string
}

func (h *statusHandler) Group() int { return 1 }
func (h *statusHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}
func (h *statusHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	name, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "STATUS requires a mailbox name"}
	}
	items, err := args.List()
	if err != nil {
		return &protocol.ParseError{Msg: "STATUS requires a data item list"}
	}
	for _, item := range items {
		switch strings.ToUpper(item) {
		case "MESSAGES", "RECENT", "UIDNEXT", "UIDVALIDITY", "UNSEEN":
		default:
			return &protocol.ParseError{Msg: "unknown STATUS data item " + item}
		}
	}
	h.name, h.items = name, items
	return nil
}
func (h *statusHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
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
		cmd.Error(protocol.StatusNO, "STATUS failed")
		return true, nil
	}

	parts := make([]string, 0, len(h.items))
	for _, item := range h.items {
		switch strings.ToUpper(item) {
		case "MESSAGES":
			parts = append(parts, itemValue("MESSAGES", counts.Exists))
		case "RECENT":
			parts = append(parts, itemValue("RECENT", counts.Recent))
		case "UIDNEXT":
			parts = append(parts, itemValue("UIDNEXT", int(counts.UIDNext)))
		case "UIDVALIDITY":
			parts = append(parts, itemValue("UIDVALIDITY", int(counts.UIDValidity)))
		case "UNSEEN":
			parts = append(parts, itemValue("UNSEEN", counts.Unseen))
		}
	}
	cmd.Respond("STATUS " + quoteMailbox(h.name) + " (" + strings.Join(parts, " ") + ")")
	cmd.OK("STATUS completed")
	return true, nil
}

func itemValue(name string, n int) string {
	return name + " " + itoa(n)
}
