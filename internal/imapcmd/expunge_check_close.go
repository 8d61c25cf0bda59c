package imapcmd

import (
	"database/sql"
	"fmt"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/protocol"
)

// checkHandler implements CHECK: a housekeeping no-op that always
// succeeds, per RFC 3501 §6.4.1 and the teacher's own handling.
type checkHandler struct{}

func (h *checkHandler) Group() int                             { return 1 }
func (h *checkHandler) ValidIn(state protocol.ConnState) bool  { return state == protocol.Selected }
func (h *checkHandler) Parse(*protocol.Command, *protocol.ArgReader) error { return nil }
func (h *checkHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	cmd.OK("CHECK completed")
	return true, nil
}

// expungeHandler implements EXPUNGE: permanently removes every
// \Deleted-flagged message in the selected mailbox, emitting one
// untagged "* n EXPUNGE" per removal with sequence numbers computed
// against the shrinking mailbox, grounded on
// _examples/LSFLK-raven/internal/server/message/handler_message.go's
// EXPUNGE loop.
type expungeHandler struct {
	env *Env
}

func (h *expungeHandler) Group() int                            { return 0 }
func (h *expungeHandler) ValidIn(state protocol.ConnState) bool { return state == protocol.Selected }
func (h *expungeHandler) Parse(*protocol.Command, *protocol.ArgReader) error { return nil }

func (h *expungeHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if conn.UserID == 0 {
		cmd.Error(protocol.StatusNO, "not authenticated")
		return true, nil
	}
	if conn.ReadOnly {
		cmd.Error(protocol.StatusNO, "mailbox is read-only")
		return true, nil
	}
	n, err := expungeDeleted(h.env, conn, cmd)
	if err != nil {
		cmd.Error(protocol.StatusNO, "EXPUNGE failed: %v", err)
		return true, nil
	}
	_ = n
	cmd.OK("EXPUNGE completed")
	return true, nil
}

// expungeDeleted removes every \Deleted message from conn's selected
// mailbox, responding with untagged EXPUNGE lines against sequence
// numbers recomputed as each removal shrinks the mailbox.
func expungeDeleted(env *Env, conn *protocol.Conn, cmd *protocol.Command) (int, error) {
	uids, err := mailboxUIDs(env.DB, conn.SelectedBox)
	if err != nil {
		return 0, err
	}

	deletedID, err := lookupFlagID(env.DB, "\\Deleted")
	if err != nil {
		return 0, err
	}
	if deletedID == 0 {
		return 0, nil
	}

	var toDelete []int64
	for _, uid := range uids {
		var count int
		if err := env.DB.QueryRow(`SELECT COUNT(*) FROM flags WHERE mailbox = ? AND uid = ? AND flag = ?`,
			conn.SelectedBox, uid, deletedID).Scan(&count); err != nil {
			return 0, err
		}
		if count > 0 {
			toDelete = append(toDelete, uid)
		}
	}

	remaining := append([]int64(nil), uids...)
	for _, uid := range toDelete {
		seq := seqNumOf(remaining, uid)
		if err := purgeMessage(env.DB, conn.SelectedBox, uid); err != nil {
			return 0, err
		}
		for i, u := range remaining {
			if u == uid {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
		cmd.Respond(fmt.Sprintf("%d EXPUNGE", seq))
	}
	return len(toDelete), nil
}

// lookupFlagID returns a flag's id, or 0 if the flag has never been used
// (nothing can be flagged with it, so nothing can match).
func lookupFlagID(conn db.Execer, name string) (int64, error) {
	var id int64
	err := conn.QueryRow(`SELECT id FROM flag_names WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// purgeMessage removes every row a message owns across the schema.
func purgeMessage(conn *sql.DB, mailboxID, uid int64) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	for _, stmt := range []string{
		`DELETE FROM flags WHERE mailbox = ? AND uid = ?`,
		`DELETE FROM part_numbers WHERE mailbox = ? AND uid = ?`,
		`DELETE FROM header_fields WHERE mailbox = ? AND uid = ?`,
		`DELETE FROM address_fields WHERE mailbox = ? AND uid = ?`,
		`DELETE FROM date_fields WHERE mailbox = ? AND uid = ?`,
		`DELETE FROM annotations WHERE mailbox = ? AND uid = ?`,
		`DELETE FROM modsequences WHERE mailbox = ? AND uid = ?`,
		`DELETE FROM messages WHERE mailbox = ? AND uid = ?`,
	} {
		if _, err := tx.Exec(stmt, mailboxID, uid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// closeHandler implements CLOSE: like EXPUNGE but silent (no untagged
// EXPUNGE responses, RFC 3501 §6.4.2), and a no-op on a read-only
// (EXAMINEd) mailbox — improving on the teacher's own acknowledged gap
// (its CLOSE deletes unconditionally; see selection.go's TODO) now that
// protocol.Conn carries ReadOnly.
type closeHandler struct {
	env *Env
}

func (h *closeHandler) Group() int                            { return 0 }
func (h *closeHandler) ValidIn(state protocol.ConnState) bool { return state == protocol.Selected }
func (h *closeHandler) Parse(*protocol.Command, *protocol.ArgReader) error { return nil }

func (h *closeHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if conn.UserID == 0 {
		cmd.Error(protocol.StatusNO, "not authenticated")
		return true, nil
	}
	if !conn.ReadOnly {
		if _, err := expungeDeleted(h.env, conn, &protocol.Command{}); err != nil {
			cmd.Error(protocol.StatusNO, "CLOSE failed: %v", err)
			return true, nil
		}
	}
	conn.SelectedBox = 0
	conn.SelectedName = ""
	conn.ReadOnly = false
	conn.SetState(protocol.Authenticated)
	cmd.OK("CLOSE completed")
	return true, nil
}
