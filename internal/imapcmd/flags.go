package imapcmd

import (
	"database/sql"

	"github.com/corvid-mail/corvid/internal/db"
)

// systemFlags are the flags always included in a mailbox's FLAGS/
// PERMANENTFLAGS response regardless of what has actually been set,
// matching RFC 3501 §6.3.1's example and the teacher's own
// selection.go constant flag set.
var systemFlags = []string{"\\Answered", "\\Flagged", "\\Deleted", "\\Seen", "\\Draft"}

// mailboxCounts reports SELECT/EXAMINE/STATUS's four numeric data items
// for mailboxID: total non-expunged messages, messages at or after the
// mailbox's first_recent marker, messages lacking \Seen, and the
// uidnext/uidvalidity pair.
type mailboxCounts struct {
	Exists      int
	Recent      int
	Unseen      int
	UIDNext     int64
	UIDValidity int64
	FirstRecent int64
}

func loadMailboxCounts(conn db.Execer, mailboxID int64) (mailboxCounts, error) {
	var c mailboxCounts
	err := conn.QueryRow(`SELECT uidnext, uidvalidity, first_recent FROM mailboxes WHERE id = ?`, mailboxID).
		Scan(&c.UIDNext, &c.UIDValidity, &c.FirstRecent)
	if err != nil {
		return c, err
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM messages WHERE mailbox = ? AND expunged = 0`, mailboxID).
		Scan(&c.Exists); err != nil {
		return c, err
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM messages WHERE mailbox = ? AND expunged = 0 AND uid >= ?`,
		mailboxID, c.FirstRecent).Scan(&c.Recent); err != nil {
		return c, err
	}
	seenID, err := db.FlagNames.EnsureOne(conn, "\\Seen")
	if err != nil {
		return c, err
	}
	err = conn.QueryRow(`
		SELECT COUNT(*) FROM messages m
		WHERE m.mailbox = ? AND m.expunged = 0
		AND NOT EXISTS (SELECT 1 FROM flags f WHERE f.mailbox = m.mailbox AND f.uid = m.uid AND f.flag = ?)
	`, mailboxID, seenID).Scan(&c.Unseen)
	return c, err
}

// flagsForMessage returns the flag names currently set on (mailboxID, uid).
func flagsForMessage(conn db.Execer, mailboxID, uid int64) ([]string, error) {
	rows, err := conn.Query(`
		SELECT fn.name FROM flags f JOIN flag_names fn ON fn.id = f.flag
		WHERE f.mailbox = ? AND f.uid = ?
	`, mailboxID, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// setFlags replaces, adds, or removes uid's flags in mailboxID per mode
// ("", "+", "-"), returning the resulting flag set.
func setFlags(conn *sql.DB, mailboxID, uid int64, mode string, names []string) ([]string, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	ids, err := db.FlagNames.Ensure(tx, names)
	if err != nil {
		return nil, err
	}

	switch mode {
	case "+":
		for _, id := range ids {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO flags(flag, uid, mailbox) VALUES (?, ?, ?)`, id, uid, mailboxID); err != nil {
				return nil, err
			}
		}
	case "-":
		for _, id := range ids {
			if _, err := tx.Exec(`DELETE FROM flags WHERE flag = ? AND uid = ? AND mailbox = ?`, id, uid, mailboxID); err != nil {
				return nil, err
			}
		}
	default:
		if _, err := tx.Exec(`DELETE FROM flags WHERE uid = ? AND mailbox = ?`, uid, mailboxID); err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO flags(flag, uid, mailbox) VALUES (?, ?, ?)`, id, uid, mailboxID); err != nil {
				return nil, err
			}
		}
	}

	if _, err := tx.Exec(`UPDATE mailboxes SET nextmodseq = nextmodseq + 1 WHERE id = ?`, mailboxID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return flagsForMessage(conn, mailboxID, uid)
}
