package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GetOrCreateDomain returns the id of domain name, creating it if needed.
// Grounded on the teacher's db.GetOrCreateDomain: SELECT, then INSERT on
// miss, tolerating a race from a concurrent creator.
func GetOrCreateDomain(conn Execer, name string) (int64, error) {
	name = strings.ToLower(name)
	var id int64
	err := conn.QueryRow("SELECT id FROM domains WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := conn.Exec("INSERT INTO domains(name) VALUES (?)", name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return GetOrCreateDomain(conn, name)
		}
		return 0, fmt.Errorf("insert domain: %w", err)
	}
	return res.LastInsertId()
}

// GetOrCreateUser returns the id of username@domainID, creating it (with
// default mailboxes) if needed.
func GetOrCreateUser(conn Execer, username string, domainID int64) (int64, error) {
	var id int64
	err := conn.QueryRow("SELECT id FROM users WHERE username = ? AND domain_id = ?", username, domainID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := conn.Exec("INSERT INTO users(username, domain_id) VALUES (?, ?)", username, domainID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return GetOrCreateUser(conn, username, domainID)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := createDefaultMailboxes(conn, id); err != nil {
		return 0, err
	}
	return id, nil
}

func createDefaultMailboxes(conn Execer, userID int64) error {
	for _, m := range []struct{ name, specialUse string }{
		{"INBOX", "\\Inbox"},
		{"Sent", "\\Sent"},
		{"Drafts", "\\Drafts"},
		{"Trash", "\\Trash"},
	} {
		if _, err := CreateMailbox(conn, userID, m.name, m.specialUse); err != nil {
			return fmt.Errorf("create default mailbox %s: %w", m.name, err)
		}
	}
	return nil
}

// CreateMailbox creates a mailbox for userID, returning its id.
func CreateMailbox(conn Execer, userID int64, name, specialUse string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("mailbox name cannot be empty")
	}
	uidValidity := time.Now().Unix()
	res, err := conn.Exec(`
		INSERT INTO mailboxes(user_id, name, uidvalidity, uidnext, nextmodseq, first_recent, special_use)
		VALUES (?, ?, ?, 1, 1, 1, ?)
	`, userID, name, uidValidity, specialUse)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("mailbox already exists")
		}
		return 0, err
	}
	return res.LastInsertId()
}

// MailboxByName looks up a mailbox id by owning user and name.
func MailboxByName(conn Execer, userID int64, name string) (int64, error) {
	var id int64
	err := conn.QueryRow("SELECT id FROM mailboxes WHERE user_id = ? AND name = ?", userID, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("mailbox not found")
	}
	return id, err
}

// UserByAddress splits a local@domain address and resolves it to a user id,
// creating the user (and its domain) if allowCreate is set.
func UserByAddress(conn Execer, address string, allowCreate bool) (int64, error) {
	local, domain, err := SplitAddress(address)
	if err != nil {
		return 0, err
	}
	domainID, err := GetOrCreateDomain(conn, domain)
	if err != nil {
		return 0, err
	}
	var id int64
	err = conn.QueryRow("SELECT id FROM users WHERE username = ? AND domain_id = ?", local, domainID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	if !allowCreate {
		return 0, fmt.Errorf("user not found")
	}
	return GetOrCreateUser(conn, local, domainID)
}

// SplitAddress splits "local@domain" into its parts.
func SplitAddress(address string) (local, domain string, err error) {
	i := strings.LastIndex(address, "@")
	if i <= 0 || i == len(address)-1 {
		return "", "", fmt.Errorf("invalid address %q", address)
	}
	return strings.ToLower(address[:i]), strings.ToLower(address[i+1:]), nil
}
