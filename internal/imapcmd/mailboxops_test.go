package imapcmd

import (
	"testing"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/protocol"
)

func TestCreateRejectsInbox(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)

	h := &createHandler{env: env}
	cmd := newParsedCommand(t, "a1", "create", "inbox", h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != protocol.StatusNO {
		t.Errorf("status = %v, want NO", cmd.Status())
	}
}

func TestCreateBuildsHierarchy(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)

	h := &createHandler{env: env}
	cmd := newParsedCommand(t, "a1", "create", "Archive/2020", h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != protocol.StatusOK {
		t.Fatalf("status = %v (%s)", cmd.Status(), cmd.StatusText())
	}
	if _, err := db.MailboxByName(env.DB, userID, "Archive"); err != nil {
		t.Errorf("intermediate level Archive not created: %v", err)
	}
	if _, err := db.MailboxByName(env.DB, userID, "Archive/2020"); err != nil {
		t.Errorf("leaf Archive/2020 not created: %v", err)
	}
}

func TestDeleteRejectsSelectedMailbox(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)
	conn.SelectedBox, _ = db.MailboxByName(env.DB, userID, "Sent")

	h := &deleteHandler{env: env}
	cmd := newParsedCommand(t, "a1", "delete", "Sent", h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != protocol.StatusNO {
		t.Errorf("status = %v, want NO (deleting the selected mailbox)", cmd.Status())
	}
}

func TestDeleteRemovesMailbox(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)

	h := &deleteHandler{env: env}
	cmd := newParsedCommand(t, "a1", "delete", "Trash", h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != protocol.StatusOK {
		t.Fatalf("status = %v (%s)", cmd.Status(), cmd.StatusText())
	}
	if _, err := db.MailboxByName(env.DB, userID, "Trash"); err == nil {
		t.Error("Trash should no longer exist")
	}
}

func TestRenameUpdatesSelectedName(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)
	mailboxID, err := db.MailboxByName(env.DB, userID, "Drafts")
	if err != nil {
		t.Fatal(err)
	}
	conn.SelectedBox = mailboxID
	conn.SelectedName = "Drafts"

	h := &renameHandler{env: env}
	cmd := newParsedCommand(t, "a1", "rename", "Drafts Pending", h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != protocol.StatusOK {
		t.Fatalf("status = %v (%s)", cmd.Status(), cmd.StatusText())
	}
	if conn.SelectedName != "Pending" {
		t.Errorf("conn.SelectedName = %q, want Pending", conn.SelectedName)
	}
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)

	sub := &subscribeHandler{env: env, subscribe: true}
	cmd := newParsedCommand(t, "a1", "subscribe", "INBOX", sub)
	if _, err := sub.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	var count int
	env.DB.QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND mailbox_name = ?`, userID, "INBOX").Scan(&count)
	if count != 1 {
		t.Fatalf("subscriptions after SUBSCRIBE = %d, want 1", count)
	}

	unsub := &subscribeHandler{env: env, subscribe: false}
	cmd2 := newParsedCommand(t, "a2", "unsubscribe", "INBOX", unsub)
	if _, err := unsub.Execute(cmd2, conn); err != nil {
		t.Fatal(err)
	}
	env.DB.QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND mailbox_name = ?`, userID, "INBOX").Scan(&count)
	if count != 0 {
		t.Fatalf("subscriptions after UNSUBSCRIBE = %d, want 0", count)
	}
}

func TestStatusReportsRequestedItems(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)

	h := &statusHandler{env: env}
	cmd := newParsedCommand(t, "a1", "status", `INBOX (MESSAGES UIDNEXT)`, h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != protocol.StatusOK {
		t.Fatalf("status = %v (%s)", cmd.Status(), cmd.StatusText())
	}
	if len(cmd.Untagged()) != 1 {
		t.Fatalf("Untagged() = %v, want exactly one STATUS line", cmd.Untagged())
	}
	line := cmd.Untagged()[0]
	if !containsAll(line, "MESSAGES", "UIDNEXT") {
		t.Errorf("STATUS line %q missing requested items", line)
	}
}

func TestStatusRejectsUnknownItem(t *testing.T) {
	h := &statusHandler{}
	cmd := protocol.NewCommand("a1", "status", `INBOX (BOGUS)`, h)
	err := h.Parse(cmd, protocol.NewArgReader(`INBOX (BOGUS)`))
	if err == nil {
		t.Fatal("expected a parse error for an unknown STATUS item")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
