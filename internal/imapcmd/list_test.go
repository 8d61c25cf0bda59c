package imapcmd

import (
	"testing"

	"github.com/corvid-mail/corvid/internal/protocol"
)

func TestListEmptyPatternReportsDelimiterOnly(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)

	h := &listHandler{env: env}
	cmd := newParsedCommand(t, "a1", "list", `"" ""`, h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if len(cmd.Untagged()) != 1 || cmd.Untagged()[0] != `LIST (\Noselect) "/" ""` {
		t.Errorf("Untagged() = %v, want the no-select delimiter response", cmd.Untagged())
	}
}

func TestListStarMatchesAllMailboxes(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)

	h := &listHandler{env: env}
	cmd := newParsedCommand(t, "a1", "list", `"" "*"`, h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != protocol.StatusOK {
		t.Fatalf("status = %v (%s)", cmd.Status(), cmd.StatusText())
	}
	if len(cmd.Untagged()) != 4 {
		t.Errorf("Untagged() = %v, want 4 default mailboxes", cmd.Untagged())
	}
}

func TestLsubOnlyReportsSubscribed(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	conn := newTestConn(t, userID)

	if _, err := env.DB.Exec(`INSERT INTO subscriptions(user_id, mailbox_name) VALUES (?, ?)`, userID, "INBOX"); err != nil {
		t.Fatal(err)
	}

	h := &listHandler{env: env, subscribedOnly: true}
	cmd := newParsedCommand(t, "a1", "lsub", `"" "*"`, h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if len(cmd.Untagged()) != 1 || cmd.Untagged()[0] != `LSUB () "/" "INBOX"` {
		t.Errorf("Untagged() = %v, want a single LSUB line for INBOX", cmd.Untagged())
	}
}
