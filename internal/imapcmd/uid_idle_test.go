package imapcmd

import (
	"testing"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/protocol"
)

func TestUidDispatchesToFetchInUidMode(t *testing.T) {
	env := newTestEnv(t)
	userID := newTestUser(t, env.DB, "wilma")
	mailboxID, _ := db.MailboxByName(env.DB, userID, "INBOX")
	insertTestMessage(t, env.DB, mailboxID, 10)
	insertTestMessage(t, env.DB, mailboxID, 20)

	conn := newTestConn(t, userID)
	conn.SelectedBox = mailboxID
	conn.SetState(protocol.Selected)

	h := &uidHandler{env: env}
	cmd := newParsedCommand(t, "a1", "uid", "FETCH 20 (UID)", h)
	if _, err := h.Execute(cmd, conn); err != nil {
		t.Fatal(err)
	}
	if cmd.Status() != protocol.StatusOK {
		t.Fatalf("status = %v (%s)", cmd.Status(), cmd.StatusText())
	}
	if len(cmd.Untagged()) != 1 || cmd.Untagged()[0] != "2 FETCH (UID 20)" {
		t.Errorf("Untagged() = %v, want [\"2 FETCH (UID 20)\"] (seq 2, uid 20)", cmd.Untagged())
	}
}

func TestUidRejectsUnsupportedSubcommand(t *testing.T) {
	h := &uidHandler{}
	cmd := protocol.NewCommand("a1", "uid", "EXPUNGE", h)
	if err := h.Parse(cmd, protocol.NewArgReader("EXPUNGE")); err == nil {
		t.Fatal("expected a parse error for an unsupported UID sub-command")
	}
}

func TestIdleReadInputDetectsDone(t *testing.T) {
	h := &idleHandler{waitCh: make(chan struct{})}
	done, err := h.ReadInput([]byte("done\r\n"))
	if err != nil || !done {
		t.Fatalf("ReadInput(DONE) = done=%v err=%v, want done=true", done, err)
	}
	select {
	case <-h.waitCh:
	default:
		t.Error("ReadInput(DONE) did not close waitCh")
	}
}

func TestIdleReadInputIgnoresOtherLines(t *testing.T) {
	h := &idleHandler{waitCh: make(chan struct{})}
	done, err := h.ReadInput([]byte("not done"))
	if err != nil || done {
		t.Fatalf("ReadInput(other) = done=%v err=%v, want done=false", done, err)
	}
}
