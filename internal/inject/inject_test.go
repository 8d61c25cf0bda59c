package inject

import (
	"context"
	"database/sql"
	"testing"

	"github.com/corvid-mail/corvid/internal/blobstore"
	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/message"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db.FlagNames.Reset()
	db.FieldNames.Reset()
	db.AnnotationNames.Reset()
	ResetCaches()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestMailbox(t *testing.T, conn *sql.DB, user, name string) int64 {
	t.Helper()
	domainID, err := db.GetOrCreateDomain(conn, "example.com")
	if err != nil {
		t.Fatalf("create domain: %v", err)
	}
	userID, err := db.GetOrCreateUser(conn, user, domainID)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	mailboxID, err := db.MailboxByName(conn, userID, name)
	if err != nil {
		t.Fatalf("lookup mailbox: %v", err)
	}
	return mailboxID
}

const sampleMessage = "From: fred@example.com\r\nTo: wilma@example.com\r\nSubject: hi\r\nDate: Mon, 2 Jan 2006 15:04:05 +0000\r\n\r\nhello\r\n"

func TestInjectAssignsMonotonicUIDs(t *testing.T) {
	conn := newTestDB(t)
	mailboxID := newTestMailbox(t, conn, "wilma", "INBOX")
	inj := New(conn, blobstore.Inline{}, nil)

	msg, err := message.Parse([]byte(sampleMessage))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var uids []int64
	for i := 0; i < 3; i++ {
		result, err := inj.Inject(context.Background(), Request{
			Targets: []Target{{MailboxID: mailboxID, MailboxName: "INBOX"}},
			Message: msg,
			Raw:     []byte(sampleMessage),
		})
		if err != nil {
			t.Fatalf("inject %d: %v", i, err)
		}
		uids = append(uids, result.Outcomes[0].UID)
	}

	for i := 1; i < len(uids); i++ {
		if uids[i] <= uids[i-1] {
			t.Fatalf("uids not strictly increasing: %v", uids)
		}
	}
}

func TestInjectDedupsBodypartsByHash(t *testing.T) {
	conn := newTestDB(t)
	mailboxID := newTestMailbox(t, conn, "wilma", "INBOX")
	inj := New(conn, blobstore.Inline{}, nil)

	msg, _ := message.Parse([]byte(sampleMessage))
	for i := 0; i < 2; i++ {
		if _, err := inj.Inject(context.Background(), Request{
			Targets: []Target{{MailboxID: mailboxID, MailboxName: "INBOX"}},
			Message: msg,
			Raw:     []byte(sampleMessage),
		}); err != nil {
			t.Fatalf("inject %d: %v", i, err)
		}
	}

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM bodyparts`).Scan(&count); err != nil {
		t.Fatalf("count bodyparts: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one deduped bodyparts row, got %d", count)
	}
}

func TestInjectLinksFlagsAndAnnotations(t *testing.T) {
	conn := newTestDB(t)
	mailboxID := newTestMailbox(t, conn, "wilma", "INBOX")
	inj := New(conn, blobstore.Inline{}, nil)

	msg, _ := message.Parse([]byte(sampleMessage))
	result, err := inj.Inject(context.Background(), Request{
		Targets:     []Target{{MailboxID: mailboxID, MailboxName: "INBOX"}},
		Message:     msg,
		Raw:         []byte(sampleMessage),
		Flags:       []string{`\Seen`, `\Flagged`},
		Annotations: []Annotation{{Name: "/comment", Value: "important"}},
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	uid := result.Outcomes[0].UID

	var flagCount int
	conn.QueryRow(`SELECT COUNT(*) FROM flags WHERE mailbox = ? AND uid = ?`, mailboxID, uid).Scan(&flagCount)
	if flagCount != 2 {
		t.Errorf("expected 2 flags, got %d", flagCount)
	}

	var annotationValue string
	if err := conn.QueryRow(`SELECT value FROM annotations a JOIN annotation_names n ON a.name = n.id
		WHERE a.mailbox = ? AND a.uid = ? AND n.name = '/comment'`, mailboxID, uid).Scan(&annotationValue); err != nil {
		t.Fatalf("query annotation: %v", err)
	}
	if annotationValue != "important" {
		t.Errorf("annotation value = %q", annotationValue)
	}
}

func TestInjectDeliversToMultipleMailboxes(t *testing.T) {
	conn := newTestDB(t)
	inboxA := newTestMailbox(t, conn, "fred", "INBOX")
	inboxB := newTestMailbox(t, conn, "wilma", "INBOX")
	inj := New(conn, blobstore.Inline{}, nil)

	msg, _ := message.Parse([]byte(sampleMessage))
	result, err := inj.Inject(context.Background(), Request{
		Targets: []Target{
			{MailboxID: inboxB, MailboxName: "INBOX"},
			{MailboxID: inboxA, MailboxName: "INBOX"},
		},
		Message: msg,
		Raw:     []byte(sampleMessage),
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(result.Outcomes))
	}
	if result.Outcomes[0].MailboxID >= result.Outcomes[1].MailboxID {
		t.Errorf("outcomes should be sorted by mailbox id: %+v", result.Outcomes)
	}

	var bodypartRows int
	conn.QueryRow(`SELECT COUNT(*) FROM bodyparts`).Scan(&bodypartRows)
	if bodypartRows != 1 {
		t.Errorf("expected the shared bodypart to be stored once, got %d rows", bodypartRows)
	}
}

func TestInjectStoresUnparsedMessage(t *testing.T) {
	conn := newTestDB(t)
	mailboxID := newTestMailbox(t, conn, "wilma", "INBOX")
	inj := New(conn, blobstore.Inline{}, nil)

	raw := []byte("not a valid rfc822 message at all, just junk\x00bytes")
	result, err := inj.Inject(context.Background(), Request{
		Targets: []Target{{MailboxID: mailboxID, MailboxName: "INBOX"}},
		Message: nil,
		Raw:     raw,
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}

	var unparsedCount int
	conn.QueryRow(`SELECT COUNT(*) FROM unparsed_messages`).Scan(&unparsedCount)
	if unparsedCount != 1 {
		t.Errorf("expected one unparsed_messages row, got %d", unparsedCount)
	}
	if result.Outcomes[0].UID != 1 {
		t.Errorf("expected first uid to be 1, got %d", result.Outcomes[0].UID)
	}
}

func TestInjectNeverAdvancesFirstRecentWithoutALiveSession(t *testing.T) {
	conn := newTestDB(t)
	mailboxID := newTestMailbox(t, conn, "wilma", "INBOX")
	inj := New(conn, blobstore.Inline{}, nil)

	msg, err := message.Parse([]byte(sampleMessage))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := inj.Inject(context.Background(), Request{
			Targets: []Target{{MailboxID: mailboxID, MailboxName: "INBOX"}},
			Message: msg,
			Raw:     []byte(sampleMessage),
		}); err != nil {
			t.Fatalf("inject %d: %v", i, err)
		}
	}

	var uidnext, firstRecent int64
	if err := conn.QueryRow(`SELECT uidnext, first_recent FROM mailboxes WHERE id = ?`, mailboxID).
		Scan(&uidnext, &firstRecent); err != nil {
		t.Fatal(err)
	}
	if firstRecent != 1 {
		t.Errorf("first_recent = %d after 3 injections with no live session, want 1 (unclaimed)", firstRecent)
	}
	if uidnext != 4 {
		t.Errorf("uidnext = %d, want 4", uidnext)
	}
}
