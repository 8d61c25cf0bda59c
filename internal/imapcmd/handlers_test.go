package imapcmd

import (
	"database/sql"
	"net"
	"testing"

	"github.com/corvid-mail/corvid/internal/blobstore"
	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/inject"
	"github.com/corvid-mail/corvid/internal/protocol"
)

// newTestEnv builds an Env over an in-memory database, following the same
// db.Open(":memory:") pattern internal/inject's own tests use. The
// dictionary-table caches (db.FlagNames et al., inject's address cache)
// are process-wide singletons that assume one long-lived database; each
// test here opens its own, so the caches are reset first to avoid handing
// back an id minted by a previous test's database.
func newTestEnv(t *testing.T) *Env {
	t.Helper()
	db.FlagNames.Reset()
	db.FieldNames.Reset()
	db.AnnotationNames.Reset()
	inject.ResetCaches()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &Env{
		DB:       conn,
		Injector: inject.New(conn, blobstore.Inline{}, nil),
		Hostname: "test.invalid",
	}
}

// newTestUser creates a domain/user pair and returns the user id.
func newTestUser(t *testing.T, conn *sql.DB, name string) int64 {
	t.Helper()
	domainID, err := db.GetOrCreateDomain(conn, "example.com")
	if err != nil {
		t.Fatalf("create domain: %v", err)
	}
	userID, err := db.GetOrCreateUser(conn, name, domainID)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return userID
}

// newTestConn wires a protocol.Conn against a throwaway net.Pipe half;
// none of the handlers exercised in this package's tests write to the
// connection directly (WriteContinuation is only reached by idleHandler
// and by authenticateHandler's sasl.Driver), so the peer half is left
// unread.
func newTestConn(t *testing.T, userID int64) *protocol.Conn {
	t.Helper()
	client, peer := net.Pipe()
	t.Cleanup(func() { client.Close(); peer.Close() })
	conn := protocol.NewConn(client, protocol.RegistryFunc(func(string) protocol.Handler { return nil }), 0)
	conn.UserID = userID
	conn.SetState(protocol.Authenticated)
	return conn
}

func newParsedCommand(t *testing.T, tag, name, args string, h protocol.Handler) *protocol.Command {
	t.Helper()
	cmd := protocol.NewCommand(tag, name, args, h)
	if err := h.Parse(cmd, protocol.NewArgReader(args)); err != nil {
		t.Fatalf("Parse(%q): %v", args, err)
	}
	return cmd
}
