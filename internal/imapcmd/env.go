// Package imapcmd adapts the IMAP verb grammar of spec.md §6 onto
// internal/protocol's scheduler: one Handler implementation per command,
// backed by internal/db for mailbox/message state and internal/inject for
// APPEND. Grounded on emersion-go-imap/imapserver's one-file-per-command
// layout and mjl--mox/imapserver's session-struct-per-connection shape,
// adapted onto this module's own Scheduler/Conn rather than either
// example's own connection plumbing.
package imapcmd

import (
	"crypto/tls"
	"database/sql"

	"github.com/corvid-mail/corvid/internal/inject"
	"github.com/corvid-mail/corvid/internal/sasl"
)

// Env bundles the shared, read-only dependencies every handler needs.
// The registry hands the same *Env to every handler it constructs; it is
// never mutated after NewRegistry returns.
type Env struct {
	DB        *sql.DB
	Injector  *inject.Injector
	Hostname  string
	TLSConfig *tls.Config

	// Verifier resolves CRAM-MD5 shared secrets (spec.md §5.2); nil disables
	// the CRAM-MD5 mechanism entirely (AUTHENTICATE rejects it with NO).
	Verifier sasl.Verifier

	// PlainAuth verifies PLAIN (and LOGIN-command) credentials against an
	// external bridge; nil falls back to a direct users.secret comparison.
	PlainAuth sasl.PlainVerifier

	// AllowCreateUsers lets LOGIN/AUTHENTICATE provision a user row (and
	// its default mailboxes) on first successful login, per the teacher's
	// directory.GetOrCreateUser semantics.
	AllowCreateUsers bool

	// AllowAnonymous lets CRAM-MD5's anonymous pseudo-user bypass secret
	// verification entirely (spec.md §4.6), independent of AllowCreateUsers.
	AllowAnonymous bool
}
