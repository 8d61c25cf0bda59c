package imapcmd

import (
	"fmt"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/sasl"
)

// secretFor looks up login's stored secret (the users.secret column is
// always the plaintext password, spec.md §5.2 — never a hash, since
// CRAM-MD5 needs it to re-key HMAC-MD5) without provisioning the user,
// shared by CRAM-MD5 verification and plaintext LOGIN/PLAIN.
func secretFor(env *Env, login string) (string, bool) {
	userID, err := db.UserByAddress(env.DB, login, false)
	if err != nil {
		return "", false
	}
	var secret string
	if err := env.DB.QueryRow(`SELECT secret FROM users WHERE id = ?`, userID).Scan(&secret); err != nil {
		return "", false
	}
	return secret, secret != ""
}

// cramVerifier adapts Env to sasl.Verifier for CRAM-MD5.
type cramVerifier struct{ env *Env }

// NewCramVerifier builds the sasl.Verifier CRAM-MD5 AUTHENTICATE runs
// against, backed by env's users table and env.AllowAnonymous.
func NewCramVerifier(env *Env) sasl.Verifier { return cramVerifier{env} }

func (v cramVerifier) Secret(login string) (string, bool) { return secretFor(v.env, login) }
func (v cramVerifier) AnonymousAllowed(login string) bool { return v.env.AllowAnonymous }

// plaintextLogin verifies a directly-presented password (IMAP LOGIN, or
// AUTHENTICATE PLAIN once its three fields are split), resolving it to a
// user id. It prefers env.PlainAuth (an external bridge, e.g. the
// teacher's Dovecot-auth-socket HTTP equivalent) when configured, falling
// back to a direct secretFor comparison otherwise.
func plaintextLogin(env *Env, login, password string) (int64, error) {
	if password == "" {
		return 0, fmt.Errorf("sasl: empty password")
	}
	if env.PlainAuth != nil {
		if err := env.PlainAuth("", login, password); err != nil {
			return 0, err
		}
		return db.UserByAddress(env.DB, login, env.AllowCreateUsers)
	}

	secret, ok := secretFor(env, login)
	if !ok || secret != password {
		return 0, fmt.Errorf("sasl: invalid credentials")
	}
	return db.UserByAddress(env.DB, login, env.AllowCreateUsers)
}
