package sasl

import "testing"

func TestPlainServerRoundTrip(t *testing.T) {
	var gotAuthzid, gotUser, gotPass string
	srv := NewPlainServer(func(authzid, authcid, password string) error {
		gotAuthzid, gotUser, gotPass = authzid, authcid, password
		return nil
	})

	_, done, err := srv.Next(nil)
	if err != nil || done {
		t.Fatalf("initial Next: done=%v err=%v", done, err)
	}

	msg := append([]byte("authz\x00fred\x00secret"))
	_, done, err = srv.Next(msg)
	if err != nil || !done {
		t.Fatalf("Next(msg) = done=%v err=%v", done, err)
	}

	if gotAuthzid != "authz" || gotUser != "fred" || gotPass != "secret" {
		t.Errorf("got %q/%q/%q", gotAuthzid, gotUser, gotPass)
	}
	if srv.Login() != "fred" {
		t.Errorf("Login() = %q", srv.Login())
	}
}

func TestPlainServerRejectsMalformed(t *testing.T) {
	srv := NewPlainServer(func(string, string, string) error { return nil })
	_, _, _ = srv.Next(nil)
	if _, _, err := srv.Next([]byte("no-nulls-here")); err == nil {
		t.Fatal("expected malformed PLAIN response error")
	}
}

func TestPlainServerPropagatesAuthFailure(t *testing.T) {
	srv := NewPlainServer(func(authzid, authcid, password string) error {
		return errBadCreds
	})
	_, _, _ = srv.Next(nil)
	_, done, err := srv.Next([]byte("\x00fred\x00wrong"))
	if !done || err == nil {
		t.Fatalf("expected authentication failure, got done=%v err=%v", done, err)
	}
}

var errBadCreds = &authError{"bad credentials"}

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }
