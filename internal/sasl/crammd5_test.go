package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"
)

type mapVerifier struct {
	secrets   map[string]string
	anonymous map[string]bool
}

func (m mapVerifier) Secret(login string) (string, bool) {
	s, ok := m.secrets[login]
	return s, ok
}

func (m mapVerifier) AnonymousAllowed(login string) bool {
	return m.anonymous[login]
}

func digestFor(challenge, secret string) string {
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCramMD5RoundTrip(t *testing.T) {
	v := mapVerifier{secrets: map[string]string{"fred": "flintstone"}}
	srv := NewCramMD5Server("mail.example.com", v)

	challenge, done, err := srv.Next(nil)
	if err != nil || done {
		t.Fatalf("initial Next: done=%v err=%v", done, err)
	}
	if !strings.HasPrefix(string(challenge), "<") || !strings.HasSuffix(string(challenge), "@mail.example.com>") {
		t.Fatalf("challenge %q doesn't look qualified", challenge)
	}

	digest := digestFor(string(challenge), "flintstone")
	resp := []byte("fred " + digest)

	_, done, err = srv.Next(resp)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !done {
		t.Fatal("expected done=true after verification")
	}
	if srv.Login() != "fred" {
		t.Errorf("Login() = %q, want fred", srv.Login())
	}
}

func TestCramMD5RejectsBadDigest(t *testing.T) {
	v := mapVerifier{secrets: map[string]string{"fred": "flintstone"}}
	srv := NewCramMD5Server("mail.example.com", v)

	challenge, _, _ := srv.Next(nil)
	bad := digestFor(string(challenge), "wrongsecret")

	_, done, err := srv.Next([]byte("fred " + bad))
	if err == nil {
		t.Fatal("expected authentication failure for mismatched digest")
	}
	if !done {
		t.Fatal("expected done=true even on failure")
	}
}

func TestCramMD5UnknownUserFails(t *testing.T) {
	v := mapVerifier{secrets: map[string]string{}}
	srv := NewCramMD5Server("mail.example.com", v)
	challenge, _, _ := srv.Next(nil)
	_, _, err := srv.Next([]byte("nobody " + digestFor(string(challenge), "x")))
	if err == nil {
		t.Fatal("expected failure for unknown login")
	}
}

func TestCramMD5AnonymousBypass(t *testing.T) {
	v := mapVerifier{anonymous: map[string]bool{"anonymous": true}}
	srv := NewCramMD5Server("mail.example.com", v)
	_, _, _ = srv.Next(nil)
	_, done, err := srv.Next([]byte("anonymous garbage-digest"))
	if err != nil || !done {
		t.Fatalf("anonymous bypass failed: done=%v err=%v", done, err)
	}
}

func TestCramMD5MalformedResponse(t *testing.T) {
	v := mapVerifier{}
	srv := NewCramMD5Server("mail.example.com", v)
	_, _, _ = srv.Next(nil)
	if _, _, err := srv.Next([]byte("no-space-here")); err == nil {
		t.Fatal("expected syntax error for response with no space")
	}
}

func TestCramMD5FallsBackToInvalidHostname(t *testing.T) {
	v := mapVerifier{secrets: map[string]string{"a": "b"}}
	srv := NewCramMD5Server("unqualified", v)
	challenge, _, _ := srv.Next(nil)
	if !strings.Contains(string(challenge), "@oryx.invalid>") {
		t.Errorf("expected fallback hostname, got %q", challenge)
	}
}
