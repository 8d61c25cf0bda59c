package smtp

import (
	"fmt"
	"strings"
)

// Address is a parsed SMTP/LMTP envelope address (spec.md §4.5): local
// part and domain; String rejoins them as local@domain for error
// messages and logging.
type Address struct {
	Local  string
	Domain string
}

func (a Address) String() string {
	if a.Domain == "" {
		return a.Local
	}
	return a.Local + "@" + a.Domain
}

// ParsePath parses the "<local@domain>" path out of MAIL FROM/RCPT TO
// arguments, after the leading "FROM:"/"TO:" keyword has already been
// stripped by the caller. It is strict where the teacher's delivery
// parser was lenient (spec.md §4.5's edge cases): a bare postmaster
// address, a null reverse-path ("<>"), and quoted local parts are all
// recognized explicitly rather than falling through to best-effort
// trimming.
func ParsePath(s string) (Address, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, "", fmt.Errorf("smtp: empty path")
	}

	if !strings.HasPrefix(s, "<") {
		return Address{}, "", fmt.Errorf("smtp: path must start with '<'")
	}
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return Address{}, "", fmt.Errorf("smtp: unterminated path")
	}
	path := s[1:end]
	params := strings.TrimSpace(s[end+1:])

	if path == "" {
		// null reverse-path, valid only for MAIL FROM
		return Address{}, params, nil
	}

	addr, err := parseMailbox(path)
	if err != nil {
		return Address{}, "", err
	}
	return addr, params, nil
}

// parseMailbox splits "local@domain", honoring a quoted local part
// (RFC 5321 §4.1.2's Quoted-string) that may itself contain '@'.
func parseMailbox(s string) (Address, error) {
	if strings.HasPrefix(s, `"`) {
		end := unquotedEnd(s)
		if end < 0 {
			return Address{}, fmt.Errorf("smtp: unterminated quoted local part")
		}
		local := s[:end+1]
		rest := s[end+1:]
		if !strings.HasPrefix(rest, "@") {
			return Address{}, fmt.Errorf("smtp: expected '@' after quoted local part")
		}
		return Address{Local: local, Domain: rest[1:]}, nil
	}

	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		// a bare local part with no domain is accepted only for the
		// well-known "postmaster" mailbox (RFC 5321 §4.1.1.3).
		if strings.EqualFold(s, "postmaster") {
			return Address{Local: s}, nil
		}
		return Address{}, fmt.Errorf("smtp: address %q missing domain", s)
	}
	local, domain := s[:at], s[at+1:]
	if local == "" || domain == "" {
		return Address{}, fmt.Errorf("smtp: malformed address %q", s)
	}
	return Address{Local: local, Domain: domain}, nil
}

// unquotedEnd returns the index of the closing quote of a leading
// quoted-string in s (s[0] == '"'), honoring backslash escapes, or -1.
func unquotedEnd(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// ExtractParam returns the value of "KEY=value" within an ESMTP
// parameter string (e.g. "SIZE=1024"), case-insensitively on KEY.
func ExtractParam(params, key string) (string, bool) {
	for _, tok := range strings.Fields(params) {
		if i := strings.IndexByte(tok, '='); i >= 0 && strings.EqualFold(tok[:i], key) {
			return tok[i+1:], true
		}
	}
	return "", false
}

// HasParam reports whether an ESMTP parameter named key is present,
// either as a bare keyword or as "KEY=value", case-insensitively on KEY.
func HasParam(params, key string) bool {
	for _, tok := range strings.Fields(params) {
		name := tok
		if i := strings.IndexByte(tok, '='); i >= 0 {
			name = tok[:i]
		}
		if strings.EqualFold(name, key) {
			return true
		}
	}
	return false
}
