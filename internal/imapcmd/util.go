package imapcmd

import (
	"fmt"
	"strconv"
	"strings"
)

func itoa(n int) string { return strconv.Itoa(n) }

// quoteMailbox renders a mailbox name as an IMAP quoted string.
func quoteMailbox(name string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	return `"` + escaped + `"`
}

// seqRange is one comma-separated element of a sequence set: "n",
// "n:m", or "n:*"/"*:n" (star is represented by hasStar/high==0).
type seqRange struct {
	low, high int64
	hasStar   bool
}

// parseSequenceSet parses spec.md §4.3's sequence-set grammar used by
// FETCH/STORE/COPY/SEARCH's UID/message-number ranges.
func parseSequenceSet(s string) ([]seqRange, error) {
	if s == "" {
		return nil, fmt.Errorf("empty sequence set")
	}
	var ranges []seqRange
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			return nil, fmt.Errorf("malformed sequence set %q", s)
		}
		if idx := strings.IndexByte(part, ':'); idx >= 0 {
			loStr, hiStr := part[:idx], part[idx+1:]
			if loStr == "*" {
				loStr, hiStr = hiStr, loStr // "*:n" is the same range as "n:*"
			}
			var r seqRange
			lo, err := parseSeqNum(loStr)
			if err != nil {
				return nil, err
			}
			r.low = lo
			if hiStr == "*" {
				r.hasStar = true
			} else {
				hi, err := parseSeqNum(hiStr)
				if err != nil {
					return nil, err
				}
				r.high = hi
			}
			if !r.hasStar && r.high < r.low {
				r.low, r.high = r.high, r.low
			}
			ranges = append(ranges, r)
			continue
		}
		if part == "*" {
			ranges = append(ranges, seqRange{hasStar: true, low: 0})
			continue
		}
		n, err := parseSeqNum(part)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, seqRange{low: n, high: n})
	}
	return ranges, nil
}

func parseSeqNum(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid sequence number %q", s)
	}
	return n, nil
}

// matches reports whether uid falls within r, given maxUID as the
// resolution for "*".
func (r seqRange) matches(uid, maxUID int64) bool {
	hi := r.high
	if r.hasStar {
		hi = maxUID
	}
	return uid >= r.low && uid <= hi
}

func matchesAnyRange(ranges []seqRange, uid, maxUID int64) bool {
	for _, r := range ranges {
		if r.matches(uid, maxUID) {
			return true
		}
	}
	return false
}
