package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxLineLength bounds a non-literal input line; an overlong line is a
// fatal protocol error per spec.md §4.2 (the connection is closed, not
// merely the command failed).
const maxLineLength = 64 * 1024

// maxLiteralSize bounds a single literal's byte count.
const maxLiteralSize = 64 * 1024 * 1024

// ErrLineTooLong is returned when a client sends a command line exceeding
// maxLineLength without completing a literal.
var ErrLineTooLong = fmt.Errorf("protocol: command line too long")

// ErrLiteralTooLong is returned when a {n} literal size exceeds maxLiteralSize.
var ErrLiteralTooLong = fmt.Errorf("protocol: literal too long")

// Framer reads one logical IMAP command line at a time off a buffered
// reader, transparently absorbing {n} and {n+} literals (spec.md §4.2):
// a literal's announced byte count is read verbatim (including embedded
// CRLFs) and appended immediately after its "{n}" marker rather than in
// place of it, so the marker survives into the reassembled line. Callers
// that expect a literal argument locate it by scanning for that marker
// (ArgReader.Literal) instead of receiving pre-spliced text; this leaves
// literal content free to contain bytes (spaces, CRLFs) that would
// otherwise be ambiguous with command-line framing.
type Framer struct {
	r            *bufio.Reader
	sendContinue func(text string) error
}

// NewFramer wraps r; sendContinue is invoked to emit "+ OK" continuation
// responses when a literal requires one (i.e. it is not a LITERAL+ "{n+}").
func NewFramer(r *bufio.Reader, sendContinue func(text string) error) *Framer {
	return &Framer{r: r, sendContinue: sendContinue}
}

// SetReader redirects the framer to read subsequent lines from r, used
// after STARTTLS swaps the connection's underlying net.Conn for a
// *tls.Conn mid-stream.
func (f *Framer) SetReader(r *bufio.Reader) {
	f.r = r
}

// ReadCommandLine reads one full logical command line, resolving any
// literal markers it contains. Returned lines never include the
// terminating CRLF.
func (f *Framer) ReadCommandLine() (string, error) {
	var b strings.Builder

	for {
		line, err := f.readRawLine()
		if err != nil {
			return "", err
		}
		b.WriteString(line)

		size, nonSync, ok := literalSuffix(line)
		if !ok {
			return b.String(), nil
		}
		if size > maxLiteralSize {
			return "", ErrLiteralTooLong
		}
		if !nonSync {
			if f.sendContinue == nil {
				return "", fmt.Errorf("protocol: synchronizing literal with no continuation sink")
			}
			if err := f.sendContinue("OK"); err != nil {
				return "", err
			}
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(f.r, data); err != nil {
			return "", err
		}
		// Literal bytes are spliced back in as-is; any embedded CRLFs are
		// part of the literal's content, not line terminators.
		b.Write(data)
	}
}

// readRawLine reads up to and including a terminating LF (CRLF accepted,
// bare LF tolerated), stripping the terminator, and enforcing
// maxLineLength on the accumulated prefix before a literal is resolved.
func (f *Framer) readRawLine() (string, error) {
	line, err := f.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxLineLength {
		return "", ErrLineTooLong
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// literalSuffix reports whether line ends in a "{n}" or "{n+}" literal
// marker, and if so its declared size and whether it is non-synchronizing.
func literalSuffix(line string) (size int64, nonSync bool, ok bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false, false
	}
	spec := line[open+1 : len(line)-1]
	if spec == "" {
		return 0, false, false
	}
	if strings.HasSuffix(spec, "+") {
		nonSync = true
		spec = spec[:len(spec)-1]
	}
	n, err := strconv.ParseInt(spec, 10, 64)
	if err != nil || n < 0 {
		return 0, false, false
	}
	return n, nonSync, true
}
