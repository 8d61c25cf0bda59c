package smtp

import (
	"bufio"
	"bytes"
	"fmt"
)

// ReadDotData reads an RFC 5321 §4.5.2 dot-stuffed DATA body off r, up to
// and including the terminating "." line, returning the de-stuffed
// message bytes (CRLF preserved, the lone terminating dot consumed).
// maxSize bounds the decoded payload; exceeding it is reported as an
// error rather than silently truncated.
func ReadDotData(r *bufio.Reader, maxSize int64) ([]byte, error) {
	var buf bytes.Buffer
	var size int64

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("smtp: reading DATA: %w", err)
		}

		if line == ".\r\n" || line == ".\n" {
			return buf.Bytes(), nil
		}

		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}

		size += int64(len(line))
		if maxSize > 0 && size > maxSize {
			return nil, fmt.Errorf("smtp: message exceeds maximum size %d", maxSize)
		}
		buf.WriteString(line)
	}
}
