package imapcmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/corvid-mail/corvid/internal/blobstore"
	"github.com/corvid-mail/corvid/internal/db"
)

// mailboxUIDs returns every non-expunged UID in mailboxID in ascending
// order, the sequence-number ↔ UID mapping every command operating on a
// selected mailbox (FETCH/STORE/SEARCH/COPY/EXPUNGE) needs: RFC 3501
// message sequence numbers are this slice's 1-based index.
func mailboxUIDs(conn db.Execer, mailboxID int64) ([]int64, error) {
	rows, err := conn.Query(`SELECT uid FROM messages WHERE mailbox = ? AND expunged = 0 ORDER BY uid`, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var uids []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// resolveSet expands a sequence-set argument (by-UID or by-sequence-
// number, selected by byUID) against uids (ascending, sequence number =
// 1-based index) into the matching UIDs, preserving ascending order and
// de-duplicating.
func resolveSet(spec string, byUID bool, uids []int64) ([]int64, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	var maxVal int64
	if byUID {
		maxVal = uids[len(uids)-1]
	} else {
		maxVal = int64(len(uids))
	}
	ranges, err := parseSequenceSet(spec)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var out []int64
	for seq, uid := range uids {
		var probe int64
		if byUID {
			probe = uid
		} else {
			probe = int64(seq + 1)
		}
		if matchesAnyRange(ranges, probe, maxVal) && !seen[uid] {
			seen[uid] = true
			out = append(out, uid)
		}
	}
	return out, nil
}

// seqNumOf returns uid's 1-based sequence number within uids (ascending),
// or 0 if uid is not present.
func seqNumOf(uids []int64, uid int64) int {
	for i, u := range uids {
		if u == uid {
			return i + 1
		}
	}
	return 0
}

// rawMessageBytes reconstructs a message's full RFC 822 text (headers
// plus body) from header_fields and the bodyparts table. The injector
// (internal/inject) never stores one blob holding the complete original
// message — only its structurally-parsed bodyparts — so a byte-for-byte
// round trip of the original wire form is not attempted; this
// approximation (headers in stored order, one blank line, then the root
// part's bytes) is what FETCH BODY[]/RFC822 returns. See DESIGN.md.
func rawMessageBytes(conn db.Execer, mailboxID, uid int64) ([]byte, error) {
	var b strings.Builder

	rows, err := conn.Query(`
		SELECT fn.name, hf.value FROM header_fields hf
		JOIN field_names fn ON fn.id = hf.field
		WHERE hf.mailbox = ? AND hf.uid = ? AND hf.part = ''
		ORDER BY hf.position
	`, mailboxID, uid)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			return nil, err
		}
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.WriteString("\r\n")

	body, err := bodypartData(conn, nil, mailboxID, uid, "")
	if err != nil {
		return nil, err
	}
	b.Write(body)
	return []byte(b.String()), nil
}

// bodypartData fetches one part's raw bytes: the text column (present
// for textual parts), the in-database data column, or, if both are NULL,
// blobs (the out-of-database backend selected for this bodypart at
// injection time — blobstore.Inline always returns ErrNotConfigured,
// matching that no such backend was used).
func bodypartData(conn db.Execer, blobs blobstore.Store, mailboxID, uid int64, part string) ([]byte, error) {
	var bodypartID int64
	if err := conn.QueryRow(`SELECT bodypart FROM part_numbers WHERE mailbox = ? AND uid = ? AND part = ?`,
		mailboxID, uid, part).Scan(&bodypartID); err != nil {
		return nil, err
	}
	var hash string
	var textVal, dataVal interface{}
	if err := conn.QueryRow(`SELECT hash, text, data FROM bodyparts WHERE id = ?`, bodypartID).
		Scan(&hash, &textVal, &dataVal); err != nil {
		return nil, err
	}
	if dataVal != nil {
		return dataVal.([]byte), nil
	}
	if textVal != nil {
		return []byte(textVal.(string)), nil
	}
	if blobs != nil {
		data, err := blobs.Get(context.Background(), hash)
		if err == nil {
			return data, nil
		}
		if err != blobstore.ErrNotConfigured {
			return nil, err
		}
	}
	return nil, nil
}
