package imapcmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/corvid-mail/corvid/internal/protocol"
)

// fetchHandler implements FETCH, grounded on
// _examples/LSFLK-raven/internal/server/message/handler_message.go's
// attribute dispatch; uidMode is set by uidHandler for "UID FETCH".
// The attribute grammar supported here covers spec.md §8's exercised
// set: FLAGS, UID, INTERNALDATE, RFC822.SIZE, ENVELOPE (From/To/Cc/Bcc/
// Subject/Date/Message-ID only), and BODY[]/RFC822/RFC822.TEXT (the reconstructed
// message text of messages.go's rawMessageBytes) — not the full
// BODY[section] partial-fetch grammar (headers-only, MIME sub-parts,
// <partial> byte ranges), which spec.md's §8 scenarios never exercise.
type fetchHandler struct {
	env     *Env
	uidMode bool

	set   string
	attrs []string
}

func (h *fetchHandler) Group() int { return 1 }
func (h *fetchHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Selected
}

func (h *fetchHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	set, err := args.Atom()
	if err != nil {
		return &protocol.ParseError{Msg: "FETCH requires a sequence set"}
	}
	h.set = set

	if b, ok := args.Peek(); ok && b == '(' {
		attrs, lerr := args.List()
		if lerr != nil {
			return &protocol.ParseError{Msg: "malformed FETCH attribute list"}
		}
		h.attrs = attrs
	} else {
		atom, aerr := args.Atom()
		if aerr != nil {
			return &protocol.ParseError{Msg: "FETCH requires attributes"}
		}
		h.attrs = expandFetchMacro(atom)
	}
	return nil
}

func expandFetchMacro(name string) []string {
	switch strings.ToUpper(name) {
	case "ALL":
		return []string{"FLAGS", "INTERNALDATE", "RFC822.SIZE", "ENVELOPE"}
	case "FAST":
		return []string{"FLAGS", "INTERNALDATE", "RFC822.SIZE"}
	case "FULL":
		return []string{"FLAGS", "INTERNALDATE", "RFC822.SIZE", "ENVELOPE", "BODY"}
	default:
		return []string{name}
	}
}

func (h *fetchHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if conn.UserID == 0 {
		cmd.Error(protocol.StatusNO, "not authenticated")
		return true, nil
	}

	uids, err := mailboxUIDs(h.env.DB, conn.SelectedBox)
	if err != nil {
		cmd.Error(protocol.StatusNO, "FETCH failed")
		return true, nil
	}
	matched, err := resolveSet(h.set, h.uidMode, uids)
	if err != nil {
		return false, &protocol.ParseError{Msg: err.Error()}
	}

	for _, uid := range matched {
		seq := seqNumOf(uids, uid)
		parts, err := h.fetchOne(conn.SelectedBox, uid, seq)
		if err != nil {
			cmd.Error(protocol.StatusNO, "FETCH failed: %v", err)
			return true, nil
		}
		cmd.Respond(fmt.Sprintf("%d FETCH (%s)", seq, strings.Join(parts, " ")))
	}
	cmd.OK("FETCH completed")
	return true, nil
}

func (h *fetchHandler) fetchOne(mailboxID, uid int64, seq int) ([]string, error) {
	var parts []string
	for _, attr := range h.attrs {
		switch strings.ToUpper(attr) {
		case "UID":
			parts = append(parts, fmt.Sprintf("UID %d", uid))
		case "FLAGS":
			flags, err := flagsForMessage(h.env.DB, mailboxID, uid)
			if err != nil {
				return nil, err
			}
			parts = append(parts, "FLAGS ("+strings.Join(flags, " ")+")")
		case "INTERNALDATE":
			var idate int64
			if err := h.env.DB.QueryRow(`SELECT idate FROM messages WHERE mailbox = ? AND uid = ?`, mailboxID, uid).Scan(&idate); err != nil {
				return nil, err
			}
			t := time.Unix(idate, 0).UTC()
			parts = append(parts, `INTERNALDATE "`+t.Format("02-Jan-2006 15:04:05 -0700")+`"`)
		case "RFC822.SIZE":
			var size int64
			if err := h.env.DB.QueryRow(`SELECT rfc822size FROM messages WHERE mailbox = ? AND uid = ?`, mailboxID, uid).Scan(&size); err != nil {
				return nil, err
			}
			parts = append(parts, fmt.Sprintf("RFC822.SIZE %d", size))
		case "ENVELOPE":
			env, err := h.envelope(mailboxID, uid)
			if err != nil {
				return nil, err
			}
			parts = append(parts, "ENVELOPE "+env)
		case "RFC822", "BODY[]", "BODY.PEEK[]":
			raw, err := rawMessageBytes(h.env.DB, mailboxID, uid)
			if err != nil {
				return nil, err
			}
			parts = append(parts, fmt.Sprintf("%s {%d}\r\n%s", attr, len(raw), raw))
		case "RFC822.TEXT":
			body, err := bodypartData(h.env.DB, h.env.Injector.Blobs, mailboxID, uid, "")
			if err != nil {
				return nil, err
			}
			parts = append(parts, fmt.Sprintf("RFC822.TEXT {%d}\r\n%s", len(body), body))
		default:
			parts = append(parts, attr+" NIL")
		}
	}
	return parts, nil
}

// envelope builds a minimal RFC 3501 §7.4.2 ENVELOPE structure from the
// stored header_fields: only From/To/Cc/Bcc/Subject/Date/Message-ID are
// read; Sender and Reply-To are always a copy of From, and In-Reply-To is
// always NIL.
func (h *fetchHandler) envelope(mailboxID, uid int64) (string, error) {
	get := func(name string) string {
		var value string
		h.env.DB.QueryRow(`
			SELECT hf.value FROM header_fields hf JOIN field_names fn ON fn.id = hf.field
			WHERE hf.mailbox = ? AND hf.uid = ? AND hf.part = '' AND fn.name = ? ORDER BY hf.position LIMIT 1
		`, mailboxID, uid, name).Scan(&value)
		return value
	}
	date := get("date")
	subject := get("subject")
	from := nstringOrAddr(get("from"))
	to := nstringOrAddr(get("to"))
	cc := nstringOrAddr(get("cc"))
	bcc := nstringOrAddr(get("bcc"))
	msgID := get("message-id")

	return fmt.Sprintf(`(%s %s %s %s %s %s %s %s NIL %s)`,
		nstring(date), nstring(subject), from, from, from, to, cc, bcc, nstringOr(msgID, "NIL")), nil
}

func nstring(s string) string {
	if s == "" {
		return "NIL"
	}
	return quoteMailbox(s)
}

func nstringOr(s, def string) string {
	if s == "" {
		return def
	}
	return quoteMailbox(s)
}

func nstringOrAddr(s string) string {
	if s == "" {
		return "NIL"
	}
	return "(" + quoteMailbox(s) + ")"
}
