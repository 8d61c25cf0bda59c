package imapcmd

import (
	"github.com/corvid-mail/corvid/internal/protocol"
)

// listHandler implements both LIST and LSUB (subscribedOnly distinguishes
// them), grounded on
// _examples/LSFLK-raven/internal/server/mailbox/mailbox.go: an empty
// mailbox pattern reports only the hierarchy delimiter, and Match's
// three-way result (full match / possible-child / no match) decides
// which mailboxes are worth emitting.
type listHandler struct {
	env            *Env
	subscribedOnly bool

	reference string
	pattern   string
}

func (h *listHandler) Group() int { return 1 }
func (h *listHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Authenticated || state == protocol.Selected
}
func (h *listHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	ref, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "LIST requires a reference name"}
	}
	pattern, err := args.Mailbox()
	if err != nil {
		return &protocol.ParseError{Msg: "LIST requires a mailbox pattern"}
	}
	h.reference, h.pattern = ref, pattern
	return nil
}

func (h *listHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	if !requireUser(cmd, conn) {
		return true, nil
	}

	verb := "LIST"
	if h.subscribedOnly {
		verb = "LSUB"
	}

	if h.pattern == "" {
		cmd.Respond(verb + ` (\Noselect) "/" ""`)
		cmd.OK(verb + " completed")
		return true, nil
	}

	full := h.pattern
	if h.reference != "" {
		full = h.reference + "/" + h.pattern
	}

	names, err := h.candidateNames(conn.UserID)
	if err != nil {
		cmd.Error(protocol.StatusNO, verb+" failed")
		return true, nil
	}

	for _, name := range names {
		switch Match(full, name) {
		case 2:
			attrs := ""
			cmd.Respond(verb + " (" + attrs + `) "/" ` + quoteMailbox(name))
		}
	}
	cmd.OK(verb + " completed")
	return true, nil
}

func (h *listHandler) candidateNames(userID int64) ([]string, error) {
	query := `SELECT name FROM mailboxes WHERE user_id = ?`
	if h.subscribedOnly {
		query = `SELECT mailbox_name FROM subscriptions WHERE user_id = ?`
	}
	rows, err := h.env.DB.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
