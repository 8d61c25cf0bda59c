package imapcmd

import (
	"strings"

	"github.com/corvid-mail/corvid/internal/protocol"
)

// uidHandler implements the UID command prefix (RFC 3501 §6.4.8):
// UID FETCH/STORE/SEARCH/COPY delegate to the same handler used for the
// bare command, with uidMode set so sequence sets are interpreted as
// UIDs and any reported message numbers are UIDs instead of sequence
// numbers. Every wrapped command runs in the same non-exclusive group,
// so Group can be fixed without knowing which sub-verb Parse will see.
type uidHandler struct {
	env   *Env
	inner protocol.Handler
}

func (h *uidHandler) Group() int { return 1 }
func (h *uidHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.Selected
}

func (h *uidHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	verb, err := args.Atom()
	if err != nil {
		return &protocol.ParseError{Msg: "UID requires a sub-command"}
	}
	switch strings.ToUpper(verb) {
	case "FETCH":
		h.inner = &fetchHandler{env: h.env, uidMode: true}
	case "STORE":
		h.inner = &storeHandler{env: h.env, uidMode: true}
	case "SEARCH":
		h.inner = &searchHandler{env: h.env, uidMode: true}
	case "COPY":
		h.inner = &copyHandler{env: h.env, uidMode: true}
	default:
		return &protocol.ParseError{Msg: "unsupported UID sub-command " + verb}
	}
	return h.inner.Parse(cmd, args)
}

func (h *uidHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	return h.inner.Execute(cmd, conn)
}
