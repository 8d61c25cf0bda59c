package imapcmd

import "github.com/corvid-mail/corvid/internal/protocol"

type loginHandler struct {
	env *Env

	login, password string
}

func (h *loginHandler) Group() int { return 0 }

func (h *loginHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.NotAuthenticated
}

func (h *loginHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) error {
	login, err := args.QuotedOrAtom()
	if err != nil {
		return &protocol.ParseError{Msg: "LOGIN requires a username"}
	}
	password, err := args.QuotedOrAtom()
	if err != nil {
		return &protocol.ParseError{Msg: "LOGIN requires a password"}
	}
	h.login, h.password = login, password
	return nil
}

func (h *loginHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	userID, err := plaintextLogin(h.env, h.login, h.password)
	if err != nil {
		cmd.Error(protocol.StatusNO, "LOGIN failed")
		return true, nil
	}
	conn.UserID = userID
	conn.Username = h.login
	conn.SetState(protocol.Authenticated)
	cmd.OK("LOGIN completed")
	return true, nil
}
