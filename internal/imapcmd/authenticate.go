package imapcmd

import (
	"errors"
	"strings"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/protocol"
	"github.com/corvid-mail/corvid/internal/sasl"
)

var errUnsupportedMechanism = errors.New("unsupported SASL mechanism")

// saslMechanism is the subset of gosasl.Server that the driver needs.
type saslMechanism interface {
	Next(response []byte) (challenge []byte, done bool, err error)
}

// authenticateHandler runs the SASL dialogue of spec.md §4.6 for
// AUTHENTICATE. Execute blocks on waitCh until ReadInput (driven by the
// connection's read loop delivering reserved-input continuation lines)
// reports the exchange finished — the Handler.Execute contract allows
// blocking, and this handler and idleHandler are the two in the package
// that rely on it (see protocol.Handler's doc comment).
type authenticateHandler struct {
	env *Env

	mechanismArg string
	initialArg   string
	hasInitial   bool

	driver *sasl.Driver
	waitCh chan struct{}
	result error

	cramServer *sasl.CramMD5Server
	identity   string
	userID     int64
}

func (h *authenticateHandler) Group() int { return 0 }

func (h *authenticateHandler) ValidIn(state protocol.ConnState) bool {
	return state == protocol.NotAuthenticated
}

func (h *authenticateHandler) Parse(cmd *protocol.Command, args *protocol.ArgReader) (err error) {
	h.mechanismArg, err = args.Atom()
	if err != nil {
		return &protocol.ParseError{Msg: "AUTHENTICATE requires a mechanism name"}
	}
	if !args.AtEnd() {
		ir, irErr := args.QuotedOrAtom()
		if irErr != nil {
			return &protocol.ParseError{Msg: "malformed initial response"}
		}
		h.initialArg = ir
		h.hasInitial = true
	}
	return nil
}

func (h *authenticateHandler) Execute(cmd *protocol.Command, conn *protocol.Conn) (bool, error) {
	server, err := h.buildServer(strings.ToUpper(h.mechanismArg))
	if err != nil {
		cmd.Error(protocol.StatusNO, "%v", err)
		return true, nil
	}

	var initial []byte
	if h.hasInitial {
		initial, err = sasl.DecodeInitialResponse(h.initialArg)
		if err != nil {
			cmd.Error(protocol.StatusBAD, "%v", err)
			return true, nil
		}
	}

	h.driver = sasl.NewDriver(conn, server, initial)
	h.waitCh = make(chan struct{})
	conn.Scheduler().Reserve(cmd)

	done, err := h.driver.Start()
	if err == nil && !done {
		<-h.waitCh
		err = h.result
	}
	conn.Scheduler().Release(cmd)

	if err != nil {
		cmd.Error(protocol.StatusNO, "authentication failed")
		return true, nil
	}
	if h.cramServer != nil && h.identity == "" {
		h.identity = h.cramServer.Login()
	}
	if h.userID == 0 {
		userID, resolveErr := db.UserByAddress(h.env.DB, h.identity, false)
		if resolveErr != nil {
			cmd.Error(protocol.StatusNO, "authentication failed")
			return true, nil
		}
		h.userID = userID
	}

	conn.UserID = h.userID
	conn.Username = h.identity
	conn.SetState(protocol.Authenticated)
	cmd.OK("AUTHENTICATE completed")
	return true, nil
}

// ReadInput implements protocol.InputReader, delivering one reserved
// continuation line to the in-progress SASL dialogue and waking Execute
// once the mechanism reports completion.
func (h *authenticateHandler) ReadInput(line []byte) (bool, error) {
	done, err := h.driver.ReadInput(line)
	if done {
		h.result = err
		close(h.waitCh)
	}
	return done, err
}

func (h *authenticateHandler) buildServer(mechanism string) (saslMechanism, error) {
	switch mechanism {
	case "CRAM-MD5":
		if h.env.Verifier == nil {
			return nil, errUnsupportedMechanism
		}
		h.cramServer = sasl.NewCramMD5Server(h.env.Hostname, h.env.Verifier)
		return h.cramServer, nil
	case "PLAIN":
		srv := sasl.NewPlainServer(func(authzid, authcid, password string) error {
			userID, err := plaintextLogin(h.env, authcid, password)
			if err != nil {
				return err
			}
			h.identity = authcid
			h.userID = userID
			return nil
		})
		return srv, nil
	default:
		return nil, errUnsupportedMechanism
	}
}
