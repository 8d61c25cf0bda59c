package imapcmd

import "github.com/corvid-mail/corvid/internal/protocol"

// NewRegistry builds the verb → Handler table. Registry.Lookup is called
// once per parsed command (internal/protocol.Conn.Serve), so every case
// below constructs a fresh handler value rather than returning a shared
// instance: Command has no field of its own for a handler's in-progress
// state (the SASL driver mid-exchange, a FETCH's remaining message set),
// so the handler value returned here doubles as that storage, the same
// way original_source/imap/imap.cpp models each command as its own
// explicit state object.
func NewRegistry(env *Env) protocol.Registry {
	return protocol.RegistryFunc(func(verb string) protocol.Handler {
		switch verb {
		case "CAPABILITY":
			return &capabilityHandler{env: env}
		case "NOOP":
			return &noopHandler{}
		case "LOGOUT":
			return &logoutHandler{}
		case "LOGIN":
			return &loginHandler{env: env}
		case "AUTHENTICATE":
			return &authenticateHandler{env: env}
		case "STARTTLS":
			return &starttlsHandler{env: env}
		case "SELECT":
			return &selectHandler{env: env}
		case "EXAMINE":
			return &selectHandler{env: env, readOnly: true}
		case "CREATE":
			return &createHandler{env: env}
		case "DELETE":
			return &deleteHandler{env: env}
		case "RENAME":
			return &renameHandler{env: env}
		case "SUBSCRIBE":
			return &subscribeHandler{env: env, subscribe: true}
		case "UNSUBSCRIBE":
			return &subscribeHandler{env: env, subscribe: false}
		case "LIST":
			return &listHandler{env: env}
		case "LSUB":
			return &listHandler{env: env, subscribedOnly: true}
		case "STATUS":
			return &statusHandler{env: env}
		case "APPEND":
			return &appendHandler{env: env}
		case "CHECK":
			return &checkHandler{}
		case "CLOSE":
			return &closeHandler{env: env}
		case "EXPUNGE":
			return &expungeHandler{env: env}
		case "SEARCH":
			return &searchHandler{env: env}
		case "FETCH":
			return &fetchHandler{env: env}
		case "STORE":
			return &storeHandler{env: env}
		case "COPY":
			return &copyHandler{env: env}
		case "UID":
			return &uidHandler{env: env}
		case "IDLE":
			return &idleHandler{}
		default:
			return nil
		}
	})
}
