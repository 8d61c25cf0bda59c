// Package protocol implements the IMAP line/literal framer, the command
// grammar parser, and the per-connection command scheduler of spec.md
// §4.2–§4.4 — the heart of the engine. The scheduler's algorithm is ported
// directly from original_source/imap/imap.cpp's runCommands(); see
// DESIGN.md OQ-2 for how its single-threaded re-entrant design is adapted
// to one goroutine per connection.
package protocol

import "fmt"

// State is a Command's position in its lifecycle (spec.md §3).
type State int

const (
	StateUnparsed State = iota
	StateBlocked
	StateExecuting
	StateFinished
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateUnparsed:
		return "unparsed"
	case StateBlocked:
		return "blocked"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Status is a completed command's final tagged-response status.
type Status int

const (
	StatusOK Status = iota
	StatusNO
	StatusBAD
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNO:
		return "NO"
	default:
		return "BAD"
	}
}

// Handler implements one IMAP verb. The scheduler calls Parse once (when
// the command becomes the admitted leader of its group or a follower in
// an already-running group), then calls Execute possibly multiple times
// until it reports done — matching the original's re-entrant execute().
// In this Go port Execute is allowed to block (it runs on its own
// goroutine — see Scheduler.run), so in practice handlers return
// done=true on their first call: every handler in internal/imapcmd does,
// IDLE and AUTHENTICATE included, since they block inside that one call.
// The multi-call contract is kept for handlers that yield control back to
// the scheduler between steps.
type Handler interface {
	// Group returns the concurrency class: 0 means "must execute alone",
	// positive values mean commands that share the same value may run
	// concurrently.
	Group() int

	// ValidIn reports whether this command may run in the connection's
	// current IMAP state (Not Authenticated / Authenticated / Selected).
	ValidIn(state ConnState) bool

	// Parse consumes the command's argument string (after "tag NAME ").
	Parse(cmd *Command, args *ArgReader) error

	// Execute advances the command by one step. done=true with err=nil
	// means success; done=true with err!=nil fails the command with the
	// error's message as NO (or BAD, for a *ParseError).
	Execute(cmd *Command, conn *Conn) (done bool, err error)
}

// InputReader is implemented by handlers that reserve the connection's
// input (spec.md §4.4): while reserved, raw bytes bypass the parser and
// are delivered here directly. Used by AUTHENTICATE (continuation lines)
// and IDLE (the closing DONE line).
type InputReader interface {
	ReadInput(line []byte) (done bool, err error)
}

// ConnState is the connection's IMAP session state (Not Authenticated,
// Authenticated, Selected) used by Handler.ValidIn.
type ConnState int

const (
	NotAuthenticated ConnState = iota
	Authenticated
	Selected
	LogoutState
)

// Command is one parsed (or not-yet-parsed) IMAP command on a connection's
// queue. Its exported fields are immutable after construction; state is
// mutated only by the owning connection's scheduler goroutine.
type Command struct {
	Tag  string
	Name string // lower-cased verb
	Args string // raw argument text, consumed by Handler.Parse

	state   State
	handler Handler

	untagged   []string
	status     Status
	statusText string

	reserved bool
}

// NewCommand constructs an Unparsed command for tag/name/args, bound to
// handler (already resolved from the verb registry).
func NewCommand(tag, name, args string, handler Handler) *Command {
	return &Command{Tag: tag, Name: name, Args: args, handler: handler, state: StateUnparsed}
}

func (c *Command) State() State   { return c.state }
func (c *Command) Status() Status { return c.status }

// StatusText returns the tagged response's completion text.
func (c *Command) StatusText() string { return c.statusText }

// Untagged returns every line queued via Respond, in order.
func (c *Command) Untagged() []string { return c.untagged }
func (c *Command) Group() int {
	if c.handler == nil {
		return 0
	}
	return c.handler.Group()
}

// Respond appends an untagged response line (without the leading "* " or
// trailing CRLF, both added at emission time).
func (c *Command) Respond(line string) {
	c.untagged = append(c.untagged, line)
}

// Error fails the command with status/text; spec.md §3: error responses
// are emitted even when earlier siblings are still pending.
func (c *Command) Error(status Status, format string, args ...interface{}) {
	c.status = status
	c.statusText = fmt.Sprintf(format, args...)
	c.state = StateFinished
}

// OK marks the command successfully finished with text (defaults to "completed").
func (c *Command) OK(text string) {
	if text == "" {
		text = c.Name + " completed"
	}
	c.status = StatusOK
	c.statusText = text
	c.state = StateFinished
}

// Ok reports whether the command has not yet failed.
func (c *Command) Ok() bool {
	return c.status == StatusOK
}

// reserveInput marks c as owning the connection's raw input stream.
func (c *Command) reserveInput() { c.reserved = true }
func (c *Command) releaseInput() { c.reserved = false }

// ParseError is returned by Handler.Parse (or raised internally) to force
// a BAD response instead of NO.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string { return e.Msg }
