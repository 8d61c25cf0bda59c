package protocol

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Registry resolves a command verb to the Handler that implements it.
// Handlers are stateless singletons; per-command state lives on Command
// and Conn.
type Registry interface {
	Lookup(verb string) Handler
}

// RegistryFunc adapts a plain function to Registry.
type RegistryFunc func(verb string) Handler

func (f RegistryFunc) Lookup(verb string) Handler { return f(verb) }

// Conn is one IMAP client connection: the framer/parser/scheduler
// plumbing plus the small set of session fields every command handler
// needs (authenticated identity, selected mailbox). Command-specific
// session state that doesn't belong in the core protocol engine (e.g.
// search results for a later FETCH) is kept in Data.
type Conn struct {
	net.Conn

	reader    *bufio.Reader
	framer    *Framer
	writeMu   sync.Mutex
	registry  Registry
	scheduler *Scheduler

	idleTimeout time.Duration

	mu           sync.Mutex
	state        ConnState
	UserID       int64
	Username     string
	DomainID     int64
	SelectedBox  int64
	SelectedName string
	ReadOnly     bool

	Data interface{} // handler-owned session extras (e.g. SASL mechanism in progress)

	closed bool
}

// NewConn wraps a raw network connection for IMAP command processing.
func NewConn(nc net.Conn, registry Registry, idleTimeout time.Duration) *Conn {
	c := &Conn{
		Conn:        nc,
		reader:      bufio.NewReaderSize(nc, 4096),
		registry:    registry,
		idleTimeout: idleTimeout,
		state:       NotAuthenticated,
	}
	c.scheduler = NewScheduler(c)
	return c
}

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) SetState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// WriteLine writes one CRLF-terminated response line, serialized against
// concurrent writers (multiple same-group commands may emit untagged
// responses "around" each other).
func (c *Conn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.Conn.Write([]byte(line + "\r\n"))
	return err
}

// WriteContinuation emits a "+ text" continuation response, used both for
// literal synchronization (Framer.sendContinue) and SASL challenges.
func (c *Conn) WriteContinuation(text string) error {
	return c.WriteLine("+ " + text)
}

// Serve runs the connection's read loop until the client disconnects, a
// fatal protocol error occurs, or a LOGOUT/failed-login-limit closes it.
// Each parsed line is hooked into the Scheduler; Serve itself never
// blocks on command execution, since the Scheduler dispatches handlers
// on their own goroutines and the read loop is free to keep framing the
// next line (supporting pipelining, spec.md §4.2).
func (c *Conn) Serve() {
	defer c.Close()

	c.framer = NewFramer(c.reader, c.WriteContinuation)

	for {
		if c.idleTimeout > 0 {
			c.Conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}

		if resCmd := c.scheduler.InputReserved(); resCmd != nil {
			if err := c.pumpReservedInput(c.framer, resCmd); err != nil {
				return
			}
			continue
		}

		line, err := c.framer.ReadCommandLine()
		if err != nil {
			if err == ErrLineTooLong || err == ErrLiteralTooLong {
				c.WriteLine("* BYE " + err.Error())
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		parsed, err := ParseLine(line)
		if err != nil {
			c.WriteLine("* BAD " + err.Error())
			continue
		}

		handler := c.registry.Lookup(parsed.Command)
		cmd := NewCommand(parsed.Tag, strings.ToLower(parsed.Command), parsed.Args, handler)
		c.scheduler.Enqueue(cmd)

		if cmd.Name == "logout" {
			c.waitIdle()
			return
		}
	}
}

// pumpReservedInput hands one raw line straight to whichever command
// currently holds the input reservation (AUTHENTICATE continuations,
// IDLE's DONE), bypassing the command parser entirely.
func (c *Conn) pumpReservedInput(framer *Framer, cmd *Command) error {
	line, err := framer.ReadCommandLine()
	if err != nil {
		return err
	}
	reader, ok := cmd.handler.(InputReader)
	if !ok {
		return fmt.Errorf("protocol: %s reserved input without implementing InputReader", cmd.Name)
	}
	done, err := reader.ReadInput([]byte(line))
	if err != nil || done {
		c.scheduler.Release(cmd)
	}
	return nil
}

// waitIdle blocks briefly so LOGOUT's own tagged response (and any
// untagged BYE preceding it) is flushed before the connection closes.
func (c *Conn) waitIdle() {
	deadline := time.Now().Add(5 * time.Second)
	for !c.scheduler.Idle() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.Conn.Close()
}

// Scheduler exposes the connection's command scheduler to handlers that
// need to reserve input (AUTHENTICATE, IDLE).
func (c *Conn) Scheduler() *Scheduler { return c.scheduler }

// Upgrade replaces the connection's underlying net.Conn (e.g. after a
// STARTTLS handshake wraps it in *tls.Conn) and redirects the read loop's
// buffered reader/framer to the new connection. Called by the scheduler's
// TransportUpgrader hook, strictly after the triggering command's tagged
// response has already been flushed on the old transport.
func (c *Conn) Upgrade(nc net.Conn) {
	c.Conn = nc
	c.reader = bufio.NewReaderSize(nc, 4096)
	if c.framer != nil {
		c.framer.SetReader(c.reader)
	}
}
