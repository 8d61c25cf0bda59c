package protocol

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/corvid-mail/corvid/internal/metrics"
)

// Scheduler is the per-connection command queue and admission/emission
// engine. It is a direct port of original_source/imap/imap.cpp's
// runCommands(): commands are admitted for execution in arrival order,
// group-compatible commands may run concurrently, and tagged responses
// are always emitted in the order their commands arrived regardless of
// the order in which they actually finish executing.
//
// Unlike the original's single-threaded cooperative reactor, admitted
// commands here run on their own goroutines (see DESIGN.md OQ-2): the
// Scheduler's mutex-guarded queue plays the role the original's
// re-entrant event loop played. Group concurrency falls naturally out of
// plain goroutines plus admit()'s bookkeeping rather than errgroup.Group:
// a connection's group membership changes continuously as commands are
// enqueued and finish at independent times, whereas errgroup.Group joins
// one fixed batch via a single Wait() — there is no such fixed batch
// here, so a bare goroutine per admitted command is the better fit.
type Scheduler struct {
	conn *Conn

	mu      sync.Mutex
	queue   []*Command
	head    int // index of the first not-yet-emitted command
	running int // count of commands currently Executing
	resBy   *Command
}

// NewScheduler constructs a Scheduler bound to conn, which owns the
// connection's writer and per-command handler dispatch.
func NewScheduler(conn *Conn) *Scheduler {
	return &Scheduler{conn: conn}
}

// Enqueue appends a freshly parsed tag/verb pair (not yet bound to a
// Handler's Parse) to the queue and attempts admission.
func (s *Scheduler) Enqueue(cmd *Command) {
	s.mu.Lock()
	s.queue = append(s.queue, cmd)
	s.mu.Unlock()
	s.admit()
}

// InputReserved reports whether some executing command currently owns
// the connection's raw input stream (spec.md §4.4's reserve_input), in
// which case the connection loop must route raw bytes to it instead of
// parsing a new command line.
func (s *Scheduler) InputReserved() *Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resBy
}

// Reserve marks cmd as owning raw input until Release is called.
func (s *Scheduler) Reserve(cmd *Command) {
	s.mu.Lock()
	cmd.reserveInput()
	s.resBy = cmd
	s.mu.Unlock()
}

// Release gives up a command's input reservation and re-attempts
// admission of anything it was blocking.
func (s *Scheduler) Release(cmd *Command) {
	s.mu.Lock()
	cmd.releaseInput()
	if s.resBy == cmd {
		s.resBy = nil
	}
	s.mu.Unlock()
	s.admit()
}

// admit walks the queue from its head, starting every Unparsed command
// it can without violating group-exclusivity: a group-0 command must run
// alone; same-nonzero-group commands may run together; a command whose
// group differs from whatever is currently running blocks admission of
// itself and everything behind it until the running set drains.
func (s *Scheduler) admit() {
	s.mu.Lock()
	if s.resBy != nil {
		s.mu.Unlock()
		return
	}

	var toStart []*Command
	currentGroup := -1 // -1: nothing running; 0: exclusive; >0: shared group
	if s.running > 0 {
		for _, c := range s.queue {
			if c.state == StateExecuting {
				currentGroup = c.Group()
				break
			}
		}
	}

	for _, cmd := range s.queue {
		switch cmd.state {
		case StateFinished, StateRetired:
			continue
		case StateExecuting, StateBlocked:
			if currentGroup == -1 {
				currentGroup = cmd.Group()
			}
			continue
		case StateUnparsed:
			g := cmd.Group()
			if currentGroup != -1 {
				if g == 0 || currentGroup == 0 || g != currentGroup {
					// incompatible with what's already running: this and
					// every later command must wait.
					goto done
				}
			}
			toStart = append(toStart, cmd)
			currentGroup = g
			if g == 0 {
				goto done
			}
		}
	}
done:
	s.mu.Unlock()

	for _, cmd := range toStart {
		s.start(cmd)
	}
}

// start parses cmd's arguments, checks its validity in the connection's
// current IMAP state, and launches its Execute loop.
func (s *Scheduler) start(cmd *Command) {
	handler := cmd.handler
	if handler == nil {
		cmd.Error(StatusBAD, "%s unknown command", cmd.Name)
		s.finish(cmd)
		return
	}
	if !handler.ValidIn(s.conn.State()) {
		cmd.Error(StatusBAD, "%s not allowed in this state", cmd.Name)
		s.finish(cmd)
		return
	}

	args := NewArgReader(cmd.Args)
	if err := handler.Parse(cmd, args); err != nil {
		status := StatusNO
		if _, ok := err.(*ParseError); ok {
			status = StatusBAD
		}
		cmd.Error(status, "%s %s", cmd.Name, err)
		s.finish(cmd)
		return
	}

	s.mu.Lock()
	cmd.state = StateExecuting
	s.running++
	s.mu.Unlock()

	go s.run(cmd, handler)
}

// run drives a single admitted command's Execute loop to completion.
func (s *Scheduler) run(cmd *Command, handler Handler) {
	start := time.Now()
	for {
		done, err := handler.Execute(cmd, s.conn)
		if err != nil {
			status := StatusNO
			if _, ok := err.(*ParseError); ok {
				status = StatusBAD
			}
			cmd.Error(status, "%s %s", cmd.Name, err)
			break
		}
		if done {
			if cmd.state != StateFinished {
				cmd.OK("")
			}
			break
		}
	}
	metrics.CommandDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())
	metrics.Commands.WithLabelValues(cmd.Name, cmd.Status().String()).Inc()

	s.mu.Lock()
	s.running--
	s.mu.Unlock()

	s.finish(cmd)
}

// finish marks cmd Finished (if not already) and flushes any contiguous
// prefix of finished commands starting at the queue head, emitting their
// tagged responses strictly in arrival order (spec.md §3's ordering
// invariant) even though later commands may have completed first.
func (s *Scheduler) finish(cmd *Command) {
	s.mu.Lock()
	if cmd.state != StateFinished {
		cmd.state = StateFinished
	}

	var toEmit []*Command
	for s.head < len(s.queue) && s.queue[s.head].state == StateFinished {
		toEmit = append(toEmit, s.queue[s.head])
		s.queue[s.head].state = StateRetired
		s.head++
	}
	s.mu.Unlock()

	for _, c := range toEmit {
		s.emit(c)
		if up, ok := c.handler.(TransportUpgrader); ok {
			if err := up.UpgradeTransport(s.conn); err != nil {
				log.Printf("protocol: transport upgrade for %s: %v", c.Name, err)
				s.conn.Close()
			}
		}
	}

	s.admit()
}

// TransportUpgrader is implemented by handlers that replace the
// connection's underlying net.Conn (STARTTLS): UpgradeTransport runs right
// after the command's tagged response has been flushed on the old
// transport, and before any later queued command is admitted.
type TransportUpgrader interface {
	UpgradeTransport(conn *Conn) error
}

// emit writes one command's untagged responses followed by its tagged
// status line.
func (s *Scheduler) emit(cmd *Command) {
	for _, line := range cmd.untagged {
		if err := s.conn.WriteLine("* " + line); err != nil {
			log.Printf("protocol: write untagged response: %v", err)
			return
		}
	}
	tagged := fmt.Sprintf("%s %s %s", cmd.Tag, cmd.status, cmd.statusText)
	if err := s.conn.WriteLine(tagged); err != nil {
		log.Printf("protocol: write tagged response: %v", err)
	}
}

// Idle reports whether every enqueued command has been emitted, i.e. the
// connection has no outstanding work.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head == len(s.queue)
}
