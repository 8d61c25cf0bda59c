// Package cluster broadcasts mailbox uidnext/nextmodseq changes to peer
// frontends over UDP, per spec.md §6's cluster channel: a fire-and-forget
// datagram telling every other frontend process that a mailbox's
// allocation counters moved, so their cached IMAP state knows to refetch.
// No teacher precedent exists for this (LSFLK-raven runs single-frontend),
// so the wire format and client shape are built directly from spec.md §6,
// using stdlib net.DialUDP the way a connectionless fan-out broadcaster is
// idiomatically written in Go.
package cluster

import (
	"fmt"
	"log"
	"net"
)

// Client broadcasts mailbox change announcements to a fixed set of peers.
type Client struct {
	peers []*net.UDPConn
}

// Dial resolves and opens a UDP socket to each "host:port" address in
// addrs. Addresses that fail to resolve are logged and skipped rather
// than failing the whole client, since clustering is a best-effort
// notification channel, not a transactional one (spec.md §6).
func Dial(addrs []string) (*Client, error) {
	c := &Client{}
	for _, addr := range addrs {
		raddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			log.Printf("cluster: resolve %s: %v", addr, err)
			continue
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			log.Printf("cluster: dial %s: %v", addr, err)
			continue
		}
		c.peers = append(c.peers, conn)
	}
	return c, nil
}

// Announce implements inject.Announcer: it sends
// `mailbox "<name>" uidnext=<n> nextmodseq=<m>` to every configured peer.
func (c *Client) Announce(mailboxName string, uidnext, nextmodseq int64) {
	if c == nil || len(c.peers) == 0 {
		return
	}
	msg := []byte(fmt.Sprintf(`mailbox "%s" uidnext=%d nextmodseq=%d`, mailboxName, uidnext, nextmodseq))
	for _, peer := range c.peers {
		if _, err := peer.Write(msg); err != nil {
			log.Printf("cluster: announce to %s: %v", peer.RemoteAddr(), err)
		}
	}
}

// Close releases every peer socket.
func (c *Client) Close() error {
	var firstErr error
	for _, peer := range c.peers {
		if err := peer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Listener receives announcements from peers and applies them to local
// in-memory caches via Handler.
type Listener struct {
	conn    *net.UDPConn
	handler func(mailboxName string, uidnext, nextmodseq int64)
}

// Listen opens a UDP listener on addr (e.g. ":2151") and invokes handler
// for every well-formed announcement received, until Close is called.
func Listen(addr string, handler func(mailboxName string, uidnext, nextmodseq int64)) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: listen: %w", err)
	}
	l := &Listener{conn: conn, handler: handler}
	go l.run()
	return l, nil
}

func (l *Listener) run() {
	buf := make([]byte, 2048)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return // closed
		}
		name, uidnext, nextmodseq, ok := parseAnnouncement(string(buf[:n]))
		if !ok {
			continue
		}
		l.handler(name, uidnext, nextmodseq)
	}
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// parseAnnouncement parses `mailbox "<name>" uidnext=<n> nextmodseq=<m>`.
func parseAnnouncement(line string) (name string, uidnext, nextmodseq int64, ok bool) {
	const prefix = `mailbox "`
	if len(line) < len(prefix) || line[:len(prefix)] != prefix {
		return "", 0, 0, false
	}
	rest := line[len(prefix):]
	end := indexByte(rest, '"')
	if end < 0 {
		return "", 0, 0, false
	}
	name = rest[:end]
	rest = rest[end+1:]

	count, err := fmt.Sscanf(rest, " uidnext=%d nextmodseq=%d", &uidnext, &nextmodseq)
	if err != nil || count != 2 {
		return "", 0, 0, false
	}
	return name, uidnext, nextmodseq, true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
