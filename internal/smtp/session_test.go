package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
)

type fakeInjector struct {
	fail map[string]bool
}

func (f fakeInjector) Deliver(ctx context.Context, from Address, recipients []Address, raw []byte) ([]DeliveryResult, error) {
	results := make([]DeliveryResult, 0, len(recipients))
	for _, r := range recipients {
		res := DeliveryResult{Recipient: r}
		if f.fail[r.Local] {
			res.Err = errDelivery
		}
		results = append(results, res)
	}
	return results, nil
}

var errDelivery = &deliveryErr{"mailbox full"}

type deliveryErr struct{ msg string }

func (e *deliveryErr) Error() string { return e.msg }

// step is one client line and how many response lines it provokes (a
// multiline "250-...\r\n250 ..." greeting counts as however many lines it
// spans; the harness reads exactly that many lines, and 0 is treated as
// 1, the count for anything that isn't an EHLO/LHLO greeting).
type step struct {
	line    string
	replies int
}

func runTransaction(t *testing.T, cfg Config, inj Injector, script []step) []string {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	sess := NewSession(server, cfg, inj)
	done := make(chan struct{})
	go func() {
		sess.Handle()
		close(done)
	}()

	cw := bufio.NewWriter(client)
	cr := bufio.NewReader(client)

	var responses []string
	readN := func(n int) {
		for i := 0; i < n; i++ {
			line, err := cr.ReadString('\n')
			if err != nil {
				t.Fatalf("read response: %v", err)
			}
			responses = append(responses, strings.TrimRight(line, "\r\n"))
		}
	}
	readN(1) // greeting

	for _, st := range script {
		cw.WriteString(st.line + "\r\n")
		cw.Flush()
		n := st.replies
		if n == 0 {
			n = 1
		}
		readN(n)
	}

	client.Close()
	<-done
	return responses
}

func TestSMTPHappyPath(t *testing.T) {
	cfg := Config{Hostname: "mail.example.com", MaxRecipients: 10}
	inj := fakeInjector{}

	script := []step{
		{"EHLO client.example.com", 5},
		{"MAIL FROM:<fred@example.com>", 1},
		{"RCPT TO:<wilma@example.com>", 1},
		{"DATA", 1},
		{"Subject: hi\r\n\r\nbody\r\n.", 1},
	}
	responses := runTransaction(t, cfg, inj, script)

	last := responses[len(responses)-1]
	if !strings.HasPrefix(last, "250") {
		t.Errorf("expected final 250, got %q (all: %v)", last, responses)
	}
}

func TestLMTPPerRecipientResponses(t *testing.T) {
	cfg := Config{Hostname: "mail.example.com", LMTP: true, MaxRecipients: 10}
	inj := fakeInjector{fail: map[string]bool{"wilma": true}}

	script := []step{
		{"LHLO client.example.com", 5},
		{"MAIL FROM:<fred@example.com>", 1},
		{"RCPT TO:<barney@example.com>", 1},
		{"RCPT TO:<wilma@example.com>", 1},
		{"DATA", 1},
		{"Subject: hi\r\n\r\nbody\r\n.", 2},
	}
	responses := runTransaction(t, cfg, inj, script)

	var okCount, failCount int
	for _, r := range responses {
		if strings.Contains(r, "barney") && strings.HasPrefix(r, "250") {
			okCount++
		}
		if strings.Contains(r, "wilma") && strings.HasPrefix(r, "550") {
			failCount++
		}
	}
	if okCount != 1 || failCount != 1 {
		t.Errorf("expected one per-recipient success and one failure, got responses: %v", responses)
	}
}

func TestRCPTBeforeMAILRejected(t *testing.T) {
	cfg := Config{Hostname: "mail.example.com"}
	responses := runTransaction(t, cfg, fakeInjector{}, []step{
		{"EHLO client.example.com", 5},
		{"RCPT TO:<wilma@example.com>", 1},
	})
	last := responses[len(responses)-1]
	if !strings.HasPrefix(last, "503") {
		t.Errorf("expected 503 for RCPT before MAIL, got %q", last)
	}
}

func TestRSETClearsEnvelope(t *testing.T) {
	cfg := Config{Hostname: "mail.example.com"}
	responses := runTransaction(t, cfg, fakeInjector{}, []step{
		{"EHLO client.example.com", 5},
		{"MAIL FROM:<fred@example.com>", 1},
		{"RSET", 1},
		{"RCPT TO:<wilma@example.com>", 1},
	})
	last := responses[len(responses)-1]
	if !strings.HasPrefix(last, "503") {
		t.Errorf("expected RCPT after RSET to fail with 503, got %q", last)
	}
}

func TestLHLORequiredForLMTP(t *testing.T) {
	cfg := Config{Hostname: "mail.example.com", LMTP: true}
	responses := runTransaction(t, cfg, fakeInjector{}, []step{
		{"HELO client.example.com", 1},
	})
	if !strings.HasPrefix(responses[len(responses)-1], "503") {
		t.Errorf("expected HELO to be rejected under LMTP, got %q", responses)
	}
}
