package inject

import (
	"context"
	"fmt"

	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/message"
	"github.com/corvid-mail/corvid/internal/smtp"
)

// LocalDeliverer adapts an Injector to smtp.Injector: it resolves each
// RCPT TO address to a local user's INBOX and runs one injection shared
// across every resolvable recipient, so a message addressed to multiple
// local mailboxes is only parsed and hashed once.
type LocalDeliverer struct {
	Injector *Injector
}

// NewLocalDeliverer builds a LocalDeliverer bound to inj.
func NewLocalDeliverer(inj *Injector) *LocalDeliverer {
	return &LocalDeliverer{Injector: inj}
}

// Deliver implements smtp.Injector. A recipient whose address does not
// resolve to an existing local user fails individually; the rest of the
// batch is still injected.
func (d *LocalDeliverer) Deliver(ctx context.Context, from smtp.Address, recipients []smtp.Address, raw []byte) ([]smtp.DeliveryResult, error) {
	results := make([]smtp.DeliveryResult, len(recipients))

	type resolved struct {
		recipientIdx int
		mailboxID    int64
		mailboxName  string
	}
	var targets []resolved

	for i, r := range recipients {
		userID, err := db.UserByAddress(d.Injector.DB, r.String(), false)
		if err != nil {
			results[i] = smtp.DeliveryResult{Recipient: r, Code: 550, Text: "user unknown", Err: err}
			continue
		}
		mailboxID, err := db.MailboxByName(d.Injector.DB, userID, "INBOX")
		if err != nil {
			results[i] = smtp.DeliveryResult{Recipient: r, Code: 550, Text: "no inbox", Err: err}
			continue
		}
		targets = append(targets, resolved{recipientIdx: i, mailboxID: mailboxID, mailboxName: "INBOX"})
	}
	if len(targets) == 0 {
		return results, nil
	}

	msg, parseErr := message.Parse(raw)
	if parseErr != nil {
		msg = nil // setupBodyparts falls back to storing raw as one opaque bodypart
	}

	req := Request{
		Targets: make([]Target, len(targets)),
		Sender:  from.String(),
		Message: msg,
		Raw:     raw,
	}
	for j, t := range targets {
		req.Targets[j] = Target{MailboxID: t.mailboxID, MailboxName: t.mailboxName}
	}

	result, err := d.Injector.Inject(ctx, req)
	if err != nil {
		for _, t := range targets {
			results[t.recipientIdx] = smtp.DeliveryResult{Recipient: recipients[t.recipientIdx], Code: 451, Err: err}
		}
		return results, nil
	}

	outcomeByMailbox := make(map[int64]Outcome, len(result.Outcomes))
	for _, o := range result.Outcomes {
		outcomeByMailbox[o.MailboxID] = o
	}
	for _, t := range targets {
		o := outcomeByMailbox[t.mailboxID]
		results[t.recipientIdx] = smtp.DeliveryResult{
			Recipient: recipients[t.recipientIdx],
			Code:      250,
			Text:      fmt.Sprintf("delivered uid=%d", o.UID),
		}
	}
	return results, nil
}
