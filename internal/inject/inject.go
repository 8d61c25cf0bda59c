// Package inject implements the transactional message injector of
// spec.md §4.7: turning a parsed message plus a set of target mailboxes
// into rows across bodyparts, messages, part_numbers, header_fields,
// date_fields, address_fields, flags, annotations, and deliveries.
//
// The phase breakdown (InsertingBodyparts, SelectingUids,
// InsertingMessages, LinkingFields, LinkingFlags, LinkingAnnotations,
// LinkingAddresses, AwaitingCompletion) is ported from
// original_source/message/injector.cpp's Injector::execute() state
// machine. That original is a re-entrant, asynchronously-driven state
// machine because its underlying Postgres driver pipelines queries
// across network round trips; this port collapses it into one
// synchronous function running inside a single SQLite transaction
// (BEGIN IMMEDIATE, see DESIGN.md OQ-1), since there is no equivalent
// pipelining to preserve and Go's blocking I/O model makes a straight
// sequence of phase functions the idiomatic shape.
package inject

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/corvid-mail/corvid/internal/blobstore"
	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/message"
)

// Target is one mailbox the message is being appended to.
type Target struct {
	MailboxID   int64
	MailboxName string
}

// Annotation is one IMAP METADATA entry to attach to the injected message.
type Annotation struct {
	Name  string
	Value string
	Owner int64 // 0 for a shared (non-private) annotation
}

// Request describes one message injection: spec.md §4.7's inputs.
type Request struct {
	Targets      []Target // must be non-empty; sorted by MailboxID by Injector.Inject
	Sender       string   // envelope sender (MAIL FROM), recorded on deliveries rows
	Recipients   []string // remote (non-local) recipients, for delivery bookkeeping
	Flags        []string
	Annotations  []Annotation
	Message      *message.Message // nil for a message that failed to parse (spec.md §4.7's unparsed_messages fallback)
	Raw          []byte
	Wrap         bool // true wraps Raw in a synthetic message/rfc822 envelope (spec.md §4.7 Phase 8)
	InternalDate time.Time
}

// Outcome is one mailbox's assigned UID/MODSEQ after a successful injection.
type Outcome struct {
	MailboxID int64
	UID       int64
	ModSeq    int64
}

// Result is the full outcome of one injection.
type Result struct {
	Outcomes []Outcome
}

// Announcer is notified after a successful commit, once per mailbox, so
// the cluster layer (internal/cluster) can broadcast the new
// uidnext/nextmodseq to other frontends (spec.md §6).
type Announcer interface {
	Announce(mailboxName string, uidnext, nextmodseq int64)
}

// NopAnnouncer discards announcements (used when clustering is disabled).
type NopAnnouncer struct{}

func (NopAnnouncer) Announce(string, int64, int64) {}

// Injector runs the transactional pipeline against a shared database.
type Injector struct {
	DB       *sql.DB
	Blobs    blobstore.Store
	Announce Announcer
}

// New builds an Injector; blobs may be blobstore.Inline{} when no
// out-of-database backend is configured.
func New(conn *sql.DB, blobs blobstore.Store, announce Announcer) *Injector {
	if announce == nil {
		announce = NopAnnouncer{}
	}
	return &Injector{DB: conn, Blobs: blobs, Announce: announce}
}

// sharedAddressCache is process-wide, mirroring the db.FlagNames/
// db.FieldNames/db.AnnotationNames singletons: addresses are a dictionary
// table like the others, and every injection in the process benefits
// from the same warm cache.
var sharedAddressCache = db.NewAddressCache()

// ResetCaches clears the process-wide address cache. Exposed for tests
// that open a fresh database per test case; see db.NameCache.Reset.
func ResetCaches() {
	sharedAddressCache.Reset()
}

// bodypartRow is one resolved (possibly freshly inserted) bodyparts row.
type bodypartRow struct {
	id int64
}

// Inject runs the full pipeline for req inside a single transaction and
// returns the UID/MODSEQ assigned in every target mailbox.
func (inj *Injector) Inject(ctx context.Context, req Request) (*Result, error) {
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("inject: no target mailboxes")
	}
	sort.Slice(req.Targets, func(i, j int) bool { return req.Targets[i].MailboxID < req.Targets[j].MailboxID })

	msg := req.Message
	if msg == nil {
		msg = &message.Message{Size: int64(len(req.Raw))}
	}
	if req.Wrap {
		msg = wrapMessage(msg, req.Raw)
	}

	tx, err := inj.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("inject: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	flagIDs, err := db.FlagNames.Ensure(tx, req.Flags)
	if err != nil {
		return nil, fmt.Errorf("inject: resolve flags: %w", err)
	}

	annotationNames := make([]string, 0, len(req.Annotations))
	for _, a := range req.Annotations {
		annotationNames = append(annotationNames, a.Name)
	}
	annotationIDs, err := db.AnnotationNames.Ensure(tx, annotationNames)
	if err != nil {
		return nil, fmt.Errorf("inject: resolve annotation names: %w", err)
	}

	bodyparts, unparsed, err := inj.setupBodyparts(ctx, tx, msg, req.Raw)
	if err != nil {
		return nil, fmt.Errorf("inject: setup bodyparts: %w", err)
	}

	outcomes, err := selectUIDs(tx, req.Targets)
	if err != nil {
		return nil, fmt.Errorf("inject: select uids: %w", err)
	}

	size := msg.Size
	if size == 0 {
		size = int64(len(req.Raw))
	}
	idate := req.InternalDate
	if idate.IsZero() {
		idate = time.Unix(0, 0)
	}
	if err := insertMessages(tx, outcomes, idate, size); err != nil {
		return nil, fmt.Errorf("inject: insert messages: %w", err)
	}

	if unparsed {
		if err := recordUnparsed(tx, bodyparts[""].id); err != nil {
			return nil, fmt.Errorf("inject: record unparsed message: %w", err)
		}
	} else {
		if err := linkBodyparts(tx, outcomes, msg.Root, bodyparts); err != nil {
			return nil, fmt.Errorf("inject: link bodyparts: %w", err)
		}
		fieldIDCache := map[string]int64{}
		if err := linkHeaderFields(tx, outcomes, msg.Root, fieldIDCache); err != nil {
			return nil, fmt.Errorf("inject: link header fields: %w", err)
		}
		if err := linkDates(tx, outcomes, msg.Header); err != nil {
			return nil, fmt.Errorf("inject: link dates: %w", err)
		}
		if err := linkAddresses(tx, outcomes, msg.Root, fieldIDCache); err != nil {
			return nil, fmt.Errorf("inject: link addresses: %w", err)
		}
	}

	if err := linkFlags(tx, outcomes, flagIDs); err != nil {
		return nil, fmt.Errorf("inject: link flags: %w", err)
	}
	if err := linkAnnotations(tx, outcomes, req.Annotations, annotationIDs); err != nil {
		return nil, fmt.Errorf("inject: link annotations: %w", err)
	}
	if len(req.Recipients) > 0 {
		if err := insertDeliveries(tx, outcomes[0], req.Sender, req.Recipients); err != nil {
			return nil, fmt.Errorf("inject: insert deliveries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("inject: commit: %w", err)
	}

	for _, t := range req.Targets {
		var uidnext, nextmodseq int64
		row := inj.DB.QueryRow(`SELECT uidnext, nextmodseq FROM mailboxes WHERE id = ?`, t.MailboxID)
		if err := row.Scan(&uidnext, &nextmodseq); err == nil {
			inj.Announce.Announce(t.MailboxName, uidnext, nextmodseq)
		}
	}

	return &Result{Outcomes: outcomes}, nil
}

// wrapMessage builds a synthetic single-part message whose sole bodypart
// is a message/rfc822 wrapper around the original, per spec.md §4.7
// Phase 8's optional wrapping (used e.g. to preserve a bounce's original
// message intact as an attachment).
func wrapMessage(inner *message.Message, raw []byte) *message.Message {
	wrapper := &message.Bodypart{
		Part:        "",
		ContentType: "message/rfc822",
		Raw:         raw,
		Bytes:       len(raw),
		Nested:      inner,
	}
	return &message.Message{
		Header: inner.Header,
		Root:   wrapper,
		Size:   int64(len(raw)),
	}
}

// setupBodyparts walks msg's bodypart tree (or, if msg.Root is nil,
// treats raw as one opaque unparsed bodypart) and ensures every distinct
// bodypart is present in the bodyparts table, keyed by content hash
// (spec.md §4.7 Phase 1's dedup invariant). unparsed reports whether raw
// bypassed structural parsing entirely.
func (inj *Injector) setupBodyparts(ctx context.Context, tx *sql.Tx, msg *message.Message, raw []byte) (map[string]bodypartRow, bool, error) {
	result := make(map[string]bodypartRow)

	if msg.Root == nil {
		row, err := inj.ensureBodypart(ctx, tx, raw)
		if err != nil {
			return nil, false, err
		}
		result[""] = row
		return result, true, nil
	}

	var walkErr error
	msg.Root.Walk(func(bp *message.Bodypart) {
		if walkErr != nil {
			return
		}
		decision := bp.StorageDecision()
		if !decision.StoreText && !decision.StoreData {
			return
		}
		canonical := bp.Raw
		if decision.StoreText && !decision.StoreData {
			canonical = []byte(bp.Text)
		}
		row, err := inj.ensureBodypart(ctx, tx, canonical)
		if err != nil {
			walkErr = err
			return
		}
		result[bp.Part] = row
	})
	return result, false, walkErr
}

// ensureBodypart is the insert-then-select-on-conflict step of spec.md
// §4.7 Phase 1: hash the content, SELECT by hash, INSERT on a miss, and
// re-SELECT only when the INSERT fails with a UNIQUE constraint violation
// (another injector already holds that hash); any other INSERT error is
// returned. No SAVEPOINT is taken. The
// SQLite single-writer transaction (OQ-1) makes the race window
// theoretical, but the fallback keeps the logic correct if that ever
// changes (e.g. a future move to a server-side database).
func (inj *Injector) ensureBodypart(ctx context.Context, tx *sql.Tx, data []byte) (bodypartRow, error) {
	hash := blobstore.Hash(data)

	var id int64
	err := tx.QueryRow(`SELECT id FROM bodyparts WHERE hash = ?`, hash).Scan(&id)
	if err == nil {
		return bodypartRow{id: id}, nil
	}
	if err != sql.ErrNoRows {
		return bodypartRow{}, err
	}

	var textCol, dataCol interface{}
	if inj.Blobs != nil {
		if putErr := inj.Blobs.Put(ctx, hash, data); putErr == nil {
			dataCol = nil // bytes live in the blob store; bodyparts.data stays NULL
		} else if putErr != blobstore.ErrNotConfigured {
			return bodypartRow{}, fmt.Errorf("blobstore put: %w", putErr)
		} else {
			dataCol = data
		}
	} else {
		dataCol = data
	}
	if isTextish(data) {
		textCol = string(data)
	}

	res, err := tx.Exec(`INSERT INTO bodyparts(hash, bytes, text, data) VALUES (?, ?, ?, ?)`,
		hash, len(data), textCol, dataCol)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			var raceID int64
			if selErr := tx.QueryRow(`SELECT id FROM bodyparts WHERE hash = ?`, hash).Scan(&raceID); selErr != nil {
				return bodypartRow{}, selErr
			}
			return bodypartRow{id: raceID}, nil
		}
		return bodypartRow{}, fmt.Errorf("insert bodypart: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return bodypartRow{}, err
	}
	return bodypartRow{id: id}, nil
}

func isTextish(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

// selectUIDs acquires uidnext/nextmodseq/first_recent for every target
// mailbox, in MailboxID order (req.Targets is pre-sorted by the caller)
// to avoid lock-order deadlocks across concurrently injecting messages,
// exactly as original_source/message/injector.cpp::selectUids documents.
//
// spec.md §4.7 Phase 2: when the allocated UID equals first_recent, the
// injector marks the message recent in exactly one live session of the
// mailbox and advances first_recent past it; otherwise first_recent is
// left alone so the message stays counted \Recent for whichever session
// next observes it. This connection model keeps no live-session registry
// (see DESIGN.md's Recent-assignment open question), so hasLiveSession
// is always false here and first_recent is never bumped by injection —
// exactly the "no live session" branch spec.md's own open questions
// section already calls out as correct. internal/imapcmd's SELECT is
// what plays the role of "a session observing the mailbox": it resets
// first_recent to uidnext, claiming every pending recent message for
// the connection that just selected.
func selectUIDs(tx *sql.Tx, targets []Target) ([]Outcome, error) {
	const hasLiveSession = false

	outcomes := make([]Outcome, 0, len(targets))
	for _, t := range targets {
		var uid, modseq, firstRecent int64
		if err := tx.QueryRow(`SELECT uidnext, nextmodseq, first_recent FROM mailboxes WHERE id = ?`, t.MailboxID).
			Scan(&uid, &modseq, &firstRecent); err != nil {
			return nil, fmt.Errorf("lock mailbox %d: %w", t.MailboxID, err)
		}
		if hasLiveSession && uid == firstRecent {
			if _, err := tx.Exec(`UPDATE mailboxes SET uidnext = uidnext + 1, nextmodseq = nextmodseq + 1, first_recent = first_recent + 1 WHERE id = ?`,
				t.MailboxID); err != nil {
				return nil, err
			}
		} else {
			if _, err := tx.Exec(`UPDATE mailboxes SET uidnext = uidnext + 1, nextmodseq = nextmodseq + 1 WHERE id = ?`,
				t.MailboxID); err != nil {
				return nil, err
			}
		}
		outcomes = append(outcomes, Outcome{MailboxID: t.MailboxID, UID: uid, ModSeq: modseq})
		if _, err := tx.Exec(`INSERT INTO modsequences(mailbox, uid, modseq) VALUES (?, ?, ?)`,
			t.MailboxID, uid, modseq); err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

func insertMessages(tx *sql.Tx, outcomes []Outcome, idate time.Time, size int64) error {
	for _, o := range outcomes {
		if _, err := tx.Exec(`INSERT INTO messages(mailbox, uid, idate, rfc822size) VALUES (?, ?, ?, ?)`,
			o.MailboxID, o.UID, idate.Unix(), size); err != nil {
			return err
		}
	}
	return nil
}

func recordUnparsed(tx *sql.Tx, bodypartID int64) error {
	_, err := tx.Exec(`INSERT INTO unparsed_messages(bodypart) VALUES (?)`, bodypartID)
	return err
}

// linkBodyparts inserts one part_numbers row per (mailbox, uid, part).
func linkBodyparts(tx *sql.Tx, outcomes []Outcome, root *message.Bodypart, bodyparts map[string]bodypartRow) error {
	var insertErr error
	root.Walk(func(bp *message.Bodypart) {
		if insertErr != nil {
			return
		}
		row, ok := bodyparts[bp.Part]
		if !ok {
			return
		}
		for _, o := range outcomes {
			if _, err := tx.Exec(`INSERT INTO part_numbers(mailbox, uid, part, bodypart, bytes, lines) VALUES (?, ?, ?, ?, ?, ?)`,
				o.MailboxID, o.UID, bp.Part, row.id, bp.Bytes, bp.Lines); err != nil {
				insertErr = err
				return
			}
		}
	})
	return insertErr
}

// linkHeaderFields inserts one header_fields row per field, in reception
// order, for every part of the tree, resolving field names through the
// shared field_names dictionary.
func linkHeaderFields(tx *sql.Tx, outcomes []Outcome, root *message.Bodypart, fieldIDCache map[string]int64) error {
	var insertErr error
	root.Walk(func(bp *message.Bodypart) {
		if insertErr != nil {
			return
		}
		for pos, f := range bp.Header.Fields {
			id, ok := fieldIDCache[f.Name]
			if !ok {
				resolved, err := db.FieldNames.EnsureOne(tx, f.Name)
				if err != nil {
					insertErr = err
					return
				}
				id = resolved
				fieldIDCache[f.Name] = id
			}
			for _, o := range outcomes {
				if _, err := tx.Exec(`INSERT INTO header_fields(mailbox, uid, part, position, field, value) VALUES (?, ?, ?, ?, ?, ?)`,
					o.MailboxID, o.UID, bp.Part, pos, id, f.Value); err != nil {
					insertErr = err
					return
				}
			}
		}
	})
	return insertErr
}

// linkDates records the message's Date: header as a date_fields row used
// for IMAP SEARCH SENTON/SENTBEFORE/SENTSINCE.
func linkDates(tx *sql.Tx, outcomes []Outcome, hdr message.Header) error {
	raw := hdr.Get("Date")
	if raw == "" {
		return nil
	}
	t, err := mail.ParseDate(raw)
	if err != nil {
		return nil // an unparseable Date: header is dropped, not fatal
	}
	for _, o := range outcomes {
		if _, err := tx.Exec(`INSERT INTO date_fields(mailbox, uid, value) VALUES (?, ?, ?)`,
			o.MailboxID, o.UID, t.Unix()); err != nil {
			return err
		}
	}
	return nil
}

// linkAddresses parses every address-typed header field (From, To, Cc,
// etc.) into individual mailboxes via net/mail, resolves each through
// the shared addresses dictionary, and records one address_fields row
// per (field, position) pair, preserving the original field ordering.
func linkAddresses(tx *sql.Tx, outcomes []Outcome, root *message.Bodypart, fieldIDCache map[string]int64) error {
	type placement struct {
		part     string
		fieldPos int
		field    string
		key      db.AddressKey
	}
	var placements []placement
	var keys []db.AddressKey

	root.Walk(func(bp *message.Bodypart) {
		for _, f := range bp.Header.Fields {
			if !f.IsAddress {
				continue
			}
			addrs, err := mail.ParseAddressList(f.Value)
			if err != nil {
				continue // malformed address lists are skipped, not fatal
			}
			for i, a := range addrs {
				local, domain, splitErr := db.SplitAddress(a.Address)
				if splitErr != nil {
					continue
				}
				key := db.AddressKey{Name: a.Name, Localpart: local, Domain: domain}
				placements = append(placements, placement{part: bp.Part, fieldPos: i, field: f.Name, key: key})
				keys = append(keys, key)
			}
		}
	})
	if len(placements) == 0 {
		return nil
	}

	ids, err := sharedAddressCache.Ensure(tx, keys)
	if err != nil {
		return err
	}

	for _, p := range placements {
		fieldID, ok := fieldIDCache[strings.ToLower(p.field)]
		if !ok {
			fieldID, err = db.FieldNames.EnsureOne(tx, strings.ToLower(p.field))
			if err != nil {
				return err
			}
			fieldIDCache[strings.ToLower(p.field)] = fieldID
		}
		addrID := ids[p.key]
		for _, o := range outcomes {
			if _, err := tx.Exec(`INSERT INTO address_fields(mailbox, uid, part, position, field, address, number) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				o.MailboxID, o.UID, p.part, p.fieldPos, fieldID, addrID, p.fieldPos); err != nil {
				return err
			}
		}
	}
	return nil
}

func linkFlags(tx *sql.Tx, outcomes []Outcome, flagIDs map[string]int64) error {
	for _, id := range flagIDs {
		for _, o := range outcomes {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO flags(flag, uid, mailbox) VALUES (?, ?, ?)`,
				id, o.UID, o.MailboxID); err != nil {
				return err
			}
		}
	}
	return nil
}

func linkAnnotations(tx *sql.Tx, outcomes []Outcome, annotations []Annotation, ids map[string]int64) error {
	for _, a := range annotations {
		id, ok := ids[a.Name]
		if !ok {
			continue
		}
		for _, o := range outcomes {
			var owner interface{}
			if a.Owner != 0 {
				owner = a.Owner
			}
			if _, err := tx.Exec(`INSERT INTO annotations(mailbox, uid, name, value, owner) VALUES (?, ?, ?, ?, ?)`,
				o.MailboxID, o.UID, id, a.Value, owner); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertDeliveries records a pending-relay entry for a message that also
// has remote (non-local) recipients, keyed off the message's primary
// mailbox placement; the SMTP outbound queue (out of scope for this
// core, spec.md §1) consumes deliveries/delivery_recipients rows.
func insertDeliveries(tx *sql.Tx, primary Outcome, sender string, recipients []string) error {
	now := time.Now()
	res, err := tx.Exec(`INSERT INTO deliveries(sender, mailbox, uid, injected_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		sender, primary.MailboxID, primary.UID, now.Unix(), now.Add(2*24*time.Hour).Unix())
	if err != nil {
		return err
	}
	deliveryID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, r := range recipients {
		if _, err := tx.Exec(`INSERT INTO delivery_recipients(delivery, recipient) VALUES (?, ?)`, deliveryID, r); err != nil {
			return err
		}
	}
	return nil
}
