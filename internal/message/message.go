// Package message adapts github.com/emersion/go-message's MIME entity tree
// into the part-numbered Message/Bodypart structure spec.md §3 requires as
// input to the injector. MIME parsing and charset decoding themselves are
// out of scope for this core (spec.md §1) and are left entirely to
// go-message; this package only does structural bookkeeping: part
// numbering (RFC 3501 §6.4.5 depth-first order), byte/line counts, and the
// storage-decision content-type classification of spec.md §4.7 Phase 1.
package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
)

// Field is one header field in reception order, as recorded by
// part_numbers/header_fields (spec.md §4.7 Phase 4).
type Field struct {
	Name      string
	Value     string
	IsAddress bool
}

// Header is an ordered list of header fields for one entity.
type Header struct {
	Fields []Field
	raw    gomessage.Header
}

// Get returns the first value of a header field, like net/textproto.
func (h Header) Get(name string) string {
	return h.raw.Get(name)
}

// Bodypart is one MIME leaf or composite node after structural parsing.
type Bodypart struct {
	Part        string // e.g. "1", "1.2"; "" for the root of a non-multipart message
	ContentType string // lower-cased "type/subtype", "" if the part had none
	Raw         []byte // the part's body as go-message yields it, Content-Transfer-Encoding already decoded
	Text        string // decoded text, populated only for textual parts
	Bytes       int
	Lines       int
	Header      Header      // this part's own MIME header (Content-Type etc.)
	Children    []*Bodypart // multipart children, depth-first order
	Nested      *Message    // populated for message/rfc822 parts
}

// Message is the root of a parsed mail message: a header and a bodypart tree.
type Message struct {
	Header       Header
	Root         *Bodypart
	Size         int64
	InternalDate time.Time // explicit APPEND INTERNALDATE, zero if unset
}

// Parse parses raw RFC 822/MIME bytes into a Message.
func Parse(raw []byte) (*Message, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		// go-message returns a non-nil Entity alongside certain
		// recoverable errors (e.g. an unrecognized charset); only a nil
		// entity means parsing truly failed.
		if entity == nil {
			return nil, fmt.Errorf("parse message: %w", err)
		}
	}

	root, err := buildBodypart(entity, "")
	if err != nil {
		return nil, err
	}

	return &Message{
		Header: newHeader(entity.Header),
		Root:   root,
		Size:   int64(len(raw)),
	}, nil
}

func newHeader(h gomessage.Header) Header {
	hdr := Header{raw: h}
	fields := h.Fields()
	for fields.Next() {
		hdr.Fields = append(hdr.Fields, Field{
			Name:      strings.ToLower(fields.Key()),
			Value:     fields.Value(),
			IsAddress: isAddressField(fields.Key()),
		})
	}
	return hdr
}

// isAddressField reports whether a header field carries RFC 5322 address
// syntax and must be decomposed into address_fields rows by the injector.
func isAddressField(name string) bool {
	switch strings.ToLower(name) {
	case "from", "to", "cc", "bcc", "reply-to", "sender", "resent-from", "resent-to", "resent-cc", "resent-bcc":
		return true
	}
	return false
}

// buildBodypart recursively numbers entity's bodypart tree in RFC 3501
// depth-first order: a non-multipart message has a single unnumbered root;
// a multipart message numbers its immediate children 1..N and recurses.
func buildBodypart(entity *gomessage.Entity, part string) (*Bodypart, error) {
	ctype, _, _ := entity.Header.ContentType()
	ctype = strings.ToLower(ctype)

	bp := &Bodypart{
		Part:        part,
		ContentType: ctype,
		Header:      newHeader(entity.Header),
	}

	if mr := entity.MultipartReader(); mr != nil {
		i := 1
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read multipart child: %w", err)
			}
			childPart := fmt.Sprintf("%d", i)
			if part != "" {
				childPart = part + "." + childPart
			}
			childBP, err := buildBodypart(child, childPart)
			if err != nil {
				return nil, err
			}
			bp.Children = append(bp.Children, childBP)
			i++
		}
		return bp, nil
	}

	raw, err := io.ReadAll(entity.Body)
	if err != nil {
		return nil, fmt.Errorf("read bodypart: %w", err)
	}
	bp.Raw = raw
	bp.Bytes = len(raw)
	bp.Lines = bytes.Count(raw, []byte("\n"))

	if strings.HasPrefix(ctype, "message/rfc822") {
		nested, err := Parse(raw)
		if err == nil {
			bp.Nested = nested
		}
		return bp, nil
	}

	if strings.HasPrefix(ctype, "text/") || ctype == "" {
		bp.Text = string(raw)
	}

	return bp, nil
}

// StorageDecision reports whether a bodypart's decoded text and/or raw
// bytes must be persisted, per spec.md §4.7 Phase 1's storage table.
type StorageDecision struct {
	StoreText bool
	StoreData bool
}

func (bp *Bodypart) StorageDecision() StorageDecision {
	t := bp.ContentType
	switch {
	case t == "":
		return StorageDecision{StoreText: true, StoreData: false}
	case strings.HasPrefix(t, "text/") && t != "text/html":
		return StorageDecision{StoreText: true, StoreData: false}
	case t == "text/html":
		return StorageDecision{StoreText: true, StoreData: true}
	case t == "multipart/signed":
		return StorageDecision{StoreText: false, StoreData: true}
	case strings.HasPrefix(t, "multipart/"):
		return StorageDecision{StoreText: false, StoreData: false}
	case strings.HasPrefix(t, "message/rfc822"):
		return StorageDecision{StoreText: false, StoreData: false}
	default:
		return StorageDecision{StoreText: false, StoreData: true}
	}
}

// Walk visits every bodypart in the tree (including the root) depth-first.
func (bp *Bodypart) Walk(fn func(*Bodypart)) {
	fn(bp)
	for _, c := range bp.Children {
		c.Walk(fn)
	}
}

// IsMultipart reports whether this bodypart has MIME children.
func (bp *Bodypart) IsMultipart() bool {
	return len(bp.Children) > 0
}
