// Package blobstore is the content-addressed byte storage backend for
// bodypart data, behind the optional S3 backend referenced (but not
// implemented) by the teacher's conf.Config.BlobStorage field.
package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
)

// Store persists and retrieves bodypart bytes by their content hash. The
// injector (internal/inject) always writes the hash and a length to the
// bodyparts table itself; Store only owns the byte payload when an
// out-of-database backend is configured, and returns ErrNotConfigured
// otherwise so callers fall back to storing bytes inline in SQLite.
type Store interface {
	Put(ctx context.Context, hash string, data []byte) error
	Get(ctx context.Context, hash string) ([]byte, error)
}

// ErrNotConfigured is returned by a no-op Store when no backend is set up.
var ErrNotConfigured = errNotConfigured{}

type errNotConfigured struct{}

func (errNotConfigured) Error() string { return "blobstore: no backend configured" }

// Hash computes the content-addressing key used throughout spec.md §4.7:
// the hex MD5 digest of a bodypart's canonical bytes.
func Hash(canonical []byte) string {
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])
}

// Inline is the degenerate Store used when no blob backend is configured:
// every call fails with ErrNotConfigured, so the injector stores bytes
// directly in bodyparts.data/bodyparts.text instead.
type Inline struct{}

func (Inline) Put(context.Context, string, []byte) error        { return ErrNotConfigured }
func (Inline) Get(context.Context, string) ([]byte, error)       { return nil, ErrNotConfigured }
