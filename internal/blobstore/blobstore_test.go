package blobstore

import (
	"context"
	"errors"
	"testing"
)

func TestHashIsDeterministicAndContentAddressed(t *testing.T) {
	a := Hash([]byte("hello world"))
	b := Hash([]byte("hello world"))
	if a != b {
		t.Errorf("Hash is not deterministic: %q != %q", a, b)
	}
	if c := Hash([]byte("hello world!")); c == a {
		t.Errorf("different input produced the same hash: %q", c)
	}
	if len(a) != 32 {
		t.Errorf("Hash length = %d, want 32 (hex MD5)", len(a))
	}
}

func TestInlineAlwaysReportsNotConfigured(t *testing.T) {
	var store Store = Inline{}
	if err := store.Put(context.Background(), "abc", []byte("data")); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Put error = %v, want ErrNotConfigured", err)
	}
	if _, err := store.Get(context.Background(), "abc"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Get error = %v, want ErrNotConfigured", err)
	}
}
