package memory

import (
	"context"
	"testing"
)

func TestSinkWriteCopiesData(t *testing.T) {
	t.Parallel()

	sink := NewSink()
	payload := []byte("content")
	uri, err := sink.Write(context.Background(), "wiring/page.md", "text/markdown", payload)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if uri != "memory://wiring/page.md" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, ok := sink.Get("wiring/page.md")
	if !ok || string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if ct := sink.ContentType("wiring/page.md"); ct != "text/markdown" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestSinkKeysSorted(t *testing.T) {
	t.Parallel()

	sink := NewSink()
	for _, k := range []string{"b.md", "a/c.md", "a/b.md"} {
		if _, err := sink.Write(context.Background(), k, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	keys := sink.Keys()
	want := []string{"a/b.md", "a/c.md", "b.md"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
	if _, err := sink.Write(context.Background(), "../x", "", nil); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}
