package ical_test

import (
	"testing"

	"vdirsync/ical"
)

func TestItemUIDSimple(t *testing.T) {
	it := ical.NewItem("BEGIN:VEVENT\r\nUID:abc-123\r\nSUMMARY:Test\r\nEND:VEVENT\r\n")
	if got := it.UID(); got != "abc-123" {
		t.Fatalf("UID() = %q, want %q", got, "abc-123")
	}
}

func TestItemUIDFolded(t *testing.T) {
	// The UID value is folded across two physical lines; the continuation
	// starts with a single space, which must be stripped on unfold.
	raw := "BEGIN:VEVENT\r\nUID:abc-123-veryveryverylongidentifier-that-keeps-go\r\n ing-on-and-on\r\nEND:VEVENT\r\n"
	it := ical.NewItem(raw)
	want := "abc-123-veryveryverylongidentifier-that-keeps-going-on-and-on"
	if got := it.UID(); got != want {
		t.Fatalf("UID() = %q, want %q", got, want)
	}
}

func TestItemUIDWithParameters(t *testing.T) {
	it := ical.NewItem("BEGIN:VEVENT\r\nUID;VALUE=TEXT:abc-123\r\nEND:VEVENT\r\n")
	if got := it.UID(); got != "abc-123" {
		t.Fatalf("UID() = %q, want %q", got, "abc-123")
	}
}

func TestItemUIDMissing(t *testing.T) {
	it := ical.NewItem("BEGIN:VEVENT\r\nSUMMARY:No UID here\r\nEND:VEVENT\r\n")
	if got := it.UID(); got != "" {
		t.Fatalf("UID() = %q, want empty", got)
	}
}

func TestItemIdentFallsBackToHash(t *testing.T) {
	it := ical.NewItem("BEGIN:VEVENT\r\nSUMMARY:No UID here\r\nEND:VEVENT\r\n")
	ident := it.Ident()
	if ident == "" {
		t.Fatalf("expected non-empty Ident")
	}
	if ident != it.Hash() {
		t.Fatalf("expected Ident to fall back to Hash() when UID is absent")
	}
}

func TestItemIdentPrefersUID(t *testing.T) {
	it := ical.NewItem("BEGIN:VEVENT\r\nUID:abc-123\r\nEND:VEVENT\r\n")
	if got := it.Ident(); got != "abc-123" {
		t.Fatalf("Ident() = %q, want %q", got, "abc-123")
	}
}

func TestItemHashStableAndSensitiveToContent(t *testing.T) {
	a := ical.NewItem("BEGIN:VEVENT\r\nSUMMARY:A\r\nEND:VEVENT\r\n")
	b := ical.NewItem("BEGIN:VEVENT\r\nSUMMARY:A\r\nEND:VEVENT\r\n")
	c := ical.NewItem("BEGIN:VEVENT\r\nSUMMARY:B\r\nEND:VEVENT\r\n")

	if a.Hash() != b.Hash() {
		t.Fatalf("expected identical content to hash identically")
	}
	if a.Hash() == c.Hash() {
		t.Fatalf("expected different content to hash differently")
	}
}

func TestItemRaw(t *testing.T) {
	raw := "BEGIN:VEVENT\r\nUID:x\r\nEND:VEVENT\r\n"
	it := ical.NewItem(raw)
	if it.Raw() != raw {
		t.Fatalf("Raw() did not round-trip")
	}
}
