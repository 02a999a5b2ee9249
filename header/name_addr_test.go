package header_test

import (
	"testing"

	"github.com/ghettovoice/sipua/header"
)

func TestParseFrom(t *testing.T) {
	t.Parallel()

	from, err := header.ParseFrom(`"Alice" <sip:alice@atlanta.example>;tag=88sja8x`)
	if err != nil {
		t.Fatalf("header.ParseFrom() error = %v, want nil", err)
	}
	if from.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", from.DisplayName)
	}
	if from.URI.User != "alice" {
		t.Errorf("URI.User = %q, want alice", from.URI.User)
	}
	if tag, ok := from.Tag(); !ok || tag != "88sja8x" {
		t.Errorf("Tag() = %q, %v", tag, ok)
	}
}

func TestParseToAddrSpec(t *testing.T) {
	t.Parallel()

	// addr-spec form: trailing parameters belong to the header
	to, err := header.ParseTo("sip:bob@biloxi.example;tag=a6c85cf")
	if err != nil {
		t.Fatalf("header.ParseTo() error = %v, want nil", err)
	}
	if to.URI.Params.Has("tag") {
		t.Error("tag param leaked into the URI")
	}
	if tag, ok := to.Tag(); !ok || tag != "a6c85cf" {
		t.Errorf("Tag() = %q, %v", tag, ok)
	}
}

func TestFromRender(t *testing.T) {
	t.Parallel()

	from, err := header.ParseFrom("<sip:alice@atlanta.example>;tag=77")
	if err != nil {
		t.Fatalf("header.ParseFrom() error = %v, want nil", err)
	}
	want := "From: <sip:alice@atlanta.example>;tag=77"
	if got := from.Render(nil); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestParseContactMultiple(t *testing.T) {
	t.Parallel()

	contact, err := header.ParseContact("<sip:bob@192.0.2.4>;q=0.7, <sip:bob@biloxi.example>")
	if err != nil {
		t.Fatalf("header.ParseContact() error = %v, want nil", err)
	}
	if len(contact) != 2 {
		t.Fatalf("len(contact) = %d, want 2", len(contact))
	}
	first, ok := contact.First()
	if !ok || first.URI.Addr.Host != "192.0.2.4" {
		t.Errorf("First() = %v, %v", first, ok)
	}
}

func TestRecordRouteReversed(t *testing.T) {
	t.Parallel()

	rr, err := header.ParseRecordRoute("<sip:p1.example;lr>, <sip:p2.example;lr>")
	if err != nil {
		t.Fatalf("header.ParseRecordRoute() error = %v, want nil", err)
	}
	rev := rr.Reversed()
	if len(rev) != 2 {
		t.Fatalf("len(rev) = %d, want 2", len(rev))
	}
	if rev[0].URI.Addr.Host != "p2.example" || rev[1].URI.Addr.Host != "p1.example" {
		t.Errorf("Reversed() order = %s, %s", rev[0].URI.Addr.Host, rev[1].URI.Addr.Host)
	}
	// the original is untouched
	if rr[0].URI.Addr.Host != "p1.example" {
		t.Error("Reversed() mutated the original header")
	}
}
