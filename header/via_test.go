package header_test

import (
	"testing"

	"github.com/ghettovoice/sipua/header"
)

func TestParseVia(t *testing.T) {
	t.Parallel()

	via, err := header.ParseVia("SIP/2.0/UDP pc33.atlanta.example:5070;branch=z9hG4bK776asdhds;received=192.0.2.1")
	if err != nil {
		t.Fatalf("header.ParseVia() error = %v, want nil", err)
	}
	if len(via) != 1 {
		t.Fatalf("len(via) = %d, want 1", len(via))
	}

	hop := via[0]
	if hop.Proto.Name != "SIP" || hop.Proto.Version != "2.0" {
		t.Errorf("Proto = %v, want SIP/2.0", hop.Proto)
	}
	if hop.Transport != "UDP" {
		t.Errorf("Transport = %q, want UDP", hop.Transport)
	}
	if hop.SentBy.Host != "pc33.atlanta.example" || hop.SentBy.Port != 5070 {
		t.Errorf("SentBy = %v", hop.SentBy)
	}
	if branch, ok := hop.Branch(); !ok || branch != "z9hG4bK776asdhds" {
		t.Errorf("Branch() = %q, %v", branch, ok)
	}
	if received, ok := hop.Received(); !ok || received != "192.0.2.1" {
		t.Errorf("Received() = %q, %v", received, ok)
	}
	if !hop.IsCompliant() {
		t.Error("IsCompliant() = false for magic cookie branch")
	}
}

func TestParseViaMultiHop(t *testing.T) {
	t.Parallel()

	via, err := header.ParseVia("SIP/2.0/UDP one.example;branch=z9hG4bK1, SIP/2.0/TCP two.example;branch=z9hG4bK2")
	if err != nil {
		t.Fatalf("header.ParseVia() error = %v, want nil", err)
	}
	if len(via) != 2 {
		t.Fatalf("len(via) = %d, want 2", len(via))
	}
	if via[1].Transport != "TCP" {
		t.Errorf("second hop transport = %q, want TCP", via[1].Transport)
	}
}

func TestViaRender(t *testing.T) {
	t.Parallel()

	hop := header.ViaHop{
		Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
		Transport: "UDP",
		SentBy:    header.HostPort("client.example", 5060),
	}
	hop.SetBranch("z9hG4bKabc")
	via := header.Via{hop}

	want := "Via: SIP/2.0/UDP client.example:5060;branch=z9hG4bKabc"
	if got := via.Render(nil); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}

	// compact form on request only
	want = "v: SIP/2.0/UDP client.example:5060;branch=z9hG4bKabc"
	if got := via.Render(&header.RenderOptions{Compact: true}); got != want {
		t.Errorf("Render(compact) = %q, want %q", got, want)
	}
}

func TestViaRoundTrip(t *testing.T) {
	t.Parallel()

	in := "SIP/2.0/UDP client.example:5060;branch=z9hG4bKabc;rport"
	via, err := header.ParseVia(in)
	if err != nil {
		t.Fatalf("header.ParseVia() error = %v, want nil", err)
	}
	via2, err := header.ParseVia(via.RenderValue())
	if err != nil {
		t.Fatalf("re-parse error = %v, want nil", err)
	}
	if !via.Equal(via2) {
		t.Errorf("round-trip mismatch: %q vs %q", via.RenderValue(), via2.RenderValue())
	}
}
