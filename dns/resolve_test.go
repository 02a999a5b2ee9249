package dns_test

import (
	"testing"

	"github.com/ghettovoice/sipua/dns"
)

// Literal hosts and explicit ports short-circuit the lookup chain and
// never touch the network.
func TestResolveTargetShortCircuit(t *testing.T) {
	t.Parallel()

	r := &dns.Resolver{}

	tgt, err := r.ResolveTarget(t.Context(), "192.0.2.5", 0, "")
	if err != nil {
		t.Fatalf("ResolveTarget() error = %v, want nil", err)
	}
	if tgt.Host != "192.0.2.5" || tgt.Port != 5060 || tgt.Transport != "UDP" {
		t.Errorf("target = %+v", tgt)
	}

	tgt, err = r.ResolveTarget(t.Context(), "proxy.example", 5080, "TCP")
	if err != nil {
		t.Fatalf("ResolveTarget() error = %v, want nil", err)
	}
	if tgt.Host != "proxy.example" || tgt.Port != 5080 || tgt.Transport != "TCP" {
		t.Errorf("target = %+v", tgt)
	}
}
