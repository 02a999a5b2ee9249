package sip_test

import (
	"testing"

	"github.com/ghettovoice/sipua/sip"
)

func TestFlowRecorder(t *testing.T) {
	t.Parallel()

	fr := sip.NewFlowRecorder()
	req := newOutReq(t, sip.RequestMethodInvite, "z9hG4bK.flow1")

	fr.OnSend(req.Request, req.Peer)

	res := newInRes(t, req, sip.ResponseStatusOK, "peertag")
	fr.OnRecv(res.Response, res.Peer)

	entries := fr.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	out := entries[0]
	if out.Direction != sip.FlowOutbound || out.Method != sip.RequestMethodInvite {
		t.Errorf("first entry = %+v", out)
	}
	if out.TransactionID == "" {
		t.Error("outbound entry misses transaction id")
	}
	if out.DialogID != "" {
		t.Error("request without To tag should not carry a dialog id")
	}

	in := entries[1]
	if in.Direction != sip.FlowInbound || in.Status != sip.ResponseStatusOK {
		t.Errorf("second entry = %+v", in)
	}
	if in.DialogID == "" {
		t.Error("tagged response should carry a dialog id")
	}
	if in.Peer != testPeer {
		t.Errorf("peer = %v, want %v", in.Peer, testPeer)
	}

	// the snapshot is detached from the recorder
	entries[0].DialogID = "mutated"
	if fr.Entries()[0].DialogID == "mutated" {
		t.Error("Entries() exposes internal state")
	}
}

func TestFlowRecorderDialogSides(t *testing.T) {
	t.Parallel()

	fr := sip.NewFlowRecorder()

	// outbound request and inbound response of the same dialog index
	// under the same id
	req := newOutReq(t, sip.RequestMethodBye, "z9hG4bK.flow2")
	to, _ := req.Request.Headers.To()
	to.SetTag("remotetag")
	fr.OnSend(req.Request, req.Peer)

	res := newInRes(t, req, sip.ResponseStatusOK, "remotetag")
	fr.OnRecv(res.Response, res.Peer)

	entries := fr.Entries()
	if entries[0].DialogID == "" || entries[0].DialogID != entries[1].DialogID {
		t.Errorf("dialog ids differ: %q vs %q", entries[0].DialogID, entries[1].DialogID)
	}
}
