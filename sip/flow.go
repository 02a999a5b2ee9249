package sip

import (
	"sync"
	"time"
)

// FlowDirection marks which way a message crossed the transport.
type FlowDirection string

const (
	FlowOutbound FlowDirection = "outbound"
	FlowInbound  FlowDirection = "inbound"
)

// FlowEntry is one observed signalling event.
type FlowEntry struct {
	Time      time.Time     `json:"time"`
	Direction FlowDirection `json:"direction"`
	Peer      Addr          `json:"peer"`
	// Method is the request method, empty for responses.
	Method RequestMethod `json:"method,omitempty"`
	// Status is the response status, zero for requests.
	Status ResponseStatus `json:"status,omitempty"`
	// TransactionID identifies the transaction the message belongs to.
	TransactionID string `json:"transaction_id,omitempty"`
	// DialogID identifies the dialog the message belongs to, when one
	// can be derived from its tags.
	DialogID string `json:"dialog_id,omitempty"`
}

// FlowRecorder passively observes the messages crossing the user agent
// and keeps them as an append-only sequence for external rendering of
// ladder diagrams. It never blocks the transaction layer and never
// mutates messages.
type FlowRecorder struct {
	mu      sync.Mutex
	entries []FlowEntry
}

// NewFlowRecorder creates an empty [FlowRecorder].
func NewFlowRecorder() *FlowRecorder { return &FlowRecorder{} }

// OnSend records an outbound message.
func (fr *FlowRecorder) OnSend(msg Message, peer Addr) {
	if fr == nil {
		return
	}
	fr.append(flowEntry(msg, peer, FlowOutbound, true))
}

// OnRecv records an inbound message.
func (fr *FlowRecorder) OnRecv(msg Message, peer Addr) {
	if fr == nil {
		return
	}
	fr.append(flowEntry(msg, peer, FlowInbound, false))
}

func (fr *FlowRecorder) append(entry FlowEntry) {
	fr.mu.Lock()
	fr.entries = append(fr.entries, entry)
	fr.mu.Unlock()
}

// Entries returns a snapshot of the recorded sequence.
func (fr *FlowRecorder) Entries() []FlowEntry {
	if fr == nil {
		return nil
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	out := make([]FlowEntry, len(fr.entries))
	copy(out, fr.entries)
	return out
}

// Len returns the number of recorded entries.
func (fr *FlowRecorder) Len() int {
	if fr == nil {
		return 0
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.entries)
}

func flowEntry(msg Message, peer Addr, dir FlowDirection, outbound bool) FlowEntry {
	entry := FlowEntry{
		Time:      time.Now(),
		Direction: dir,
		Peer:      peer,
	}

	hdrs := msg.GetHeaders()
	switch m := msg.(type) {
	case *Request:
		entry.Method = m.Method
	case *Response:
		entry.Status = m.Status
	}

	var txKey ClientTransactionKey
	if txKey.FillFromMessage(hdrs) == nil {
		entry.TransactionID = txKey.String()
	}

	// index by dialog id when both tags are present; the local side is
	// From for outbound requests and inbound responses
	from, _ := hdrs.From()
	to, _ := hdrs.To()
	callID, _ := hdrs.CallID()
	if from == nil || to == nil || callID == "" {
		return entry
	}
	fromTag, _ := from.Tag()
	toTag, _ := to.Tag()
	if fromTag == "" || toTag == "" {
		return entry
	}

	_, isReq := msg.(*Request)
	localIsFrom := outbound == isReq
	key := DialogKey{CallID: string(callID), LocalTag: fromTag, RemoteTag: toTag}
	if !localIsFrom {
		key.LocalTag, key.RemoteTag = toTag, fromTag
	}
	entry.DialogID = key.String()
	return entry
}
