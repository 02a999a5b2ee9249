package sipua

import "github.com/ghettovoice/sipua/sip"

// EventType classifies the events a [UserAgent] publishes.
type EventType string

const (
	// EventNewRequest is published for an inbound request that opened a
	// new server transaction and awaits an answer.
	EventNewRequest EventType = "new_request"
	// EventResponseReceived is published for every response delivered to
	// a client transaction.
	EventResponseReceived EventType = "response_received"
	// EventDialogTerminated is published when a dialog is torn down.
	EventDialogTerminated EventType = "dialog_terminated"
	// EventTransactionTimeout is published when a client transaction
	// gives up waiting for a final response.
	EventTransactionTimeout EventType = "transaction_timeout"
)

// Event is one entry of the user agent event stream.
type Event struct {
	Type EventType
	// Request is set for [EventNewRequest].
	Request *sip.InboundRequest
	// Transaction is the server transaction awaiting an answer, set for
	// [EventNewRequest].
	Transaction sip.ServerTransaction
	// Response is set for [EventResponseReceived].
	Response *sip.InboundResponse
	// DialogID is set for [EventDialogTerminated].
	DialogID string
	// Err carries the failure of [EventTransactionTimeout] and, when
	// present, of [EventDialogTerminated].
	Err error
}

// EventHandler consumes user agent events.
type EventHandler = func(evt Event)
