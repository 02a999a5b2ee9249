package sip

import "github.com/ghettovoice/sipua/internal/errorutil"

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// Common errors.
const (
	ErrInvalidArgument = errorutil.ErrInvalidArgument
)

// Message errors.
const (
	ErrInvalidMessage    Error = "invalid message"
	ErrMessageTooLarge   Error = "message too large"
	ErrMethodNotAllowed  Error = "request method not allowed"
	ErrMessageNotMatched Error = "message not matched"
	// ErrProtocolViolation is returned when a message is well-formed but
	// violates the protocol: a mandatory header is missing or the CSeq
	// method disagrees with the request method.
	ErrProtocolViolation Error = "protocol violation"
)

// Transaction errors.
const (
	ErrTransactionNotFound   Error = "transaction not found"
	ErrTransactionNotMatched Error = "transaction not matched"
	ErrTransactionExists     Error = "transaction already exists"
	ErrTransactionTimedOut   Error = "transaction timed out"
	// ErrNoAck is returned when an INVITE server transaction gives up
	// waiting for the ACK of its final response.
	ErrNoAck Error = "no ACK received"
)

// Transport errors.
const (
	ErrTransportClosed Error = "transport closed"
	// ErrTransportLost is returned to transactions bound to a transport
	// that was closed underneath them.
	ErrTransportLost Error = "transport lost"
)

// Authentication errors.
const (
	// ErrNoCredential is returned when no credential is registered for
	// the challenged realm.
	ErrNoCredential Error = "no credential for realm"
	// ErrAuthRequired is surfaced to the caller when a request was
	// challenged and no credential could answer it.
	ErrAuthRequired Error = "authentication required"
	// ErrAuthFailed is surfaced when a retried request is challenged
	// again with the same nonce.
	ErrAuthFailed Error = "authentication failed"
	// ErrUnsupportedChallenge is returned for non-Digest or non-MD5
	// challenges.
	ErrUnsupportedChallenge Error = "unsupported challenge"
)

// Dialog errors.
const (
	ErrDialogNotFound Error = "dialog not found"
	// ErrDialogGone is returned when the peer answered an in-dialog
	// request with 481, or when an in-dialog request is built for a
	// dialog without a remote target.
	ErrDialogGone Error = "dialog gone"
)

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps the provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}
