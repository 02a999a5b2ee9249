// Package sip implements the client-side SIP protocol core described in
// RFC 3261: the message codec, the transaction layer, the dialog layer
// and Digest authentication.
package sip

import (
	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/internal/util"
)

// Proto20 is the SIP/2.0 protocol version.
var Proto20 = ProtoInfo{Name: "SIP", Version: "2.0"}

// MagicCookie marks an RFC 3261 compliant branch parameter.
const MagicCookie = header.MagicCookie

// Addr represents a network address consisting of a host and optional port.
type Addr = types.Addr

// Host creates an Addr from a hostname without a port.
func Host(host string) Addr { return types.Host(host) }

// HostPort creates an Addr from a hostname and port.
func HostPort(host string, port uint16) Addr { return types.HostPort(host, port) }

// Values represents parameters as a multi-value map.
type Values = types.Values

// ProtoInfo represents SIP protocol information (name and version).
type ProtoInfo = types.ProtoInfo

// RenderOptions contains options for rendering messages, headers and URIs.
type RenderOptions = types.RenderOptions

// TransportProto represents a transport protocol (UDP, TCP).
type TransportProto = types.TransportProto

// Transport protocol constants.
const (
	TransportProtoUDP = types.TransportProtoUDP
	TransportProtoTCP = types.TransportProtoTCP
)

// RequestMethod represents a SIP request method.
type RequestMethod = types.RequestMethod

// Request method constants.
const (
	RequestMethodAck      = types.RequestMethodAck
	RequestMethodBye      = types.RequestMethodBye
	RequestMethodCancel   = types.RequestMethodCancel
	RequestMethodInfo     = types.RequestMethodInfo
	RequestMethodInvite   = types.RequestMethodInvite
	RequestMethodMessage  = types.RequestMethodMessage
	RequestMethodNotify   = types.RequestMethodNotify
	RequestMethodOptions  = types.RequestMethodOptions
	RequestMethodRefer    = types.RequestMethodRefer
	RequestMethodRegister = types.RequestMethodRegister
	RequestMethodUpdate   = types.RequestMethodUpdate
)

// IsKnownRequestMethod returns whether the method is a known SIP request method.
func IsKnownRequestMethod(method RequestMethod) bool {
	return types.IsKnownRequestMethod(method)
}

// ResponseStatus represents a SIP response status code.
type ResponseStatus = types.ResponseStatus

// ResponseReason represents a SIP response reason phrase.
type ResponseReason = types.ResponseReason

// Response status constants.
const (
	ResponseStatusTrying          = types.ResponseStatusTrying
	ResponseStatusRinging         = types.ResponseStatusRinging
	ResponseStatusSessionProgress = types.ResponseStatusSessionProgress

	ResponseStatusOK       = types.ResponseStatusOK
	ResponseStatusAccepted = types.ResponseStatusAccepted

	ResponseStatusMovedPermanently = types.ResponseStatusMovedPermanently
	ResponseStatusMovedTemporarily = types.ResponseStatusMovedTemporarily

	ResponseStatusBadRequest                  = types.ResponseStatusBadRequest
	ResponseStatusUnauthorized                = types.ResponseStatusUnauthorized
	ResponseStatusForbidden                   = types.ResponseStatusForbidden
	ResponseStatusNotFound                    = types.ResponseStatusNotFound
	ResponseStatusMethodNotAllowed            = types.ResponseStatusMethodNotAllowed
	ResponseStatusProxyAuthenticationRequired = types.ResponseStatusProxyAuthenticationRequired
	ResponseStatusRequestTimeout              = types.ResponseStatusRequestTimeout
	ResponseStatusUnsupportedMediaType        = types.ResponseStatusUnsupportedMediaType
	ResponseStatusTemporarilyUnavailable      = types.ResponseStatusTemporarilyUnavailable
	ResponseStatusCallTransactionDoesNotExist = types.ResponseStatusCallTransactionDoesNotExist
	ResponseStatusLoopDetected                = types.ResponseStatusLoopDetected
	ResponseStatusTooManyHops                 = types.ResponseStatusTooManyHops
	ResponseStatusBusyHere                    = types.ResponseStatusBusyHere
	ResponseStatusRequestTerminated           = types.ResponseStatusRequestTerminated
	ResponseStatusNotAcceptableHere           = types.ResponseStatusNotAcceptableHere
	ResponseStatusRequestPending              = types.ResponseStatusRequestPending

	ResponseStatusServerInternalError = types.ResponseStatusServerInternalError
	ResponseStatusNotImplemented      = types.ResponseStatusNotImplemented
	ResponseStatusBadGateway          = types.ResponseStatusBadGateway
	ResponseStatusServiceUnavailable  = types.ResponseStatusServiceUnavailable
	ResponseStatusGatewayTimeout      = types.ResponseStatusGatewayTimeout
	ResponseStatusVersionNotSupported = types.ResponseStatusVersionNotSupported

	ResponseStatusBusyEverywhere       = types.ResponseStatusBusyEverywhere
	ResponseStatusDecline              = types.ResponseStatusDecline
	ResponseStatusDoesNotExistAnywhere = types.ResponseStatusDoesNotExistAnywhere
)

// GenerateBranch returns a branch parameter unique within the user agent:
// the RFC 3261 magic cookie followed by 16 random hex characters.
func GenerateBranch() string {
	return MagicCookie + util.RandHexString(16)
}

// GenerateTag returns a new From/To tag of 8 random hex characters.
func GenerateTag() string {
	return util.RandHexString(8)
}

// GenerateCallID returns a new Call-ID of 32 random hex characters
// qualified with the local host name.
func GenerateCallID(host string) string {
	id := util.RandHexString(32)
	if host == "" {
		return id
	}
	return id + "@" + host
}
