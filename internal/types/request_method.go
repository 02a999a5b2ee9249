package types

import (
	"github.com/ghettovoice/sipua/internal/syntax"
	"github.com/ghettovoice/sipua/internal/util"
)

const (
	RequestMethodAck      RequestMethod = "ACK"
	RequestMethodBye      RequestMethod = "BYE"
	RequestMethodCancel   RequestMethod = "CANCEL"
	RequestMethodInfo     RequestMethod = "INFO"
	RequestMethodInvite   RequestMethod = "INVITE"
	RequestMethodMessage  RequestMethod = "MESSAGE"
	RequestMethodNotify   RequestMethod = "NOTIFY"
	RequestMethodOptions  RequestMethod = "OPTIONS"
	RequestMethodRefer    RequestMethod = "REFER"
	RequestMethodRegister RequestMethod = "REGISTER"
	RequestMethodUpdate   RequestMethod = "UPDATE"
)

type RequestMethod string

func (m RequestMethod) ToUpper() RequestMethod { return util.UCase(m) }

func (m RequestMethod) IsValid() bool { return syntax.IsToken(m) }

func (m RequestMethod) Equal(val any) bool {
	var other RequestMethod
	switch v := val.(type) {
	case RequestMethod:
		other = v
	case *RequestMethod:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return util.EqFold(m, other)
}

var knownMethods = map[RequestMethod]bool{
	RequestMethodAck:      true,
	RequestMethodBye:      true,
	RequestMethodCancel:   true,
	RequestMethodInfo:     true,
	RequestMethodInvite:   true,
	RequestMethodMessage:  true,
	RequestMethodNotify:   true,
	RequestMethodOptions:  true,
	RequestMethodRefer:    true,
	RequestMethodRegister: true,
	RequestMethodUpdate:   true,
}

// IsKnownRequestMethod returns whether the method is a known SIP request method.
func IsKnownRequestMethod(method RequestMethod) bool {
	return knownMethods[method.ToUpper()]
}
