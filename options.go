package sipua

import (
	"log/slog"

	"github.com/ghettovoice/sipua/dns"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/sip"
)

// Options configure a [UserAgent].
type Options struct {
	// Transport is the transport the user agent sends and receives on.
	// If nil, a UDP transport is bound to ListenAddr.
	Transport sip.Transport
	// ListenAddr is the local address a UDP transport is bound to when
	// Transport is nil. Defaults to "0.0.0.0:5060".
	ListenAddr string
	// Timings is the SIP timing config. The zero value uses the
	// RFC 3261 defaults.
	Timings sip.TimingConfig
	// Resolver resolves non-literal SIP URI hosts without a port. If nil,
	// such a host name is used as is, on port 5060.
	Resolver *dns.Resolver
	// Logger is the logger used by the user agent and every layer under
	// it. If nil, the [log.Default] is used.
	Logger *slog.Logger
}

func (o *Options) transport() sip.Transport {
	if o == nil {
		return nil
	}
	return o.Transport
}

func (o *Options) listenAddr() string {
	if o == nil || o.ListenAddr == "" {
		return "0.0.0.0:5060"
	}
	return o.ListenAddr
}

func (o *Options) timings() sip.TimingConfig {
	if o == nil {
		return sip.TimingConfig{}
	}
	return o.Timings
}

func (o *Options) resolver() *dns.Resolver {
	if o == nil {
		return nil
	}
	return o.Resolver
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}
