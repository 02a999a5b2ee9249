package dns

import (
	"context"
	"net"
	"strings"

	"braces.dev/errtrace"
)

// Target is a resolved transport destination.
type Target struct {
	// Transport is the selected transport protocol, "UDP" or "TCP".
	Transport string
	// Host is the resolved address or host name.
	Host string
	// Port is the selected port.
	Port uint16
}

// naptrServices maps RFC 3263 NAPTR service fields to transports.
var naptrServices = map[string]string{
	"SIP+D2U": "UDP",
	"SIP+D2T": "TCP",
}

// srvServices maps transports to their SRV service labels.
var srvServices = map[string]string{
	"UDP": "sip._udp",
	"TCP": "sip._tcp",
}

// ResolveTarget resolves a SIP host into a transport destination per
// RFC 3263: a numeric host or an explicit port short-circuits the
// lookup chain; otherwise NAPTR selects the transport, SRV the host
// and port, with a plain address lookup as the last step.
func (r *Resolver) ResolveTarget(ctx context.Context, host string, port uint16, transport string) (Target, error) {
	if transport == "" {
		transport = "UDP"
	}

	if net.ParseIP(host) != nil || port != 0 {
		if port == 0 {
			port = 5060
		}
		return Target{Transport: transport, Host: host, Port: port}, nil
	}

	if tgt, ok := r.resolveNAPTR(ctx, host); ok {
		return tgt, nil
	}
	if tgt, ok := r.resolveSRV(ctx, host, transport); ok {
		return tgt, nil
	}

	ips, err := r.LookupIP(ctx, "ip", host)
	if err != nil {
		return Target{}, errtrace.Wrap(err)
	}
	return Target{Transport: transport, Host: ips[0].String(), Port: 5060}, nil
}

func (r *Resolver) resolveNAPTR(ctx context.Context, host string) (Target, bool) {
	recs, err := r.LookupNAPTR(ctx, host)
	if err != nil {
		return Target{}, false
	}
	for _, rec := range recs {
		transport, ok := naptrServices[strings.ToUpper(rec.Service)]
		if !ok || !strings.EqualFold(rec.Flags, "s") || rec.Replacement == "" {
			continue
		}
		if tgt, ok := r.resolveSRVName(ctx, rec.Replacement, transport); ok {
			return tgt, true
		}
	}
	return Target{}, false
}

func (r *Resolver) resolveSRV(ctx context.Context, host, transport string) (Target, bool) {
	service, ok := srvServices[strings.ToUpper(transport)]
	if !ok {
		return Target{}, false
	}
	return r.resolveSRVName(ctx, service+"."+host, transport)
}

func (r *Resolver) resolveSRVName(ctx context.Context, name, transport string) (Target, bool) {
	_, srvs, err := r.Resolver.LookupSRV(ctx, "", "", strings.TrimSuffix(name, "."))
	if err != nil || len(srvs) == 0 {
		return Target{}, false
	}
	srv := srvs[0]
	return Target{
		Transport: transport,
		Host:      strings.TrimSuffix(srv.Target, "."),
		Port:      srv.Port,
	}, true
}
