package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
)

// Addr represents a network address consisting of a host and optional port.
// The zero port means the port is absent.
type Addr struct {
	Host string `json:"host"`
	Port uint16 `json:"port,omitempty"`
}

// Host creates an Addr from a hostname without a port.
func Host(host string) Addr { return Addr{Host: host} }

// HostPort creates an Addr from a hostname and port.
func HostPort(host string, port uint16) Addr { return Addr{Host: host, Port: port} }

// ParseAddr parses a network address from the given input.
func ParseAddr[T ~string | ~[]byte](s T) (Addr, error) {
	str := string(s)
	if str == "" {
		return Addr{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty address"))
	}

	host, portStr, err := net.SplitHostPort(str)
	if err != nil {
		// no port part
		return Addr{Host: strings.Trim(str, "[]")}, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid port %q", portStr))
	}
	return Addr{Host: host, Port: uint16(port)}, nil
}

func (a Addr) String() string {
	if a.Port == 0 {
		return a.Host
	}
	return net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

func (a Addr) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, a.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(a.String()))
		return
	default:
		if !f.Flag('+') && !f.Flag('#') {
			fmt.Fprint(f, a.String())
			return
		}

		type hideMethods Addr
		type Addr hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), Addr(a))
		return
	}
}

func (a Addr) IsZero() bool { return a.Host == "" && a.Port == 0 }

func (a Addr) IsValid() bool { return a.Host != "" }

func (a Addr) Equal(val any) bool {
	var other Addr
	switch v := val.(type) {
	case Addr:
		other = v
	case *Addr:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return strings.EqualFold(a.Host, other.Host) && a.Port == other.Port
}
