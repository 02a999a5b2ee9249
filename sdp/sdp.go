// Package sdp implements a minimal SDP (RFC 4566) session description
// builder and parser, enough to carry audio offers and answers in SIP
// message bodies. Media transport itself is out of scope.
package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
)

// ContentType is the MIME type of an SDP body.
const ContentType = "application/sdp"

// Codec describes one RTP payload mapping.
type Codec struct {
	Payload uint8
	Name    string
	Rate    uint32
}

// Common audio codecs.
var (
	PCMU = Codec{Payload: 0, Name: "PCMU", Rate: 8000}
	PCMA = Codec{Payload: 8, Name: "PCMA", Rate: 8000}
)

// Media is one media description line with its attributes.
type Media struct {
	Type   string
	Port   uint16
	Proto  string
	Codecs []Codec
}

// Session is a session description.
type Session struct {
	Origin    string
	SessionID string
	Name      string
	Address   string
	Media     []Media
}

// NewAudioOffer builds a session description offering the given audio
// codecs on addr:port over RTP/AVP.
func NewAudioOffer(sessionID, addr string, port uint16, codecs ...Codec) *Session {
	if len(codecs) == 0 {
		codecs = []Codec{PCMU, PCMA}
	}
	return &Session{
		Origin:    "-",
		SessionID: sessionID,
		Name:      "-",
		Address:   addr,
		Media: []Media{{
			Type:   "audio",
			Port:   port,
			Proto:  "RTP/AVP",
			Codecs: codecs,
		}},
	}
}

// Render returns the session description in wire form.
func (s *Session) Render() []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "v=0\r\n")
	fmt.Fprintf(&sb, "o=%s %s %s IN IP4 %s\r\n", s.Origin, s.SessionID, s.SessionID, s.Address)
	fmt.Fprintf(&sb, "s=%s\r\n", s.Name)
	fmt.Fprintf(&sb, "c=IN IP4 %s\r\n", s.Address)
	fmt.Fprintf(&sb, "t=0 0\r\n")
	for _, m := range s.Media {
		payloads := make([]string, len(m.Codecs))
		for i, c := range m.Codecs {
			payloads[i] = strconv.Itoa(int(c.Payload))
		}
		fmt.Fprintf(&sb, "m=%s %d %s %s\r\n", m.Type, m.Port, m.Proto, strings.Join(payloads, " "))
		for _, c := range m.Codecs {
			fmt.Fprintf(&sb, "a=rtpmap:%d %s/%d\r\n", c.Payload, c.Name, c.Rate)
		}
	}
	return []byte(sb.String())
}

// Parse parses a session description, keeping the fields the builder
// emits and skipping unknown lines.
func Parse(data []byte) (*Session, error) {
	s := new(Session)
	var curMedia *Media

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if len(line) < 2 || line[1] != '=' {
			return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed SDP line %q", line))
		}

		value := line[2:]
		switch line[0] {
		case 'o':
			fields := strings.Fields(value)
			if len(fields) >= 6 {
				s.Origin = fields[0]
				s.SessionID = fields[1]
				s.Address = fields[5]
			}
		case 's':
			s.Name = value
		case 'c':
			fields := strings.Fields(value)
			if len(fields) == 3 {
				s.Address = fields[2]
			}
		case 'm':
			fields := strings.Fields(value)
			if len(fields) < 3 {
				return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed media line %q", line))
			}
			port, err := strconv.ParseUint(fields[1], 10, 16)
			if err != nil {
				return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid media port %q", fields[1]))
			}
			s.Media = append(s.Media, Media{
				Type:  fields[0],
				Port:  uint16(port),
				Proto: fields[2],
			})
			curMedia = &s.Media[len(s.Media)-1]
		case 'a':
			if curMedia == nil || !strings.HasPrefix(value, "rtpmap:") {
				continue
			}
			var c Codec
			var rate uint32
			if _, err := fmt.Sscanf(value, "rtpmap:%d %s", &c.Payload, &c.Name); err != nil {
				continue
			}
			if name, rateStr, ok := strings.Cut(c.Name, "/"); ok {
				c.Name = name
				if r, err := strconv.ParseUint(strings.SplitN(rateStr, "/", 2)[0], 10, 32); err == nil {
					rate = uint32(r)
				}
			}
			c.Rate = rate
			curMedia.Codecs = append(curMedia.Codecs, c)
		}
	}

	if len(s.Media) == 0 {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("session without media"))
	}
	return s, nil
}
