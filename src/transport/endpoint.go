package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EndpointKind says how the session reaches the vehicle
type EndpointKind string

const (
	// KindUDPIn listens on a local address and answers the last sender
	KindUDPIn EndpointKind = "udpin"
	// KindUDPOut sends to a fixed remote address
	KindUDPOut EndpointKind = "udpout"
	// KindSerial talks to a telemetry radio on a serial port
	KindSerial EndpointKind = "serial"
)

// DefaultBaud is used for serial endpoints without an explicit rate
const DefaultBaud = 57600

// Endpoint is a parsed connection string
type Endpoint struct {
	Kind    EndpointKind
	Address string
	Baud    int
}

func (e Endpoint) String() string {
	if e.Kind == KindSerial {
		return fmt.Sprintf("%s:%s:%d", e.Kind, e.Address, e.Baud)
	}
	return string(e.Kind) + ":" + e.Address
}

// ParseEndpoint understands the connection strings used by ground stations:
//
//	udpin:0.0.0.0:14550   udp:0.0.0.0:14550   127.0.0.1:14550
//	udpout:10.0.0.2:14550
//	serial:/dev/ttyUSB0:57600
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}

	kind, rest := KindUDPIn, s
	if i := strings.Index(s, ":"); i > 0 {
		switch strings.ToLower(s[:i]) {
		case "udpin", "udp":
			rest = s[i+1:]
		case "udpout":
			kind, rest = KindUDPOut, s[i+1:]
		case "serial":
			return parseSerial(s[i+1:])
		}
	}

	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint %q: invalid port %q", s, port)
	}
	if kind == KindUDPOut && host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: udpout needs a host", s)
	}
	return Endpoint{Kind: kind, Address: net.JoinHostPort(host, port)}, nil
}

func parseSerial(rest string) (Endpoint, error) {
	ep := Endpoint{Kind: KindSerial, Address: rest, Baud: DefaultBaud}
	if i := strings.LastIndex(rest, ":"); i > 0 {
		if baud, err := strconv.Atoi(rest[i+1:]); err == nil {
			if baud <= 0 {
				return Endpoint{}, fmt.Errorf("endpoint serial:%s: invalid baud rate", rest)
			}
			ep.Address, ep.Baud = rest[:i], baud
		}
	}
	if ep.Address == "" {
		return Endpoint{}, fmt.Errorf("endpoint serial:%s: missing device", rest)
	}
	return ep, nil
}
