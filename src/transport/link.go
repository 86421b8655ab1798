package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/tarm/serial"
)

// errLinkTimeout is returned by link.read when the deadline passes with no data
var errLinkTimeout = errors.New("link read timeout")

// serialPoll bounds a single blocking read on a serial port
const serialPoll = 100 * time.Millisecond

// link is the byte pipe under a Session
type link interface {
	// read fills p or returns errLinkTimeout once deadline has passed
	read(p []byte, deadline time.Time) (int, error)
	write(p []byte) error
	// datagram reports whether every read returns whole packets
	datagram() bool
	io.Closer
}

func dial(ep Endpoint) (link, error) {
	switch ep.Kind {
	case KindUDPIn:
		addr, err := net.ResolveUDPAddr("udp", ep.Address)
		if err != nil {
			return nil, err
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return nil, err
		}
		return &udpInLink{conn: conn}, nil
	case KindUDPOut:
		addr, err := net.ResolveUDPAddr("udp", ep.Address)
		if err != nil {
			return nil, err
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			return nil, err
		}
		return &udpOutLink{conn: conn}, nil
	case KindSerial:
		port, err := serial.OpenPort(&serial.Config{Name: ep.Address, Baud: ep.Baud, ReadTimeout: serialPoll})
		if err != nil {
			return nil, err
		}
		return &serialLink{port: port}, nil
	}
	return nil, fmt.Errorf("unsupported endpoint kind %q", ep.Kind)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// udpInLink listens and replies to whoever spoke last
type udpInLink struct {
	conn *net.UDPConn
	mu   sync.Mutex
	peer *net.UDPAddr
}

func (l *udpInLink) read(p []byte, deadline time.Time) (int, error) {
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, addr, err := l.conn.ReadFromUDP(p)
	if err != nil {
		if isTimeout(err) {
			return 0, errLinkTimeout
		}
		return 0, err
	}
	l.mu.Lock()
	l.peer = addr
	l.mu.Unlock()
	return n, nil
}

func (l *udpInLink) write(p []byte) error {
	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()
	if peer == nil {
		return errors.New("no peer has sent anything yet")
	}
	_, err := l.conn.WriteToUDP(p, peer)
	return err
}

func (l *udpInLink) datagram() bool { return true }
func (l *udpInLink) Close() error   { return l.conn.Close() }

type udpOutLink struct {
	conn *net.UDPConn
}

func (l *udpOutLink) read(p []byte, deadline time.Time) (int, error) {
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	for {
		n, err := l.conn.Read(p)
		switch {
		case err == nil:
			return n, nil
		case isTimeout(err):
			return 0, errLinkTimeout
		case errors.Is(err, syscall.ECONNREFUSED):
			// nothing listening on the far side yet; keep waiting
			if !time.Now().Before(deadline) {
				return 0, errLinkTimeout
			}
			continue
		default:
			return 0, err
		}
	}
}

func (l *udpOutLink) write(p []byte) error {
	_, err := l.conn.Write(p)
	return err
}

func (l *udpOutLink) datagram() bool { return true }
func (l *udpOutLink) Close() error   { return l.conn.Close() }

// serialLink polls the port because tarm/serial has no per-call deadline
type serialLink struct {
	port *serial.Port
}

func (l *serialLink) read(p []byte, deadline time.Time) (int, error) {
	for {
		n, err := l.port.Read(p)
		if n > 0 {
			return n, nil
		}
		// an expired VTIME read surfaces as io.EOF
		if err != nil && err != io.EOF {
			return 0, err
		}
		if !time.Now().Before(deadline) {
			return 0, errLinkTimeout
		}
	}
}

func (l *serialLink) write(p []byte) error {
	_, err := l.port.Write(p)
	return err
}

func (l *serialLink) datagram() bool { return false }
func (l *serialLink) Close() error   { return l.port.Close() }
