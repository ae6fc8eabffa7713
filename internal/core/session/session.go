package session

import (
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wordquizzle/wordquizzle/internal/protocol"
)

// Session represents one client connected to the game server over TCP. It
// lives from accept until disconnect and all of the client's non-challenge
// requests flow through it.
type Session struct {
	connection *net.TCPConn
	id         string
	ipAddr     string
	port       string

	// Username bound by a successful login on this connection, if any.
	Username string
}

func New(connection *net.TCPConn) *Session {
	addr := strings.Split(connection.RemoteAddr().String(), ":")

	return &Session{
		connection: connection,
		id:         uuid.NewString(),
		ipAddr:     addr[0],
		port:       addr[1],
	}
}

// ID returns an identifier unique to this connection, used for log correlation.
func (s *Session) ID() string { return s.id }

func (s *Session) IPAddr() string { return s.ipAddr }
func (s *Session) Port() string   { return s.port }

// IP returns the remote address of the connection as a net.IP.
func (s *Session) IP() net.IP {
	return net.ParseIP(s.ipAddr)
}

// Read consumes the available bytes directly from the client's TCP connection.
func (s *Session) Read(b []byte) (int, error) {
	return s.connection.Read(b)
}

// SetReadDeadline bounds future Read calls; the zero time clears the bound.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.connection.SetReadDeadline(t)
}

// SendFrame writes a response to the client framed as a 4-byte big-endian
// length followed by the payload.
func (s *Session) SendFrame(payload []byte) error {
	return protocol.WriteFrame(s.connection, payload)
}

// Close the TCP connection.
func (s *Session) Close() error {
	return s.connection.Close()
}
