package tunnel

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
)

// ConnSender adapts a stream-shaped connection (a TLS-over-TCP tunnel,
// or a stream of the QUIC substitute) into a Sender. Sealed package
// boxes are framed with a u32 length prefix since the byte stream has no
// datagram boundaries.
type ConnSender struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	remote net.Addr
	proto  Proto
}

// NewConnSender wraps an established connection.
func NewConnSender(conn io.ReadWriteCloser, remote net.Addr, proto Proto) *ConnSender {
	return &ConnSender{conn: conn, remote: remote, proto: proto}
}

// Send writes one length-prefixed package box.
func (s *ConnSender) Send(pkg []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(pkg)))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := s.conn.Write(pkg)
	return err
}

// RemoteAddr returns the connection's remote address.
func (s *ConnSender) RemoteAddr() net.Addr {
	return s.remote
}

// Proto returns which interface family this sender rides on.
func (s *ConnSender) Proto() Proto {
	return s.proto
}

// Close closes the underlying connection.
func (s *ConnSender) Close() error {
	return s.conn.Close()
}

// ReadLoop reads length-prefixed package boxes off the connection and
// hands each to onBox until the connection errors or closes.
func (s *ConnSender) ReadLoop(onBox func(sealed []byte)) error {
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint32(hdr[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(s.conn, buf); err != nil {
			return err
		}
		onBox(buf)
	}
}

// UDPSender is the datagram-side Sender: one remote UDP tuple on the
// stack's shared socket. Package boxes map one-to-one onto datagrams.
type UDPSender struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
}

// NewUDPSender binds a remote tuple to the shared socket.
func NewUDPSender(conn *net.UDPConn, remote *net.UDPAddr) *UDPSender {
	return &UDPSender{conn: conn, remote: remote}
}

// Send transmits one package box as a single datagram.
func (s *UDPSender) Send(pkg []byte) error {
	_, err := s.conn.WriteToUDP(pkg, s.remote)
	return err
}

// RemoteAddr returns the remote UDP tuple.
func (s *UDPSender) RemoteAddr() net.Addr {
	return s.remote
}

// Proto returns ProtoUDP.
func (s *UDPSender) Proto() Proto {
	return ProtoUDP
}
