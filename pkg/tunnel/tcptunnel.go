package tunnel

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/cyfs-go/cyfscore/pkg/constants"
)

// alpnBDT is the ALPN protocol both tunnel transports negotiate.
const alpnBDT = "bdt/1"

// tunnelTLS normalizes a caller's TLS config for tunnel use: TLS 1.3
// minimum and the BDT ALPN, leaving certificate material to the caller.
func tunnelTLS(conf *tls.Config) *tls.Config {
	if conf == nil {
		conf = &tls.Config{}
	} else {
		conf = conf.Clone()
	}
	if conf.MinVersion < tls.VersionTLS13 {
		conf.MinVersion = tls.VersionTLS13
	}
	if len(conf.NextProtos) == 0 {
		conf.NextProtos = []string{alpnBDT}
	}
	return conf
}

// DialTCP opens a TLS-secured TCP tunnel to addr and returns it as a
// Sender ready for the container's TCP slot.
func DialTCP(addr string, conf *tls.Config) (*ConnSender, error) {
	dialer := &net.Dialer{Timeout: constants.TunnelConnectTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tunnelTLS(conf))
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial tcp %s: %w", addr, err)
	}
	return NewConnSender(conn, conn.RemoteAddr(), ProtoTCP), nil
}

// TCPListener accepts inbound TCP tunnels.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP starts a TLS listener for inbound TCP tunnels. The config
// must carry a certificate.
func ListenTCP(addr string, conf *tls.Config) (*TCPListener, error) {
	tlsConf := tunnelTLS(conf)
	if len(tlsConf.Certificates) == 0 && tlsConf.GetCertificate == nil {
		return nil, fmt.Errorf("tunnel: tcp listener needs a certificate")
	}
	ln, err := tls.Listen("tcp", addr, tlsConf)
	if err != nil {
		return nil, fmt.Errorf("tunnel: listen tcp %s: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks for the next inbound tunnel.
func (l *TCPListener) Accept() (*ConnSender, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConnSender(conn, conn.RemoteAddr(), ProtoTCP), nil
}

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}
