package tunnel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/cyfs-go/cyfscore/pkg/constants"
)

// The QUIC substitute: a tunnel that fills a container's TCP slot but
// rides QUIC instead, for paths where raw UDP works and a TCP handshake
// would be slower. One bidirectional stream per tunnel.

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  constants.TunnelMaxIdle,
		KeepAlivePeriod: constants.TunnelKeepAlive,
	}
}

// DialQUIC opens a QUIC tunnel to addr and returns its stream as a
// Sender.
func DialQUIC(ctx context.Context, addr string, conf *tls.Config) (*ConnSender, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.TunnelConnectTimeout)
	defer cancel()
	conn, err := quic.DialAddr(ctx, addr, tunnelTLS(conf), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial quic %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("tunnel: open quic stream: %w", err)
	}
	return NewConnSender(&quicStream{conn: conn, stream: stream}, conn.RemoteAddr(), ProtoQUIC), nil
}

// QUICListener accepts inbound QUIC tunnels.
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC starts a QUIC listener. An empty addr binds the default
// QUIC port on all interfaces.
func ListenQUIC(addr string, conf *tls.Config) (*QUICListener, error) {
	if addr == "" {
		addr = fmt.Sprintf(":%d", constants.DefaultQUICPort)
	}
	tlsConf := tunnelTLS(conf)
	if len(tlsConf.Certificates) == 0 && tlsConf.GetCertificate == nil {
		return nil, fmt.Errorf("tunnel: quic listener needs a certificate")
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("tunnel: listen quic %s: %w", addr, err)
	}
	return &QUICListener{ln: ln}, nil
}

// Accept blocks for the next inbound tunnel, taking its first stream.
func (l *QUICListener) Accept(ctx context.Context) (*ConnSender, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "accept stream failed")
		return nil, err
	}
	return NewConnSender(&quicStream{conn: conn, stream: stream}, conn.RemoteAddr(), ProtoQUIC), nil
}

// Addr returns the bound address.
func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting.
func (l *QUICListener) Close() error {
	return l.ln.Close()
}

// quicStream pairs a stream with its connection so closing the tunnel
// closes both.
type quicStream struct {
	conn   *quic.Conn
	stream *quic.Stream
}

func (q *quicStream) Read(p []byte) (int, error)  { return q.stream.Read(p) }
func (q *quicStream) Write(p []byte) (int, error) { return q.stream.Write(p) }

func (q *quicStream) Close() error {
	err := q.stream.Close()
	if cerr := q.conn.CloseWithError(0, "tunnel closed"); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
