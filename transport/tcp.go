package transport

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/obslog"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// TCPConfig configures a TCP Modbus transport.
type TCPConfig struct {
	Host string
	Port int

	// DialTimeout bounds Open(); zero means the OS default.
	DialTimeout time.Duration

	// FastFail, when set, overrides DialTimeout and every subsequent
	// ReceiveFrame timeout with an aggressive ceiling, for the prober's
	// combinatorial scan (spec §4.2, "fast-fail (prober) configuration").
	FastFail time.Duration

	Log *obslog.Logger
}

// TCPTransport is a Transport over a plain TCP socket, framing with MBAP.
type TCPTransport struct {
	eventPublisher

	conf TCPConfig
	log  *obslog.Logger
	conn net.Conn

	// dialAddr is cached Host:Port.
	dialAddr string
}

// NewTCP returns a new, unopened TCP transport.
func NewTCP(conf TCPConfig) *TCPTransport {
	if conf.Log == nil {
		conf.Log = obslog.Nop()
	}
	return &TCPTransport{
		eventPublisher: newEventPublisher(),
		conf:           conf,
		log:            conf.Log,
		dialAddr:       net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
	}
}

// NewTCPFromConn wraps an already-accepted server-side connection (one
// returned by net.Listener.Accept) in a Transport, for the mock server and
// bridge upstream listener, which dial out to nobody — they serve a
// connection handed to them (spec §4.5 "Listener").
func NewTCPFromConn(conn net.Conn, conf TCPConfig) *TCPTransport {
	if conf.Log == nil {
		conf.Log = obslog.Nop()
	}
	return &TCPTransport{
		eventPublisher: newEventPublisher(),
		conf:           conf,
		log:            conf.Log,
		conn:           conn,
	}
}

func (t *TCPTransport) Kind() Kind { return KindTCP }

func (t *TCPTransport) Open() error {
	if t.conn != nil {
		// already connected (accepted server-side via NewTCPFromConn)
		return nil
	}

	timeout := t.conf.DialTimeout
	if t.conf.FastFail > 0 {
		timeout = t.conf.FastFail
	}

	var err error
	if timeout > 0 {
		t.conn, err = net.DialTimeout("tcp", t.dialAddr, timeout)
	} else {
		t.conn, err = net.Dial("tcp", t.dialAddr)
	}
	if err != nil {
		t.publish(EventError, err)
		return umdterr.Transport(err)
	}

	t.publish(EventOpened, nil)
	return nil
}

func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.publish(EventClosed, err)
	return err
}

func (t *TCPTransport) effectiveTimeout(requested time.Duration) time.Duration {
	if t.conf.FastFail > 0 {
		return t.conf.FastFail
	}
	return requested
}

// Send writes a raw MBAP frame (already assembled by the caller with a
// transaction id) to the socket.
func (t *TCPTransport) Send(buf []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.effectiveTimeout(30 * time.Second))); err != nil {
		return umdterr.Transport(err)
	}
	if _, err := t.conn.Write(buf); err != nil {
		t.publish(EventError, err)
		return umdterr.Transport(err)
	}
	return nil
}

// ReceiveFrame reads one MBAP header plus body, bounding the total wait by
// timeout (or FastFail, if configured). A partial read followed by silence
// beyond the deadline yields a truncated Frame rather than an error, so
// diagnostic tools still see the bytes that did arrive (spec §4.2).
func (t *TCPTransport) ReceiveFrame(timeout time.Duration) (*frame.Frame, error) {
	timeout = t.effectiveTimeout(timeout)
	deadline := time.Now().Add(timeout)

	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, umdterr.Transport(err)
	}

	hdr := make([]byte, frame.MBAPHeaderLength)
	n, err := io.ReadFull(t.conn, hdr)
	if err != nil {
		if n == 0 {
			return nil, timeoutOrTransportErr(err, timeout)
		}
		return &frame.Frame{RawBytes: hdr[:n], Reason: umdterr.ReasonTruncated}, nil
	}

	txnID, protocolID, remaining, unitID, ok := frame.DecodeMBAPHeader(hdr)
	if !ok || remaining <= 0 || remaining+frame.MBAPHeaderLength > frame.MaxTCPFrameLength {
		return &frame.Frame{RawBytes: hdr, Reason: umdterr.ReasonOversize}, nil
	}
	_ = protocolID

	body := make([]byte, remaining)
	n, err = io.ReadFull(t.conn, body)
	if err != nil {
		raw := append(append([]byte{}, hdr...), body[:n]...)
		return &frame.Frame{RawBytes: raw, Reason: umdterr.ReasonTruncated}, nil
	}

	f := frame.DecodeTCPBody(txnID, unitID, body)
	return f, nil
}

func timeoutOrTransportErr(err error, timeout time.Duration) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return umdterr.Timeout(timeout.Milliseconds())
	}
	return umdterr.Transport(err)
}
