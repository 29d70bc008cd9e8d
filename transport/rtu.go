package transport

import (
	"io"
	"net"
	"strconv"
	"time"

	"go.bug.st/serial"

	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/obslog"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

const maxRTUFrameLength = 256

// SerialConfig describes the line settings for a serial endpoint (spec §3,
// "SerialEndpoint").
type SerialConfig struct {
	Path     string
	Baud     int
	Parity   serial.Parity
	DataBits int
	StopBits serial.StopBits

	// InterByteTimeout overrides the computed 3.5-char-time silence gap
	// when non-zero; mostly useful in tests.
	InterByteTimeout time.Duration

	FastFail time.Duration
	Log      *obslog.Logger
}

// RTUTransport is a Transport framing with RTU (unit ‖ function ‖ payload ‖
// crc) over any link — a physical serial port, or a TCP socket carrying
// raw RTU bytes (the "RTU over TCP" topology the bridge relays between).
type RTUTransport struct {
	eventPublisher

	name   string
	open   func() (link, error)
	link   link
	t1     time.Duration
	t35    time.Duration
	fast   time.Duration
	lastTx time.Time
	log    *obslog.Logger
}

// NewSerial returns a Transport over a physical serial port.
func NewSerial(conf SerialConfig) *RTUTransport {
	if conf.Log == nil {
		conf.Log = obslog.Nop()
	}
	t1 := charTime(conf.Baud)
	t35 := conf.InterByteTimeout
	if t35 == 0 {
		t35 = silenceGap(conf.Baud)
	}

	return &RTUTransport{
		eventPublisher: newEventPublisher(),
		name:           conf.Path,
		t1:             t1,
		t35:            t35,
		fast:           conf.FastFail,
		log:            conf.Log,
		open: func() (link, error) {
			port, err := serial.Open(conf.Path, &serial.Mode{
				BaudRate: conf.Baud,
				DataBits: conf.DataBits,
				Parity:   conf.Parity,
				StopBits: conf.StopBits,
			})
			if err != nil {
				return nil, err
			}
			return &serialLink{port: port}, nil
		},
	}
}

// NewRTUOverTCP returns a Transport that frames with RTU but carries the
// bytes over a plain TCP socket, the topology ffutop-modbus-gateway calls
// "rtu-over-tcp": useful when a bridge's downstream device is an RTU
// serial-to-ethernet converter rather than a true Modbus/TCP slave.
func NewRTUOverTCP(conf TCPConfig) *RTUTransport {
	if conf.Log == nil {
		conf.Log = obslog.Nop()
	}
	addr := net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))

	return &RTUTransport{
		eventPublisher: newEventPublisher(),
		name:           addr,
		t1:             charTime(9600),
		t35:            1750 * time.Microsecond,
		fast:           conf.FastFail,
		log:            conf.Log,
		open: func() (link, error) {
			timeout := conf.DialTimeout
			if conf.FastFail > 0 {
				timeout = conf.FastFail
			}
			var conn net.Conn
			var err error
			if timeout > 0 {
				conn, err = net.DialTimeout("tcp", addr, timeout)
			} else {
				conn, err = net.Dial("tcp", addr)
			}
			if err != nil {
				return nil, err
			}
			return &netLink{conn: conn}, nil
		},
	}
}

func (rt *RTUTransport) Kind() Kind { return KindSerial }

func (rt *RTUTransport) Open() error {
	l, err := rt.open()
	if err != nil {
		rt.publish(EventError, err)
		return umdterr.Transport(err)
	}
	rt.link = l
	rt.publish(EventOpened, nil)
	return nil
}

func (rt *RTUTransport) Close() error {
	if rt.link == nil {
		return nil
	}
	err := rt.link.Close()
	rt.publish(EventClosed, err)
	return err
}

func (rt *RTUTransport) effectiveTimeout(requested time.Duration) time.Duration {
	if rt.fast > 0 {
		return rt.fast
	}
	return requested
}

// Send observes the 3.5-char-time silence-before-transmit rule, writes the
// already-framed ADU, then waits out the trailing inter-frame delay so the
// next Send/ReceiveFrame respects bus timing (spec §4.2).
func (rt *RTUTransport) Send(buf []byte) error {
	if gap := rt.t35 - time.Since(rt.lastTx); gap > 0 {
		time.Sleep(gap)
	}

	start := time.Now()
	n, err := rt.link.Write(buf)
	if err != nil {
		rt.publish(EventError, err)
		return umdterr.Transport(err)
	}

	rt.lastTx = start.Add(time.Duration(n) * rt.t1)
	if gap := rt.lastTx.Add(rt.t35).Sub(time.Now()); gap > 0 {
		time.Sleep(gap)
	}

	return nil
}

// ReceiveFrame reads the unit id, the function code and one more byte,
// reads as many further bytes (plus the CRC) as frame.HintPayloadLength
// predicts from them, then permissively decodes what was collected (spec
// §4.1, §4.2). The boundary comes from that length hint alone: inter-byte
// silence (t3.5) does not end a frame, and an unrecognized function code
// yields an unknown_function frame holding only those first three bytes.
func (rt *RTUTransport) ReceiveFrame(timeout time.Duration) (*frame.Frame, error) {
	timeout = rt.effectiveTimeout(timeout)
	deadline := time.Now().Add(timeout)
	if err := rt.link.SetDeadline(deadline); err != nil {
		return nil, umdterr.Transport(err)
	}

	rxbuf := make([]byte, maxRTUFrameLength)

	n, err := io.ReadFull(rt.link, rxbuf[:3])
	if n == 0 {
		if isTimeout(err) {
			return nil, umdterr.Timeout(timeout.Milliseconds())
		}
		if err != nil {
			return nil, umdterr.Transport(err)
		}
	}
	if n > 0 && n < 3 {
		rt.flushOnFault()
		return &frame.Frame{RawBytes: rxbuf[:n], Reason: umdterr.ReasonTruncated}, nil
	}

	need, ok := frame.HintPayloadLength(rxbuf[1], rxbuf[2])
	if !ok {
		rt.flushOnFault()
		return &frame.Frame{RawBytes: rxbuf[:3], Reason: umdterr.ReasonUnknownFunction}, nil
	}
	// account for the byte-count field we already read into rxbuf[2].
	need--
	need += 2 // trailing CRC

	if 3+need > maxRTUFrameLength {
		rt.flushOnFault()
		return &frame.Frame{RawBytes: rxbuf[:3], Reason: umdterr.ReasonOversize}, nil
	}

	n2, err := io.ReadFull(rt.link, rxbuf[3:3+need])
	total := 3 + n2
	if n2 < need {
		rt.flushOnFault()
		return &frame.Frame{RawBytes: rxbuf[:total], Reason: umdterr.ReasonTruncated}, nil
	}
	_ = err

	f := frame.DecodeRTU(rxbuf[:total])
	rt.lastTx = time.Now()

	return f, nil
}

// flushOnFault discards whatever trails on the link after a malformed
// frame, to help the far end resynchronize before the next exchange.
func (rt *RTUTransport) flushOnFault() {
	discard := make([]byte, 1024)
	rt.link.SetDeadline(time.Now().Add(500 * time.Microsecond))
	io.ReadFull(rt.link, discard)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// charTime returns how long one RTU byte (1 start + 8 data + 1 parity/stop
// + 1 stop) takes to transmit at the given baud rate.
func charTime(baud int) time.Duration {
	if baud <= 0 {
		baud = 9600
	}
	return 11 * time.Second / time.Duration(baud)
}

// silenceGap is the inter-frame delay t3.5: max(3.5 char times, 1750µs),
// with the 1750µs floor mandated for baud rates ≥ 19200 (spec §4.2).
func silenceGap(baud int) time.Duration {
	if baud >= 19200 {
		return 1750 * time.Microsecond
	}
	gap := (charTime(baud) * 35) / 10
	if gap < 1750*time.Microsecond {
		return 1750 * time.Microsecond
	}
	return gap
}
