// Package client implements C4: the diagnostic Modbus client — read,
// write, monitor, scan and probe operations built on top of the frame
// codec (C1), transport (C2) and bus coordinator (C3) (spec §4.4).
package client

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/modbus-toolkit/umdt/buscoord"
	"github.com/modbus-toolkit/umdt/eventbus"
	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/obslog"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
	"github.com/modbus-toolkit/umdt/transport"
)

// DataType selects which register space / encoding an operation targets.
type DataType string

const (
	DataTypeCoil             DataType = "coil"
	DataTypeDiscreteInput    DataType = "discrete_input"
	DataTypeHoldingRegister  DataType = "holding_register"
	DataTypeInputRegister    DataType = "input_register"
)

// maxRegistersPerRequest is the Modbus-mandated ceiling on registers
// requested in a single read/write (spec §4.4).
const maxRegistersPerRequest = 125

// Config configures a Client. Exactly one of the URL schemes "tcp://" or
// "rtu://" selects the transport, mirroring the teacher's ClientConfiguration.
type Config struct {
	URL string

	// TCP
	DialTimeout time.Duration

	// Serial (rtu://)
	Baud     int
	DataBits int
	StopBits int
	Parity   string

	Timeout time.Duration

	// Coordinator, when non-nil, serializes this client's requests
	// against other users of the same transport (spec §4.3). A client
	// opened standalone (no shared bus) may leave this nil.
	Coordinator *buscoord.Coordinator

	Bus *eventbus.Bus
	Log *obslog.Logger
}

// Client is the diagnostic Modbus client.
type Client struct {
	conf      Config
	transport transport.Transport
	unitID    uint8
	endian16  Endian16
	coord     *buscoord.Coordinator
	bus       *eventbus.Bus
	log       *obslog.Logger
}

// New dispatches on conf.URL's scheme to build a TCP or RTU transport,
// applying the same line-setting defaults the teacher's NewClient does
// (spec §3, SerialEndpoint defaults).
func New(conf Config) (*Client, error) {
	c := &Client{
		conf:     conf,
		unitID:   1,
		endian16: Endian16Big,
		coord:    conf.Coordinator,
		bus:      conf.Bus,
		log:      conf.Log,
	}
	if c.log == nil {
		c.log = obslog.New("modbus-client("+conf.URL+")", zapcore.InfoLevel)
	}

	switch {
	case strings.HasPrefix(conf.URL, "tcp://"):
		host, port, err := splitHostPort(strings.TrimPrefix(conf.URL, "tcp://"))
		if err != nil {
			return nil, err
		}
		timeout := conf.Timeout
		if timeout == 0 {
			timeout = time.Second
		}
		c.transport = transport.NewTCP(transport.TCPConfig{
			Host:        host,
			Port:        port,
			DialTimeout: timeout,
			Log:         c.log,
		})

	case strings.HasPrefix(conf.URL, "rtu://"):
		path := strings.TrimPrefix(conf.URL, "rtu://")
		baud := conf.Baud
		if baud == 0 {
			baud = 9600
		}
		dataBits := conf.DataBits
		if dataBits == 0 {
			dataBits = 8
		}
		stopBits := conf.StopBits
		if stopBits == 0 {
			stopBits = 2
		}
		c.transport = transport.NewSerial(transport.SerialConfig{
			Path:     path,
			Baud:     baud,
			DataBits: dataBits,
			StopBits: serialStopBits(stopBits),
			Parity:   parseParity(conf.Parity),
			Log:      c.log,
		})

	default:
		return nil, umdterr.InvalidArgument("unsupported client URL scheme: %q", conf.URL)
	}

	return c, nil
}

// Open establishes the underlying transport.
func (c *Client) Open() error {
	if err := c.transport.Open(); err != nil {
		return err
	}
	c.publish(eventbus.KindConnection, map[string]interface{}{"state": "opened"})
	return nil
}

// Close tears down the underlying transport.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.publish(eventbus.KindConnection, map[string]interface{}{"state": "closed"})
	return err
}

// SetUnitID sets the unit id of subsequent requests.
func (c *Client) SetUnitID(id uint8) { c.unitID = id }

// SetEndian16 sets the within-register byte order of subsequent requests.
func (c *Client) SetEndian16(e Endian16) { c.endian16 = e }

func (c *Client) publish(kind eventbus.Kind, payload map[string]interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Kind: kind, Source: "client", Payload: payload})
}

// acquirePriority obtains exclusive bus access at the given priority when
// a coordinator is configured. Read and Write pass PriorityOperator, and
// Scan and Monitor go through Read, so every client operation acquires at
// operator priority; nothing in this package requests PriorityScanner.
func (c *Client) acquirePriority(ctx context.Context, p buscoord.Priority) (*buscoord.Guard, error) {
	if c.coord == nil {
		return nil, nil
	}
	return c.coord.Acquire(ctx, p)
}

func releaseGuard(g *buscoord.Guard) {
	if g != nil {
		g.Release()
	}
}

// exchange sends req and waits for the matching response, with no bus
// arbitration of its own (the caller already holds a Guard, if any).
func (c *Client) exchange(req frame.PDU, timeout time.Duration) (*frame.Frame, error) {
	if timeout == 0 {
		timeout = c.conf.Timeout
	}
	if timeout == 0 {
		timeout = time.Second
	}

	var raw []byte
	if c.transport.Kind() == transport.KindTCP {
		raw = frame.EncodeTCP(1, req)
	} else {
		raw = frame.EncodeRTU(req)
	}

	c.publish(eventbus.KindRequest, map[string]interface{}{
		"unit_id": req.UnitID, "function_code": req.FunctionCode,
	})

	if err := c.transport.Send(raw); err != nil {
		c.publish(eventbus.KindError, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	f, err := c.transport.ReceiveFrame(timeout)
	if err != nil {
		c.publish(eventbus.KindError, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	if !f.Valid {
		c.publish(eventbus.KindError, map[string]interface{}{
			"reason": string(f.Reason), "raw_bytes": f.RawBytes,
		})
		return f, umdterr.Frame(f.Reason, f.RawBytes)
	}

	c.publish(eventbus.KindResponse, map[string]interface{}{
		"unit_id": f.UnitID, "function_code": f.FunctionCode,
	})

	if frame.IsException(f.FunctionCode) {
		code := uint8(0)
		if len(f.Payload) > 0 {
			code = f.Payload[0]
		}
		return f, umdterr.ModbusException(code)
	}

	return f, nil
}
