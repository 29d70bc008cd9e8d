package mockserver

import (
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modbus-toolkit/umdt/client"
	"github.com/modbus-toolkit/umdt/eventbus"
	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/obslog"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
	"github.com/modbus-toolkit/umdt/scripting"
	"github.com/modbus-toolkit/umdt/transport"
)

// ServerConfig configures the mock server's listener (spec §4.5
// "Listener"), generalizing simonvetter-modbus's ServerConfiguration to
// cover both a TCP accept loop and a single owned serial port.
type ServerConfig struct {
	// URL is "tcp://host:port" for a TCP listener or "rtu://<device>" to
	// own one serial port directly (no accept loop: one session, for the
	// lifetime of the server).
	URL string

	IdleTimeout      time.Duration
	MaxSessions      uint
	PeriodicInterval time.Duration

	Serial transport.SerialConfig

	Log    *obslog.Logger
	Bus    *eventbus.Bus
	Engine *scripting.Engine
}

// Server is the mock slave's listener and per-session dispatch loop.
type Server struct {
	conf   ServerConfig
	device *Device
	log    *obslog.Logger
	bus    *eventbus.Bus
	engine *scripting.Engine

	mu        sync.Mutex
	started   bool
	tcpListen net.Listener
	sessions  []net.Conn
}

// NewServer builds a mock server in front of device. conf.Engine may be nil
// if no script hooks are registered.
func NewServer(conf ServerConfig, device *Device) *Server {
	if conf.Log == nil {
		conf.Log = obslog.Nop()
	}
	if conf.Engine == nil {
		conf.Engine = scripting.New(conf.Log, conf.Bus, device)
	}
	if conf.MaxSessions == 0 {
		conf.MaxSessions = 10
	}
	if conf.Bus != nil {
		device.SetEventBus(conf.Bus)
	}
	return &Server{conf: conf, device: device, log: conf.Log, bus: conf.Bus, engine: conf.Engine}
}

// Start begins accepting sessions. For a TCP URL this launches a background
// accept loop; for an RTU URL it opens the serial port and serves it in a
// background goroutine as the sole session.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	switch {
	case strings.HasPrefix(s.conf.URL, "tcp://"):
		addr := strings.TrimPrefix(s.conf.URL, "tcp://")
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return umdterr.Transport(err)
		}
		s.tcpListen = ln
		go s.acceptLoop()

	case strings.HasPrefix(s.conf.URL, "rtu://"):
		s.conf.Serial.Path = strings.TrimPrefix(s.conf.URL, "rtu://")
		s.conf.Serial.Log = s.log
		rt := transport.NewSerial(s.conf.Serial)
		if err := rt.Open(); err != nil {
			return err
		}
		id := newSessionID()
		s.publish(eventbus.KindConnection, id, map[string]interface{}{
			"remote": s.conf.Serial.Path, "state": "connected",
		})
		go func() {
			s.serveSession(rt, id)
			rt.Close()
		}()

	default:
		return umdterr.InvalidArgument("mockserver: unsupported URL %q", s.conf.URL)
	}

	s.engine.Start(s.conf.PeriodicInterval)
	s.started = true
	return nil
}

// Stop closes the listener and every active TCP session. An owned serial
// port is not closed here: its session goroutine closes it when its receive
// loop ends on the first receive error (including the idle timeout).
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.engine.Stop()

	var err error
	if s.tcpListen != nil {
		err = s.tcpListen.Close()
	}
	for _, conn := range s.sessions {
		conn.Close()
	}
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.tcpListen.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := !s.started
			s.mu.Unlock()
			if stopped {
				return
			}
			s.log.Warning("accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if uint(len(s.sessions)) >= s.conf.MaxSessions {
			s.mu.Unlock()
			s.log.Warning("max sessions reached, rejecting", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}
		s.sessions = append(s.sessions, conn)
		s.mu.Unlock()

		id := newSessionID()
		s.publish(eventbus.KindConnection, id, map[string]interface{}{
			"remote": conn.RemoteAddr().String(), "state": "connected",
		})

		tt := transport.NewTCPFromConn(conn, transport.TCPConfig{Log: s.log})
		go func() {
			s.serveSession(tt, id)
			s.publish(eventbus.KindConnection, id, map[string]interface{}{
				"remote": conn.RemoteAddr().String(), "state": "disconnected",
			})

			s.mu.Lock()
			for i := range s.sessions {
				if s.sessions[i] == conn {
					s.sessions[i] = s.sessions[len(s.sessions)-1]
					s.sessions = s.sessions[:len(s.sessions)-1]
					break
				}
			}
			s.mu.Unlock()
			conn.Close()
		}()
	}
}

// serveSession runs the request dispatch loop (spec §4.5 "Request
// dispatch") for one session until the transport returns an error (closed
// connection, fatal I/O error).
func (s *Server) serveSession(t transport.Transport, sessionID string) {
	idle := s.conf.IdleTimeout
	if idle == 0 {
		idle = 120 * time.Second
	}

	for {
		f, err := t.ReceiveFrame(idle)
		if err != nil {
			return
		}
		if !f.Valid {
			s.publish(eventbus.KindError, sessionID, map[string]interface{}{
				"reason": string(f.Reason),
			})
			continue
		}

		s.publish(eventbus.KindRequest, sessionID, map[string]interface{}{
			"unit_id":       f.UnitID,
			"function_code": f.FunctionCode,
		})

		out := s.dispatch(f, sessionID)
		if out == nil {
			// dropped (step 1 fault injection, or a hook discarded it)
			continue
		}

		buf := s.encodeResponse(t.Kind(), f, out)
		if err := t.Send(buf); err != nil {
			return
		}

		s.publish(eventbus.KindResponse, sessionID, map[string]interface{}{
			"unit_id":       out.UnitID,
			"function_code": out.FunctionCode,
			"is_exception":  out.IsException,
		})
	}
}

// dispatch runs spec §4.5's 8-step pipeline and returns the response to
// send, or nil if the request was dropped.
func (s *Server) dispatch(f *frame.Frame, sessionID string) *frame.Response {
	profile := s.device.Faults()
	injector := s.device.currentInjector()

	// step 1: drop-rate fault
	if injector.shouldDrop(profile) {
		s.publish(eventbus.KindFaultInjected, sessionID, map[string]interface{}{"kind": "drop"})
		return nil
	}

	// step 2: latency
	if d := injector.latencyDelay(profile); d > 0 {
		time.Sleep(d)
	}

	req := frame.DecodeRequest(f)

	// forced exception: skips the on_request hook and the store; the
	// exception still passes through finalizeResponse (on_response, bit-flip)
	if profile.ForcedException != nil {
		s.publish(eventbus.KindFaultInjected, sessionID, map[string]interface{}{"kind": "forced_exception"})
		return s.finalizeResponse(frame.ExceptionResponse(req, *profile.ForcedException))
	}

	// on_request script hook
	hookResult := s.engine.RunRequestHooks(req)
	switch hookResult.Outcome {
	case scripting.OutcomeDrop:
		return nil
	case scripting.OutcomeException:
		return s.finalizeResponse(hookResult.Response)
	}
	if hookResult.Request != nil {
		req = hookResult.Request
	}

	resp := s.serveRequest(req, sessionID)
	return s.finalizeResponse(resp)
}

// serveRequest implements spec §4.5 steps 3-5 against the device store.
func (s *Server) serveRequest(req *frame.Request, sessionID string) *frame.Response {
	switch req.FunctionCode {
	case frame.FCReadCoils:
		return s.readBitsResponse(req, client.DataTypeCoil)
	case frame.FCReadDiscreteInputs:
		return s.readBitsResponse(req, client.DataTypeDiscreteInput)
	case frame.FCReadHoldingRegisters:
		return s.readRegsResponse(req, client.DataTypeHoldingRegister)
	case frame.FCReadInputRegisters:
		return s.readRegsResponse(req, client.DataTypeInputRegister)
	case frame.FCWriteSingleCoil:
		return s.writeSingleCoilResponse(req, sessionID)
	case frame.FCWriteSingleRegister:
		return s.writeSingleRegisterResponse(req, sessionID)
	case frame.FCWriteMultipleCoils:
		return s.writeMultipleCoilsResponse(req, sessionID)
	case frame.FCWriteMultipleRegisters:
		return s.writeMultipleRegistersResponse(req, sessionID)
	default:
		return frame.ExceptionResponse(req, frame.ExIllegalFunction)
	}
}

func (s *Server) readBitsResponse(req *frame.Request, dt client.DataType) *frame.Response {
	bits, err := s.device.ReadBits(dt, req.StartAddress, req.Quantity)
	if err != nil {
		return exceptionResponseFor(req, err)
	}
	packed := encodeBits(bits)
	payload := append([]byte{byte(len(packed))}, packed...)
	return &frame.Response{UnitID: req.UnitID, FunctionCode: req.FunctionCode, Payload: payload}
}

func (s *Server) readRegsResponse(req *frame.Request, dt client.DataType) *frame.Response {
	regs, err := s.device.ReadRegisters(dt, req.StartAddress, req.Quantity)
	if err != nil {
		return exceptionResponseFor(req, err)
	}
	payload := make([]byte, 0, 1+2*len(regs))
	payload = append(payload, byte(2*len(regs)))
	for _, v := range regs {
		payload = binary.BigEndian.AppendUint16(payload, v)
	}
	return &frame.Response{UnitID: req.UnitID, FunctionCode: req.FunctionCode, Payload: payload}
}

func (s *Server) writeSingleCoilResponse(req *frame.Request, sessionID string) *frame.Response {
	value := req.Quantity == 0xff00
	if err := s.device.WriteBits(client.DataTypeCoil, req.StartAddress, []bool{value}); err != nil {
		return exceptionResponseFor(req, err)
	}
	s.engine.RunWriteHooks(req.UnitID, req.StartAddress, req.Quantity)
	s.device.log.record(TransactionEntry{
		At: time.Now(), Session: sessionID, UnitID: req.UnitID,
		DataType: client.DataTypeCoil, Address: req.StartAddress, Quantity: 1, IsWrite: true,
	})
	return &frame.Response{UnitID: req.UnitID, FunctionCode: req.FunctionCode, Payload: echoAddressValue(req.StartAddress, req.Quantity)}
}

func (s *Server) writeSingleRegisterResponse(req *frame.Request, sessionID string) *frame.Response {
	value := req.Quantity
	if err := s.device.WriteRegisters(client.DataTypeHoldingRegister, req.StartAddress, []uint16{value}); err != nil {
		return exceptionResponseFor(req, err)
	}
	s.engine.RunWriteHooks(req.UnitID, req.StartAddress, value)
	s.device.log.record(TransactionEntry{
		At: time.Now(), Session: sessionID, UnitID: req.UnitID,
		DataType: client.DataTypeHoldingRegister, Address: req.StartAddress, Quantity: 1, IsWrite: true,
	})
	return &frame.Response{UnitID: req.UnitID, FunctionCode: req.FunctionCode, Payload: echoAddressValue(req.StartAddress, value)}
}

func (s *Server) writeMultipleCoilsResponse(req *frame.Request, sessionID string) *frame.Response {
	values := decodeBits(req.Quantity, req.Values)
	if err := s.device.WriteBits(client.DataTypeCoil, req.StartAddress, values); err != nil {
		return exceptionResponseFor(req, err)
	}
	for i, v := range values {
		bit := uint16(0)
		if v {
			bit = 1
		}
		s.engine.RunWriteHooks(req.UnitID, req.StartAddress+uint16(i), bit)
	}
	s.device.log.record(TransactionEntry{
		At: time.Now(), Session: sessionID, UnitID: req.UnitID,
		DataType: client.DataTypeCoil, Address: req.StartAddress, Quantity: req.Quantity, IsWrite: true,
	})
	payload := make([]byte, 0, 4)
	payload = binary.BigEndian.AppendUint16(payload, req.StartAddress)
	payload = binary.BigEndian.AppendUint16(payload, req.Quantity)
	return &frame.Response{UnitID: req.UnitID, FunctionCode: req.FunctionCode, Payload: payload}
}

func (s *Server) writeMultipleRegistersResponse(req *frame.Request, sessionID string) *frame.Response {
	values := make([]uint16, req.Quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(req.Values[2*i : 2*i+2])
	}
	if err := s.device.WriteRegisters(client.DataTypeHoldingRegister, req.StartAddress, values); err != nil {
		return exceptionResponseFor(req, err)
	}
	for i, v := range values {
		s.engine.RunWriteHooks(req.UnitID, req.StartAddress+uint16(i), v)
	}
	s.device.log.record(TransactionEntry{
		At: time.Now(), Session: sessionID, UnitID: req.UnitID,
		DataType: client.DataTypeHoldingRegister, Address: req.StartAddress, Quantity: req.Quantity, IsWrite: true,
	})
	payload := make([]byte, 0, 4)
	payload = binary.BigEndian.AppendUint16(payload, req.StartAddress)
	payload = binary.BigEndian.AppendUint16(payload, req.Quantity)
	return &frame.Response{UnitID: req.UnitID, FunctionCode: req.FunctionCode, Payload: payload}
}

// finalizeResponse runs on_response and then applies the outgoing bit-flip
// fault to the payload before encoding (spec §4.5 steps 6-7), uniformly
// across every response including exceptions.
func (s *Server) finalizeResponse(resp *frame.Response) *frame.Response {
	if resp == nil {
		return nil
	}
	resp = s.engine.RunResponseHooks(resp)
	if resp == nil {
		return nil
	}
	resp.Payload = s.device.currentInjector().bitFlipPayload(s.device.Faults(), resp.Payload)
	return resp
}

func (s *Server) encodeResponse(kind transport.Kind, reqFrame *frame.Frame, resp *frame.Response) []byte {
	pdu := resp.ToPDU()
	if kind == transport.KindTCP {
		txnID := uint16(0)
		if len(reqFrame.RawBytes) >= 2 {
			txnID = binary.BigEndian.Uint16(reqFrame.RawBytes[0:2])
		}
		return frame.EncodeTCP(txnID, pdu)
	}
	return frame.EncodeRTU(pdu)
}

// newSessionID mints an opaque per-session identifier, used as the source
// tag on published events and in transaction log entries, distinct from the
// human-readable remote address carried in a connection event's payload.
func newSessionID() string {
	return uuid.New().String()
}

func (s *Server) publish(kind eventbus.Kind, source string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Kind: kind, Source: source, Payload: payload})
}

// echoAddressValue builds the 4-byte address+value payload Modbus expects
// echoed back on a successful single-coil/single-register write.
func echoAddressValue(address, value uint16) []byte {
	payload := make([]byte, 0, 4)
	payload = binary.BigEndian.AppendUint16(payload, address)
	payload = binary.BigEndian.AppendUint16(payload, value)
	return payload
}

func exceptionResponseFor(req *frame.Request, err error) *frame.Response {
	if e, ok := umdterr.As(err); ok && e.Kind == umdterr.KindModbusException {
		return frame.ExceptionResponse(req, e.ExceptionCode)
	}
	return frame.ExceptionResponse(req, frame.ExServerDeviceFailure)
}
