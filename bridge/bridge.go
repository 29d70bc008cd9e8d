// Package bridge implements C6: a Modbus soft-gateway relaying upstream
// master requests to a single downstream slave, converting framing
// (TCP/MBAP ↔ RTU) as needed and running the ingress/egress/response/
// upstream-response hook pipeline around every exchange (spec §4.6).
package bridge

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modbus-toolkit/umdt/buscoord"
	"github.com/modbus-toolkit/umdt/eventbus"
	"github.com/modbus-toolkit/umdt/internal/obslog"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
	"github.com/modbus-toolkit/umdt/pcap"
	"github.com/modbus-toolkit/umdt/scripting"
	"github.com/modbus-toolkit/umdt/transport"
)

// Config configures one Bridge instance (spec §4.6 "Topology").
type Config struct {
	// UpstreamURL is "tcp://host:port" (accept loop) or "rtu://<device>"
	// (single owned serial port, mirroring mockserver.ServerConfig).
	UpstreamURL string

	// DownstreamURL is "tcp://host:port" for a Modbus/TCP slave,
	// "rtu://<device>" for a physical serial slave, or
	// "rtuovertcp://host:port" for an RTU-framed slave reached over a
	// plain TCP socket (e.g. a serial-to-ethernet converter).
	DownstreamURL string

	UpstreamSerial   transport.SerialConfig
	DownstreamSerial transport.SerialConfig

	// RequestTimeout bounds step 5 of the pipeline: how long to wait for
	// the downstream reply before synthesizing GatewayTargetFailed.
	RequestTimeout time.Duration

	IdleTimeout      time.Duration
	MaxSessions      uint
	PeriodicInterval time.Duration

	// PCAPUpstreamPath / PCAPDownstreamPath, when both set, enable
	// dual-stream capture (spec §4.8 "Dual-stream mode").
	PCAPUpstreamPath   string
	PCAPDownstreamPath string

	Log         *obslog.Logger
	Bus         *eventbus.Bus
	Engine      *scripting.Engine
	Coordinator *buscoord.Coordinator
}

// Bridge is the upstream listener, downstream leg, and pipeline glue.
type Bridge struct {
	conf   Config
	log    *obslog.Logger
	bus    *eventbus.Bus
	engine *scripting.Engine
	coord  *buscoord.Coordinator
	pcap   *pcap.DualWriter

	downstream     transport.Transport
	downstreamKind transport.Kind

	mu        sync.Mutex
	started   bool
	tcpListen net.Listener
	sessions  []net.Conn
}

// New builds a Bridge. The downstream transport is constructed but not
// opened here — Start dials/opens it, so construction failures (bad URL)
// surface before any I/O.
func New(conf Config) (*Bridge, error) {
	if conf.Log == nil {
		conf.Log = obslog.Nop()
	}
	if conf.Engine == nil {
		conf.Engine = scripting.New(conf.Log, conf.Bus, nil)
	}
	if conf.Coordinator == nil {
		conf.Coordinator = buscoord.New()
	}
	if conf.MaxSessions == 0 {
		conf.MaxSessions = 10
	}
	if conf.RequestTimeout == 0 {
		conf.RequestTimeout = 2 * time.Second
	}

	downstream, kind, err := buildTransport(conf.DownstreamURL, conf.DownstreamSerial, conf.Log)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		conf:           conf,
		log:            conf.Log,
		bus:            conf.Bus,
		engine:         conf.Engine,
		coord:          conf.Coordinator,
		downstream:     downstream,
		downstreamKind: kind,
	}

	if conf.PCAPUpstreamPath != "" && conf.PCAPDownstreamPath != "" {
		dw, err := pcap.CreateDual(conf.PCAPUpstreamPath, conf.PCAPDownstreamPath)
		if err != nil {
			return nil, err
		}
		b.pcap = dw
	}

	return b, nil
}

// buildTransport dispatches on URL scheme to build an unopened Transport,
// generalizing client.New's URL dispatch to the three topologies the
// bridge's downstream leg supports.
func buildTransport(url string, serialConf transport.SerialConfig, log *obslog.Logger) (transport.Transport, transport.Kind, error) {
	switch {
	case strings.HasPrefix(url, "tcp://"):
		host, port, err := splitHostPort(strings.TrimPrefix(url, "tcp://"))
		if err != nil {
			return nil, "", err
		}
		return transport.NewTCP(transport.TCPConfig{Host: host, Port: port, Log: log}), transport.KindTCP, nil

	case strings.HasPrefix(url, "rtuovertcp://"):
		host, port, err := splitHostPort(strings.TrimPrefix(url, "rtuovertcp://"))
		if err != nil {
			return nil, "", err
		}
		return transport.NewRTUOverTCP(transport.TCPConfig{Host: host, Port: port, Log: log}), transport.KindSerial, nil

	case strings.HasPrefix(url, "rtu://"):
		serialConf.Path = strings.TrimPrefix(url, "rtu://")
		serialConf.Log = log
		return transport.NewSerial(serialConf), transport.KindSerial, nil

	default:
		return nil, "", umdterr.InvalidArgument("bridge: unsupported URL %q", url)
	}
}

func splitHostPort(hostport string) (host string, port int, err error) {
	h, p, splitErr := net.SplitHostPort(hostport)
	if splitErr != nil {
		return "", 0, umdterr.InvalidArgument("bridge: invalid address %q: %v", hostport, splitErr)
	}
	portNum, convErr := strconv.Atoi(p)
	if convErr != nil {
		return "", 0, umdterr.InvalidArgument("bridge: invalid port %q: %v", p, convErr)
	}
	return h, portNum, nil
}

// Start connects the downstream leg, then begins accepting upstream
// sessions (spec: "Connect to downstream first", mirrored from the
// original implementation's Bridge.start).
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	if err := b.downstream.Open(); err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(b.conf.UpstreamURL, "tcp://"):
		addr := strings.TrimPrefix(b.conf.UpstreamURL, "tcp://")
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			b.downstream.Close()
			return umdterr.Transport(err)
		}
		b.tcpListen = ln
		go b.acceptLoop()

	case strings.HasPrefix(b.conf.UpstreamURL, "rtu://"):
		b.conf.UpstreamSerial.Path = strings.TrimPrefix(b.conf.UpstreamURL, "rtu://")
		b.conf.UpstreamSerial.Log = b.log
		rt := transport.NewSerial(b.conf.UpstreamSerial)
		if err := rt.Open(); err != nil {
			b.downstream.Close()
			return err
		}
		id := newSessionID()
		b.publish(eventbus.KindConnection, id, map[string]interface{}{
			"remote": b.conf.UpstreamSerial.Path, "state": "connected",
		})
		go b.serveUpstreamSession(rt, id)

	default:
		b.downstream.Close()
		return umdterr.InvalidArgument("bridge: unsupported URL %q", b.conf.UpstreamURL)
	}

	b.engine.Start(b.conf.PeriodicInterval)
	b.started = true
	return nil
}

// Stop closes the upstream listener, every active session, the downstream
// leg, and flushes the PCAP captures.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	b.engine.Stop()

	if b.tcpListen != nil {
		b.tcpListen.Close()
	}
	for _, conn := range b.sessions {
		conn.Close()
	}

	err := b.downstream.Close()
	if b.pcap != nil {
		if perr := b.pcap.Close(); err == nil {
			err = perr
		}
	}
	return err
}

func (b *Bridge) acceptLoop() {
	for {
		conn, err := b.tcpListen.Accept()
		if err != nil {
			b.mu.Lock()
			stopped := !b.started
			b.mu.Unlock()
			if stopped {
				return
			}
			b.log.Warning("accept failed", "error", err)
			continue
		}

		b.mu.Lock()
		if uint(len(b.sessions)) >= b.conf.MaxSessions {
			b.mu.Unlock()
			b.log.Warning("max sessions reached, rejecting", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}
		b.sessions = append(b.sessions, conn)
		b.mu.Unlock()

		id := newSessionID()
		b.publish(eventbus.KindConnection, id, map[string]interface{}{
			"remote": conn.RemoteAddr().String(), "state": "connected",
		})

		tt := transport.NewTCPFromConn(conn, transport.TCPConfig{Log: b.log})
		go func() {
			b.serveUpstreamSession(tt, id)
			b.publish(eventbus.KindConnection, id, map[string]interface{}{
				"remote": conn.RemoteAddr().String(), "state": "disconnected",
			})

			b.mu.Lock()
			for i := range b.sessions {
				if b.sessions[i] == conn {
					b.sessions[i] = b.sessions[len(b.sessions)-1]
					b.sessions = b.sessions[:len(b.sessions)-1]
					break
				}
			}
			b.mu.Unlock()
			conn.Close()
		}()
	}
}

// serveUpstreamSession runs one upstream client's request loop (spec §5
// "per session ... requests are processed in arrival order and responses
// leave in the same order"): strictly sequential, one request awaits its
// response before the next is read.
func (b *Bridge) serveUpstreamSession(t transport.Transport, sessionID string) {
	idle := b.conf.IdleTimeout
	if idle == 0 {
		idle = 120 * time.Second
	}
	txn := newTxnTracker()

	for {
		f, err := t.ReceiveFrame(idle)
		if err != nil {
			return
		}
		if !f.Valid {
			b.publish(eventbus.KindError, sessionID, map[string]interface{}{"reason": string(f.Reason)})
			continue
		}

		out := b.handleRequest(f, sessionID, t.Kind(), txn)
		if out == nil {
			continue
		}
		if err := t.Send(out); err != nil {
			return
		}
	}
}

// newSessionID mints an opaque per-session identifier, mirroring
// mockserver.newSessionID: it tags published events and hook contexts,
// while the human-readable remote address travels separately in a
// connection event's payload.
func newSessionID() string {
	return uuid.New().String()
}

func (b *Bridge) publish(kind eventbus.Kind, source string, payload map[string]interface{}) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(eventbus.Event{Kind: kind, Source: source, Payload: payload})
}
