package transport

import (
	"net"
	"time"
)

// netLink adapts a net.Conn to the link interface unchanged; net.Conn
// already exposes exactly this shape.
type netLink struct {
	conn net.Conn
}

func (n *netLink) Close() error                     { return n.conn.Close() }
func (n *netLink) Read(b []byte) (int, error)        { return n.conn.Read(b) }
func (n *netLink) Write(b []byte) (int, error)       { return n.conn.Write(b) }
func (n *netLink) SetDeadline(t time.Time) error     { return n.conn.SetDeadline(t) }
