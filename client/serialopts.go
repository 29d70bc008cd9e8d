package client

import (
	"net"
	"strconv"

	"go.bug.st/serial"

	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// parseParity maps the config string ("none"/"even"/"odd", case
// insensitive) to go.bug.st/serial's Parity enum, defaulting to none per
// the "modbus over serial line" spec's common practice (spec §3).
func parseParity(p string) serial.Parity {
	switch p {
	case "even", "Even", "EVEN":
		return serial.EvenParity
	case "odd", "Odd", "ODD":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func serialStopBits(n int) serial.StopBits {
	if n == 1 {
		return serial.OneStopBit
	}
	return serial.TwoStopBits
}

// splitHostPort parses "host:port" for the tcp:// client URL scheme,
// rejecting anything that doesn't resolve to a numeric port.
func splitHostPort(hostport string) (host string, port int, err error) {
	h, p, splitErr := net.SplitHostPort(hostport)
	if splitErr != nil {
		return "", 0, umdterr.InvalidArgument("invalid tcp:// address %q: %v", hostport, splitErr)
	}
	portNum, convErr := strconv.Atoi(p)
	if convErr != nil {
		return "", 0, umdterr.InvalidArgument("invalid tcp:// port %q: %v", p, convErr)
	}
	return h, portNum, nil
}
