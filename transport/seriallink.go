package transport

import (
	"time"

	"go.bug.st/serial"
)

// serialLink adapts a go.bug.st/serial.Port to the link interface, adding
// the Read() deadline support serial.Port itself lacks (it only supports a
// fixed inter-byte read timeout configured at Open time).
type serialLink struct {
	port     serial.Port
	deadline time.Time
}

func (s *serialLink) Close() error { return s.port.Close() }

func (s *serialLink) Read(buf []byte) (int, error) {
	if time.Now().After(s.deadline) {
		return 0, errDeadlineExceeded{}
	}
	n, err := s.port.Read(buf)
	if err != nil {
		// go.bug.st/serial returns its own timeout error on every call that
		// doesn't produce data within the configured inter-byte timeout;
		// mask it so callers see a plain empty read, exactly like the
		// teacher's serialPortWrapper.
		err = nil
	}
	return n, err
}

func (s *serialLink) Write(buf []byte) (int, error) {
	return s.port.Write(buf)
}

func (s *serialLink) SetDeadline(t time.Time) error {
	s.deadline = t
	return nil
}

type errDeadlineExceeded struct{}

func (errDeadlineExceeded) Error() string { return "i/o timeout" }
func (errDeadlineExceeded) Timeout() bool { return true }
