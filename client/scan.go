package client

import (
	"context"

	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// ScanResult is one address's outcome in a scan.
type ScanResult struct {
	Address uint16
	Value   Numeric
}

// Scan iterates [start, end] in batches of up to the register limit,
// logging successful reads and silently ignoring IllegalDataAddress
// exceptions (an address simply not populated on the device); every other
// failure is surfaced (spec §4.4).
func (c *Client) Scan(ctx context.Context, dataType DataType, start, end uint16) ([]ScanResult, error) {
	if end < start {
		return nil, umdterr.InvalidArgument("scan end %d precedes start %d", end, start)
	}

	var out []ScanResult
	addr := start

	for addr <= end {
		batch := uint16(maxRegistersPerRequest)
		if remaining := uint32(end) - uint32(addr) + 1; uint32(batch) > remaining {
			batch = uint16(remaining)
		}

		values, err := c.Read(ctx, ReadParams{DataType: dataType, Address: addr, Count: batch})
		if err != nil {
			if e, ok := umdterr.As(err); ok && e.Kind == umdterr.KindModbusException && e.ExceptionCode == 0x02 {
				// IllegalDataAddress: this range isn't populated, move on.
			} else {
				return out, err
			}
		} else {
			for i, v := range values {
				out = append(out, ScanResult{Address: addr + uint16(i), Value: v})
			}
		}

		if uint32(addr)+uint32(batch) > 0xffff {
			break
		}
		addr += batch
	}

	return out, nil
}
