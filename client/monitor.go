package client

import (
	"context"
	"time"
)

// Sample is one reading emitted on a Monitor stream.
type Sample struct {
	At     time.Time
	Values []Numeric
	Err    error
}

// Monitor repeats Read(params) every interval until ctx is cancelled,
// compensating sleep drift against a wall-clock anchor so the mean cadence
// matches interval over time rather than accumulating the cost of each
// read (spec §4.4). Read failures are surfaced as samples carrying Err and
// do not stop the stream.
func (c *Client) Monitor(ctx context.Context, p ReadParams, interval time.Duration) <-chan Sample {
	out := make(chan Sample)

	go func() {
		defer close(out)

		anchor := time.Now()
		tick := int64(0)

		for {
			values, err := c.Read(ctx, p)
			sample := Sample{At: time.Now(), Values: values, Err: err}

			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}

			tick++
			next := anchor.Add(time.Duration(tick) * interval)
			wait := time.Until(next)
			if wait < 0 {
				// fell behind; resync the anchor to now rather than firing a
				// burst of back-to-back reads to catch up.
				anchor = time.Now()
				tick = 0
				wait = interval
			}

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
