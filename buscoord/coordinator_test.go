package buscoord

import (
	"context"
	"testing"
	"time"
)

func TestMutualExclusion(t *testing.T) {
	c := New()
	ctx := context.Background()

	g1, err := c.Acquire(ctx, PriorityOperator)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		g2, err := c.Acquire(ctx, PriorityOperator)
		if err != nil {
			return
		}
		close(acquired)
		g2.Release()
	}()

	select {
	case <-acquired:
		t.Fatalf("second acquire should not have succeeded while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	g1.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second acquire never granted after release")
	}
}

func TestOperatorPreemptsScanner(t *testing.T) {
	c := New()
	ctx := context.Background()

	scanGuard, err := c.Acquire(ctx, PriorityScanner)
	if err != nil {
		t.Fatalf("scanner acquire: %v", err)
	}

	opGranted := make(chan struct{})
	go func() {
		g, err := c.Acquire(ctx, PriorityOperator)
		if err != nil {
			return
		}
		close(opGranted)
		g.Release()
	}()

	// give the operator goroutine time to enqueue and request the yield.
	time.Sleep(20 * time.Millisecond)

	select {
	case <-scanGuard.Yield():
	case <-time.After(time.Second):
		t.Fatalf("scanner was never signalled to yield")
	}

	scanGuard.Release()

	select {
	case <-opGranted:
	case <-time.After(time.Second):
		t.Fatalf("operator never granted the bus after scanner yielded")
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	c := New()
	ctx := context.Background()

	g0, _ := c.Acquire(ctx, PriorityOperator)

	order := make(chan int, 2)
	go func() {
		g, _ := c.Acquire(ctx, PriorityOperator)
		order <- 1
		time.Sleep(10 * time.Millisecond)
		g.Release()
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		g, _ := c.Acquire(ctx, PriorityOperator)
		order <- 2
		g.Release()
	}()

	time.Sleep(10 * time.Millisecond)
	g0.Release()

	first := <-order
	second := <-order
	if first != 1 || second != 2 {
		t.Fatalf("expected FIFO order 1,2, got %d,%d", first, second)
	}
}

func TestCancelRemovesWaiter(t *testing.T) {
	c := New()
	ctx := context.Background()

	g0, _ := c.Acquire(ctx, PriorityOperator)
	defer g0.Release()

	cctx, cancel := context.WithCancel(ctx)
	cancel()

	_, err := c.Acquire(cctx, PriorityOperator)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
