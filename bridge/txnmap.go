package bridge

import "sync"

// txnTracker is the per-session "in-flight txn id" map spec §4.6 describes:
// the upstream TCP transaction id has no counterpart on an RTU downstream,
// so the bridge hands the downstream leg a dispatch id of its own and
// remembers which upstream txn id it stands for, to be recovered when the
// matching downstream reply comes back. One tracker lives per upstream
// session (spec §5 "no cross-session sharing"); dispatch ids share the
// wire's 16-bit txn id space so a TCP downstream slave's echoed reply
// correlates directly.
type txnTracker struct {
	mu       sync.Mutex
	next     uint16
	inFlight map[uint16]uint16
}

func newTxnTracker() *txnTracker {
	return &txnTracker{inFlight: make(map[uint16]uint16)}
}

// begin records upstreamTxnID as in flight and returns the dispatch id to
// send downstream and resolve by later.
func (t *txnTracker) begin(upstreamTxnID uint16) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	dispatchID := t.next
	t.next++
	t.inFlight[dispatchID] = upstreamTxnID
	return dispatchID
}

// resolve looks up and forgets the upstream txn id recorded for dispatchID.
func (t *txnTracker) resolve(dispatchID uint16) (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	upstreamTxnID, ok := t.inFlight[dispatchID]
	delete(t.inFlight, dispatchID)
	return upstreamTxnID, ok
}
