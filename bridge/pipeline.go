package bridge

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/modbus-toolkit/umdt/buscoord"
	"github.com/modbus-toolkit/umdt/eventbus"
	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/pcap"
	"github.com/modbus-toolkit/umdt/scripting"
	"github.com/modbus-toolkit/umdt/transport"
)

// handleRequest runs spec §4.6's eight-step pipeline for one upstream frame
// and returns the bytes to send back on the originating session, or nil if
// the request was dropped and no reply should be sent.
func (b *Bridge) handleRequest(f *frame.Frame, sessionID string, upstreamKind transport.Kind, txn *txnTracker) []byte {
	// step 1: decode, capture, publish.
	b.captureUpstream(pcap.DirectionInbound, upstreamKind, f.RawBytes)
	b.publish(eventbus.KindRequest, sessionID, map[string]interface{}{
		"unit_id": f.UnitID, "function_code": f.FunctionCode,
	})

	upstreamTxnID := upstreamTransactionID(upstreamKind, f)
	req := frame.DecodeRequest(f)

	// step 2: ingress_hook.
	result := b.engine.RunIngressHooks(req)
	switch result.Outcome {
	case scripting.OutcomeDrop:
		return nil
	case scripting.OutcomeException:
		return b.finalizeUpstream(result.Response, upstreamKind, upstreamTxnID, sessionID)
	}
	if result.Request != nil {
		req = result.Request
	}

	// step 3: egress_hook.
	result = b.engine.RunEgressHooks(req)
	switch result.Outcome {
	case scripting.OutcomeDrop:
		return nil
	case scripting.OutcomeException:
		return b.finalizeUpstream(result.Response, upstreamKind, upstreamTxnID, sessionID)
	}
	if result.Request != nil {
		req = result.Request
	}

	// step 4: acquire the downstream bus, encode in downstream framing, send.
	// The dispatch id doubles as the downstream TCP txn id (if applicable)
	// and the tracker's key, so the upstream txn id is recovered through the
	// map rather than carried past the downstream round trip on the stack.
	dispatchID := txn.begin(upstreamTxnID)
	resp, resolvedTxnID := b.forwardToDownstream(req, dispatchID, txn)

	// step 6/7: response_hook, upstream_response_hook.
	return b.finalizeUpstream(resp, upstreamKind, resolvedTxnID, sessionID)
}

// forwardToDownstream implements steps 4-5: serialize on the downstream bus
// coordinator, send the request converted to the downstream framing, and
// await the reply up to the configured timeout. It returns the upstream
// txn id resolved from txn against whatever correlation id the downstream
// leg actually confirms (its own echoed txn id for TCP, the dispatch id
// itself for RTU, which carries none).
func (b *Bridge) forwardToDownstream(req *frame.Request, dispatchID uint16, txn *txnTracker) (*frame.Response, uint16) {
	ctx, cancel := context.WithTimeout(context.Background(), b.conf.RequestTimeout)
	defer cancel()
	guard, err := b.coord.Acquire(ctx, buscoord.PriorityOperator)
	if err != nil {
		upstreamTxnID, _ := txn.resolve(dispatchID)
		return frame.ExceptionResponse(req, frame.ExGWTargetFailedToRespond), upstreamTxnID
	}
	defer releaseGuard(guard)

	var raw []byte
	if b.downstreamKind == transport.KindTCP {
		raw = frame.EncodeTCP(dispatchID, req.ToPDU())
	} else {
		raw = frame.EncodeRTU(req.ToPDU())
	}
	b.captureDownstream(pcap.DirectionOutbound, raw)

	if err := b.downstream.Send(raw); err != nil {
		b.log.Warning("downstream send failed", "error", err)
		upstreamTxnID, _ := txn.resolve(dispatchID)
		return frame.ExceptionResponse(req, frame.ExGWTargetFailedToRespond), upstreamTxnID
	}

	df, err := b.downstream.ReceiveFrame(b.conf.RequestTimeout)
	if err != nil || df == nil {
		upstreamTxnID, _ := txn.resolve(dispatchID)
		return frame.ExceptionResponse(req, frame.ExGWTargetFailedToRespond), upstreamTxnID
	}
	b.captureDownstream(pcap.DirectionInbound, df.RawBytes)

	corrID := dispatchID
	if b.downstreamKind == transport.KindTCP && len(df.RawBytes) >= 2 {
		corrID = binary.BigEndian.Uint16(df.RawBytes[0:2])
	}
	upstreamTxnID, ok := txn.resolve(corrID)
	if !ok {
		b.log.Warning("downstream reply with unknown correlation id", "corr_id", corrID)
	}

	if !df.Valid {
		return frame.ExceptionResponse(req, frame.ExGWTargetFailedToRespond), upstreamTxnID
	}
	return frame.DecodeResponse(df), upstreamTxnID
}

// finalizeUpstream runs steps 6-7 (response_hook, upstream_response_hook),
// re-encodes in the upstream framing with the original transaction id, and
// captures/publishes the outgoing reply.
func (b *Bridge) finalizeUpstream(resp *frame.Response, upstreamKind transport.Kind, upstreamTxnID uint16, sessionID string) []byte {
	if resp == nil {
		return nil
	}
	resp = b.engine.RunResponseChainHooks(resp)
	resp = b.engine.RunUpstreamResponseHooks(resp)
	if resp == nil {
		return nil
	}

	var out []byte
	if upstreamKind == transport.KindTCP {
		out = frame.EncodeTCP(upstreamTxnID, resp.ToPDU())
	} else {
		out = frame.EncodeRTU(resp.ToPDU())
	}
	b.captureUpstream(pcap.DirectionOutbound, upstreamKind, out)

	b.publish(eventbus.KindResponse, sessionID, map[string]interface{}{
		"unit_id": resp.UnitID, "function_code": resp.FunctionCode, "is_exception": resp.IsException,
	})
	return out
}

func (b *Bridge) captureUpstream(dir pcap.Direction, kind transport.Kind, raw []byte) {
	if b.pcap == nil {
		return
	}
	b.pcap.Upstream.Write(captureTime(), dir, protocolHint(kind), raw)
}

func (b *Bridge) captureDownstream(dir pcap.Direction, raw []byte) {
	if b.pcap == nil {
		return
	}
	b.pcap.Downstream.Write(captureTime(), dir, protocolHint(b.downstreamKind), raw)
}

func protocolHint(kind transport.Kind) pcap.ProtocolHint {
	if kind == transport.KindTCP {
		return pcap.ProtocolModbusTCP
	}
	return pcap.ProtocolModbusRTU
}

// captureTime is its own function so the sole non-deterministic call in the
// pipeline's hot path sits in one place.
func captureTime() time.Time { return time.Now() }

func upstreamTransactionID(kind transport.Kind, f *frame.Frame) uint16 {
	if kind != transport.KindTCP || len(f.RawBytes) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(f.RawBytes[0:2])
}

func releaseGuard(g *buscoord.Guard) {
	if g != nil {
		g.Release()
	}
}
