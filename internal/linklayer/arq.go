package linklayer

import (
	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/logging"
)

// ManageSequenceNumberTX decides between new and old data. SN differing
// from the peer's last NESN means the previous frame was acknowledged: SN is
// flipped and new data may go out. Equal values mean resend.
func (lm *LinkManager) ManageSequenceNumberTX() bool {
	if lm.sn != lm.peerNESN {
		lm.sn = !lm.sn
		return true
	}
	return false
}

// ManageSequenceNumberRX classifies a received SN. A value other than NESN
// is a duplicate; otherwise NESN flips and the frame is new.
func (lm *LinkManager) ManageSequenceNumberRX(sn bool) bool {
	if sn != lm.nesn {
		return false
	}
	lm.nesn = !lm.nesn
	return true
}

// SendNextPacket puts the next frame on air: a retransmission of the
// unacknowledged frame, the head of the queue, or a keep-alive. Outside the
// current window it gives the radio back instead.
func (lm *LinkManager) SendNextPacket() {
	if lm.state == StateScanner {
		panic("linklayer: SendNextPacket called while SCANNER")
	}
	if lm.queue == nil {
		panic("linklayer: link manager has no queue")
	}

	if !lm.IsInsideLastTransmitWindow(lm.now()) {
		lm.log.Debug(lm.ctx(), "no time left in transmit window")
		lm.relinquish()
		if lm.state == StateAdvertiser {
			lm.state = StateScanner
		}
		return
	}

	advertising := lm.state == StateAdvertiser
	ready := advertising || lm.ManageSequenceNumberTX()
	if ready {
		lm.unacked = nil
	}

	var (
		out    *frame.Frame
		resend bool
	)
	switch {
	case lm.unacked != nil && !advertising:
		f := lm.unacked.Clone()
		out, resend = &f, true
	default:
		if f, ok := lm.queue.Dequeue(); ok {
			if advertising && !f.Header.Dst.IsBroadcast() {
				lm.log.Warn(lm.ctx(), "advertising a frame not addressed to broadcast",
					logging.String("dst", f.Header.Dst.String()))
			}
			f.Header.LLID = frame.LLIDData
			f.Header.NESN = lm.nesn
			f.Header.SN = lm.sn
			f.Header.MD = !lm.queue.IsEmpty()
			f.Header.Length = 1
			lm.myLastMD = f.Header.MD
			lm.onePacketSent = true
			out = &f
		} else if lm.role == RoleMaster || lm.NeedToSendAtLeastOne() || lm.peerHasMoreData {
			f := frame.Frame{Header: frame.Header{
				Src:  lm.Baseband().Address(),
				Dst:  frame.Broadcast,
				LLID: frame.LLIDControl,
				NESN: lm.nesn,
				SN:   lm.sn,
			}}
			lm.myLastMD = false
			lm.onePacketSent = true
			out = &f
		}
	}

	if out != nil {
		if !advertising {
			kept := out.Clone()
			lm.unacked = &kept
		}
		if !out.Header.Dst.IsBroadcast() {
			lm.notifyPeers(PeerHasMoreData{From: lm.id, MoreData: true})
		}
		lm.transmit(*out, resend)
	}
	if advertising {
		lm.state = StateScanner
	}
}

func (lm *LinkManager) transmit(f frame.Frame, resend bool) {
	b, err := f.Bytes()
	if err != nil {
		lm.log.Error(lm.ctx(), "encode frame", logging.Err(err))
		return
	}
	bb := lm.Baseband()
	lm.current = &f
	if err := bb.transmit(lm, b, lm.currentChannel); err != nil {
		lm.current = nil
		lm.log.Warn(lm.ctx(), "radio refused frame", logging.Err(err))
		return
	}

	lm.stats.FramesSent++
	if f.Header.IsKeepAlive() {
		lm.stats.KeepAlivesSent++
	}
	if resend {
		lm.stats.Retransmissions++
		lm.log.Debug(lm.ctx(), "retransmitting previous frame", logging.Bool("sn", f.Header.SN))
	}
	lm.addSpanEvent("tx", f.Header, resend)
	bb.host.FrameSent(lm, f, resend)
}

// HandleTXDone runs when the radio finished sending the current frame. A
// master listens for the answer after a short guard; a slave drops to
// STANDBY and tells its peer.
func (lm *LinkManager) HandleTXDone() {
	lm.Baseband().Radio().Idle()
	lm.current = nil
	inside := lm.IsInsideLastTransmitWindow(lm.now())

	switch lm.state {
	case StateMaster:
		lm.net.sched.After(lm.net.cfg.MasterRxGuard, lm.afterMasterTx)
	case StateSlave:
		lm.state = StateStandby
		lm.notifyPeers(PeerStateChanged{From: lm.id, State: StateStandby})
		if !inside {
			lm.relinquish()
		}
	default:
		if !inside {
			lm.relinquish()
		}
	}
}

// afterMasterTx listens for the slave's answer while the window lasts.
func (lm *LinkManager) afterMasterTx() {
	if lm.Baseband().ActiveLinkManager() != lm {
		return
	}
	expectAnswer := lm.peerHasMoreData
	if l := lm.Link(); l != nil && l.Type() == LinkPointToPoint {
		expectAnswer = true
	}
	if lm.IsInsideLastTransmitWindow(lm.now()) && expectAnswer {
		lm.listen()
		return
	}
	lm.relinquish()
}

// HandleRXDone processes a frame received intact.
func (lm *LinkManager) HandleRXDone(raw []byte) {
	bb := lm.Baseband()
	if bb.ActiveLinkManager() != lm {
		return
	}
	f, err := frame.Decode(raw)
	if err != nil {
		lm.HandleRXError(raw)
		return
	}
	inside := lm.IsInsideLastTransmitWindow(lm.now())

	src, ok := lm.net.DeviceByAddress(f.Header.Src)
	link := lm.Link()
	if !ok || link == nil || src.id == lm.device || !link.IsMember(src.id) || !lm.isPeer(src.owner) {
		lm.stats.Ignored++
		lm.log.Debug(lm.ctx(), "ignoring frame from outside the link",
			logging.String("src", f.Header.Src.String()),
			logging.Int("sender_manager", int(src.owner)))
		lm.keepListeningOrRelease(inside)
		return
	}
	if lm.role != RoleConnectionless && f.Header.LLID == frame.LLIDData &&
		!f.Header.Dst.IsBroadcast() && f.Header.Dst != bb.Address() {
		lm.stats.Ignored++
		lm.log.Debug(lm.ctx(), "data frame addressed to another device",
			logging.String("dst", f.Header.Dst.String()))
		lm.keepListeningOrRelease(inside)
		return
	}
	lm.addSpanEvent("rx", f.Header, false)

	if lm.role == RoleConnectionless {
		if f.Header.LLID == frame.LLIDData {
			lm.stats.FramesDelivered++
			bb.host.FrameReceived(lm, f)
		}
		lm.keepListeningOrRelease(inside)
		return
	}

	lm.peerNESN = f.Header.NESN
	lm.peerHasMoreData = f.Header.MD
	if lm.ManageSequenceNumberRX(f.Header.SN) {
		if f.Header.LLID == frame.LLIDData {
			lm.stats.FramesDelivered++
			bb.host.FrameReceived(lm, f)
		}
	} else {
		lm.stats.Duplicates++
		lm.log.Debug(lm.ctx(), "duplicate frame ignored", logging.Bool("sn", f.Header.SN))
	}

	switch lm.state {
	case StateSlave:
		lm.net.sched.After(lm.net.cfg.InterFrameSpace, lm.respond)
	case StateMaster:
		lm.net.sched.After(lm.net.cfg.InterFrameSpace, lm.continueEvent)
	default:
		if !inside {
			lm.relinquish()
		}
	}
}

// respond answers the master inside the same connection event.
func (lm *LinkManager) respond() {
	if lm.Baseband().ActiveLinkManager() != lm || lm.state != StateSlave {
		return
	}
	lm.SendNextPacket()
}

// continueEvent keeps a connection event going while either side has data
// and the peer is still awake; otherwise the master gives the radio back.
func (lm *LinkManager) continueEvent() {
	if lm.Baseband().ActiveLinkManager() != lm {
		return
	}
	more := lm.peerHasMoreData || !lm.queue.IsEmpty()
	if lm.IsInsideLastTransmitWindow(lm.now()) && lm.peerState != StateStandby && more {
		lm.SendNextPacket()
		return
	}
	lm.relinquish()
}

// HandleRXError reports a corrupted reception. ARQ state is untouched so
// the sender's retry recovers the frame.
func (lm *LinkManager) HandleRXError(raw []byte) {
	bb := lm.Baseband()
	lm.stats.RxErrors++
	bb.host.RxError(lm, raw)
	if bb.ActiveLinkManager() != lm {
		return
	}
	lm.keepListeningOrRelease(lm.IsInsideLastTransmitWindow(lm.now()))
}

func (lm *LinkManager) keepListeningOrRelease(inside bool) {
	if inside {
		lm.listen()
		return
	}
	lm.relinquish()
}
