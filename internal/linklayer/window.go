package linklayer

import (
	"time"

	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/radio"
)

// GetNextTransmitWindowTime is the delay until the next window: one slot plus
// the window offset before the first window, the connection interval after.
func (lm *LinkManager) GetNextTransmitWindowTime() time.Duration {
	if !lm.firstWindowDone {
		return SlotDuration + lm.txWindowOffset
	}
	return lm.connInterval
}

// IsInsideLastTransmitWindow reports whether t lies in
// [window start, window start + window size].
func (lm *LinkManager) IsInsideLastTransmitWindow(t time.Time) bool {
	start := lm.lastTxWindow
	return !t.Before(start) && !t.After(start.Add(lm.txWindowSize))
}

// PrepareNextTransmitWindow schedules StartTransmitWindow, replacing any
// window already pending.
func (lm *LinkManager) PrepareNextTransmitWindow() {
	lm.net.sched.Cancel(lm.nextWindow)
	lm.nextWindow = lm.net.sched.After(lm.GetNextTransmitWindowTime(), lm.StartTransmitWindow)
}

// StartTransmitWindow opens a window if the device radio is free and acts by
// role. When another Link Manager holds the radio the window is skipped, but
// timing, hopping and sleep bookkeeping still advance.
func (lm *LinkManager) StartTransmitWindow() {
	bb := lm.Baseband()
	now := lm.now()
	lm.nextWindow = ""
	lm.connEventCounter++

	if active := bb.ActiveLinkManager(); active != nil {
		lm.SetLastTransmitWindowTime(now)
		lm.PrepareNextTransmitWindow()
		lm.ManageChannelSelection()
		if lm.role == RoleConnectionless {
			lm.advanceSleepCounter()
		}
		lm.stats.WindowsSkipped++
		lm.recordSkippedWindow(now, active)
		lm.log.Debug(lm.ctx(), "transmit window skipped",
			logging.Int("active_manager", int(active.id)),
			logging.String("phy_state", bb.PhyState().String()),
		)
		bb.host.TxWindowSkipped(lm)
		return
	}

	bb.SetActiveLinkManager(lm)
	lm.SetLastTransmitWindowTime(now)
	lm.net.sched.Cancel(lm.endWindow)
	lm.endWindow = lm.net.sched.After(lm.txWindowSize, lm.EndTransmitWindow)
	lm.onePacketSent = false
	lm.myLastMD = true

	lm.PrepareNextTransmitWindow()
	lm.ManageChannelSelection()
	lm.stats.WindowsStarted++
	lm.startWindowSpan(now)

	switch lm.role {
	case RoleMaster:
		lm.state = StateMaster
		lm.peerState = StateSlave
		lm.SendNextPacket()
	case RoleSlave:
		lm.state = StateSlave
		lm.listen()
	case RoleConnectionless:
		if lm.state != StateScanner {
			lm.log.Error(lm.ctx(), "connectionless link manager not scanning at window start",
				logging.String("state", lm.state.String()))
			lm.state = StateScanner
		}
		if !lm.queue.IsEmpty() && (lm.advSleepCounter == 0 || !lm.collisionAvoidance) {
			lm.state = StateAdvertiser
			lm.SendNextPacket()
		} else {
			lm.listen()
		}
		lm.advanceSleepCounter()
	default:
		lm.log.Warn(lm.ctx(), "window started for a link manager that is neither master nor slave",
			logging.String("role", lm.role.String()))
	}
}

// EndTransmitWindow closes the window and gives the radio back. A frame
// still on air is allowed to finish; its completion handler releases.
func (lm *LinkManager) EndTransmitWindow() {
	bb := lm.Baseband()
	r := bb.Radio()
	lm.endWindow = ""
	lm.endWindowSpan(lm.now())

	active := bb.ActiveLinkManager()
	switch {
	case active == nil:
		r.Idle()
	case active != lm:
	case lm.role == RoleConnectionless:
		r.Idle()
		bb.release(lm)
		lm.state = StateScanner
	default:
		switch r.State() {
		case radio.StateRx:
			r.Idle()
			bb.release(lm)
		case radio.StateIdle:
			bb.release(lm)
		default:
			lm.log.Warn(lm.ctx(), "transmit window ended with radio busy",
				logging.String("phy_state", r.State().String()))
		}
	}
}

// relinquish idles the radio and frees it if lm holds it.
func (lm *LinkManager) relinquish() {
	bb := lm.Baseband()
	if bb.ActiveLinkManager() != lm {
		return
	}
	bb.Radio().Idle()
	bb.release(lm)
	if lm.role == RoleConnectionless {
		lm.state = StateScanner
	}
}

func (lm *LinkManager) listen() {
	lm.Baseband().listen(lm, lm.currentChannel)
}
