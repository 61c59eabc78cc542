package linklayer

import (
	"time"

	"github.com/signalsfoundry/blesim/internal/logging"
)

// resetConnection clears ARQ and hopping state for a fresh link.
func (lm *LinkManager) resetConnection(link LinkID) {
	lm.link = link
	lm.sn = false
	lm.nesn = false
	lm.peerNESN = false
	lm.peerHasMoreData = false
	lm.lastUnmapped = 0
	lm.current = nil
	lm.unacked = nil
	lm.connEventCounter = 0
	lm.SetLastTimeConnectionEstablished(lm.now())
	lm.log = lm.log.With(logging.Int("link", int(link)))
}

func (lm *LinkManager) applyTiming(interval, offset time.Duration) {
	lm.SetConnInterval(interval)
	lm.SetTransmitWindowOffset(offset)
	lm.SetTransmitWindowSize(LinkWindowSize)
}

// SetupLink creates a point-to-point link between lm and peer. lm takes role;
// a SLAVE gets a MASTER peer and vice versa. Both sides get identical timing
// and their first windows are scheduled immediately.
//
// When scheduled is true the link uses intervalSlots and places the first
// window offsetSlots*(window+1 slot) into the interval. Otherwise an interval
// (unless intervalSlots is non-zero) and an offset are drawn at random.
func (lm *LinkManager) SetupLink(role Role, peer *LinkManager, scheduled bool, offsetSlots, intervalSlots uint32) {
	link := lm.net.newLink()
	lm.role = role
	lm.resetConnection(link.ID())
	peer.resetConnection(link.ID())

	switch role {
	case RoleSlave:
		link.AddSlave(lm.device)
		link.SetMaster(peer.device)
		link.SetType(LinkPointToPoint)
		peer.role = RoleMaster
	case RoleMaster:
		link.AddSlave(peer.device)
		link.SetMaster(lm.device)
		link.SetType(LinkPointToPoint)
		peer.role = RoleSlave
	default:
		link.SetMaster(lm.device)
		link.SetType(LinkUnconnected)
	}
	link.SetChannel(0)

	lm.peers = []ManagerID{peer.id}
	peer.peers = []ManagerID{lm.id}

	interval, offset := lm.net.linkTiming(scheduled, offsetSlots, intervalSlots)
	lm.applyTiming(interval, offset)
	peer.applyTiming(interval, offset)

	lm.log.Debug(lm.ctx(), "point-to-point link set up",
		logging.String("role", lm.role.String()),
		logging.Duration("conn_interval", interval),
		logging.Duration("window_offset", offset),
		logging.Duration("window_size", LinkWindowSize),
	)

	lm.net.sched.After(0, lm.PrepareNextTransmitWindow)
	lm.net.sched.After(0, peer.PrepareNextTransmitWindow)
}

// SetupBroadcastLink makes lm the master of a connectionless BROADCAST link
// with peers as slaves. Keep-alive is disabled everywhere. Participants get
// distinct sleep counters 0..N with a shared maximum N, so with collision
// avoidance only one of them may advertise per window, round-robin.
func (lm *LinkManager) SetupBroadcastLink(peers []*LinkManager, scheduled bool, offsetSlots, intervalSlots uint32, collisionAvoidance bool) {
	link := lm.net.newLink()
	link.SetMaster(lm.device)
	link.SetType(LinkBroadcast)
	link.SetChannel(0)

	interval, offset := lm.net.linkTiming(scheduled, offsetSlots, intervalSlots)
	maxCounter := uint16(len(peers))

	all := append([]*LinkManager{lm}, peers...)
	for i, p := range all {
		if p != lm {
			link.AddSlave(p.device)
		}
		p.resetConnection(link.ID())
		p.role = RoleConnectionless
		p.state = StateScanner
		p.applyTiming(interval, offset)
		p.keepAlive = false
		p.advSleepCounter = uint16(i)
		p.advSleepMax = maxCounter
		p.collisionAvoidance = collisionAvoidance

		p.peers = p.peers[:0]
		for _, other := range all {
			if other != p {
				p.peers = append(p.peers, other.id)
			}
		}
	}

	lm.log.Debug(lm.ctx(), "broadcast link set up",
		logging.Int("slaves", len(peers)),
		logging.Duration("conn_interval", interval),
		logging.Duration("window_offset", offset),
		logging.Bool("collision_avoidance", collisionAvoidance),
	)

	for _, p := range peers {
		lm.net.sched.After(0, p.PrepareNextTransmitWindow)
	}
	lm.net.sched.After(0, lm.PrepareNextTransmitWindow)
}
