package linklayer

import (
	"context"
	"time"

	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/logging"
	"go.opentelemetry.io/otel/trace"
)

// ManagerStats counts what one Link Manager did.
type ManagerStats struct {
	WindowsStarted  uint64
	WindowsSkipped  uint64
	FramesSent      uint64
	KeepAlivesSent  uint64
	Retransmissions uint64
	FramesDelivered uint64
	Duplicates      uint64
	RxErrors        uint64
	Ignored         uint64
}

// LinkManager is one endpoint of one link: it owns the connection timing,
// the ARQ bits, channel hopping and the outbound queue for that link.
type LinkManager struct {
	net    *Network
	id     ManagerID
	device DeviceID
	link   LinkID
	peers  []ManagerID
	log    logging.Logger

	state State
	role  Role

	connInterval        time.Duration
	supervisionTimeout  time.Duration
	slaveLatency        uint16
	connEventCounter    uint16
	txWindowOffset      time.Duration
	txWindowSize        time.Duration
	lastTxWindow        time.Time
	lastConnEstablished time.Time
	firstWindowDone     bool

	sn              bool
	nesn            bool
	peerNESN        bool
	peerHasMoreData bool
	peerState       State
	myLastMD        bool
	onePacketSent   bool
	keepAlive       bool

	hopIncrement   uint8
	lastUnmapped   uint8
	usedChannels   []uint8
	currentChannel uint8

	queue   *Queue
	current *frame.Frame // on air
	unacked *frame.Frame // last connected frame, kept until acknowledged

	advSleepCounter    uint16
	advSleepMax        uint16
	collisionAvoidance bool

	nextWindow string
	endWindow  string
	span       trace.Span

	stats ManagerStats
}

func newLinkManager(n *Network, id ManagerID, dev DeviceID) *LinkManager {
	cfg := n.cfg
	lm := &LinkManager{
		net:                n,
		id:                 id,
		device:             dev,
		link:               NoLink,
		state:              StateStandby,
		role:               RoleStandby,
		peerState:          StateStandby,
		connInterval:       cfg.ConnInterval,
		supervisionTimeout: cfg.SupervisionTimeout,
		slaveLatency:       cfg.SlaveLatency,
		txWindowOffset:     cfg.TransmitWindowOffset,
		txWindowSize:       cfg.TransmitWindowSize,
		keepAlive:          !cfg.DisableKeepAlive,
		hopIncrement:       cfg.HopIncrement,
		usedChannels:       append([]uint8(nil), cfg.UsedChannels...),
		queue:              NewQueue(cfg.QueueSize),
		advSleepMax:        cfg.AdvSleepMax,
		collisionAvoidance: !cfg.DisableCollisionAvoidance,
	}
	addr := "unknown"
	if bb := n.Device(dev); bb != nil {
		addr = bb.Address().String()
	}
	lm.log = n.log.With(
		logging.String("device", addr),
		logging.Int("manager", int(id)),
	)
	return lm
}

func (lm *LinkManager) ID() ManagerID       { return lm.id }
func (lm *LinkManager) DeviceID() DeviceID  { return lm.device }
func (lm *LinkManager) State() State        { return lm.state }
func (lm *LinkManager) SetState(s State)    { lm.state = s }
func (lm *LinkManager) Role() Role          { return lm.role }
func (lm *LinkManager) SetRole(r Role)      { lm.role = r }
func (lm *LinkManager) Queue() *Queue       { return lm.queue }
func (lm *LinkManager) Stats() ManagerStats { return lm.stats }

// SetQueue replaces the outbound queue. A nil queue is a programming error
// caught on the next send.
func (lm *LinkManager) SetQueue(q *Queue) { lm.queue = q }

// Baseband returns the owning Baseband Manager.
func (lm *LinkManager) Baseband() *BasebandManager { return lm.net.Device(lm.device) }

// Link returns the associated link, or nil before setup.
func (lm *LinkManager) Link() *Link { return lm.net.Link(lm.link) }

// Peers returns the Link Managers on the other side of the link.
func (lm *LinkManager) Peers() []ManagerID { return append([]ManagerID(nil), lm.peers...) }

// IsConnected reports whether the manager is in a connected state.
func (lm *LinkManager) IsConnected() bool {
	return lm.state == StateMaster || lm.state == StateSlave
}

// AdvanceState applies NextState for the current role.
func (lm *LinkManager) AdvanceState() State {
	lm.state = NextState(lm.state, lm.role)
	return lm.state
}

func (lm *LinkManager) ctx() context.Context { return lm.net.ctx() }

func (lm *LinkManager) now() time.Time { return lm.net.sched.Now() }

func (lm *LinkManager) ConnInterval() time.Duration { return lm.connInterval }

// SetConnInterval accepts any value; values outside 7.5 ms..4 s are logged.
func (lm *LinkManager) SetConnInterval(d time.Duration) {
	if d < MinConnInterval || d > MaxConnInterval {
		lm.log.Warn(lm.ctx(), "connection interval outside 7.5ms..4s",
			logging.Duration("conn_interval", d))
	}
	lm.connInterval = d
}

func (lm *LinkManager) ConnSlaveLatency() uint16 { return lm.slaveLatency }

// SetConnSlaveLatency warns unless the latency fits the supervision budget
// or stays within 500 events.
func (lm *LinkManager) SetConnSlaveLatency(latency uint16) {
	budget := int64(-1)
	if lm.connInterval > 0 {
		budget = int64(lm.supervisionTimeout/lm.connInterval) - 1
	}
	if !(int64(latency) <= budget || latency <= MaxSlaveLatency) {
		lm.log.Warn(lm.ctx(), "slave latency out of range", logging.Int("slave_latency", int(latency)))
	}
	lm.slaveLatency = latency
}

func (lm *LinkManager) ConnSupervisionTimeout() time.Duration { return lm.supervisionTimeout }

// SetConnSupervisionTimeout stores the timeout; it does not drive
// disconnection.
func (lm *LinkManager) SetConnSupervisionTimeout(d time.Duration) {
	if d < MinSupervisionTimeout || d > MaxSupervisionTimeout {
		lm.log.Warn(lm.ctx(), "supervision timeout outside 100ms..32s",
			logging.Duration("supervision_timeout", d))
	}
	lm.supervisionTimeout = d
}

func (lm *LinkManager) ConnEventCounter() uint16            { return lm.connEventCounter }
func (lm *LinkManager) SetConnEventCounter(c uint16)        { lm.connEventCounter = c }
func (lm *LinkManager) TransmitWindowOffset() time.Duration { return lm.txWindowOffset }

// SetTransmitWindowOffset warns when the offset exceeds the interval.
func (lm *LinkManager) SetTransmitWindowOffset(d time.Duration) {
	if d > lm.connInterval {
		lm.log.Warn(lm.ctx(), "transmit window offset larger than connection interval",
			logging.Duration("window_offset", d),
			logging.Duration("conn_interval", lm.connInterval))
	}
	lm.txWindowOffset = d
}

func (lm *LinkManager) TransmitWindowSize() time.Duration { return lm.txWindowSize }

// SetTransmitWindowSize warns when the window is wider than
// min(interval - 1.25 ms, 10 ms).
func (lm *LinkManager) SetTransmitWindowSize(d time.Duration) {
	if d > lm.connInterval-SlotDuration || d > MaxTransmitWindowSize {
		lm.log.Warn(lm.ctx(), "transmit window size out of range",
			logging.Duration("window_size", d),
			logging.Duration("conn_interval", lm.connInterval))
	}
	lm.txWindowSize = d
}

// SetLastTimeConnectionEstablished re-anchors the first window.
func (lm *LinkManager) SetLastTimeConnectionEstablished(t time.Time) {
	lm.lastConnEstablished = t
	lm.firstWindowDone = false
}

func (lm *LinkManager) LastTimeConnectionEstablished() time.Time { return lm.lastConnEstablished }
func (lm *LinkManager) LastTransmitWindowTime() time.Time        { return lm.lastTxWindow }

// SetLastTransmitWindowTime records a window start and marks the first
// window as observed.
func (lm *LinkManager) SetLastTransmitWindowTime(t time.Time) {
	lm.lastTxWindow = t
	lm.firstWindowDone = true
}

func (lm *LinkManager) SN() bool                  { return lm.sn }
func (lm *LinkManager) NESN() bool                { return lm.nesn }
func (lm *LinkManager) SetSN(v bool)              { lm.sn = v }
func (lm *LinkManager) SetNESN(v bool)            { lm.nesn = v }
func (lm *LinkManager) PeerHasMoreData() bool     { return lm.peerHasMoreData }
func (lm *LinkManager) SetPeerHasMoreData(v bool) { lm.peerHasMoreData = v }
func (lm *LinkManager) PeerState() State          { return lm.peerState }
func (lm *LinkManager) MyLastMD() bool            { return lm.myLastMD }
func (lm *LinkManager) SetMyLastMD(v bool)        { lm.myLastMD = v }
func (lm *LinkManager) KeepAliveActive() bool     { return lm.keepAlive }
func (lm *LinkManager) SetKeepAliveActive(v bool) { lm.keepAlive = v }

// NeedToSendAtLeastOne reports whether this window still owes the peer a
// frame: always for a master that has not sent yet, and for a slave only
// while keep-alive is active.
func (lm *LinkManager) NeedToSendAtLeastOne() bool {
	switch lm.role {
	case RoleMaster:
		return !lm.onePacketSent
	case RoleSlave:
		return !lm.onePacketSent && lm.keepAlive
	default:
		return false
	}
}

// CurrentFrame returns the frame on air, if any.
func (lm *LinkManager) CurrentFrame() (frame.Frame, bool) {
	if lm.current == nil {
		return frame.Frame{}, false
	}
	return *lm.current, true
}

func (lm *LinkManager) AdvSleepCounter() uint16          { return lm.advSleepCounter }
func (lm *LinkManager) SetAdvSleepCounter(c uint16)      { lm.advSleepCounter = c }
func (lm *LinkManager) AdvSleepMax() uint16              { return lm.advSleepMax }
func (lm *LinkManager) SetAdvSleepMax(m uint16)          { lm.advSleepMax = m }
func (lm *LinkManager) AdvCollisionAvoidance() bool      { return lm.collisionAvoidance }
func (lm *LinkManager) SetAdvCollisionAvoidance(on bool) { lm.collisionAvoidance = on }

func (lm *LinkManager) advanceSleepCounter() {
	if lm.advSleepCounter >= lm.advSleepMax {
		lm.advSleepCounter = 0
		return
	}
	lm.advSleepCounter++
}

// HandleMessage applies a message posted by a peer Link Manager.
func (lm *LinkManager) HandleMessage(msg Message) {
	switch m := msg.(type) {
	case PeerHasMoreData:
		lm.peerHasMoreData = m.MoreData
	case PeerStateChanged:
		lm.peerState = m.State
	}
}

// isPeer reports whether id is one of the managers at the other end of the
// link.
func (lm *LinkManager) isPeer(id ManagerID) bool {
	for _, p := range lm.peers {
		if p == id {
			return true
		}
	}
	return false
}

func (lm *LinkManager) notifyPeers(msg Message) {
	for _, p := range lm.peers {
		lm.net.post(p, msg)
	}
}
