package linklayer

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/radio"
)

// BasebandManager owns the Link Managers of one device and hands the
// device radio to at most one of them at a time.
type BasebandManager struct {
	net  *Network
	id   DeviceID
	host Host
	log  logging.Logger

	managers []ManagerID
	// active holds the radio for the current transmit window.
	active ManagerID
	// owner receives radio upcalls; it outlives active when a frame is
	// still on air after the window is released.
	owner ManagerID
}

// ID returns the device id.
func (bb *BasebandManager) ID() DeviceID { return bb.id }

// Host returns the device layer above this manager.
func (bb *BasebandManager) Host() Host { return bb.host }

// Address is the device address.
func (bb *BasebandManager) Address() frame.Address { return bb.host.Address() }

// Radio returns the shared device radio.
func (bb *BasebandManager) Radio() Radio { return bb.host.Radio() }

// PhyState returns the radio state.
func (bb *BasebandManager) PhyState() radio.State { return bb.host.Radio().State() }

// NewLinkManager creates a Link Manager with network defaults and attaches it.
func (bb *BasebandManager) NewLinkManager() *LinkManager {
	lm := newLinkManager(bb.net, ManagerID(len(bb.net.managers)), bb.id)
	bb.net.managers = append(bb.net.managers, lm)
	bb.managers = append(bb.managers, lm.id)
	return lm
}

// AddLinkManager attaches an existing Link Manager created on this device.
func (bb *BasebandManager) AddLinkManager(lm *LinkManager) error {
	if lm == nil || lm.device != bb.id {
		return fmt.Errorf("add link manager: %w", ErrUnknownManager)
	}
	if bb.LinkManagerExists(lm) {
		return nil
	}
	bb.managers = append(bb.managers, lm.id)
	return nil
}

// LinkManagers returns the attached Link Managers in attach order.
func (bb *BasebandManager) LinkManagers() []*LinkManager {
	out := make([]*LinkManager, 0, len(bb.managers))
	for _, id := range bb.managers {
		out = append(out, bb.net.Manager(id))
	}
	return out
}

// LinkManagerExists reports whether lm is attached to this device.
func (bb *BasebandManager) LinkManagerExists(lm *LinkManager) bool {
	if lm == nil {
		return false
	}
	for _, id := range bb.managers {
		if id == lm.id {
			return true
		}
	}
	return false
}

// CountLinks returns the number of attached Link Managers with a link.
func (bb *BasebandManager) CountLinks() int {
	n := 0
	for _, lm := range bb.LinkManagers() {
		if lm.link != NoLink {
			n++
		}
	}
	return n
}

// LinkExists reports whether l is served by one of this device's Link Managers.
func (bb *BasebandManager) LinkExists(l *Link) bool {
	if l == nil {
		return false
	}
	for _, lm := range bb.LinkManagers() {
		if lm.link == l.id {
			return true
		}
	}
	return false
}

// LinkExistsTo reports whether a link to the device at addr exists.
func (bb *BasebandManager) LinkExistsTo(addr frame.Address) bool {
	return bb.GetLink(addr) != nil
}

// GetLink returns the first link that has the device at addr as a
// participant, or nil.
func (bb *BasebandManager) GetLink(addr frame.Address) *Link {
	if lm := bb.GetLinkManager(addr); lm != nil {
		return lm.Link()
	}
	return nil
}

// GetLinkManager returns the Link Manager whose link includes addr. Point to
// point links are preferred over broadcast groups.
func (bb *BasebandManager) GetLinkManager(addr frame.Address) *LinkManager {
	peer, ok := bb.net.DeviceByAddress(addr)
	if !ok || peer.id == bb.id {
		return nil
	}
	var fallback *LinkManager
	for _, lm := range bb.LinkManagers() {
		l := lm.Link()
		if l == nil || !l.IsMember(peer.id) {
			continue
		}
		if l.Type() == LinkPointToPoint {
			return lm
		}
		if fallback == nil {
			fallback = lm
		}
	}
	return fallback
}

// broadcastLinkManager returns the manager of a BROADCAST link, if any.
func (bb *BasebandManager) broadcastLinkManager() *LinkManager {
	for _, lm := range bb.LinkManagers() {
		if l := lm.Link(); l != nil && l.Type() == LinkBroadcast {
			return lm
		}
	}
	return nil
}

// ActiveLinkManager returns the Link Manager holding the radio, or nil.
func (bb *BasebandManager) ActiveLinkManager() *LinkManager {
	if bb.active == NoManager {
		return nil
	}
	return bb.net.Manager(bb.active)
}

// SetActiveLinkManager grants the radio to lm, or frees it when lm is nil.
func (bb *BasebandManager) SetActiveLinkManager(lm *LinkManager) {
	if lm == nil {
		bb.active = NoManager
		return
	}
	bb.active = lm.id
	bb.owner = lm.id
}

// release frees the radio if lm holds it.
func (bb *BasebandManager) release(lm *LinkManager) {
	if bb.active == lm.id {
		bb.active = NoManager
	}
}

// CreateLink connects this device to other with random timing.
func (bb *BasebandManager) CreateLink(other *BasebandManager, role Role) (*LinkManager, error) {
	return bb.CreateLinkScheduled(other, role, false, 0, 0)
}

// CreateLinkScheduled creates a Link Manager on both devices and sets up a
// point-to-point link in which this device takes role.
func (bb *BasebandManager) CreateLinkScheduled(other *BasebandManager, role Role, scheduled bool, offsetSlots, intervalSlots uint32) (*LinkManager, error) {
	if other == nil {
		return nil, fmt.Errorf("create link: %w", ErrUnknownDevice)
	}
	if other.id == bb.id {
		return nil, fmt.Errorf("create link %s: %w", bb.Address(), ErrSelfLink)
	}
	mine := bb.NewLinkManager()
	theirs := other.NewLinkManager()
	mine.SetupLink(role, theirs, scheduled, offsetSlots, intervalSlots)
	bb.log.Info(context.Background(), "link created",
		logging.String("peer", other.Address().String()),
		logging.String("role", role.String()),
		logging.Int("link", int(mine.link)),
		logging.Duration("conn_interval", mine.ConnInterval()),
		logging.Duration("window_offset", mine.TransmitWindowOffset()),
	)
	return mine, nil
}

// CreateLinkScheduledMultipleNodes makes this device master of a broadcast
// group with others.
func (bb *BasebandManager) CreateLinkScheduledMultipleNodes(others []*BasebandManager, scheduled bool, offsetSlots, intervalSlots uint32, collisionAvoidance bool) (*LinkManager, error) {
	if len(others) == 0 {
		return nil, fmt.Errorf("create broadcast link: no peers")
	}
	peers := make([]*LinkManager, 0, len(others))
	for _, o := range others {
		if o == nil {
			return nil, fmt.Errorf("create broadcast link: %w", ErrUnknownDevice)
		}
		if o.id == bb.id {
			return nil, fmt.Errorf("create broadcast link %s: %w", bb.Address(), ErrSelfLink)
		}
	}
	mine := bb.NewLinkManager()
	for _, o := range others {
		peers = append(peers, o.NewLinkManager())
	}
	mine.SetupBroadcastLink(peers, scheduled, offsetSlots, intervalSlots, collisionAvoidance)
	bb.log.Info(context.Background(), "broadcast link created",
		logging.Int("peers", len(peers)),
		logging.Int("link", int(mine.link)),
		logging.Duration("conn_interval", mine.ConnInterval()),
		logging.Bool("collision_avoidance", collisionAvoidance),
	)
	return mine, nil
}

// HandlePacket routes one outbound frame to the queue of the Link Manager
// serving its destination. It reports false when the frame was dropped.
func (bb *BasebandManager) HandlePacket(f frame.Frame) bool {
	var lm *LinkManager
	if f.Header.Dst.IsBroadcast() {
		lm = bb.broadcastLinkManager()
		if lm == nil && len(bb.managers) > 0 {
			lm = bb.net.Manager(bb.managers[0])
		}
	} else {
		lm = bb.GetLinkManager(f.Header.Dst)
	}
	if lm == nil {
		bb.host.TxDropped(f, "no route")
		bb.log.Debug(context.Background(), "no link manager for destination",
			logging.String("dst", f.Header.Dst.String()))
		return false
	}
	if !lm.Queue().Enqueue(f) {
		bb.host.TxDropped(f, "link queue full")
		return false
	}
	return true
}

// TryAgain drains the device queue into the Link Manager queues.
func (bb *BasebandManager) TryAgain() {
	q := bb.host.Queue()
	if q == nil {
		return
	}
	for {
		f, ok := q.Dequeue()
		if !ok {
			return
		}
		bb.HandlePacket(f)
	}
}

func (bb *BasebandManager) transmit(lm *LinkManager, b []byte, channel uint8) error {
	bb.owner = lm.id
	return bb.Radio().Transmit(b, channel)
}

func (bb *BasebandManager) listen(lm *LinkManager, channel uint8) {
	bb.owner = lm.id
	bb.Radio().Listen(channel)
}

// OnTxDone implements radio.Listener.
func (bb *BasebandManager) OnTxDone() {
	if lm := bb.net.Manager(bb.owner); lm != nil {
		lm.HandleTXDone()
	}
}

// OnRxDoneOK implements radio.Listener.
func (bb *BasebandManager) OnRxDoneOK(b []byte) {
	if lm := bb.net.Manager(bb.owner); lm != nil {
		lm.HandleRXDone(b)
	}
}

// OnRxDoneError implements radio.Listener.
func (bb *BasebandManager) OnRxDoneError(b []byte) {
	if lm := bb.net.Manager(bb.owner); lm != nil {
		lm.HandleRXError(b)
		return
	}
	bb.host.RxError(nil, b)
}

var _ radio.Listener = (*BasebandManager)(nil)
