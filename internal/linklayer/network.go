// Package linklayer models the BLE Link Layer: per-link Link Managers that
// schedule transmit windows, run stop-and-wait ARQ and hop channels, and
// per-device Baseband Managers that arbitrate the single shared radio.
//
// All entities live in a Network arena and refer to each other by id.
// Everything runs inside scheduler callbacks; nothing here is safe for
// concurrent use.
package linklayer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/radio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Scheduler is the discrete-event substrate.
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, f func()) (id string)
	Cancel(id string)
}

// Radio is the device transceiver shared by all Link Managers of a device.
type Radio interface {
	Transmit(frame []byte, channel uint8) error
	Listen(channel uint8)
	Idle()
	State() radio.State
}

// Host is the network-device layer above a Baseband Manager.
type Host interface {
	Address() frame.Address
	Radio() Radio
	// Queue holds frames the device accepted but has not yet handed to a
	// Link Manager.
	Queue() *Queue

	TxWindowSkipped(lm *LinkManager)
	FrameSent(lm *LinkManager, f frame.Frame, retransmission bool)
	FrameReceived(lm *LinkManager, f frame.Frame)
	RxError(lm *LinkManager, raw []byte)
	TxDropped(f frame.Frame, reason string)
}

// Message is posted between Link Managers through the scheduler.
type Message interface {
	isMessage()
}

// PeerHasMoreData tells a peer the sender has (or no longer has) data queued.
type PeerHasMoreData struct {
	From     ManagerID
	MoreData bool
}

// PeerStateChanged tells a peer the sender moved to State.
type PeerStateChanged struct {
	From  ManagerID
	State State
}

func (PeerHasMoreData) isMessage()  {}
func (PeerStateChanged) isMessage() {}

// Network is the arena owning every device, Link Manager and Link of one
// simulation.
type Network struct {
	sched  Scheduler
	rng    *rand.Rand
	log    logging.Logger
	cfg    Config
	tracer trace.Tracer

	devices  []*BasebandManager
	managers []*LinkManager
	links    []*Link
	byAddr   map[frame.Address]DeviceID
}

// Option configures a Network.
type Option func(*Network)

// WithRand sets the random source used for unscheduled link timing.
func WithRand(r *rand.Rand) Option {
	return func(n *Network) { n.rng = r }
}

// WithLogger sets the base logger.
func WithLogger(l logging.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.log = l
		}
	}
}

// WithConfig overrides Link Manager defaults.
func WithConfig(cfg Config) Option {
	return func(n *Network) { n.cfg = cfg }
}

// WithTracer sets the tracer used for transmit-window spans.
func WithTracer(t trace.Tracer) Option {
	return func(n *Network) { n.tracer = t }
}

// NewNetwork creates an empty arena driven by s.
func NewNetwork(s Scheduler, opts ...Option) *Network {
	n := &Network{
		sched:  s,
		log:    logging.Noop(),
		byAddr: make(map[frame.Address]DeviceID),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.cfg.ApplyDefaults()
	if n.rng == nil {
		n.rng = rand.New(rand.NewSource(1))
	}
	if n.tracer == nil {
		n.tracer = otel.Tracer("github.com/signalsfoundry/blesim/internal/linklayer")
	}
	return n
}

// Config returns the effective defaults.
func (n *Network) Config() Config { return n.cfg }

// Scheduler returns the scheduler driving the network.
func (n *Network) Scheduler() Scheduler { return n.sched }

// Now is the current simulated time.
func (n *Network) Now() time.Time { return n.sched.Now() }

// AddDevice registers a host and creates its Baseband Manager.
func (n *Network) AddDevice(h Host) (*BasebandManager, error) {
	if h == nil {
		return nil, fmt.Errorf("add device: nil host")
	}
	addr := h.Address()
	if addr.IsBroadcast() {
		return nil, fmt.Errorf("add device: %s is the broadcast address", addr)
	}
	if _, dup := n.byAddr[addr]; dup {
		return nil, fmt.Errorf("add device %s: %w", addr, ErrDuplicateAddress)
	}
	bb := &BasebandManager{
		net:    n,
		id:     DeviceID(len(n.devices)),
		host:   h,
		active: NoManager,
		owner:  NoManager,
	}
	bb.log = n.log.With(logging.String("device", addr.String()))
	n.devices = append(n.devices, bb)
	n.byAddr[addr] = bb.id
	return bb, nil
}

// Device returns the Baseband Manager for id, or nil.
func (n *Network) Device(id DeviceID) *BasebandManager {
	if id < 0 || int(id) >= len(n.devices) {
		return nil
	}
	return n.devices[id]
}

// DeviceByAddress looks a Baseband Manager up by its host address.
func (n *Network) DeviceByAddress(a frame.Address) (*BasebandManager, bool) {
	id, ok := n.byAddr[a]
	if !ok {
		return nil, false
	}
	return n.devices[id], true
}

// Devices returns every Baseband Manager in registration order.
func (n *Network) Devices() []*BasebandManager {
	return append([]*BasebandManager(nil), n.devices...)
}

// Manager returns the Link Manager for id, or nil.
func (n *Network) Manager(id ManagerID) *LinkManager {
	if id < 0 || int(id) >= len(n.managers) {
		return nil
	}
	return n.managers[id]
}

// Managers returns every Link Manager in creation order.
func (n *Network) Managers() []*LinkManager {
	return append([]*LinkManager(nil), n.managers...)
}

// Link returns the Link for id, or nil.
func (n *Network) Link(id LinkID) *Link {
	if id < 0 || int(id) >= len(n.links) {
		return nil
	}
	return n.links[id]
}

// Links returns every Link in creation order.
func (n *Network) Links() []*Link {
	return append([]*Link(nil), n.links...)
}

func (n *Network) newLink() *Link {
	l := newLink(LinkID(len(n.links)))
	n.links = append(n.links, l)
	return l
}

// post delivers msg to the Link Manager 'to' on the next scheduler tick.
func (n *Network) post(to ManagerID, msg Message) {
	n.sched.After(0, func() {
		if lm := n.Manager(to); lm != nil {
			lm.HandleMessage(msg)
		}
	})
}

// linkTiming derives connection interval and first-window offset for a new
// link. Scheduled links are placed deterministically; unscheduled ones draw
// from the network random source.
func (n *Network) linkTiming(scheduled bool, offsetSlots, intervalSlots uint32) (interval, offset time.Duration) {
	windowSlots := uint32(LinkWindowSize / SlotDuration)
	if scheduled {
		interval = time.Duration(intervalSlots) * SlotDuration
		offset = time.Duration(offsetSlots*(windowSlots+1)) * SlotDuration
		return interval, offset
	}
	iv := intervalSlots
	if iv == 0 {
		iv = uint32(MinConnIntervalSlots + n.rng.Intn(MaxConnIntervalSlots-MinConnIntervalSlots+1))
	}
	off := uint32(n.rng.Int63n(int64(iv) + 1))
	return time.Duration(iv) * SlotDuration, time.Duration(off) * SlotDuration
}

func (n *Network) ctx() context.Context { return context.Background() }
