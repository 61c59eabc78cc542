// Package device is the network-device layer: it owns a radio, a device
// queue and a Baseband Manager, classifies received frames and fans traces
// out to observers.
package device

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/linklayer"
	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/radio"
)

// ReceiveCallback is invoked for every data frame passed up the stack.
type ReceiveCallback func(d *Device, f frame.Frame)

// Device is one simulated BLE node.
type Device struct {
	addr  frame.Address
	net   *linklayer.Network
	radio *radio.Radio
	queue *linklayer.Queue
	bb    *linklayer.BasebandManager
	log   logging.Logger

	observers []Observer
	receive   ReceiveCallback
	promisc   ReceiveCallback
}

// Option configures a Device.
type Option func(*Device)

// WithQueueSize sets the device queue limit in frames.
func WithQueueSize(n int) Option {
	return func(d *Device) { d.queue = linklayer.NewQueue(n) }
}

// WithLogger sets the device logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithObserver attaches o at construction time.
func WithObserver(o Observer) Option {
	return func(d *Device) { d.AddObserver(o) }
}

// New creates a device at addr with a radio on m and registers it with net.
func New(net *linklayer.Network, m *radio.Medium, addr frame.Address, opts ...Option) (*Device, error) {
	d := &Device{
		addr: addr,
		net:  net,
		log:  logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queue == nil {
		d.queue = linklayer.NewQueue(net.Config().QueueSize)
	}
	d.log = d.log.With(logging.String("device", addr.String()))

	bb, err := net.AddDevice(d)
	if err != nil {
		return nil, fmt.Errorf("new device: %w", err)
	}
	d.bb = bb
	d.radio = m.NewRadio(addr.String())
	d.radio.SetListener(bb)
	return d, nil
}

func (d *Device) Address() frame.Address               { return d.addr }
func (d *Device) Radio() linklayer.Radio               { return d.radio }
func (d *Device) Queue() *linklayer.Queue              { return d.queue }
func (d *Device) Baseband() *linklayer.BasebandManager { return d.bb }

// AddObserver registers o for every subsequent trace.
func (d *Device) AddObserver(o Observer) {
	if o != nil {
		d.observers = append(d.observers, o)
	}
}

// SetReceiveCallback installs the upper-layer receive hook.
func (d *Device) SetReceiveCallback(cb ReceiveCallback) { d.receive = cb }

// SetPromiscReceiveCallback installs the promiscuous receive hook.
func (d *Device) SetPromiscReceiveCallback(cb ReceiveCallback) { d.promisc = cb }

// Send queues payload for dst from this device.
func (d *Device) Send(payload []byte, dst frame.Address, protocol uint16) bool {
	return d.SendFrom(payload, d.addr, dst, protocol)
}

// SendFrom queues payload with an explicit source address. The frame is
// handed to the Baseband Manager at the current instant; it reports false
// when the device queue is full.
func (d *Device) SendFrom(payload []byte, src, dst frame.Address, protocol uint16) bool {
	if src != d.addr {
		d.log.Warn(context.Background(), "sending with a foreign source address",
			logging.String("src", src.String()))
	}
	f := frame.Frame{
		Header: frame.Header{
			Src:      src,
			Dst:      dst,
			Protocol: protocol,
			LLID:     frame.LLIDData,
		},
		Payload: append([]byte(nil), payload...),
	}
	if !d.queue.Enqueue(f) {
		d.emit(Trace{Kind: MacTxDrop, Manager: linklayer.NoManager, Frame: f, Reason: "device queue full"})
		return false
	}
	d.emit(Trace{Kind: MacTx, Manager: linklayer.NoManager, Frame: f})
	d.net.Scheduler().After(0, d.bb.TryAgain)
	return true
}

func (d *Device) emit(t Trace) {
	t.At = d.net.Now()
	t.Device = d.addr
	for _, o := range d.observers {
		o.Observe(t)
	}
}

func managerID(lm *linklayer.LinkManager) linklayer.ManagerID {
	if lm == nil {
		return linklayer.NoManager
	}
	return lm.ID()
}

// TxWindowSkipped implements linklayer.Host.
func (d *Device) TxWindowSkipped(lm *linklayer.LinkManager) {
	d.emit(Trace{Kind: TxWindowSkipped, Manager: managerID(lm)})
}

// FrameSent implements linklayer.Host.
func (d *Device) FrameSent(lm *linklayer.LinkManager, f frame.Frame, retransmission bool) {
	d.emit(Trace{Kind: FrameSent, Manager: managerID(lm), Frame: f})
	if retransmission {
		d.emit(Trace{Kind: Retransmission, Manager: managerID(lm), Frame: f})
	}
}

// FrameReceived implements linklayer.Host. Broadcast frames go up as
// broadcast; frames for this address also reach the promiscuous hook;
// anything else is dropped.
func (d *Device) FrameReceived(lm *linklayer.LinkManager, f frame.Frame) {
	id := managerID(lm)
	switch {
	case f.Header.Dst.IsBroadcast():
		d.emit(Trace{Kind: MacRxBroadcast, Manager: id, Frame: f})
		if d.receive != nil {
			d.receive(d, f)
		}
	case f.Header.Dst == d.addr:
		d.emit(Trace{Kind: MacRx, Manager: id, Frame: f})
		d.emit(Trace{Kind: MacPromiscRx, Manager: id, Frame: f})
		if d.receive != nil {
			d.receive(d, f)
		}
		if d.promisc != nil {
			d.promisc(d, f)
		}
	default:
		d.log.Debug(context.Background(), "frame not for this device",
			logging.String("dst", f.Header.Dst.String()))
	}
}

// RxError implements linklayer.Host.
func (d *Device) RxError(lm *linklayer.LinkManager, raw []byte) {
	d.emit(Trace{Kind: MacRxError, Manager: managerID(lm), Raw: append([]byte(nil), raw...)})
}

// TxDropped implements linklayer.Host.
func (d *Device) TxDropped(f frame.Frame, reason string) {
	d.emit(Trace{Kind: MacTxDrop, Manager: linklayer.NoManager, Frame: f, Reason: reason})
}

var _ linklayer.Host = (*Device)(nil)
