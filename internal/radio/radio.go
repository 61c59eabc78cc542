// Package radio is a deliberately simple shared-medium radio model: frames
// occupy a channel for their airtime, a listening radio on the same channel
// picks them up, and overlapping transmissions on one channel collide.
package radio

import (
	"errors"
	"fmt"
	"time"
)

// NumChannels is the number of RF channel indices (37 data + 3 advertising).
const NumChannels = 40

const (
	// BitDuration is the airtime of one bit on the 1 Mb/s PHY.
	BitDuration = time.Microsecond
	// OverheadBytes covers preamble, access address and CRC.
	OverheadBytes = 10
	// PreambleDuration bounds how late a receiver may start listening and
	// still synchronise to a frame already on air.
	PreambleDuration = 8 * BitDuration
)

var (
	// ErrBusy is returned when Transmit is called while already transmitting.
	ErrBusy = errors.New("radio: transmitter busy")
	// ErrInvalidChannel is returned for channel indices >= NumChannels.
	ErrInvalidChannel = errors.New("radio: invalid channel")
)

// State of a single radio.
type State int

const (
	StateIdle State = iota
	StateTx
	StateRx     // listening, nothing locked
	StateRxBusy // receiving a frame
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateTx:
		return "TX"
	case StateRx:
		return "RX"
	case StateRxBusy:
		return "RX_BUSY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Airtime returns how long a frame of n bytes occupies the channel.
func Airtime(n int) time.Duration {
	return time.Duration(n+OverheadBytes) * 8 * BitDuration
}

// Listener receives completion upcalls. Receivers are notified before the
// sender's OnTxDone for the same frame.
type Listener interface {
	OnTxDone()
	OnRxDoneOK(frame []byte)
	OnRxDoneError(frame []byte)
}

// Radio is one device's transceiver attached to a Medium.
type Radio struct {
	medium   *Medium
	id       int
	name     string
	state    State
	channel  uint8
	listener Listener

	rx        *transmission // frame being received, if any
	rxCorrupt bool
	tx        *transmission
}

// Name returns the label given at creation.
func (r *Radio) Name() string { return r.name }

// State returns the current radio state.
func (r *Radio) State() State { return r.state }

// Channel returns the channel last used for transmit or listen.
func (r *Radio) Channel() uint8 { return r.channel }

// SetListener installs the upcall target.
func (r *Radio) SetListener(l Listener) { r.listener = l }

// Transmit starts sending frame on channel. Any reception in progress is
// abandoned. Completion is signalled through OnTxDone.
func (r *Radio) Transmit(frame []byte, channel uint8) error {
	if channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if r.state == StateTx {
		return ErrBusy
	}
	r.dropReception()
	r.state = StateTx
	r.channel = channel
	r.medium.startTransmission(r, frame, channel)
	return nil
}

// Listen puts the radio in receive mode on channel. A frame that started on
// that channel less than PreambleDuration ago is still picked up. Calling
// Listen while transmitting has no effect.
func (r *Radio) Listen(channel uint8) {
	if channel >= NumChannels || r.state == StateTx {
		return
	}
	if r.state == StateRxBusy && r.channel == channel {
		return
	}
	r.dropReception()
	r.state = StateRx
	r.channel = channel
	r.medium.lockOnto(r)
}

// Idle stops listening. A transmission already on air is not interrupted.
func (r *Radio) Idle() {
	if r.state == StateTx {
		return
	}
	r.dropReception()
	r.state = StateIdle
}

func (r *Radio) dropReception() {
	if r.rx != nil {
		r.rx.detach(r)
		r.rx = nil
	}
	r.rxCorrupt = false
}
