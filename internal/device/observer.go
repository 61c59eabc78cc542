package device

import (
	"time"

	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/linklayer"
)

// TraceKind names a device trace source.
type TraceKind int

const (
	MacTx TraceKind = iota
	MacTxDrop
	MacRx
	MacRxBroadcast
	MacPromiscRx
	MacRxError
	TxWindowSkipped
	Retransmission
	FrameSent
)

var traceKindNames = [...]string{
	MacTx:           "MacTx",
	MacTxDrop:       "MacTxDrop",
	MacRx:           "MacRx",
	MacRxBroadcast:  "MacRxBroadcast",
	MacPromiscRx:    "MacPromiscRx",
	MacRxError:      "MacRxError",
	TxWindowSkipped: "TxWindowSkipped",
	Retransmission:  "Retransmission",
	FrameSent:       "FrameSent",
}

func (k TraceKind) String() string {
	if k < 0 || int(k) >= len(traceKindNames) {
		return "Unknown"
	}
	return traceKindNames[k]
}

// Trace is one event emitted by a Device.
type Trace struct {
	Kind    TraceKind
	At      time.Time
	Device  frame.Address
	Manager linklayer.ManagerID
	Frame   frame.Frame
	// Raw holds the undecodable bytes of a MacRxError.
	Raw []byte
	// Reason explains a MacTxDrop.
	Reason string
}

// Observer receives device traces. Observers run synchronously inside the
// simulation and must not block.
type Observer interface {
	Observe(Trace)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Trace)

// Observe calls f(t).
func (f ObserverFunc) Observe(t Trace) { f(t) }
