package radio

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/signalsfoundry/blesim/internal/logging"
)

// Scheduler is the subset of the event scheduler the medium needs.
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, f func()) string
}

// Medium connects every radio of one simulation.
type Medium struct {
	sched  Scheduler
	log    logging.Logger
	rng    *rand.Rand
	ber    float64
	radios []*Radio
	onAir  []*transmission
}

// MediumOption configures a Medium.
type MediumOption func(*Medium)

// WithBitErrorRate corrupts each received bit independently with
// probability ber, drawing from rng.
func WithBitErrorRate(ber float64, rng *rand.Rand) MediumOption {
	return func(m *Medium) {
		m.ber = ber
		m.rng = rng
	}
}

// WithLogger sets the medium logger.
func WithLogger(l logging.Logger) MediumOption {
	return func(m *Medium) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMedium creates an empty medium driven by s.
func NewMedium(s Scheduler, opts ...MediumOption) *Medium {
	m := &Medium{sched: s, log: logging.Noop()}
	for _, opt := range opts {
		opt(m)
	}
	if m.ber > 0 && m.rng == nil {
		m.rng = rand.New(rand.NewSource(1))
	}
	return m
}

// NewRadio attaches a new idle radio.
func (m *Medium) NewRadio(name string) *Radio {
	r := &Radio{medium: m, id: len(m.radios), name: name}
	m.radios = append(m.radios, r)
	return r
}

// Radios returns every attached radio in creation order.
func (m *Medium) Radios() []*Radio {
	return append([]*Radio(nil), m.radios...)
}

type transmission struct {
	sender    *Radio
	channel   uint8
	frame     []byte
	start     time.Time
	receivers []*Radio
}

func (t *transmission) detach(r *Radio) {
	for i, rr := range t.receivers {
		if rr == r {
			t.receivers = append(t.receivers[:i], t.receivers[i+1:]...)
			return
		}
	}
}

func (m *Medium) startTransmission(sender *Radio, frame []byte, channel uint8) {
	tx := &transmission{
		sender:  sender,
		channel: channel,
		frame:   append([]byte(nil), frame...),
		start:   m.sched.Now(),
	}
	sender.tx = tx

	for _, r := range m.radios {
		if r == sender || r.channel != channel {
			continue
		}
		switch r.state {
		case StateRx:
			r.state = StateRxBusy
			r.rx = tx
			tx.receivers = append(tx.receivers, r)
		case StateRxBusy:
			// A second frame on the same channel ruins the one in progress.
			r.rxCorrupt = true
			m.log.Debug(context.Background(), "collision",
				logging.String("radio", r.name),
				logging.String("sender", sender.name),
				logging.Int("channel", int(channel)),
			)
		}
	}

	m.onAir = append(m.onAir, tx)
	m.sched.After(Airtime(len(frame)), func() { m.finish(tx) })
}

// lockOnto synchronises a freshly listening radio to a frame whose preamble
// is still on air.
func (m *Medium) lockOnto(r *Radio) {
	now := m.sched.Now()
	var found *transmission
	overlapping := 0
	for _, tx := range m.onAir {
		if tx.channel != r.channel || tx.sender == r {
			continue
		}
		overlapping++
		if found == nil && now.Sub(tx.start) <= PreambleDuration {
			found = tx
		}
	}
	if found == nil {
		return
	}
	r.state = StateRxBusy
	r.rx = found
	r.rxCorrupt = overlapping > 1
	found.receivers = append(found.receivers, r)
}

func (m *Medium) finish(tx *transmission) {
	for i, t := range m.onAir {
		if t == tx {
			m.onAir = append(m.onAir[:i], m.onAir[i+1:]...)
			break
		}
	}

	receivers := tx.receivers
	tx.receivers = nil
	for _, r := range receivers {
		if r.rx != tx {
			continue
		}
		corrupt := r.rxCorrupt || m.bitErrors(len(tx.frame))
		r.rx = nil
		r.rxCorrupt = false
		r.state = StateIdle
		if r.listener == nil {
			continue
		}
		frame := append([]byte(nil), tx.frame...)
		if corrupt {
			r.listener.OnRxDoneError(frame)
		} else {
			r.listener.OnRxDoneOK(frame)
		}
	}

	s := tx.sender
	if s.tx == tx {
		s.tx = nil
		s.state = StateIdle
		if s.listener != nil {
			s.listener.OnTxDone()
		}
	}
}

func (m *Medium) bitErrors(n int) bool {
	if m.ber <= 0 || m.rng == nil {
		return false
	}
	bits := float64((n + OverheadBytes) * 8)
	pErr := 1 - math.Pow(1-m.ber, bits)
	return m.rng.Float64() < pErr
}
