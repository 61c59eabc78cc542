package linklayer

import (
	"testing"
	"time"

	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/radio"
	"github.com/signalsfoundry/blesim/internal/sched"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type sentFrame struct {
	at     time.Duration
	frame  frame.Frame
	resend bool
}

// testHost is a minimal device layer recording every upcall.
type testHost struct {
	s        *sched.Scheduler
	addr     frame.Address
	radio    *radio.Radio
	queue    *Queue
	skipped  int
	sent     []sentFrame
	received []frame.Frame
	rxErrors int
	dropped  []string
}

func (h *testHost) Address() frame.Address { return h.addr }
func (h *testHost) Radio() Radio           { return h.radio }
func (h *testHost) Queue() *Queue          { return h.queue }

func (h *testHost) TxWindowSkipped(*LinkManager) { h.skipped++ }

func (h *testHost) FrameSent(_ *LinkManager, f frame.Frame, resend bool) {
	h.sent = append(h.sent, sentFrame{at: h.s.Now().Sub(epoch), frame: f, resend: resend})
}

func (h *testHost) FrameReceived(_ *LinkManager, f frame.Frame) { h.received = append(h.received, f) }
func (h *testHost) RxError(*LinkManager, []byte)                { h.rxErrors++ }
func (h *testHost) TxDropped(_ frame.Frame, reason string)      { h.dropped = append(h.dropped, reason) }

func (h *testHost) dataSent() []sentFrame {
	var out []sentFrame
	for _, s := range h.sent {
		if s.frame.Header.LLID == frame.LLIDData {
			out = append(out, s)
		}
	}
	return out
}

type testNet struct {
	s     *sched.Scheduler
	net   *Network
	bbs   []*BasebandManager
	hosts []*testHost
}

func newTestNet(t *testing.T, devices int, opts ...Option) *testNet {
	t.Helper()
	s := sched.New(epoch)
	m := radio.NewMedium(s)
	n := NewNetwork(s, opts...)
	tn := &testNet{s: s, net: n}
	for i := 0; i < devices; i++ {
		h := &testHost{
			s:     s,
			addr:  frame.Address(i + 1),
			radio: m.NewRadio(frame.Address(i + 1).String()),
			queue: NewQueue(16),
		}
		bb, err := n.AddDevice(h)
		if err != nil {
			t.Fatalf("AddDevice: %v", err)
		}
		h.radio.SetListener(bb)
		tn.bbs = append(tn.bbs, bb)
		tn.hosts = append(tn.hosts, h)
	}
	return tn
}

func (tn *testNet) runUntil(d time.Duration) {
	tn.s.RunUntil(epoch.Add(d))
}

func dataFrame(src, dst frame.Address, payload string) frame.Frame {
	return frame.Frame{
		Header:  frame.Header{Src: src, Dst: dst, Protocol: 0x0800},
		Payload: []byte(payload),
	}
}
