package linklayer

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/blesim/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestIsInsideLastTransmitWindow(t *testing.T) {
	tn := newTestNet(t, 1)
	lm := tn.bbs[0].NewLinkManager()
	start := epoch.Add(time.Second)
	lm.SetLastTransmitWindowTime(start)
	lm.SetTransmitWindowSize(5 * time.Millisecond)

	cases := []struct {
		at   time.Time
		want bool
	}{
		{start.Add(-time.Nanosecond), false},
		{start, true},
		{start.Add(2 * time.Millisecond), true},
		{start.Add(5 * time.Millisecond), true},
		{start.Add(5*time.Millisecond + time.Nanosecond), false},
	}
	for _, tc := range cases {
		if got := lm.IsInsideLastTransmitWindow(tc.at); got != tc.want {
			t.Errorf("IsInsideLastTransmitWindow(+%s) = %v, want %v", tc.at.Sub(start), got, tc.want)
		}
	}
}

func TestGetNextTransmitWindowTime(t *testing.T) {
	tn := newTestNet(t, 1)
	lm := tn.bbs[0].NewLinkManager()
	lm.SetConnInterval(100 * time.Millisecond)
	lm.SetTransmitWindowOffset(10 * time.Millisecond)
	lm.SetLastTimeConnectionEstablished(epoch)

	if got, want := lm.GetNextTransmitWindowTime(), SlotDuration+10*time.Millisecond; got != want {
		t.Fatalf("first window delay = %s, want %s", got, want)
	}
	lm.SetLastTransmitWindowTime(epoch.Add(time.Second))
	if got := lm.GetNextTransmitWindowTime(); got != 100*time.Millisecond {
		t.Fatalf("steady-state delay = %s, want 100ms", got)
	}
	lm.SetLastTimeConnectionEstablished(epoch.Add(2 * time.Second))
	if got, want := lm.GetNextTransmitWindowTime(), SlotDuration+10*time.Millisecond; got != want {
		t.Fatalf("delay after re-establishing = %s, want %s", got, want)
	}
}

func TestPointToPointDeliversOnce(t *testing.T) {
	tn := newTestNet(t, 2)
	master, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, true, 0, 1000)
	if err != nil {
		t.Fatalf("CreateLinkScheduled: %v", err)
	}
	master.Queue().Enqueue(dataFrame(1, 2, "hello"))

	// Five connection events 1.25 s apart.
	tn.runUntil(4*1250*time.Millisecond + 10*time.Millisecond)

	sent := tn.hosts[0].dataSent()
	if len(sent) != 1 {
		t.Fatalf("master sent %d data frames, want 1", len(sent))
	}
	if sent[0].at != SlotDuration {
		t.Fatalf("first data frame at %s, want %s", sent[0].at, SlotDuration)
	}
	got := tn.hosts[1].received
	if len(got) != 1 || string(got[0].Payload) != "hello" {
		t.Fatalf("slave received %+v, want one frame with payload hello", got)
	}
	for _, h := range tn.hosts {
		for _, s := range h.sent {
			if s.resend {
				t.Fatalf("%s retransmitted at %s without any loss", h.addr, s.at)
			}
		}
	}
	if n := master.Stats().WindowsStarted; n != 5 {
		t.Fatalf("master started %d windows, want 5", n)
	}
	// Every later event carries only keep-alives.
	if n := master.Stats().KeepAlivesSent; n != 4 {
		t.Fatalf("master sent %d keep-alives, want 4", n)
	}
}

func TestPointToPointRoles(t *testing.T) {
	tn := newTestNet(t, 2)
	slave, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleSlave, true, 1, 80)
	if err != nil {
		t.Fatalf("CreateLinkScheduled: %v", err)
	}
	peer := tn.net.Manager(slave.Peers()[0])
	if slave.Role() != RoleSlave || peer.Role() != RoleMaster {
		t.Fatalf("roles = %s/%s, want SLAVE/MASTER", slave.Role(), peer.Role())
	}
	link := slave.Link()
	if link.Type() != LinkPointToPoint || link.Master() != tn.bbs[1].ID() {
		t.Fatalf("link = %+v, want point-to-point mastered by device 2", link)
	}
	if got := link.Slaves(); len(got) != 1 || got[0] != tn.bbs[0].ID() {
		t.Fatalf("slaves = %v", got)
	}
	for _, lm := range []*LinkManager{slave, peer} {
		if lm.ConnInterval() != 100*time.Millisecond {
			t.Fatalf("conn interval = %s, want 100ms", lm.ConnInterval())
		}
		// offset 1 places the window one window-plus-slot into the interval.
		if lm.TransmitWindowOffset() != 5*SlotDuration {
			t.Fatalf("window offset = %s, want %s", lm.TransmitWindowOffset(), 5*SlotDuration)
		}
		if lm.TransmitWindowSize() != LinkWindowSize {
			t.Fatalf("window size = %s, want %s", lm.TransmitWindowSize(), LinkWindowSize)
		}
	}

	if _, err := tn.bbs[0].CreateLink(tn.bbs[0], RoleMaster); err == nil {
		t.Fatalf("expected error linking a device to itself")
	}
}

func TestRetransmitsUntilAcknowledged(t *testing.T) {
	tn := newTestNet(t, 2)
	master, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, true, 0, 100)
	if err != nil {
		t.Fatalf("CreateLinkScheduled: %v", err)
	}
	slave := tn.net.Manager(master.Peers()[0])
	master.SetUsedChannels([]uint8{3})
	slave.SetUsedChannels([]uint8{4})
	master.Queue().Enqueue(dataFrame(1, 2, "payload"))

	tn.runUntil(200 * time.Millisecond)
	if len(tn.hosts[1].received) != 0 {
		t.Fatalf("slave received on a channel it does not use")
	}
	if n := len(tn.hosts[0].dataSent()); n != 2 {
		t.Fatalf("master sent %d data frames in two windows, want 2", n)
	}

	slave.SetUsedChannels([]uint8{3})
	tn.runUntil(time.Second)

	if n := len(tn.hosts[1].received); n != 1 {
		t.Fatalf("slave received %d frames, want exactly 1", n)
	}
	sent := tn.hosts[0].dataSent()
	if len(sent) != 3 {
		t.Fatalf("master sent %d data frames, want 3", len(sent))
	}
	for i, s := range sent {
		if want := i > 0; s.resend != want {
			t.Fatalf("data frame %d resend = %v, want %v", i, s.resend, want)
		}
		if s.frame.Header.SN {
			t.Fatalf("retransmission %d changed SN", i)
		}
	}
	if got := master.Stats().Retransmissions; got != 2 {
		t.Fatalf("Retransmissions = %d, want 2", got)
	}
	if got := slave.Stats().Duplicates; got != 0 {
		t.Fatalf("Duplicates = %d, want 0", got)
	}
}

func TestOutOfRangeIntervalIsKept(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	tn := newTestNet(t, 2, WithLogger(log))

	// 8000 slots is 10 s, above the 4 s limit.
	master, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, true, 0, 8000)
	if err != nil {
		t.Fatalf("CreateLinkScheduled: %v", err)
	}
	if master.ConnInterval() != 10*time.Second {
		t.Fatalf("conn interval = %s, want 10s", master.ConnInterval())
	}
	if !strings.Contains(buf.String(), "connection interval outside") {
		t.Fatalf("expected a warning, log was:\n%s", buf.String())
	}

	tn.runUntil(10*time.Second + 10*time.Millisecond)
	if n := master.Stats().WindowsStarted; n != 2 {
		t.Fatalf("windows started = %d, want 2", n)
	}
	if got, want := master.LastTransmitWindowTime(), epoch.Add(10*time.Second+SlotDuration); !got.Equal(want) {
		t.Fatalf("second window at %s, want %s", got.Sub(epoch), want.Sub(epoch))
	}
}

func TestOutOfRangeTimingIsStoredWithWarning(t *testing.T) {
	tests := []struct {
		name    string
		set     func(*LinkManager)
		stored  func(*LinkManager) bool
		warning string
	}{
		{
			name:    "supervision timeout below 100ms",
			set:     func(lm *LinkManager) { lm.SetConnSupervisionTimeout(50 * time.Millisecond) },
			stored:  func(lm *LinkManager) bool { return lm.ConnSupervisionTimeout() == 50*time.Millisecond },
			warning: "supervision timeout outside",
		},
		{
			name:    "supervision timeout above 32s",
			set:     func(lm *LinkManager) { lm.SetConnSupervisionTimeout(40 * time.Second) },
			stored:  func(lm *LinkManager) bool { return lm.ConnSupervisionTimeout() == 40*time.Second },
			warning: "supervision timeout outside",
		},
		{
			name:    "slave latency above 500 and the supervision budget",
			set:     func(lm *LinkManager) { lm.SetConnSlaveLatency(600) },
			stored:  func(lm *LinkManager) bool { return lm.ConnSlaveLatency() == 600 },
			warning: "slave latency out of range",
		},
		{
			name:    "window offset past the interval",
			set:     func(lm *LinkManager) { lm.SetTransmitWindowOffset(150 * time.Millisecond) },
			stored:  func(lm *LinkManager) bool { return lm.TransmitWindowOffset() == 150*time.Millisecond },
			warning: "transmit window offset larger than connection interval",
		},
		{
			name:    "window size above 10ms",
			set:     func(lm *LinkManager) { lm.SetTransmitWindowSize(20 * time.Millisecond) },
			stored:  func(lm *LinkManager) bool { return lm.TransmitWindowSize() == 20*time.Millisecond },
			warning: "transmit window size out of range",
		},
		{
			name:    "window size leaving no slot in the interval",
			set:     func(lm *LinkManager) { lm.SetTransmitWindowSize(99 * time.Millisecond) },
			stored:  func(lm *LinkManager) bool { return lm.TransmitWindowSize() == 99*time.Millisecond },
			warning: "transmit window size out of range",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
			tn := newTestNet(t, 2, WithLogger(log))
			// 80 slots is a 100 ms interval.
			master, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, true, 0, 80)
			if err != nil {
				t.Fatalf("CreateLinkScheduled: %v", err)
			}
			if strings.Contains(buf.String(), `"level":"WARN"`) {
				t.Fatalf("in-range link setup logged a warning:\n%s", buf.String())
			}

			tt.set(master)
			if !tt.stored(master) {
				t.Fatalf("value was not stored as given")
			}
			if !strings.Contains(buf.String(), tt.warning) {
				t.Fatalf("expected warning %q, log was:\n%s", tt.warning, buf.String())
			}
		})
	}
}

func TestSupervisionTimeoutDoesNotDisconnect(t *testing.T) {
	tn := newTestNet(t, 2)
	master, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, true, 0, 80)
	if err != nil {
		t.Fatalf("CreateLinkScheduled: %v", err)
	}
	slave := tn.net.Manager(master.Peers()[0])
	master.SetConnSupervisionTimeout(MinSupervisionTimeout)
	slave.SetConnSupervisionTimeout(MinSupervisionTimeout)

	// Disjoint channel maps: the slave never hears the master, so nothing
	// is acknowledged for twenty times the timeout.
	master.SetUsedChannels([]uint8{10})
	slave.SetUsedChannels([]uint8{20})
	tn.runUntil(2 * time.Second)

	if !master.IsConnected() {
		t.Fatalf("master state %s after the supervision timeout", master.State())
	}
	if master.Link() == nil || !master.Link().IsMember(slave.DeviceID()) {
		t.Fatalf("slave dropped from the link")
	}
	st := master.Stats()
	if st.WindowsStarted != 20 {
		t.Fatalf("master started %d windows, want 20", st.WindowsStarted)
	}
	if st.Retransmissions == 0 {
		t.Fatalf("master never retransmitted its unacknowledged keep-alive")
	}
	if slave.Stats().WindowsStarted != 20 {
		t.Fatalf("slave started %d windows, want 20", slave.Stats().WindowsStarted)
	}
}

func TestConcurrentWindowIsSkipped(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tn := newTestNet(t, 3, WithTracer(tp.Tracer("test")))

	toB, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, true, 0, 100)
	if err != nil {
		t.Fatalf("link to B: %v", err)
	}
	toC, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[2], RoleMaster, true, 0, 100)
	if err != nil {
		t.Fatalf("link to C: %v", err)
	}
	toC.SetUsedChannels([]uint8{20})
	tn.net.Manager(toC.Peers()[0]).SetUsedChannels([]uint8{20})
	toB.Queue().Enqueue(dataFrame(1, 2, "b"))
	toC.Queue().Enqueue(dataFrame(1, 3, "c"))

	tn.runUntil(SlotDuration + 6*time.Millisecond)

	if got := toB.Stats().WindowsStarted; got != 1 {
		t.Fatalf("link to B started %d windows, want 1", got)
	}
	if got := toC.Stats().WindowsSkipped; got != 1 {
		t.Fatalf("link to C skipped %d windows, want 1", got)
	}
	if tn.hosts[0].skipped != 1 {
		t.Fatalf("host saw %d skipped windows, want 1", tn.hosts[0].skipped)
	}
	// The skipped window still advanced timing and hopping.
	if !toC.LastTransmitWindowTime().Equal(epoch.Add(SlotDuration)) {
		t.Fatalf("skipped window did not record its start time")
	}
	if toC.ConnEventCounter() != 1 {
		t.Fatalf("conn event counter = %d, want 1", toC.ConnEventCounter())
	}
	if len(tn.hosts[1].received) != 1 || len(tn.hosts[2].received) != 0 {
		t.Fatalf("deliveries B=%d C=%d, want 1/0", len(tn.hosts[1].received), len(tn.hosts[2].received))
	}
	if toC.Queue().Len() != 1 {
		t.Fatalf("frame for C left the queue during a skipped window")
	}

	var skipped []sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		if s.Name() != windowSpanName {
			t.Fatalf("unexpected span %q", s.Name())
		}
		if hasAttr(s.Attributes(), attribute.Bool("skipped", true)) {
			skipped = append(skipped, s)
		}
	}
	if len(skipped) != 1 {
		t.Fatalf("got %d skipped-window spans, want 1", len(skipped))
	}
	if !hasAttr(skipped[0].Attributes(), attribute.Int("active_manager", int(toB.ID()))) {
		t.Fatalf("skipped span attributes %v lack the active manager", skipped[0].Attributes())
	}
	if !skipped[0].StartTime().Equal(epoch.Add(SlotDuration)) {
		t.Fatalf("span stamped %s, want simulated time", skipped[0].StartTime())
	}
}

func hasAttr(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, kv := range attrs {
		if kv.Key == want.Key && kv.Value == want.Value {
			return true
		}
	}
	return false
}

func TestSharedMasterLinksKeepTheirOwnARQ(t *testing.T) {
	tn := newTestNet(t, 3)
	toB, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, true, 0, 80)
	if err != nil {
		t.Fatalf("link to B: %v", err)
	}
	toC, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[2], RoleMaster, true, 0, 80)
	if err != nil {
		t.Fatalf("link to C: %v", err)
	}
	slaveC := tn.net.Manager(toC.Peers()[0])

	// Both links share timing and channels, so C's slave hears every
	// keep-alive B's link puts on air.
	tn.runUntil(time.Second)
	toB.Queue().Enqueue(dataFrame(1, 2, "b"))
	tn.runUntil(10 * time.Second)

	got := tn.hosts[1].received
	if len(got) != 1 || string(got[0].Payload) != "b" {
		t.Fatalf("B received %+v, want one frame with payload b", got)
	}
	if toB.Queue().Len() != 0 {
		t.Fatalf("frame for B still queued")
	}
	if n := toB.Stats().Retransmissions; n != 0 {
		t.Fatalf("link to B retransmitted %d times", n)
	}
	st := slaveC.Stats()
	if st.Duplicates != 0 || st.FramesDelivered != 0 {
		t.Fatalf("C's slave took frames of the other link: %+v", st)
	}
	if st.Ignored == 0 {
		t.Fatalf("C's slave ignored nothing, stats %+v", st)
	}
	if len(tn.hosts[2].received) != 0 {
		t.Fatalf("C received %d frames", len(tn.hosts[2].received))
	}
}

func TestPrepareReplacesPendingWindow(t *testing.T) {
	tn := newTestNet(t, 2)
	master, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, true, 0, 100)
	if err != nil {
		t.Fatalf("CreateLinkScheduled: %v", err)
	}
	tn.runUntil(0)
	master.PrepareNextTransmitWindow()
	master.PrepareNextTransmitWindow()

	tn.runUntil(SlotDuration + 6*time.Millisecond)
	if got := master.Stats().WindowsStarted + master.Stats().WindowsSkipped; got != 1 {
		t.Fatalf("master opened %d windows, want 1", got)
	}
}

func TestUnscheduledTimingIsSeeded(t *testing.T) {
	timing := func(seed int64, intervalSlots uint32) (time.Duration, time.Duration) {
		tn := newTestNet(t, 2, WithRand(rand.New(rand.NewSource(seed))))
		lm, err := tn.bbs[0].CreateLinkScheduled(tn.bbs[1], RoleMaster, false, 0, intervalSlots)
		if err != nil {
			t.Fatalf("CreateLinkScheduled: %v", err)
		}
		return lm.ConnInterval(), lm.TransmitWindowOffset()
	}

	for seed := int64(1); seed <= 20; seed++ {
		iv, off := timing(seed, 0)
		iv2, off2 := timing(seed, 0)
		if iv != iv2 || off != off2 {
			t.Fatalf("seed %d not reproducible: %s/%s vs %s/%s", seed, iv, off, iv2, off2)
		}
		if iv < MinConnInterval || iv > MaxConnInterval {
			t.Fatalf("seed %d: interval %s out of range", seed, iv)
		}
		if off < 0 || off > iv || off%SlotDuration != 0 {
			t.Fatalf("seed %d: offset %s not a slot multiple within the interval", seed, off)
		}
	}

	iv, off := timing(7, 40)
	if iv != 40*SlotDuration || off > iv {
		t.Fatalf("explicit interval not honoured: %s/%s", iv, off)
	}
}

func TestSendNextPacketWhileScanningPanics(t *testing.T) {
	tn := newTestNet(t, 1)
	lm := tn.bbs[0].NewLinkManager()
	lm.SetState(StateScanner)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	lm.SendNextPacket()
}

func TestSendOutsideWindowReleasesRadio(t *testing.T) {
	tn := newTestNet(t, 1)
	bb := tn.bbs[0]
	lm := bb.NewLinkManager()
	lm.SetRole(RoleMaster)
	lm.SetState(StateMaster)
	lm.SetLastTransmitWindowTime(epoch.Add(-time.Second))
	bb.SetActiveLinkManager(lm)
	sn := lm.SN()

	lm.SendNextPacket()

	if bb.ActiveLinkManager() != nil {
		t.Fatalf("radio still held after the window passed")
	}
	if lm.SN() != sn {
		t.Fatalf("SN changed although nothing was sent")
	}
	if len(tn.hosts[0].sent) != 0 {
		t.Fatalf("frame sent outside the window")
	}
}
