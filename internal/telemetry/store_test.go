package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/blesim/internal/device"
	"github.com/signalsfoundry/blesim/internal/frame"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestStoreCountsTraces(t *testing.T) {
	s := NewStore()
	s.Register(3)
	for i, k := range []device.TraceKind{
		device.MacTx, device.MacTx, device.MacTxDrop, device.FrameSent,
		device.Retransmission, device.TxWindowSkipped, device.MacRx,
		device.MacPromiscRx, device.MacRxBroadcast, device.MacRxError,
	} {
		s.Observe(device.Trace{Kind: k, Device: 1, At: epoch.Add(time.Duration(i) * time.Millisecond)})
	}

	got, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := DeviceMetrics{
		Device:          "00:01",
		Tx:              2,
		TxDrops:         1,
		Rx:              1,
		RxBroadcast:     1,
		RxErrors:        1,
		FramesSent:      1,
		Retransmissions: 1,
		WindowsSkipped:  1,
		LastEvent:       epoch.Add(9 * time.Millisecond),
	}
	if got != want {
		t.Fatalf("metrics = %+v, want %+v", got, want)
	}

	all := s.ListAll()
	if len(all) != 2 || all[0].Device != "00:01" || all[1].Device != "00:03" {
		t.Fatalf("ListAll = %+v", all)
	}
	if _, err := s.Get(9); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Get(unknown) err = %v", err)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore()
	s.Observe(device.Trace{Kind: device.MacTx, Device: 1})
	all := s.ListAll()
	all[0].Tx = 99
	if got, _ := s.Get(1); got.Tx != 1 {
		t.Fatalf("store mutated through ListAll copy: Tx = %d", got.Tx)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(addr frame.Address) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Observe(device.Trace{Kind: device.FrameSent, Device: addr})
				_ = s.ListAll()
			}
		}(frame.Address(w + 1))
	}
	wg.Wait()
	for _, m := range s.ListAll() {
		if m.FramesSent != 500 {
			t.Fatalf("%s FramesSent = %d, want 500", m.Device, m.FramesSent)
		}
	}
}
