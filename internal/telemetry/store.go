// Package telemetry keeps per-device link-layer counters and serves them
// over gRPC.
package telemetry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/blesim/internal/device"
	"github.com/signalsfoundry/blesim/internal/frame"
)

var (
	// ErrDeviceNotFound is returned when no counters exist for an address.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrInvalidRequest is returned for malformed telemetry queries.
	ErrInvalidRequest = errors.New("invalid telemetry request")
)

// DeviceMetrics are the counters of one device. Counts are monotonic.
type DeviceMetrics struct {
	Device          string    `json:"device"`
	Tx              uint64    `json:"tx"`
	TxDrops         uint64    `json:"tx_drops"`
	Rx              uint64    `json:"rx"`
	RxBroadcast     uint64    `json:"rx_broadcast"`
	RxErrors        uint64    `json:"rx_errors"`
	FramesSent      uint64    `json:"frames_sent"`
	Retransmissions uint64    `json:"retransmissions"`
	WindowsSkipped  uint64    `json:"windows_skipped"`
	LastEvent       time.Time `json:"last_event"`
}

// Store is a concurrency-safe collection of DeviceMetrics fed by device
// traces.
type Store struct {
	mu       sync.RWMutex
	byDevice map[frame.Address]*DeviceMetrics
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byDevice: make(map[frame.Address]*DeviceMetrics)}
}

// Register creates zeroed counters for addr so it is listed before its
// first event.
func (s *Store) Register(addr frame.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryLocked(addr)
}

func (s *Store) entryLocked(addr frame.Address) *DeviceMetrics {
	m, ok := s.byDevice[addr]
	if !ok {
		m = &DeviceMetrics{Device: addr.String()}
		s.byDevice[addr] = m
	}
	return m
}

// Observe implements device.Observer.
func (s *Store) Observe(t device.Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.entryLocked(t.Device)
	switch t.Kind {
	case device.MacTx:
		m.Tx++
	case device.MacTxDrop:
		m.TxDrops++
	case device.MacRx:
		m.Rx++
	case device.MacRxBroadcast:
		m.RxBroadcast++
	case device.MacRxError:
		m.RxErrors++
	case device.FrameSent:
		m.FramesSent++
	case device.Retransmission:
		m.Retransmissions++
	case device.TxWindowSkipped:
		m.WindowsSkipped++
	}
	if t.At.After(m.LastEvent) {
		m.LastEvent = t.At
	}
}

// Get returns a copy of the counters for addr.
func (s *Store) Get(addr frame.Address) (DeviceMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byDevice[addr]
	if !ok {
		return DeviceMetrics{}, ErrDeviceNotFound
	}
	return *m, nil
}

// ListAll returns copies of every device's counters ordered by address.
func (s *Store) ListAll() []DeviceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]frame.Address, 0, len(s.byDevice))
	for a := range s.byDevice {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	out := make([]DeviceMetrics, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, *s.byDevice[a])
	}
	return out
}

var _ device.Observer = (*Store)(nil)
