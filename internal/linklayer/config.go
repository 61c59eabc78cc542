package linklayer

import "time"

// Timing constants of the Bluetooth LE link layer.
const (
	SlotDuration = 1250 * time.Microsecond

	MinConnIntervalSlots = 6
	MaxConnIntervalSlots = 3200
	MinConnInterval      = MinConnIntervalSlots * SlotDuration // 7.5 ms
	MaxConnInterval      = MaxConnIntervalSlots * SlotDuration // 4 s

	MinSupervisionTimeout = 100 * time.Millisecond
	MaxSupervisionTimeout = 32 * time.Second

	MaxTransmitWindowSize = 10 * time.Millisecond
	// LinkWindowSize is the window size given to every link at setup.
	LinkWindowSize = 5000 * time.Microsecond

	// NumDataChannels is the size of the data channel hop space.
	NumDataChannels = 37

	MaxSlaveLatency = 500

	// InterFrameSpace (T_IFS) separates frames within a connection event.
	InterFrameSpace = 150 * time.Microsecond
	// MasterRxGuard is how long a master waits after its TX before listening.
	MasterRxGuard = 150310 * time.Nanosecond
)

// Config holds per-network defaults applied to every new Link Manager.
type Config struct {
	// QueueSize bounds every outbound queue (device and Link Manager).
	QueueSize int

	ConnInterval         time.Duration
	SupervisionTimeout   time.Duration
	SlaveLatency         uint16
	TransmitWindowSize   time.Duration
	TransmitWindowOffset time.Duration

	HopIncrement uint8
	// UsedChannels defaults to all data channels when empty.
	UsedChannels []uint8

	DisableKeepAlive          bool
	AdvSleepMax               uint16
	DisableCollisionAvoidance bool

	InterFrameSpace time.Duration
	MasterRxGuard   time.Duration
}

// DefaultConfig returns the defaults a freshly constructed Link Manager uses.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.ConnInterval <= 0 {
		c.ConnInterval = 500 * time.Millisecond
	}
	if c.SupervisionTimeout <= 0 {
		c.SupervisionTimeout = 200 * time.Millisecond
	}
	if c.TransmitWindowSize <= 0 {
		c.TransmitWindowSize = 5 * time.Millisecond
	}
	if c.TransmitWindowOffset <= 0 {
		c.TransmitWindowOffset = 2500 * time.Microsecond
	}
	if c.HopIncrement == 0 {
		c.HopIncrement = 1
	}
	if len(c.UsedChannels) == 0 {
		c.UsedChannels = AllDataChannels()
	}
	if c.AdvSleepMax == 0 {
		c.AdvSleepMax = 10
	}
	if c.InterFrameSpace <= 0 {
		c.InterFrameSpace = InterFrameSpace
	}
	if c.MasterRxGuard <= 0 {
		c.MasterRxGuard = MasterRxGuard
	}
}

// AllDataChannels returns channel indices 0..36.
func AllDataChannels() []uint8 {
	out := make([]uint8, NumDataChannels)
	for i := range out {
		out[i] = uint8(i)
	}
	return out
}
