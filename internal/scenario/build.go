package scenario

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/blesim/internal/device"
	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/linklayer"
	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/radio"
	"github.com/signalsfoundry/blesim/internal/sched"
	"github.com/signalsfoundry/blesim/internal/telemetry"
)

// DefaultStart is the simulated wall-clock instant every run begins at.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// runStep bounds how much simulated time passes between cancellation checks.
const runStep = 100 * time.Millisecond

// Simulation is a built scenario ready to run.
type Simulation struct {
	scenario *Scenario
	sched    *sched.Scheduler
	medium   *radio.Medium
	net      *linklayer.Network
	store    *telemetry.Store
	log      logging.Logger
	start    time.Time

	devices []*device.Device
	byAddr  map[frame.Address]*device.Device
	links   []*linklayer.LinkManager
}

type buildOptions struct {
	start     time.Time
	log       logging.Logger
	tracer    trace.Tracer
	store     *telemetry.Store
	observers []device.Observer
}

// Option configures Build.
type Option func(*buildOptions)

// WithStart sets the simulated start time.
func WithStart(t time.Time) Option {
	return func(o *buildOptions) { o.start = t }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l logging.Logger) Option {
	return func(o *buildOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTracer sets the tracer used for transmit-window spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *buildOptions) { o.tracer = t }
}

// WithStore makes devices report into an existing telemetry store.
func WithStore(s *telemetry.Store) Option {
	return func(o *buildOptions) { o.store = s }
}

// WithObserver attaches an extra observer to every device.
func WithObserver(obs device.Observer) Option {
	return func(o *buildOptions) { o.observers = append(o.observers, obs) }
}

// Build creates every device, link and traffic source of sc. Nothing runs
// until Run or the scheduler is driven.
func Build(sc *Scenario, opts ...Option) (*Simulation, error) {
	if sc == nil {
		return nil, errors.Wrap(ErrInvalidScenario, "nil scenario")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions{start: DefaultStart, log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = telemetry.NewStore()
	}

	s := sched.New(o.start)
	o.log = logging.WithClock(o.log, s.Now)
	mediumOpts := []radio.MediumOption{radio.WithLogger(o.log)}
	if sc.BitErrorRate > 0 {
		mediumOpts = append(mediumOpts, radio.WithBitErrorRate(sc.BitErrorRate, rand.New(rand.NewSource(sc.Seed+1))))
	}
	netOpts := []linklayer.Option{
		linklayer.WithRand(rand.New(rand.NewSource(sc.Seed))),
		linklayer.WithLogger(o.log),
		linklayer.WithConfig(linklayer.Config{QueueSize: sc.QueueSize}),
	}
	if o.tracer != nil {
		netOpts = append(netOpts, linklayer.WithTracer(o.tracer))
	}

	sim := &Simulation{
		scenario: sc,
		sched:    s,
		medium:   radio.NewMedium(s, mediumOpts...),
		net:      linklayer.NewNetwork(s, netOpts...),
		store:    o.store,
		log:      o.log,
		start:    o.start,
		byAddr:   make(map[frame.Address]*device.Device, len(sc.Devices)),
	}

	for _, ds := range sc.Devices {
		addr, _ := frame.ParseAddress(ds.Address)
		devOpts := []device.Option{device.WithLogger(o.log), device.WithObserver(o.store)}
		for _, obs := range o.observers {
			devOpts = append(devOpts, device.WithObserver(obs))
		}
		d, err := device.New(sim.net, sim.medium, addr, devOpts...)
		if err != nil {
			return nil, errors.Wrapf(err, "device %s", addr)
		}
		o.store.Register(addr)
		sim.devices = append(sim.devices, d)
		sim.byAddr[addr] = d
	}

	for i, ls := range sc.Links {
		lm, err := sim.buildLink(ls)
		if err != nil {
			return nil, errors.Wrapf(err, "link %d", i)
		}
		sim.links = append(sim.links, lm)
	}

	for _, ts := range sc.Traffic {
		sim.scheduleTraffic(ts)
	}

	o.log.Info(context.Background(), "scenario built",
		logging.Int("devices", len(sim.devices)),
		logging.Int("links", len(sim.links)),
		logging.Int("traffic", len(sc.Traffic)),
		logging.Any("seed", sc.Seed),
	)
	return sim, nil
}

func (sim *Simulation) lookup(s string) *device.Device {
	a, _ := frame.ParseAddress(s)
	return sim.byAddr[a]
}

func (sim *Simulation) buildLink(ls LinkSpec) (*linklayer.LinkManager, error) {
	master := sim.lookup(ls.Master)
	var lm *linklayer.LinkManager
	switch ls.Type {
	case LinkTypePointToPoint:
		slave := sim.lookup(ls.Slave)
		role, _ := ls.role()
		var err error
		if role == linklayer.RoleSlave {
			lm, err = slave.Baseband().CreateLinkScheduled(master.Baseband(), role, ls.Scheduled, ls.WindowOffsetSlots, ls.ConnIntervalSlots)
		} else {
			lm, err = master.Baseband().CreateLinkScheduled(slave.Baseband(), role, ls.Scheduled, ls.WindowOffsetSlots, ls.ConnIntervalSlots)
		}
		if err != nil {
			return nil, err
		}
	case LinkTypeBroadcast:
		peers := make([]*linklayer.BasebandManager, 0, len(ls.Slaves))
		for _, s := range ls.Slaves {
			peers = append(peers, sim.lookup(s).Baseband())
		}
		avoid := true
		if ls.CollisionAvoidance != nil {
			avoid = *ls.CollisionAvoidance
		}
		var err error
		lm, err = master.Baseband().CreateLinkScheduledMultipleNodes(peers, ls.Scheduled, ls.WindowOffsetSlots, ls.ConnIntervalSlots, avoid)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrInvalidScenario, "unknown type %q", ls.Type)
	}

	if ls.HopIncrement == 0 && len(ls.UsedChannels) == 0 {
		return lm, nil
	}
	for _, m := range append([]*linklayer.LinkManager{lm}, sim.peersOf(lm)...) {
		if ls.HopIncrement != 0 {
			m.SetHopIncrement(ls.HopIncrement)
		}
		if len(ls.UsedChannels) > 0 {
			m.SetUsedChannels(ls.UsedChannels)
		}
	}
	return lm, nil
}

func (sim *Simulation) peersOf(lm *linklayer.LinkManager) []*linklayer.LinkManager {
	ids := lm.Peers()
	out := make([]*linklayer.LinkManager, 0, len(ids))
	for _, id := range ids {
		if p := sim.net.Manager(id); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (sim *Simulation) scheduleTraffic(ts TrafficSpec) {
	from := sim.lookup(ts.From)
	to, _ := parseTarget(ts.To)
	for k := 0; k < ts.Count; k++ {
		k := k
		at := sim.start.Add(ts.Start.Std() + time.Duration(k)*ts.Interval.Std())
		sim.sched.Schedule(at, func() {
			from.Send(payload(ts.Size, k), to, ts.Protocol)
		})
	}
}

func payload(size, seq int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(seq + i)
	}
	return b
}

// Scenario returns the scenario the simulation was built from.
func (sim *Simulation) Scenario() *Scenario { return sim.scenario }

// Scheduler returns the event scheduler driving the simulation.
func (sim *Simulation) Scheduler() *sched.Scheduler { return sim.sched }

// Network returns the link-layer arena.
func (sim *Simulation) Network() *linklayer.Network { return sim.net }

// Store returns the telemetry store every device reports into.
func (sim *Simulation) Store() *telemetry.Store { return sim.store }

// Devices returns the devices in declaration order.
func (sim *Simulation) Devices() []*device.Device {
	return append([]*device.Device(nil), sim.devices...)
}

// Device returns the device with address addr.
func (sim *Simulation) Device(addr frame.Address) (*device.Device, bool) {
	d, ok := sim.byAddr[addr]
	return d, ok
}

// Start returns the simulated start time.
func (sim *Simulation) Start() time.Time { return sim.start }

// Elapsed returns how much simulated time has passed.
func (sim *Simulation) Elapsed() time.Duration { return sim.sched.Now().Sub(sim.start) }

// Run advances the simulation by d, checking ctx between steps. A zero d
// uses the scenario duration.
func (sim *Simulation) Run(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = sim.scenario.Duration.Std()
	}
	end := sim.sched.Now().Add(d)
	for now := sim.sched.Now(); now.Before(end); now = sim.sched.Now() {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := now.Add(runStep)
		if next.After(end) {
			next = end
		}
		sim.sched.RunUntil(next)
	}
	sim.log.Debug(ctx, "simulation advanced",
		logging.Duration("elapsed", sim.Elapsed()),
		logging.Any("events", sim.sched.Executed()),
	)
	return nil
}
