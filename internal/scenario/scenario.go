// Package scenario loads JSON scenario descriptions and turns them into a
// runnable simulation of devices, links and traffic.
package scenario

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/linklayer"
)

// ErrInvalidScenario wraps every validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

var strictJSON = jsoniter.Config{
	EscapeHTML:            true,
	SortMapKeys:           true,
	DisallowUnknownFields: true,
}.Froze()

// Link types accepted in LinkSpec.Type.
const (
	LinkTypePointToPoint = "point_to_point"
	LinkTypeBroadcast    = "broadcast"
)

// MaxPayload bounds generated traffic payloads.
const MaxPayload = 251

// Duration is a time.Duration that reads "1.5s"-style strings or plain
// seconds from JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		v, err := time.ParseDuration(strings.Trim(s, `"`))
		if err != nil {
			return errors.Wrapf(err, "duration %s", s)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := jsoniter.Unmarshal(b, &secs); err != nil {
		return errors.Wrapf(err, "duration %s", s)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Scenario is the top-level document.
type Scenario struct {
	Seed         int64         `json:"seed"`
	Duration     Duration      `json:"duration"`
	BitErrorRate float64       `json:"bit_error_rate"`
	QueueSize    int           `json:"queue_size"`
	Devices      []DeviceSpec  `json:"devices"`
	Links        []LinkSpec    `json:"links"`
	Traffic      []TrafficSpec `json:"traffic"`
}

// DeviceSpec declares one device.
type DeviceSpec struct {
	Address string `json:"address"`
}

// LinkSpec declares a point-to-point link (Master and Slave) or a broadcast
// group (Master and Slaves). Role picks the side that sets the link up:
// "master" (default) or "slave".
type LinkSpec struct {
	Type               string   `json:"type"`
	Master             string   `json:"master"`
	Slave              string   `json:"slave,omitempty"`
	Slaves             []string `json:"slaves,omitempty"`
	Role               string   `json:"role,omitempty"`
	Scheduled          bool     `json:"scheduled"`
	WindowOffsetSlots  uint32   `json:"window_offset_slots"`
	ConnIntervalSlots  uint32   `json:"conn_interval_slots"`
	CollisionAvoidance *bool    `json:"collision_avoidance,omitempty"`
	HopIncrement       uint8    `json:"hop_increment,omitempty"`
	UsedChannels       []uint8  `json:"used_channels,omitempty"`
}

// TrafficSpec sends Count frames of Size bytes from From to To, the first
// at Start and then every Interval. To may be "broadcast" or "ff:ff".
type TrafficSpec struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Protocol uint16   `json:"protocol"`
	Start    Duration `json:"start"`
	Interval Duration `json:"interval"`
	Count    int      `json:"count"`
	Size     int      `json:"size"`
}

// Load decodes and validates a scenario.
func Load(r io.Reader) (*Scenario, error) {
	var sc Scenario
	if err := strictJSON.NewDecoder(r).Decode(&sc); err != nil {
		return nil, errors.Wrapf(ErrInvalidScenario, "decode: %v", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open scenario")
	}
	defer f.Close()
	sc, err := Load(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "scenario %s", path)
	}
	return sc, nil
}

func parseTarget(s string) (frame.Address, error) {
	if strings.EqualFold(s, "broadcast") {
		return frame.Broadcast, nil
	}
	return frame.ParseAddress(s)
}

func (l LinkSpec) role() (linklayer.Role, error) {
	if l.Role == "" {
		return linklayer.RoleMaster, nil
	}
	r, err := linklayer.ParseRole(l.Role)
	if err != nil {
		return r, err
	}
	if r != linklayer.RoleMaster && r != linklayer.RoleSlave {
		return r, errors.Errorf("role %s cannot set up a link", r)
	}
	return r, nil
}

// Validate checks cross references and value ranges.
func (sc *Scenario) Validate() error {
	if len(sc.Devices) == 0 {
		return errors.Wrap(ErrInvalidScenario, "no devices")
	}
	if sc.BitErrorRate < 0 || sc.BitErrorRate > 1 {
		return errors.Wrapf(ErrInvalidScenario, "bit_error_rate %v outside [0,1]", sc.BitErrorRate)
	}
	if sc.QueueSize < 0 {
		return errors.Wrapf(ErrInvalidScenario, "negative queue_size %d", sc.QueueSize)
	}
	if sc.Duration < 0 {
		return errors.Wrap(ErrInvalidScenario, "negative duration")
	}

	known := make(map[frame.Address]bool, len(sc.Devices))
	for i, d := range sc.Devices {
		a, err := frame.ParseAddress(d.Address)
		if err != nil {
			return errors.Wrapf(ErrInvalidScenario, "device %d: %v", i, err)
		}
		if a.IsBroadcast() {
			return errors.Wrapf(ErrInvalidScenario, "device %d: broadcast address", i)
		}
		if known[a] {
			return errors.Wrapf(ErrInvalidScenario, "device %d: duplicate address %s", i, a)
		}
		known[a] = true
	}
	device := func(where, s string) (frame.Address, error) {
		a, err := frame.ParseAddress(s)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidScenario, "%s: %v", where, err)
		}
		if !known[a] {
			return 0, errors.Wrapf(ErrInvalidScenario, "%s: unknown device %s", where, a)
		}
		return a, nil
	}

	for i, l := range sc.Links {
		where := "link " + strconv.Itoa(i)
		master, err := device(where+" master", l.Master)
		if err != nil {
			return err
		}
		if _, err := l.role(); err != nil {
			return errors.Wrapf(ErrInvalidScenario, "%s: %v", where, err)
		}
		switch l.Type {
		case LinkTypePointToPoint:
			slave, err := device(where+" slave", l.Slave)
			if err != nil {
				return err
			}
			if slave == master {
				return errors.Wrapf(ErrInvalidScenario, "%s: master and slave are both %s", where, master)
			}
		case LinkTypeBroadcast:
			if len(l.Slaves) == 0 {
				return errors.Wrapf(ErrInvalidScenario, "%s: broadcast link without slaves", where)
			}
			for _, s := range l.Slaves {
				slave, err := device(where+" slave", s)
				if err != nil {
					return err
				}
				if slave == master {
					return errors.Wrapf(ErrInvalidScenario, "%s: master listed as slave", where)
				}
			}
		default:
			return errors.Wrapf(ErrInvalidScenario, "%s: unknown type %q", where, l.Type)
		}
		if l.HopIncrement > linklayer.NumDataChannels {
			return errors.Wrapf(ErrInvalidScenario, "%s: hop_increment %d", where, l.HopIncrement)
		}
		for _, ch := range l.UsedChannels {
			if int(ch) >= linklayer.NumDataChannels {
				return errors.Wrapf(ErrInvalidScenario, "%s: data channel %d out of range", where, ch)
			}
		}
	}

	for i, tr := range sc.Traffic {
		where := "traffic " + strconv.Itoa(i)
		if _, err := device(where+" from", tr.From); err != nil {
			return err
		}
		to, err := parseTarget(tr.To)
		if err != nil {
			return errors.Wrapf(ErrInvalidScenario, "%s to: %v", where, err)
		}
		if !to.IsBroadcast() && !known[to] {
			return errors.Wrapf(ErrInvalidScenario, "%s to: unknown device %s", where, to)
		}
		if tr.Count < 0 || tr.Size < 0 || tr.Size > MaxPayload {
			return errors.Wrapf(ErrInvalidScenario, "%s: count %d size %d", where, tr.Count, tr.Size)
		}
		if tr.Count > 1 && tr.Interval <= 0 {
			return errors.Wrapf(ErrInvalidScenario, "%s: repeated traffic needs a positive interval", where)
		}
		if tr.Start < 0 {
			return errors.Wrapf(ErrInvalidScenario, "%s: negative start", where)
		}
	}
	return nil
}
