package scenario

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/signalsfoundry/blesim/internal/linklayer"
	"github.com/signalsfoundry/blesim/internal/telemetry"
)

// Summary is the end-of-run report.
type Summary struct {
	Seed     int64                     `json:"seed"`
	SimTime  Duration                  `json:"sim_time"`
	Events   uint64                    `json:"events"`
	Devices  []telemetry.DeviceMetrics `json:"devices"`
	Managers []ManagerSummary          `json:"managers"`
}

// ManagerSummary reports one Link Manager.
type ManagerSummary struct {
	Device          string `json:"device"`
	Manager         int    `json:"manager"`
	Link            int    `json:"link"`
	LinkType        string `json:"link_type"`
	Role            string `json:"role"`
	State           string `json:"state"`
	WindowsStarted  uint64 `json:"windows_started"`
	WindowsSkipped  uint64 `json:"windows_skipped"`
	FramesSent      uint64 `json:"frames_sent"`
	KeepAlivesSent  uint64 `json:"keep_alives_sent"`
	Retransmissions uint64 `json:"retransmissions"`
	FramesDelivered uint64 `json:"frames_delivered"`
	Duplicates      uint64 `json:"duplicates"`
	RxErrors        uint64 `json:"rx_errors"`
	Ignored         uint64 `json:"ignored"`
}

func summarizeManager(lm *linklayer.LinkManager) ManagerSummary {
	st := lm.Stats()
	ms := ManagerSummary{
		Device:          lm.Baseband().Address().String(),
		Manager:         int(lm.ID()),
		Link:            int(linklayer.NoLink),
		LinkType:        linklayer.LinkUnconnected.String(),
		Role:            lm.Role().String(),
		State:           lm.State().String(),
		WindowsStarted:  st.WindowsStarted,
		WindowsSkipped:  st.WindowsSkipped,
		FramesSent:      st.FramesSent,
		KeepAlivesSent:  st.KeepAlivesSent,
		Retransmissions: st.Retransmissions,
		FramesDelivered: st.FramesDelivered,
		Duplicates:      st.Duplicates,
		RxErrors:        st.RxErrors,
		Ignored:         st.Ignored,
	}
	if l := lm.Link(); l != nil {
		ms.Link = int(l.ID())
		ms.LinkType = l.Type().String()
	}
	return ms
}

// Summary snapshots the per-device and per-manager counters.
func (sim *Simulation) Summary() Summary {
	out := Summary{
		Seed:    sim.scenario.Seed,
		SimTime: Duration(sim.Elapsed()),
		Events:  sim.sched.Executed(),
		Devices: sim.store.ListAll(),
	}
	for _, lm := range sim.net.Managers() {
		out.Managers = append(out.Managers, summarizeManager(lm))
	}
	return out
}

// WriteText prints s as two aligned tables.
func (s Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "sim time %s, %d events, seed %d\n\n", s.SimTime.Std(), s.Events, s.Seed)
	fmt.Fprintln(tw, "DEVICE\tTX\tDROPS\tRX\tRX_BCAST\tRX_ERR\tSENT\tRETX\tSKIPPED")
	for _, d := range s.Devices {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			d.Device, d.Tx, d.TxDrops, d.Rx, d.RxBroadcast, d.RxErrors, d.FramesSent, d.Retransmissions, d.WindowsSkipped)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "DEVICE\tMANAGER\tLINK\tTYPE\tROLE\tWINDOWS\tSENT\tDELIVERED\tDUPS\tIGNORED")
	for _, m := range s.Managers {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			m.Device, m.Manager, m.Link, m.LinkType, m.Role, m.WindowsStarted, m.FramesSent, m.FramesDelivered, m.Duplicates, m.Ignored)
	}
	return tw.Flush()
}
