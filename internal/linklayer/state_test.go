package linklayer

import (
	"reflect"
	"testing"
)

func TestNextStateTable(t *testing.T) {
	cases := []struct {
		current State
		role    Role
		want    State
	}{
		{StateStandby, RoleSlave, StateAdvertiser},
		{StateStandby, RoleMaster, StateScanner},
		{StateStandby, RoleConnectionless, StateStandby},
		{StateAdvertiser, RoleSlave, StateSlave},
		{StateAdvertiser, RoleMaster, StateStandby},
		{StateAdvertiser, RoleStandby, StateAdvertiser},
		{StateScanner, RoleSlave, StateStandby},
		{StateScanner, RoleMaster, StateInitiator},
		{StateScanner, RoleConnectionless, StateScanner},
		{StateInitiator, RoleSlave, StateStandby},
		{StateInitiator, RoleMaster, StateMaster},
		{StateInitiator, RoleStandby, StateInitiator},
		{StateMaster, RoleSlave, StateStandby},
		{StateMaster, RoleMaster, StateMaster},
		{StateMaster, RoleStandby, StateMaster},
		{StateSlave, RoleMaster, StateSlave},
	}
	for _, tc := range cases {
		if got := NextState(tc.current, tc.role); got != tc.want {
			t.Errorf("NextState(%s, %s) = %s, want %s", tc.current, tc.role, got, tc.want)
		}
	}
}

func TestAdvanceStateWalksToMaster(t *testing.T) {
	tn := newTestNet(t, 1)
	lm := tn.bbs[0].NewLinkManager()
	lm.SetRole(RoleMaster)
	var path []State
	for i := 0; i < 4; i++ {
		path = append(path, lm.AdvanceState())
	}
	want := []State{StateScanner, StateInitiator, StateMaster, StateMaster}
	if !reflect.DeepEqual(path, want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
}

func TestSequenceNumberPolarity(t *testing.T) {
	tn := newTestNet(t, 1)
	lm := tn.bbs[0].NewLinkManager()

	// Nothing acknowledged yet: SN == peer NESN means resend.
	if lm.ManageSequenceNumberTX() {
		t.Fatalf("expected resend while SN equals peer NESN")
	}
	lm.peerNESN = true
	if !lm.ManageSequenceNumberTX() {
		t.Fatalf("expected new data once the peer NESN moved on")
	}
	if !lm.SN() {
		t.Fatalf("SN was not flipped")
	}
	if lm.ManageSequenceNumberTX() {
		t.Fatalf("second call without a new ack must resend")
	}

	if !lm.ManageSequenceNumberRX(false) {
		t.Fatalf("SN == NESN must be new data")
	}
	if !lm.NESN() {
		t.Fatalf("NESN was not flipped")
	}
	if lm.ManageSequenceNumberRX(false) {
		t.Fatalf("repeated SN must be a duplicate")
	}
	if !lm.NESN() {
		t.Fatalf("duplicate changed NESN")
	}
}

func TestChannelSelection(t *testing.T) {
	tn := newTestNet(t, 1)
	bb := tn.bbs[0]

	t.Run("all channels", func(t *testing.T) {
		lm := bb.NewLinkManager()
		lm.SetHopIncrement(7)
		var got []uint8
		for i := 0; i < 6; i++ {
			got = append(got, lm.ManageChannelSelection())
		}
		want := []uint8{7, 14, 21, 28, 35, 5}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
		if lm.CurrentChannelIndex() != 5 {
			t.Fatalf("CurrentChannelIndex = %d, want 5", lm.CurrentChannelIndex())
		}
	})

	t.Run("remapped", func(t *testing.T) {
		lm := bb.NewLinkManager()
		lm.SetUsedChannels([]uint8{0, 5, 10})
		var got []uint8
		for i := 0; i < 5; i++ {
			got = append(got, lm.ManageChannelSelection())
		}
		// unmapped 1,2,3,4,5 -> 1%3=1, 2%3=2, 3%3=0, 4%3=1, 5 is used
		want := []uint8{5, 10, 0, 5, 5}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
		if lm.LastUnmappedChannelIndex() != 5 {
			t.Fatalf("last unmapped = %d, want 5", lm.LastUnmappedChannelIndex())
		}
	})

	t.Run("reproducible", func(t *testing.T) {
		a, b := bb.NewLinkManager(), bb.NewLinkManager()
		for _, lm := range []*LinkManager{a, b} {
			lm.SetHopIncrement(11)
			lm.SetUsedChannels([]uint8{1, 2, 3, 20, 30})
			lm.SetLastUnmappedChannelIndex(17)
		}
		for i := 0; i < 100; i++ {
			if ca, cb := a.ManageChannelSelection(), b.ManageChannelSelection(); ca != cb {
				t.Fatalf("step %d: %d != %d", i, ca, cb)
			}
		}
	})

	t.Run("empty map panics", func(t *testing.T) {
		lm := bb.NewLinkManager()
		lm.SetUsedChannels(nil)
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic on empty used-channel list")
			}
		}()
		lm.ManageChannelSelection()
	})
}

func TestQueueDropTail(t *testing.T) {
	q := NewQueue(2)
	for i, want := range []bool{true, true, false} {
		if got := q.Enqueue(dataFrame(1, 2, string(rune('a'+i)))); got != want {
			t.Fatalf("Enqueue #%d = %v, want %v", i, got, want)
		}
	}
	if q.Drops() != 1 || q.Len() != 2 {
		t.Fatalf("drops=%d len=%d, want 1/2", q.Drops(), q.Len())
	}
	f, _ := q.Dequeue()
	if string(f.Payload) != "a" {
		t.Fatalf("Dequeue = %q, want oldest frame", f.Payload)
	}
}
