package linklayer

// Link is the topology of one connection: a master, one or more slaves and
// the physical channel it was created on. Participants are referenced by
// DeviceID so the Network stays the single owner of every entity.
type Link struct {
	id      LinkID
	typ     LinkType
	master  DeviceID
	slaves  []DeviceID
	channel uint8
}

func newLink(id LinkID) *Link {
	return &Link{id: id, master: NoDevice}
}

func (l *Link) ID() LinkID           { return l.id }
func (l *Link) Type() LinkType       { return l.typ }
func (l *Link) SetType(t LinkType)   { l.typ = t }
func (l *Link) Master() DeviceID     { return l.master }
func (l *Link) SetMaster(d DeviceID) { l.master = d }
func (l *Link) Channel() uint8       { return l.channel }
func (l *Link) SetChannel(ch uint8)  { l.channel = ch }

// Slaves returns the slave devices in the order they were added.
func (l *Link) Slaves() []DeviceID {
	return append([]DeviceID(nil), l.slaves...)
}

// AddSlave appends d unless it is already a slave.
func (l *Link) AddSlave(d DeviceID) {
	for _, s := range l.slaves {
		if s == d {
			return
		}
	}
	l.slaves = append(l.slaves, d)
}

// IsMember reports whether d is the master or a slave of the link.
func (l *Link) IsMember(d DeviceID) bool {
	if d == NoDevice {
		return false
	}
	if l.master == d {
		return true
	}
	for _, s := range l.slaves {
		if s == d {
			return true
		}
	}
	return false
}

// Participants returns the master followed by every slave.
func (l *Link) Participants() []DeviceID {
	out := make([]DeviceID, 0, len(l.slaves)+1)
	if l.master != NoDevice {
		out = append(out, l.master)
	}
	return append(out, l.slaves...)
}
