package linklayer

import "fmt"

// DeviceID addresses a Baseband Manager (one per device) inside a Network.
type DeviceID int

// ManagerID addresses a Link Manager inside a Network.
type ManagerID int

// LinkID addresses a Link inside a Network.
type LinkID int

const (
	NoDevice  DeviceID  = -1
	NoManager ManagerID = -1
	NoLink    LinkID    = -1
)

// State is the current Link Manager state.
type State int

const (
	StateStandby State = iota
	StateAdvertiser
	StateScanner
	StateInitiator
	StateSlave
	StateMaster
)

func (s State) String() string {
	switch s {
	case StateStandby:
		return "STANDBY"
	case StateAdvertiser:
		return "ADVERTISER"
	case StateScanner:
		return "SCANNER"
	case StateInitiator:
		return "INITIATOR"
	case StateSlave:
		return "SLAVE"
	case StateMaster:
		return "MASTER"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Role is the state a Link Manager is steering towards.
type Role int

const (
	RoleSlave Role = iota
	RoleMaster
	RoleStandby
	RoleConnectionless
)

func (r Role) String() string {
	switch r {
	case RoleSlave:
		return "SLAVE"
	case RoleMaster:
		return "MASTER"
	case RoleStandby:
		return "STANDBY"
	case RoleConnectionless:
		return "CONNECTIONLESS"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole accepts the names printed by Role.String, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch s {
	case "slave", "SLAVE", "Slave":
		return RoleSlave, nil
	case "master", "MASTER", "Master":
		return RoleMaster, nil
	case "standby", "STANDBY", "Standby":
		return RoleStandby, nil
	case "connectionless", "CONNECTIONLESS", "Connectionless":
		return RoleConnectionless, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// NextState is the role-driven transition table:
//
//	current     role=SLAVE   role=MASTER  other
//	STANDBY     ADVERTISER   SCANNER      STANDBY
//	ADVERTISER  SLAVE        STANDBY      ADVERTISER
//	SCANNER     STANDBY      INITIATOR    SCANNER
//	INITIATOR   STANDBY      MASTER       INITIATOR
//	MASTER      STANDBY      MASTER       MASTER
//
// SLAVE has no row; it only leaves through TX completion.
func NextState(current State, role Role) State {
	switch current {
	case StateStandby:
		switch role {
		case RoleSlave:
			return StateAdvertiser
		case RoleMaster:
			return StateScanner
		}
	case StateAdvertiser:
		switch role {
		case RoleSlave:
			return StateSlave
		case RoleMaster:
			return StateStandby
		}
	case StateScanner:
		switch role {
		case RoleSlave:
			return StateStandby
		case RoleMaster:
			return StateInitiator
		}
	case StateInitiator:
		switch role {
		case RoleSlave:
			return StateStandby
		case RoleMaster:
			return StateMaster
		}
	case StateMaster:
		if role == RoleSlave {
			return StateStandby
		}
	}
	return current
}

// LinkType classifies a Link's topology.
type LinkType int

const (
	LinkUnconnected LinkType = iota
	LinkPointToPoint
	LinkBroadcast
	LinkMulticast
	LinkScanner
)

func (t LinkType) String() string {
	switch t {
	case LinkUnconnected:
		return "UNCONNECTED"
	case LinkPointToPoint:
		return "POINT_TO_POINT"
	case LinkBroadcast:
		return "BROADCAST"
	case LinkMulticast:
		return "MULTICAST"
	case LinkScanner:
		return "SCANNER"
	default:
		return fmt.Sprintf("LinkType(%d)", int(t))
	}
}
