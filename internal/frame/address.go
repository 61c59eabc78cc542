package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a 16-bit link-layer device address, printed as "hh:hh".
type Address uint16

// Broadcast is the all-ones destination used by advertising and keep-alive frames.
const Broadcast Address = 0xFFFF

func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x", uint8(a>>8), uint8(a))
}

// IsBroadcast reports whether a is the broadcast address.
func (a Address) IsBroadcast() bool { return a == Broadcast }

// ParseAddress accepts "hh:hh" or a plain decimal/hex integer ("7", "0x0007").
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("frame: empty address")
	}
	if hi, lo, ok := strings.Cut(s, ":"); ok {
		h, err := strconv.ParseUint(hi, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("frame: parse address %q: %w", s, err)
		}
		l, err := strconv.ParseUint(lo, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("frame: parse address %q: %w", s, err)
		}
		return Address(h<<8 | l), nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("frame: parse address %q: %w", s, err)
	}
	return Address(v), nil
}
