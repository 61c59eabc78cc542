// Package frame implements the fixed-layout data-channel PDU header and the
// frame type carried between link managers and the radio.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// LLID distinguishes keep-alive/control frames from data frames.
type LLID uint8

const (
	LLIDReserved LLID = 0b00
	LLIDControl  LLID = 0b01 // keep-alive / empty PDU
	LLIDData     LLID = 0b10
	LLIDLLCP     LLID = 0b11
)

func (l LLID) String() string {
	switch l {
	case LLIDControl:
		return "control"
	case LLIDData:
		return "data"
	case LLIDLLCP:
		return "llcp"
	default:
		return "reserved"
	}
}

// HeaderSize is the encoded header length in bytes.
const HeaderSize = 8

// Field widths of the flags word.
const (
	MaxLength = 1<<5 - 1
	MaxRFU    = 1<<6 - 1
	maxLLID   = 1<<2 - 1
)

var (
	// ErrShortBuffer is returned when a buffer cannot hold a header.
	ErrShortBuffer = errors.New("frame: buffer too short")
	// ErrFieldRange is returned when a header field does not fit its bit width.
	ErrFieldRange = errors.New("frame: field out of range")
)

// Header is the link-layer header. On the wire:
//
//	[src:2][dst:2][protocol:2][flags:2]
//
// all big-endian, where flags holds NESN (bit 15), SN (14), MD (13),
// LLID (12..11), length (10..6) and six reserved bits (5..0).
type Header struct {
	Src      Address
	Dst      Address
	Protocol uint16

	NESN   bool
	SN     bool
	MD     bool
	LLID   LLID
	Length uint8
	RFU    uint8
}

// IsKeepAlive reports whether the header describes an empty control PDU.
func (h Header) IsKeepAlive() bool {
	return h.LLID == LLIDControl && h.Length == 0
}

func (h Header) validate() error {
	switch {
	case h.LLID > maxLLID:
		return fmt.Errorf("%w: llid %d", ErrFieldRange, h.LLID)
	case h.Length > MaxLength:
		return fmt.Errorf("%w: length %d", ErrFieldRange, h.Length)
	case h.RFU > MaxRFU:
		return fmt.Errorf("%w: rfu %d", ErrFieldRange, h.RFU)
	}
	return nil
}

func (h Header) flags() uint16 {
	var w uint16
	if h.NESN {
		w |= 1 << 15
	}
	if h.SN {
		w |= 1 << 14
	}
	if h.MD {
		w |= 1 << 13
	}
	w |= uint16(h.LLID&maxLLID) << 11
	w |= uint16(h.Length&MaxLength) << 6
	w |= uint16(h.RFU & MaxRFU)
	return w
}

// MarshalTo writes the header into the first HeaderSize bytes of b.
func (h Header) MarshalTo(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w (need %d bytes, got %d)", ErrShortBuffer, HeaderSize, len(b))
	}
	if err := h.validate(); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b[0:2], uint16(h.Src))
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Dst))
	binary.BigEndian.PutUint16(b[4:6], h.Protocol)
	binary.BigEndian.PutUint16(b[6:8], h.flags())
	return nil
}

// Marshal encodes the header into a new buffer.
func (h Header) Marshal() ([]byte, error) {
	b := make([]byte, HeaderSize)
	if err := h.MarshalTo(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Unmarshal decodes the first HeaderSize bytes of b into h.
func (h *Header) Unmarshal(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w (need %d bytes, got %d)", ErrShortBuffer, HeaderSize, len(b))
	}
	w := binary.BigEndian.Uint16(b[6:8])
	*h = Header{
		Src:      Address(binary.BigEndian.Uint16(b[0:2])),
		Dst:      Address(binary.BigEndian.Uint16(b[2:4])),
		Protocol: binary.BigEndian.Uint16(b[4:6]),
		NESN:     w&(1<<15) != 0,
		SN:       w&(1<<14) != 0,
		MD:       w&(1<<13) != 0,
		LLID:     LLID(w>>11) & maxLLID,
		Length:   uint8(w>>6) & MaxLength,
		RFU:      uint8(w) & MaxRFU,
	}
	return nil
}

func (h Header) String() string {
	return fmt.Sprintf("%s->%s proto=%#04x llid=%s sn=%t nesn=%t md=%t len=%d",
		h.Src, h.Dst, h.Protocol, h.LLID, h.SN, h.NESN, h.MD, h.Length)
}
