package frame

import "fmt"

// Frame is a header plus opaque upper-layer payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// Size is the encoded length of the frame.
func (f Frame) Size() int { return HeaderSize + len(f.Payload) }

// Bytes encodes the frame for the radio.
func (f Frame) Bytes() ([]byte, error) {
	b := make([]byte, f.Size())
	if err := f.Header.MarshalTo(b); err != nil {
		return nil, err
	}
	copy(b[HeaderSize:], f.Payload)
	return b, nil
}

// Decode parses an encoded frame. The payload is copied.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := f.Header.Unmarshal(b); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if n := len(b) - HeaderSize; n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, b[HeaderSize:])
	}
	return f, nil
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := f
	if f.Payload != nil {
		out.Payload = append([]byte(nil), f.Payload...)
	}
	return out
}
