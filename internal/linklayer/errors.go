package linklayer

import "errors"

var (
	// ErrDuplicateAddress is returned when two devices share an address.
	ErrDuplicateAddress = errors.New("duplicate device address")
	// ErrUnknownManager is returned for Link Managers not attached to the device.
	ErrUnknownManager = errors.New("unknown link manager")
	// ErrUnknownDevice is returned for addresses no device owns.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrSelfLink is returned when a device is asked to link to itself.
	ErrSelfLink = errors.New("cannot link a device to itself")
)
