//go:build !linux

package spidev

import "errors"

// Device placeholder so non-linux builds compile; spidev not supported.
type Device struct{}

func Open(path string, speedHz uint32) (*Device, error) {
	return nil, errors.New("spidev unsupported on this platform")
}

func (d *Device) Close() error { return nil }

func (d *Device) Xfer(tx, rx []byte) error {
	return errors.New("spidev unsupported on this platform")
}
