//go:build linux

// Package spidev gives direct access to an MCP2515 wired to a Linux spidev
// character device. It satisfies the mcp2515 SPI connection contract.
package spidev

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// spidev ioctl requests (linux/spi/spidev.h).
const (
	iocWrMode       = 0x40016B01
	iocWrBitsPW     = 0x40016B03
	iocWrMaxSpeedHz = 0x40046B04
	iocMessage1     = 0x40206B00 // SPI_IOC_MESSAGE(1)
)

// spiIocTransfer mirrors struct spi_ioc_transfer.
type spiIocTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	wordDelay   uint8
	pad         uint8
}

// Device is one open spidev handle. The MCP2515 runs SPI mode 0 and is
// comfortable up to 10 MHz; 8 MHz leaves margin on long leads.
type Device struct {
	fd    int
	speed uint32
}

const defaultSpeedHz = 8_000_000

func Open(path string, speedHz uint32) (*Device, error) {
	if speedHz == 0 {
		speedHz = defaultSpeedHz
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &Device{fd: fd, speed: speedHz}
	mode := uint8(0) // SPI_MODE_0
	if err := d.ioctl(iocWrMode, unsafe.Pointer(&mode)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set spi mode: %w", err)
	}
	bits := uint8(8)
	if err := d.ioctl(iocWrBitsPW, unsafe.Pointer(&bits)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set bits per word: %w", err)
	}
	if err := d.ioctl(iocWrMaxSpeedHz, unsafe.Pointer(&speedHz)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set max speed: %w", err)
	}
	return d, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// Xfer runs one full-duplex exchange with chip select held for its length.
func (d *Device) Xfer(tx, rx []byte) error {
	if len(tx) == 0 {
		return nil
	}
	tr := spiIocTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		len:         uint32(len(tx)),
		speedHz:     d.speed,
		bitsPerWord: 8,
	}
	if len(rx) > 0 {
		if len(rx) != len(tx) {
			return fmt.Errorf("spidev: rx length %d != tx length %d", len(rx), len(tx))
		}
		tr.rxBuf = uint64(uintptr(unsafe.Pointer(&rx[0])))
	}
	err := d.ioctl(iocMessage1, unsafe.Pointer(&tr))
	runtime.KeepAlive(tx)
	runtime.KeepAlive(rx)
	if err != nil {
		return fmt.Errorf("spi xfer: %w", err)
	}
	return nil
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
