// Package blockdev defines the block-device vtable every mounted volume talks
// to (spec.md section 4.1): init/status/read/write/ioctl at sector granularity,
// plus the handful of ioctl commands the core needs. The driver behind a
// Device is explicitly out of scope for the core (spec.md section 1); this
// package only defines the contract and a couple of concrete implementations
// useful for tests and small tools.
package blockdev

import "github.com/kvemit/fatfs/errors"

// Command identifies an Ioctl request.
type Command int

const (
	// CtrlSync flushes any write-behind cache in the underlying device.
	CtrlSync Command = iota
	// GetSectorCount asks for the total number of addressable sectors. The
	// argument is a *uint64 regardless of whether the device uses 32- or
	// 64-bit LBAs internally.
	GetSectorCount
	// GetSectorSize asks for the size of one sector in bytes. The argument
	// is a *uint16.
	GetSectorSize
	// GetBlockSize asks for the erase-block size in sectors, best-effort,
	// used only by formatting tools. The argument is a *uint32.
	GetBlockSize
	// CtrlTrim notifies the device that a range of sectors [arg[0], arg[1]]
	// (inclusive, LBA) no longer holds live data. The argument is a
	// *[2]uint64. Non-fatal if unsupported.
	CtrlTrim
)

// Status is the outcome of Init/Status, distinguishing "no medium" from a
// medium that is present but write protected, so callers can tell transient
// conditions from permanent ones (spec.md section 4.1).
type Status struct {
	NoDisk         bool
	NotInitialized bool
	WriteProtected bool
}

// Ready reports whether the device can currently service Read/Write.
func (s Status) Ready() bool {
	return !s.NoDisk && !s.NotInitialized
}

// Device is the vtable every physical drive slot must implement. Sector
// indices are absolute LBAs from the start of the device; the volume-base
// offset derived during mount (spec.md section 4.8) is added by the caller,
// not by Device implementations.
type Device interface {
	// Init prepares the device for use, returning its status.
	Init() (Status, error)
	// Status returns the device's current status without attempting to
	// reinitialize it.
	Status() (Status, error)
	// Read fills buf with count sectors starting at lba. len(buf) must be
	// exactly count times the device's sector size (see GetSectorSize).
	Read(buf []byte, lba uint64, count uint) error
	// Write stores count sectors starting at lba from buf. len(buf) must be
	// exactly count times the device's sector size (see GetSectorSize).
	Write(buf []byte, lba uint64, count uint) error
	// Ioctl issues a device-specific control command. arg's concrete type
	// depends on cmd, documented on the Command constants above.
	Ioctl(cmd Command, arg any) error
}

// CheckBounds validates that count sectors starting at lba fit within a
// device of the given total sector count, returning a DriverError with kind
// KindInvalidParameter if not. Concrete Device implementations use this to
// reject out-of-range requests uniformly.
func CheckBounds(lba uint64, count uint, totalSectors uint64) error {
	if count == 0 {
		return nil
	}
	if lba >= totalSectors || lba+uint64(count) > totalSectors {
		return errors.KindInvalidParameter.WithMessage(
			"sector range out of bounds")
	}
	return nil
}
