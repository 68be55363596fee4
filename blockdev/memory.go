package blockdev

import (
	"io"

	"github.com/kvemit/fatfs/errors"
	"github.com/xaionaro-go/bytesextra"
)

// MemoryDevice is a Device backed entirely by memory, used in tests and by
// cmd/fatutil when operating on a disk image file loaded wholesale. It mirrors
// the teacher's testing.LoadDiskImage helper, which built an
// io.ReadWriteSeeker from a []byte with bytesextra for exactly this purpose.
type MemoryDevice struct {
	stream     io.ReadWriteSeeker
	sectorSize uint16
	sectors    uint64
	status     Status
}

// NewMemoryDevice creates a MemoryDevice over image, which must already be
// exactly sectorSize*totalSectors bytes long.
func NewMemoryDevice(image []byte, sectorSize uint16, totalSectors uint64) *MemoryDevice {
	return &MemoryDevice{
		stream:     bytesextra.NewReadWriteSeeker(image),
		sectorSize: sectorSize,
		sectors:    totalSectors,
	}
}

func (d *MemoryDevice) Init() (Status, error) {
	d.status = Status{}
	return d.status, nil
}

func (d *MemoryDevice) Status() (Status, error) {
	return d.status, nil
}

func (d *MemoryDevice) seekTo(lba uint64) error {
	_, err := d.stream.Seek(int64(lba)*int64(d.sectorSize), io.SeekStart)
	if err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	return nil
}

func (d *MemoryDevice) Read(buf []byte, lba uint64, count uint) error {
	if err := CheckBounds(lba, count, d.sectors); err != nil {
		return err
	}
	if err := d.seekTo(lba); err != nil {
		return err
	}
	n, err := io.ReadFull(d.stream, buf[:uint(d.sectorSize)*count])
	if err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	if n != int(uint(d.sectorSize)*count) {
		return errors.KindDiskErr.WithMessage("short read")
	}
	return nil
}

func (d *MemoryDevice) Write(buf []byte, lba uint64, count uint) error {
	if d.status.WriteProtected {
		return errors.KindWriteProtected.WithMessage("memory device is read-only")
	}
	if err := CheckBounds(lba, count, d.sectors); err != nil {
		return err
	}
	if err := d.seekTo(lba); err != nil {
		return err
	}
	n, err := d.stream.Write(buf[:uint(d.sectorSize)*count])
	if err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	if n != int(uint(d.sectorSize)*count) {
		return errors.KindDiskErr.WithMessage("short write")
	}
	return nil
}

func (d *MemoryDevice) Ioctl(cmd Command, arg any) error {
	switch cmd {
	case CtrlSync:
		return nil
	case GetSectorCount:
		p, ok := arg.(*uint64)
		if !ok {
			return errors.KindInvalidParameter.WithMessage("GetSectorCount wants *uint64")
		}
		*p = d.sectors
		return nil
	case GetSectorSize:
		p, ok := arg.(*uint16)
		if !ok {
			return errors.KindInvalidParameter.WithMessage("GetSectorSize wants *uint16")
		}
		*p = d.sectorSize
		return nil
	case GetBlockSize:
		p, ok := arg.(*uint32)
		if !ok {
			return errors.KindInvalidParameter.WithMessage("GetBlockSize wants *uint32")
		}
		*p = 1
		return nil
	case CtrlTrim:
		// No-op: a memory-backed device has nothing to discard.
		return nil
	default:
		return errors.KindInvalidParameter.WithMessage("unsupported ioctl command")
	}
}
