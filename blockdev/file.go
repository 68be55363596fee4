package blockdev

import (
	"io"

	"github.com/kvemit/fatfs/errors"
)

// FileDevice adapts any ReadWriteSeeker (typically an *os.File) into a
// Device, at a fixed sector size and an optional byte offset from the start
// of the stream -- useful for skipping a leading MBR/GPT when the caller
// already knows the partition's starting LBA. Generalized from the
// teacher's BlockDevice (drivers/common/blockdevice.go), which wrapped a
// *io.Seeker the same way but as a single concrete struct rather than
// behind the Device interface.
type FileDevice struct {
	stream      io.ReadWriteSeeker
	sectorSize  uint16
	sectors     uint64
	startOffset int64
	readOnly    bool
}

// NewFileDevice creates a FileDevice. startOffset is added to every sector
// address before seeking, letting the same stream back multiple partitions.
func NewFileDevice(stream io.ReadWriteSeeker, sectorSize uint16, totalSectors uint64, startOffset int64, readOnly bool) *FileDevice {
	return &FileDevice{
		stream:      stream,
		sectorSize:  sectorSize,
		sectors:     totalSectors,
		startOffset: startOffset,
		readOnly:    readOnly,
	}
}

func (d *FileDevice) Init() (Status, error) {
	return Status{WriteProtected: d.readOnly}, nil
}

func (d *FileDevice) Status() (Status, error) {
	return Status{WriteProtected: d.readOnly}, nil
}

func (d *FileDevice) fileOffset(lba uint64) int64 {
	return d.startOffset + int64(lba)*int64(d.sectorSize)
}

func (d *FileDevice) Read(buf []byte, lba uint64, count uint) error {
	if err := CheckBounds(lba, count, d.sectors); err != nil {
		return err
	}
	if _, err := d.stream.Seek(d.fileOffset(lba), io.SeekStart); err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	want := uint(d.sectorSize) * count
	n, err := io.ReadFull(d.stream, buf[:want])
	if err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	if uint(n) != want {
		return errors.KindDiskErr.WithMessage("short read")
	}
	return nil
}

func (d *FileDevice) Write(buf []byte, lba uint64, count uint) error {
	if d.readOnly {
		return errors.KindWriteProtected.WithMessage("device opened read-only")
	}
	if err := CheckBounds(lba, count, d.sectors); err != nil {
		return err
	}
	if _, err := d.stream.Seek(d.fileOffset(lba), io.SeekStart); err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	want := uint(d.sectorSize) * count
	n, err := d.stream.Write(buf[:want])
	if err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	if uint(n) != want {
		return errors.KindDiskErr.WithMessage("short write")
	}
	return nil
}

func (d *FileDevice) Ioctl(cmd Command, arg any) error {
	switch cmd {
	case CtrlSync:
		if syncer, ok := d.stream.(interface{ Sync() error }); ok {
			if err := syncer.Sync(); err != nil {
				return errors.KindDiskErr.WrapError(err)
			}
		}
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
		return nil
	default:
		return errors.KindInvalidParameter.WithMessage("unsupported ioctl command")
	}
}
