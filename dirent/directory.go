package dirent

import (
	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/cache"
	"github.com/kvemit/fatfs/codepage"
	"github.com/kvemit/fatfs/errors"
	"github.com/kvemit/fatfs/fat"
)

// Directory addresses one directory's slot stream -- either the fixed-size
// FAT12/16 root (a flat sector range outside the cluster area) or a normal
// cluster-chain directory -- as a linear sequence of 32-byte slots,
// generalizing the teacher's clusterToDirentSlice (drivers/fat/dirent.go),
// which only ever processed one cluster's worth at a time.
type Directory struct {
	dev    blockdev.Device
	window *cache.Window
	engine *fat.Engine

	sectorSize        uint16
	sectorsPerCluster uint8
	dataBase          uint64 // LBA of cluster #2

	isFixedRoot      bool
	fixedRootBase    uint64
	fixedRootSectors uint64

	startCluster fat.ClusterID
	chain        []fat.ClusterID

	codec *codepage.Codec
}

// SetCodec attaches the OEM codepage used to decode this directory's short
// names (spec.md section 4.9). With a nil codec (the zero value) SFN bytes
// are copied into names unchanged.
func (d *Directory) SetCodec(codec *codepage.Codec) { d.codec = codec }

// Codec returns the directory's configured OEM codepage, or nil.
func (d *Directory) Codec() *codepage.Codec { return d.codec }

func (d *Directory) slotsPerSector() int { return int(d.sectorSize) / Size }
func (d *Directory) slotsPerCluster() int {
	return int(d.sectorsPerCluster) * d.slotsPerSector()
}

// NewFixedRoot builds a Directory over the FAT12/16 fixed root area.
func NewFixedRoot(dev blockdev.Device, sectorSize uint16, base, sectors uint64) *Directory {
	return &Directory{
		dev:              dev,
		window:           cache.NewWindow(dev, sectorSize),
		sectorSize:       sectorSize,
		isFixedRoot:      true,
		fixedRootBase:    base,
		fixedRootSectors: sectors,
	}
}

// NewChain builds a Directory over a normal cluster-chain directory (the
// FAT32 root, or any subdirectory).
func NewChain(dev blockdev.Device, engine *fat.Engine, sectorSize uint16, sectorsPerCluster uint8, dataBase uint64, start fat.ClusterID) *Directory {
	return &Directory{
		dev:               dev,
		window:            cache.NewWindow(dev, sectorSize),
		engine:            engine,
		sectorSize:        sectorSize,
		sectorsPerCluster: sectorsPerCluster,
		dataBase:          dataBase,
		startCluster:      start,
	}
}

func (d *Directory) ensureChain() error {
	if d.isFixedRoot || d.chain != nil {
		return nil
	}
	chain, err := d.engine.Walk(d.startCluster)
	if err != nil {
		return err
	}
	d.chain = chain
	return nil
}

// locate finds the sector/offset for slot index, returning ok=false if
// index falls past the directory's current length (but doesn't error --
// that's a normal "keep scanning, maybe extend" outcome for callers).
func (d *Directory) locate(index int) (lba uint64, offset int, ok bool, err error) {
	if d.isFixedRoot {
		total := int(d.fixedRootSectors) * d.slotsPerSector()
		if index < 0 || index >= total {
			return 0, 0, false, nil
		}
		lba = d.fixedRootBase + uint64(index/d.slotsPerSector())
		offset = (index % d.slotsPerSector()) * Size
		return lba, offset, true, nil
	}

	if err := d.ensureChain(); err != nil {
		return 0, 0, false, err
	}
	spc := d.slotsPerCluster()
	clusterIdx := index / spc
	if clusterIdx >= len(d.chain) {
		return 0, 0, false, nil
	}
	within := index % spc
	cluster := d.chain[clusterIdx]
	sectorInCluster := within / d.slotsPerSector()
	offsetInSector := (within % d.slotsPerSector()) * Size
	lba = d.dataBase + uint64(cluster-2)*uint64(d.sectorsPerCluster) + uint64(sectorInCluster)
	offset = offsetInSector
	return lba, offset, true, nil
}

// ReadRaw returns the 32 bytes at slot index. ok is false (with a nil
// error) if index is beyond the directory's current length.
func (d *Directory) ReadRaw(index int) (raw [Size]byte, ok bool, err error) {
	lba, offset, ok, err := d.locate(index)
	if err != nil || !ok {
		return raw, ok, err
	}
	if err := d.window.Load(lba); err != nil {
		return raw, false, errors.KindDiskErr.WrapError(err)
	}
	copy(raw[:], d.window.Buffer()[offset:offset+Size])
	return raw, true, nil
}

// WriteRaw stores buf at slot index, which must already be within the
// directory's current length (use Extend first if not).
func (d *Directory) WriteRaw(index int, buf [Size]byte) error {
	lba, offset, ok, err := d.locate(index)
	if err != nil {
		return err
	}
	if !ok {
		return errors.KindIntErr.WithMessage("write past directory end; Extend was not called")
	}
	if err := d.window.Load(lba); err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	copy(d.window.Buffer()[offset:offset+Size], buf[:])
	d.window.MarkDirty()
	return d.window.Store()
}

// Extend grows a cluster-chain directory by one zero-filled cluster,
// matching spec.md section 4.4's "the new cluster is zero-filled;
// allocation retries." The fixed FAT12/16 root cannot grow.
func (d *Directory) Extend() error {
	if d.isFixedRoot {
		return errors.KindDenied.WithMessage("fixed root directory is full and cannot grow")
	}
	if err := d.ensureChain(); err != nil {
		return err
	}

	var newCluster fat.ClusterID
	var err error
	if len(d.chain) == 0 {
		newCluster, err = d.engine.CreateNew()
	} else {
		newCluster, err = d.engine.Stretch(d.chain[len(d.chain)-1])
	}
	if err != nil {
		return err
	}

	zero := make([]byte, d.sectorSize)
	base := d.dataBase + uint64(newCluster-2)*uint64(d.sectorsPerCluster)
	for s := uint64(0); s < uint64(d.sectorsPerCluster); s++ {
		if err := d.dev.Write(zero, base+s, 1); err != nil {
			return errors.KindDiskErr.WrapError(err)
		}
	}

	if len(d.chain) == 0 {
		d.startCluster = newCluster
	}
	d.chain = append(d.chain, newCluster)
	return nil
}

// SlotCount returns the directory's current capacity in 32-byte slots.
func (d *Directory) SlotCount() (int, error) {
	if d.isFixedRoot {
		return int(d.fixedRootSectors) * d.slotsPerSector(), nil
	}
	if err := d.ensureChain(); err != nil {
		return 0, err
	}
	return len(d.chain) * d.slotsPerCluster(), nil
}

// StartCluster returns the directory's first cluster (0 for the fixed
// root, or for an as-yet-unextended chain directory).
func (d *Directory) StartCluster() fat.ClusterID { return d.startCluster }
