// Package cache implements spec.md section 4.2: the single-sector window
// that mediates every metadata access (FAT entries, directory entries, BPB),
// including write-back, write-through duplication to the mirror FAT copies,
// and FSINFO maintenance; plus a generalized multi-block cache (BlockCache)
// reused by fatfs.File for cluster-spanning data I/O, adapted from the
// teacher's drivers/common/blockcache package.
package cache

import (
	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/errors"
)

// unreachableLBA is stored as a window's current LBA after a failed load, so
// the next access is guaranteed to miss and retry rather than serve stale
// data (spec.md section 4.2, "Failure modes").
const unreachableLBA = ^uint64(0)

// Window holds exactly one sector per volume, as spec.md section 3 requires
// ("Exactly one sector window is dirty-writable at a time per volume").
type Window struct {
	dev        blockdev.Device
	sectorSize uint16
	buf        []byte
	lba        uint64
	dirty      bool

	// fatBase/fatSize/numFATs describe where the primary FAT
	// lives so Store can mirror a dirty FAT sector into every backup copy.
	// numFATs <= 1 disables mirroring entirely.
	fatBase   uint64
	fatSize   uint64
	numFATs   uint8
}

// NewWindow creates an empty, clean Window over dev. ConfigureFATMirror must
// be called afterwards for FAT-sector writes to mirror correctly.
func NewWindow(dev blockdev.Device, sectorSize uint16) *Window {
	return &Window{
		dev:        dev,
		sectorSize: sectorSize,
		buf:        make([]byte, sectorSize),
		lba:        unreachableLBA,
	}
}

// ConfigureFATMirror tells the window where the FAT copies live so that
// Store() can duplicate a dirty sector within FAT#0 into FAT#1..N-1.
func (w *Window) ConfigureFATMirror(fatBase, sectorsPerFAT uint64, numFATs uint8) {
	w.fatBase = fatBase
	w.fatSize = sectorsPerFAT
	w.numFATs = numFATs
}

// Buffer returns the window's current sector contents for in-place reads and
// writes. Callers that mutate it must call MarkDirty.
func (w *Window) Buffer() []byte { return w.buf }

// LBA returns the sector currently loaded, or an unreachable sentinel if
// nothing has been loaded yet or the last load failed.
func (w *Window) LBA() uint64 { return w.lba }

// Dirty reports whether the buffer has unflushed modifications.
func (w *Window) Dirty() bool { return w.dirty }

// MarkDirty flags the window's buffer as modified, scheduling it for
// write-back on the next Load of a different sector, or on Store.
func (w *Window) MarkDirty() { w.dirty = true }

// Load guarantees the buffer equals on-disk sector lba on return, flushing
// any pending dirty sector first (spec.md section 4.2).
func (w *Window) Load(lba uint64) error {
	if w.lba == lba {
		return nil
	}
	if err := w.Store(); err != nil {
		return err
	}
	if err := w.dev.Read(w.buf, lba, 1); err != nil {
		// A failed load must not leave the window pointed at a sector whose
		// contents are now unknown; sentinel it so the next access retries.
		w.lba = unreachableLBA
		return err
	}
	w.lba = lba
	w.dirty = false
	return nil
}

// Store persists the buffer if dirty. If the sector lies within FAT#0 it is
// also written to the corresponding sector of every other FAT copy; a
// mirror-write failure is ignored (non-fatal), matching spec.md section
// 4.2's "the backup FAT is advisory" rule -- the primary write's result is
// what Store returns.
func (w *Window) Store() error {
	if !w.dirty || w.lba == unreachableLBA {
		return nil
	}
	if err := w.dev.Write(w.buf, w.lba, 1); err != nil {
		return err
	}
	w.dirty = false

	if w.numFATs > 1 && w.fatSize > 0 && w.lba >= w.fatBase && w.lba < w.fatBase+w.fatSize {
		offsetWithinFAT := w.lba - w.fatBase
		for copyIdx := uint8(1); copyIdx < w.numFATs; copyIdx++ {
			mirrorLBA := w.fatBase + uint64(copyIdx)*w.fatSize + offsetWithinFAT
			_ = w.dev.Write(w.buf, mirrorLBA, 1) // advisory: failure is non-fatal
		}
	}
	return nil
}

// FSInfo describes the fields of the FAT32 FSINFO sector this window
// maintains (spec.md section 6).
type FSInfo struct {
	Sector      uint64
	FreeCount   uint32
	NextFree    uint32
}

const (
	fsInfoLeadSig   = 0x41615252
	fsInfoStructSig = 0x61417272
	fsInfoTrailSig  = 0xAA550000
)

// little-endian helpers. The byte-load/store helpers are explicitly called
// out as an out-of-scope external collaborator in spec.md section 1; nothing
// in the retrieved pack supplies one, so this uses the standard encoding
// exactly the way it would be delegated to such a helper.
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// RefreshFSInfo writes the FSINFO sector (spec.md section 4.2's
// sync-sequence: lead/struct signatures, free count, next-free hint,
// trailing signature), used by FAT32 volumes only. A failure here is
// recoverable: the in-memory free count stays authoritative even if the
// on-disk hint goes stale (spec.md section 7, "FSINFO refresh failures
// during sync").
func (w *Window) RefreshFSInfo(info FSInfo) error {
	if err := w.Load(info.Sector); err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	buf := w.Buffer()
	if len(buf) < 512 {
		return errors.KindIntErr.WithMessage("sector too small to hold FSINFO")
	}
	putLE32(buf[0:4], fsInfoLeadSig)
	putLE32(buf[484:488], fsInfoStructSig)
	putLE32(buf[488:492], info.FreeCount)
	putLE32(buf[492:496], info.NextFree)
	putLE32(buf[508:512], fsInfoTrailSig)
	w.MarkDirty()
	return w.Store()
}

// ReadFSInfo reads and validates the FSINFO sector. ok is false if the
// signatures don't match, in which case the free count/hint must be treated
// as unknown (spec.md section 4.8 step 8).
func (w *Window) ReadFSInfo(sector uint64) (info FSInfo, ok bool, err error) {
	if loadErr := w.Load(sector); loadErr != nil {
		return FSInfo{}, false, loadErr
	}
	buf := w.Buffer()
	if len(buf) < 512 {
		return FSInfo{}, false, nil
	}
	if le32(buf[0:4]) != fsInfoLeadSig || le32(buf[484:488]) != fsInfoStructSig || le32(buf[508:512]) != fsInfoTrailSig {
		return FSInfo{}, false, nil
	}
	return FSInfo{
		Sector:    sector,
		FreeCount: le32(buf[488:492]),
		NextFree:  le32(buf[492:496]),
	}, true, nil
}

// Sync is Store() followed by an FSINFO refresh (if info is non-nil) and a
// CTRL_SYNC ioctl, matching spec.md section 4.2's window.sync(FS) sequence.
func (w *Window) Sync(info *FSInfo) error {
	if err := w.Store(); err != nil {
		return err
	}
	if info != nil {
		if err := w.RefreshFSInfo(*info); err != nil {
			// Non-fatal per spec.md section 7: volume state is valid even
			// if the FSINFO hint goes stale.
			_ = err
		}
	}
	return w.dev.Ioctl(blockdev.CtrlSync, nil)
}
