// Package fat implements spec.md section 4.3: the FAT12/16/32 cluster-chain
// engine -- entry decode/encode (including the FAT12 nibble straddle and the
// FAT32 upper-4-bit preservation rule), chain traversal, creation, stretching,
// removal, and free-cluster scanning. It is grounded on the teacher's
// drivers/fat/driverbase.go (listClusters, getClusterInChain: bounds/cycle
// checking) and drivers/fat/common.go (geometry derivation), generalized
// since the teacher's FAT driver was read-only.
package fat

import (
	"github.com/boljen/go-bitmap"
	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/cache"
	"github.com/kvemit/fatfs/errors"
)

// Variant identifies which of the three FAT entry widths a volume uses.
// Expressed as a sum type (per spec.md section 9's "Replacing source
// patterns": the original's bit-flag FAT12|FAT16|FAT32 tag becomes a proper
// enum with pure dispatch functions) rather than bit flags.
type Variant int

const (
	FAT12 Variant = 12
	FAT16 Variant = 16
	FAT32 Variant = 32
)

// ClusterID is a 1-based... actually 2-based cluster number: valid data
// clusters start at 2 (spec.md section 3 invariants).
type ClusterID uint32

// Status classifies the value read back for a FAT entry. These are the
// internal-only FAT_ENTRY_* tags from spec.md section 6 -- never surfaced as
// a DriverError, only consumed inside this package and by direct callers
// that need to distinguish "end of chain" from "disk error" (spec.md section
// 9, open question 1).
type Status int

const (
	StatusFree Status = iota
	StatusBad
	StatusLast
	StatusNext
)

// DetermineVariant classifies a volume by its total cluster count, per
// spec.md section 4.8 step 7 (identical thresholds to the teacher's
// drivers/fat/common.go DetermineFATVersion).
func DetermineVariant(totalClusters uint32) Variant {
	switch {
	case totalClusters < 4085:
		return FAT12
	case totalClusters < 65525:
		return FAT16
	default:
		return FAT32
	}
}

// Geometry carries everything the engine needs to locate and interpret FAT
// entries, filled in by the volume mount (spec.md section 4.8).
type Geometry struct {
	Variant       Variant
	FatBase       uint64 // first sector of FAT#0
	SectorsPerFAT uint64
	NumFATs       uint8
	SectorSize    uint16
	TotalEntries  uint32 // u32FatEntriesNb = usable clusters + 2
	TrimEnabled   bool

	// DataBase/SectorsPerCluster let Remove translate a freed cluster run
	// into the LBA range CtrlTrim expects; both are ignored when
	// TrimEnabled is false.
	DataBase          uint64
	SectorsPerCluster uint8
}

// terminator/bad markers per variant, spec.md section 3.
func (g Geometry) badMarker() uint32 {
	switch g.Variant {
	case FAT12:
		return 0xFF7
	case FAT16:
		return 0xFFF7
	default:
		return 0x0FFFFFF7
	}
}

func (g Geometry) lastMarker() uint32 {
	switch g.Variant {
	case FAT12:
		return 0xFF8
	case FAT16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

// Engine is the FAT cluster-chain engine for one mounted volume.
type Engine struct {
	geo    Geometry
	window *cache.Window
	dev    blockdev.Device

	lastAlloc ClusterID
	freeCount uint32
	freeValid bool
	freeHint  bitmap.Bitmap // nil until the first FreeScan; see DESIGN.md
}

// New creates an Engine. window must already be configured with
// ConfigureFATMirror if geo.NumFATs > 1. dev is used only to issue CtrlTrim
// on Remove when geo.TrimEnabled is set; it may be nil otherwise.
func New(geo Geometry, window *cache.Window, dev blockdev.Device) *Engine {
	return &Engine{
		geo:       geo,
		window:    window,
		dev:       dev,
		lastAlloc: 1, // scans start from ClstLast+1 == 2, the first usable cluster
	}
}

// Geometry returns the engine's geometry.
func (e *Engine) Geometry() Geometry { return e.geo }

// IsValidCluster reports whether c is a usable data cluster number, per
// spec.md section 3's invariant "(u32FatEntriesNb-2) is the number of usable
// clusters; any chain reference outside [2, u32FatEntriesNb-1] is invalid."
func (e *Engine) IsValidCluster(c ClusterID) bool {
	return c >= 2 && uint32(c) < e.geo.TotalEntries
}

func (e *Engine) classify(value uint32) Status {
	switch {
	case value == 0:
		return StatusFree
	case value == e.geo.badMarker():
		return StatusBad
	case value >= e.geo.lastMarker():
		return StatusLast
	default:
		return StatusNext
	}
}

// fat12Offsets returns the byte offset of cluster n's entry within the FAT,
// and whether it occupies the high nibble of its word (n odd).
func fat12Offsets(n ClusterID) (byteOffset uint64, highNibble bool) {
	byteOffset = uint64(n) + uint64(n)/2
	highNibble = n%2 == 1
	return
}

// Get reads the raw FAT entry for cluster n, classifying it. Per spec.md
// section 9 open question 1, a disk fault is always reported through err,
// never conflated with StatusLast -- status is only meaningful when err is
// nil.
func (e *Engine) Get(n ClusterID) (value uint32, status Status, err error) {
	if n == 0 || n == 1 {
		return 0, 0, errors.KindIntErr.WithMessage("cluster 0 or 1 is not a valid chain member")
	}

	ss := uint64(e.geo.SectorSize)

	switch e.geo.Variant {
	case FAT12:
		byteOffset, highNibble := fat12Offsets(n)
		sector := e.geo.FatBase + byteOffset/ss
		offset := byteOffset % ss

		if err := e.window.Load(sector); err != nil {
			return 0, 0, errors.KindDiskErr.WrapError(err)
		}
		lo := e.window.Buffer()[offset]

		var hi byte
		if offset == ss-1 {
			if err := e.window.Load(sector + 1); err != nil {
				return 0, 0, errors.KindDiskErr.WrapError(err)
			}
			hi = e.window.Buffer()[0]
		} else {
			hi = e.window.Buffer()[offset+1]
		}

		word := uint16(lo) | uint16(hi)<<8
		var entry uint16
		if highNibble {
			entry = word >> 4
		} else {
			entry = word & 0x0FFF
		}
		value = uint32(entry)

	case FAT16:
		byteOffset := uint64(n) * 2
		sector := e.geo.FatBase + byteOffset/ss
		offset := byteOffset % ss
		if err := e.window.Load(sector); err != nil {
			return 0, 0, errors.KindDiskErr.WrapError(err)
		}
		buf := e.window.Buffer()
		value = uint32(buf[offset]) | uint32(buf[offset+1])<<8

	case FAT32:
		byteOffset := uint64(n) * 4
		sector := e.geo.FatBase + byteOffset/ss
		offset := byteOffset % ss
		if err := e.window.Load(sector); err != nil {
			return 0, 0, errors.KindDiskErr.WrapError(err)
		}
		buf := e.window.Buffer()
		raw := uint32(buf[offset]) | uint32(buf[offset+1])<<8 |
			uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
		value = raw & 0x0FFFFFFF

	default:
		return 0, 0, errors.KindIntErr.WithMessage("unknown FAT variant")
	}

	status = e.classify(value)
	if status == StatusNext && !e.IsValidCluster(ClusterID(value)) {
		return value, status, errors.KindIntErr.WithMessage("FAT entry points outside the valid cluster range")
	}
	return value, status, nil
}

// Set writes value into cluster n's FAT entry, preserving FAT32's reserved
// upper 4 bits via read-modify-write and using the same straddle logic as
// Get for FAT12.
func (e *Engine) Set(n ClusterID, value uint32) error {
	if n == 0 || n == 1 {
		return errors.KindIntErr.WithMessage("cluster 0 or 1 is not a valid chain member")
	}

	ss := uint64(e.geo.SectorSize)

	switch e.geo.Variant {
	case FAT12:
		byteOffset, highNibble := fat12Offsets(n)
		sector := e.geo.FatBase + byteOffset/ss
		offset := byteOffset % ss

		if err := e.window.Load(sector); err != nil {
			return errors.KindDiskErr.WrapError(err)
		}
		buf := e.window.Buffer()
		lo := buf[offset]

		straddles := offset == ss-1
		var hiSector *cache.Window
		var hi byte
		if straddles {
			if err := e.window.Load(sector + 1); err != nil {
				return errors.KindDiskErr.WrapError(err)
			}
			hi = e.window.Buffer()[0]
			hiSector = e.window
		} else {
			hi = buf[offset+1]
		}

		word := uint16(lo) | uint16(hi)<<8
		v12 := uint16(value) & 0x0FFF
		if highNibble {
			word = (word & 0x000F) | (v12 << 4)
		} else {
			word = (word & 0xF000) | v12
		}

		if straddles {
			// hiSector currently holds the second sector; write its byte,
			// then reload the first sector to write the low byte.
			_ = hiSector
			buf2 := e.window.Buffer()
			buf2[0] = byte(word >> 8)
			e.window.MarkDirty()
			if err := e.window.Load(sector); err != nil {
				return errors.KindDiskErr.WrapError(err)
			}
			e.window.Buffer()[offset] = byte(word)
			e.window.MarkDirty()
		} else {
			buf[offset] = byte(word)
			buf[offset+1] = byte(word >> 8)
			e.window.MarkDirty()
		}

	case FAT16:
		byteOffset := uint64(n) * 2
		sector := e.geo.FatBase + byteOffset/ss
		offset := byteOffset % ss
		if err := e.window.Load(sector); err != nil {
			return errors.KindDiskErr.WrapError(err)
		}
		buf := e.window.Buffer()
		buf[offset] = byte(value)
		buf[offset+1] = byte(value >> 8)
		e.window.MarkDirty()

	case FAT32:
		byteOffset := uint64(n) * 4
		sector := e.geo.FatBase + byteOffset/ss
		offset := byteOffset % ss
		if err := e.window.Load(sector); err != nil {
			return errors.KindDiskErr.WrapError(err)
		}
		buf := e.window.Buffer()
		existing := uint32(buf[offset]) | uint32(buf[offset+1])<<8 |
			uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
		merged := (existing & 0xF0000000) | (value & 0x0FFFFFFF)
		buf[offset] = byte(merged)
		buf[offset+1] = byte(merged >> 8)
		buf[offset+2] = byte(merged >> 16)
		buf[offset+3] = byte(merged >> 24)
		e.window.MarkDirty()

	default:
		return errors.KindIntErr.WithMessage("unknown FAT variant")
	}

	if e.freeHint != nil {
		e.freeHint.Set(int(n), value == 0)
	}
	return nil
}

// Terminator returns the canonical "last cluster in chain" marker for this
// variant.
func (e *Engine) Terminator() uint32 { return e.geo.lastMarker() }
