// Package volume implements spec.md section 4.8: the mount state machine --
// partition-scheme detection (SFD/MBR/GPT), BPB/EBPB parsing, FAT variant
// classification, and FSINFO seeding. Grounded on the teacher's
// drivers/fat/common.go (NewFATBootSectorFromStream: BPB field extraction
// and the rootDirSectors/dataSectors/totalClusters math) and
// drivers/fat/fat32.go (RawFAT32BootSector's EBPB layout); MBR/GPT scanning
// has no teacher analogue and is grounded on
// other_examples/a54a0b08_rjosephwright-go-diskfs__filesystem-fat32-dos71bpb.go
// (BPB field parsing idiom) and original_source/src/private/ef_prv_gpt.c
// (GPT header/CRC32 validation algorithm).
package volume

import (
	"github.com/kvemit/fatfs/errors"
	"github.com/kvemit/fatfs/fat"
)

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// BPB is the parsed common BIOS Parameter Block, per spec.md section 6.
type BPB struct {
	BytesPerSector   uint16
	SectorsPerCluster uint8
	ReservedSectors  uint16
	NumFATs          uint8
	RootEntryCount   uint16
	TotalSectors16   uint16
	Media            uint8
	FATSize16        uint16
	SectorsPerTrack  uint16
	Heads            uint16
	HiddenSectors    uint32
	TotalSectors32   uint32

	// FAT32 EBPB fields, zero otherwise.
	FATSize32     uint32
	ExtFlags      uint16
	FSVersion     uint16
	RootCluster   uint32
	FSInfoSector  uint16
	BackupBootSec uint16
	Label         string
	FSType        string
}

// ParseBPB parses the 512-byte (or larger) VBR sector at its fixed offsets
// per spec.md section 6, dispatching to the FAT32 EBPB fields only when
// FATSize16 is zero (the convention that signals "see FATSize32 instead").
func ParseBPB(sector []byte) (BPB, error) {
	if len(sector) < 90 {
		return BPB{}, errors.KindNoFilesystem.WithMessage("sector too short to hold a BPB")
	}

	b := BPB{
		BytesPerSector:    le16(sector[11:13]),
		SectorsPerCluster: sector[13],
		ReservedSectors:   le16(sector[14:16]),
		NumFATs:           sector[16],
		RootEntryCount:    le16(sector[17:19]),
		TotalSectors16:    le16(sector[19:21]),
		Media:             sector[21],
		FATSize16:         le16(sector[22:24]),
		SectorsPerTrack:   le16(sector[24:26]),
		Heads:             le16(sector[26:28]),
		HiddenSectors:     le32(sector[28:32]),
		TotalSectors32:    le32(sector[32:36]),
	}

	if b.BytesPerSector == 0 || b.SectorsPerCluster == 0 || b.NumFATs == 0 {
		return BPB{}, errors.KindNoFilesystem.WithMessage("BPB fields fail basic sanity checks")
	}

	if b.FATSize16 == 0 {
		if len(sector) < 90 {
			return BPB{}, errors.KindNoFilesystem.WithMessage("sector too short to hold a FAT32 EBPB")
		}
		b.FATSize32 = le32(sector[36:40])
		b.ExtFlags = le16(sector[40:42])
		b.FSVersion = le16(sector[42:44])
		b.RootCluster = le32(sector[44:48])
		b.FSInfoSector = le16(sector[48:50])
		b.BackupBootSec = le16(sector[50:52])
		if len(sector) >= 90 && (sector[66] == 0x28 || sector[66] == 0x29) {
			b.Label = trimTrailingSpaces(sector[71:82])
			b.FSType = trimTrailingSpaces(sector[82:90])
		}
	} else if len(sector) >= 62 && (sector[38] == 0x28 || sector[38] == 0x29) {
		b.Label = trimTrailingSpaces(sector[43:54])
		b.FSType = trimTrailingSpaces(sector[54:62])
	}

	return b, nil
}

func trimTrailingSpaces(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}

// fatSize returns the effective sectors-per-FAT (16-bit form, or the FAT32
// EBPB's 32-bit form when the 16-bit field is zero).
func (b BPB) fatSize() uint32 {
	if b.FATSize16 != 0 {
		return uint32(b.FATSize16)
	}
	return b.FATSize32
}

// totalSectors returns the effective total sector count (16-bit form, or
// the 32-bit form when the 16-bit field is zero).
func (b BPB) totalSectors() uint32 {
	if b.TotalSectors16 != 0 {
		return uint32(b.TotalSectors16)
	}
	return b.TotalSectors32
}

// Derived carries the geometry math spec.md section 4.8 step 7 derives from
// a parsed BPB.
type Derived struct {
	RootDirSectors uint32
	FirstFATSector uint32
	FirstRootDirSector uint32
	FirstDataSector uint32
	DataSectors     uint32
	TotalClusters   uint32
	Variant         fat.Variant
}

// Derive computes spec.md section 4.8 step 7's geometry, including FAT
// variant classification.
func (b BPB) Derive() (Derived, error) {
	var d Derived
	d.RootDirSectors = (uint32(b.RootEntryCount)*32 + uint32(b.BytesPerSector) - 1) / uint32(b.BytesPerSector)
	d.FirstFATSector = uint32(b.ReservedSectors)
	d.FirstRootDirSector = d.FirstFATSector + uint32(b.NumFATs)*b.fatSize()
	d.FirstDataSector = d.FirstRootDirSector + d.RootDirSectors

	total := b.totalSectors()
	if total < d.FirstDataSector {
		return Derived{}, errors.KindNoFilesystem.WithMessage("BPB total sector count is smaller than the metadata region")
	}
	d.DataSectors = total - d.FirstDataSector

	if b.SectorsPerCluster == 0 {
		return Derived{}, errors.KindNoFilesystem.WithMessage("sectors per cluster is zero")
	}
	d.TotalClusters = d.DataSectors/uint32(b.SectorsPerCluster) + 2
	d.Variant = fat.DetermineVariant(d.TotalClusters)
	return d, nil
}
