package volume

import (
	"hash/crc32"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/errors"
)

// Scheme identifies how a device's sector 0 was classified, per spec.md
// section 4.8 step 2.
type Scheme int

const (
	SchemeSFD Scheme = iota // super-floppy: the VBR itself sits at LBA 0
	SchemeMBR
	SchemeGPT
	SchemeUnknown
)

// mbrProtectiveType is the partition type byte identifying a protective MBR
// wrapping a GPT disk.
const mbrProtectiveType = 0xEE

// basicDataGUID is the Microsoft Basic Data partition type GUID, stored
// on-disk in mixed-endian form: {EBD0A0A2-B9E5-4433-87C0-68B6B72699C7}.
var basicDataGUID = [16]byte{
	0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44,
	0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7,
}

// PartitionTableEntry is one parsed MBR PTE.
type PartitionTableEntry struct {
	BootFlag byte
	Type     byte
	LBAStart uint32
	LBASize  uint32
}

func parseMBR(sector []byte) (valid bool, protective bool, entries [4]PartitionTableEntry) {
	if len(sector) < 512 || sector[510] != 0x55 || sector[511] != 0xAA {
		return false, false, entries
	}
	for i := 0; i < 4; i++ {
		off := 446 + i*16
		e := PartitionTableEntry{
			BootFlag: sector[off],
			Type:     sector[off+4],
			LBAStart: le32(sector[off+8 : off+12]),
			LBASize:  le32(sector[off+12 : off+16]),
		}
		entries[i] = e
		if e.Type == mbrProtectiveType {
			protective = true
		}
	}
	return true, protective, entries
}

// DetectScheme reads sector 0 and classifies the device's partitioning
// scheme per spec.md section 4.8 step 2: "FAT-VBR directly (SFD layout),
// generic MBR (ends with 0x55AA, PTE type 0xEE => protective MBR => GPT),
// or unknown."
func DetectScheme(dev blockdev.Device, sectorSize uint16) (Scheme, error) {
	sector := make([]byte, sectorSize)
	if err := dev.Read(sector, 0, 1); err != nil {
		return SchemeUnknown, errors.KindDiskErr.WrapError(err)
	}

	valid, protective, ptes := parseMBR(sector)
	if !valid {
		// No 0x55AA trailer: could still be a raw VBR (some VBRs omit the
		// signature on non-bootable media), so treat it as SFD without
		// checking for a VBR jump instruction, letting BPB parsing itself
		// reject nonsense.
		return SchemeSFD, nil
	}
	if protective {
		return SchemeGPT, nil
	}

	// A valid 0x55AA trailer with no protective entry could be either an
	// MBR with real partitions, or a super-floppy VBR that happens to end
	// in the same signature (true of every valid boot sector). Disambiguate
	// by requiring at least one non-zero, non-protective partition type.
	for _, e := range ptes {
		if e.Type != 0 {
			return SchemeMBR, nil
		}
	}
	return SchemeSFD, nil
}

// ResolveMBRPartition selects VolBase per spec.md section 4.8 step 4: the
// forced slot (if forceSlot >= 0) or the first slot whose type parses as a
// valid VBR partition (nonzero, non-extended).
func ResolveMBRPartition(dev blockdev.Device, sectorSize uint16, forceSlot int) (volBase uint64, err error) {
	sector := make([]byte, sectorSize)
	if err := dev.Read(sector, 0, 1); err != nil {
		return 0, errors.KindDiskErr.WrapError(err)
	}
	valid, _, ptes := parseMBR(sector)
	if !valid {
		return 0, errors.KindNoFilesystem.WithMessage("sector 0 is not a valid MBR")
	}

	if forceSlot >= 0 {
		if forceSlot >= 4 {
			return 0, errors.KindInvalidParameter.WithMessage("MBR partition slot out of range")
		}
		return uint64(ptes[forceSlot].LBAStart), nil
	}

	for _, e := range ptes {
		if e.Type != 0 && e.Type != 0x05 && e.Type != 0x0F {
			return uint64(e.LBAStart), nil
		}
	}
	return 0, errors.KindNoFilesystem.WithMessage("no usable partition found in MBR")
}

const gptHeaderLeadSig = "EFI PART"

// ResolveGPTPartition implements spec.md section 4.8 step 5: validate the
// GPT header at LBA 1 (signature, revision 1.0, header length 92, CRC32 --
// computed with the CRC field zeroed), then scan the partition entry array
// for the first Microsoft Basic Data GUID entry.
func ResolveGPTPartition(dev blockdev.Device, sectorSize uint16) (volBase uint64, err error) {
	header := make([]byte, sectorSize)
	if err := dev.Read(header, 1, 1); err != nil {
		return 0, errors.KindDiskErr.WrapError(err)
	}
	if len(header) < 92 || string(header[0:8]) != gptHeaderLeadSig {
		return 0, errors.KindNoFilesystem.WithMessage("GPT header signature mismatch")
	}
	if le32(header[8:12]) != 0x00010000 {
		return 0, errors.KindNoFilesystem.WithMessage("unsupported GPT header revision")
	}
	if le32(header[12:16]) != 92 {
		return 0, errors.KindNoFilesystem.WithMessage("unexpected GPT header length")
	}

	storedCRC := le32(header[16:20])
	headerLen := le32(header[12:16])
	scratch := make([]byte, headerLen)
	copy(scratch, header[:headerLen])
	putLE32(scratch[16:20], 0)
	if crc32.ChecksumIEEE(scratch) != storedCRC {
		return 0, errors.KindNoFilesystem.WithMessage("GPT header CRC32 mismatch")
	}

	pteArrayLBA := le64(header[72:80])
	pteCount := le32(header[80:84])
	pteSize := le32(header[84:88])
	if pteSize != 128 {
		return 0, errors.KindNoFilesystem.WithMessage("unexpected GPT partition entry size")
	}

	entriesPerSector := uint32(sectorSize) / pteSize
	sectorsNeeded := (pteCount + entriesPerSector - 1) / entriesPerSector

	buf := make([]byte, sectorSize)
	for s := uint32(0); s < sectorsNeeded; s++ {
		if err := dev.Read(buf, pteArrayLBA+uint64(s), 1); err != nil {
			return 0, errors.KindDiskErr.WrapError(err)
		}
		for i := uint32(0); i < entriesPerSector; i++ {
			idx := s*entriesPerSector + i
			if idx >= pteCount {
				break
			}
			off := i * pteSize
			entry := buf[off : off+pteSize]
			var typeGUID [16]byte
			copy(typeGUID[:], entry[0:16])
			if typeGUID == basicDataGUID {
				return le64(entry[32:40]), nil
			}
		}
	}
	return 0, errors.KindNoFilesystem.WithMessage("no Microsoft Basic Data partition found in GPT")
}

func le64(b []byte) uint64 {
	return uint64(le32(b[0:4])) | uint64(le32(b[4:8]))<<32
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
