// Package dirent implements spec.md section 4.4: the directory engine's raw
// entry codec -- the 32-byte SFN/LFN on-disk layout, timestamp packing, and
// the LFN checksum. Grounded on the teacher's drivers/fat/dirent.go
// (NewRawDirentFromBytes / NewDirentFromRaw / DateFromInt /
// TimestampFromParts), generalized to also support LFN and entry writing,
// which the teacher's read-only driver never did.
package dirent

import (
	"strings"
	"time"

	"github.com/kvemit/fatfs/codepage"
	"github.com/kvemit/fatfs/errors"
	"github.com/kvemit/fatfs/fat"
)

// Size is the fixed length of one directory entry, per spec.md section 3.
const Size = 32

// Attribute bits, per spec.md section 3.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// NTres lower-case hint bits (the "NT byte"): base name and extension may
// independently be flagged all-lowercase.
const (
	NTresBodyLower = 0x08
	NTresExtLower  = 0x10
)

// RawEntry is the 32-byte on-disk layout of an SFN directory entry, per
// spec.md section 6 ("Directory entry").
type RawEntry struct {
	Name             [11]byte
	Attr             uint8
	NTRes            uint8
	CreateTimeTenth  uint8
	CreateTime       uint16
	CreateDate       uint16
	LastAccessDate   uint16
	FirstClusterHigh uint16
	WriteTime        uint16
	WriteDate        uint16
	FirstClusterLow  uint16
	FileSize         uint32
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// DecodeRawEntry parses a 32-byte buffer into a RawEntry.
func DecodeRawEntry(buf []byte) RawEntry {
	var e RawEntry
	copy(e.Name[:], buf[0:11])
	e.Attr = buf[11]
	e.NTRes = buf[12]
	e.CreateTimeTenth = buf[13]
	e.CreateTime = le16(buf[14:16])
	e.CreateDate = le16(buf[16:18])
	e.LastAccessDate = le16(buf[18:20])
	e.FirstClusterHigh = le16(buf[20:22])
	e.WriteTime = le16(buf[22:24])
	e.WriteDate = le16(buf[24:26])
	e.FirstClusterLow = le16(buf[26:28])
	e.FileSize = le32(buf[28:32])
	return e
}

// Encode serializes the entry back into a 32-byte buffer.
func (e RawEntry) Encode(buf []byte) {
	copy(buf[0:11], e.Name[:])
	buf[11] = e.Attr
	buf[12] = e.NTRes
	buf[13] = e.CreateTimeTenth
	putLE16(buf[14:16], e.CreateTime)
	putLE16(buf[16:18], e.CreateDate)
	putLE16(buf[18:20], e.LastAccessDate)
	putLE16(buf[20:22], e.FirstClusterHigh)
	putLE16(buf[22:24], e.WriteTime)
	putLE16(buf[24:26], e.WriteDate)
	putLE16(buf[26:28], e.FirstClusterLow)
	putLE32(buf[28:32], e.FileSize)
}

// Kind classifies what a raw 32-byte slot currently holds, per spec.md
// section 4.4's "ATTR == 0x0F: LFN fragment / 0x00: free, end of directory /
// 0xE5: free, not end / otherwise: SFN".
type Kind int

const (
	KindEndOfDirectory Kind = iota
	KindFree
	KindLFNFragment
	KindShortEntry
)

func ClassifyRaw(buf []byte) Kind {
	switch buf[0] {
	case 0x00:
		return KindEndOfDirectory
	case 0xE5:
		return KindFree
	}
	if buf[11] == AttrLongName {
		return KindLFNFragment
	}
	return KindShortEntry
}

// FirstCluster reassembles the 32-bit start cluster from its two halves.
func (e RawEntry) FirstCluster() fat.ClusterID {
	return fat.ClusterID(uint32(e.FirstClusterHigh)<<16 | uint32(e.FirstClusterLow))
}

// SetFirstCluster splits a cluster number across the high/low halves.
func (e *RawEntry) SetFirstCluster(c fat.ClusterID) {
	e.FirstClusterHigh = uint16(uint32(c) >> 16)
	e.FirstClusterLow = uint16(uint32(c))
}

// DateFromFAT converts a packed FAT date into a time.Time (year/month/day
// only), per spec.md section 6's field layout and the teacher's
// DateFromInt.
func DateFromFAT(value uint16) time.Time {
	day := int(value & 0x1f)
	month := time.Month((value >> 5) & 0x0f)
	year := 1980 + int(value>>9)
	if day == 0 {
		day = 1
	}
	if month == 0 {
		month = time.January
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ToFATDate packs a time.Time into the 16-bit FAT date field.
func ToFATDate(t time.Time) uint16 {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	return uint16(year<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
}

// TimeFromFAT combines a packed FAT date/time/tenths triple into a
// time.Time, per the teacher's TimestampFromParts.
func TimeFromFAT(date, timePart uint16, tenths uint8) time.Time {
	base := DateFromFAT(date)
	seconds := int(timePart&0x1f) * 2
	nanos := 0
	if tenths > 0 {
		nanos = (int(tenths) % 100) * 10 * int(time.Millisecond)
		seconds += int(tenths) / 100
	}
	minutes := int((timePart >> 5) & 0x3f)
	hours := int(timePart >> 11)
	return time.Date(base.Year(), base.Month(), base.Day(), hours, minutes, seconds, nanos, time.UTC)
}

// ToFATTime packs the time-of-day portion of t into the 16-bit FAT time
// field and the tenths-of-a-second byte.
func ToFATTime(t time.Time) (timePart uint16, tenths uint8) {
	timePart = uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(t.Second()/2)
	tenths = uint8((t.Second() % 2) * 100)
	return
}

// Checksum computes the LFN checksum of an 11-byte SFN, per spec.md section
// 4.4: "ck = ((ck<<7)|(ck>>1)) + byte over the 11 SFN bytes".
func Checksum(sfn [11]byte) uint8 {
	var ck uint8
	for _, b := range sfn {
		ck = ((ck << 7) | (ck >> 1)) + b
	}
	return ck
}

// unmaskE5 undoes the sanctioned 0x05-for-0xE5 substitution in the first
// name byte (spec.md section 4.4: "the only sanctioned collision with the
// deleted marker").
func unmaskE5(name [11]byte) [11]byte {
	if name[0] == 0x05 {
		name[0] = 0xE5
	}
	return name
}

// ApplyCase lowercases the body and/or extension of an SFN string according
// to the NTres hint bits, per spec.md section 4.4.
func ApplyCase(body, ext string, ntres uint8) (string, string) {
	if ntres&NTresBodyLower != 0 {
		body = strings.ToLower(body)
	}
	if ntres&NTresExtLower != 0 {
		ext = strings.ToLower(ext)
	}
	return body, ext
}

// SplitSFN trims an 11-byte SFN into its body/extension parts, applying the
// 0x05/0xE5 unmask first. Equivalent to SplitSFNCP(raw, nil): the raw bytes
// are copied into the strings unchanged.
func SplitSFN(raw [11]byte) (body, ext string) {
	return SplitSFNCP(raw, nil)
}

// SplitSFNCP is SplitSFN, but decoding the raw body/extension bytes through
// codec's OEM codepage (spec.md section 4.9) when codec is non-nil, instead
// of copying them into the strings unchanged.
func SplitSFNCP(raw [11]byte, codec *codepage.Codec) (body, ext string) {
	raw = unmaskE5(raw)
	bodyBytes := trimTrailingSpaceBytes(raw[0:8])
	extBytes := trimTrailingSpaceBytes(raw[8:11])
	if codec != nil {
		if decoded, err := codec.Decode(bodyBytes); err == nil {
			return decoded, decodeExt(extBytes, codec)
		}
	}
	return string(bodyBytes), string(extBytes)
}

func decodeExt(extBytes []byte, codec *codepage.Codec) string {
	if decoded, err := codec.Decode(extBytes); err == nil {
		return decoded
	}
	return string(extBytes)
}

func trimTrailingSpaceBytes(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return b[:end]
}

// JoinName combines a decoded body/extension pair into a displayable name.
func JoinName(body, ext string) string {
	if ext == "" {
		return body
	}
	return body + "." + ext
}

var errFreeSlot = errors.KindNoFile.WithMessage("directory slot is free")

// DecodeShortName returns the display name and validity of a short entry,
// surfacing errFreeSlot if the slot turns out to be free (attribute-only
// scans may not have checked ClassifyRaw first). Equivalent to
// DecodeShortNameCP(e, nil): SFN bytes are copied into the name unchanged.
func DecodeShortName(e RawEntry) (string, error) {
	return DecodeShortNameCP(e, nil)
}

// DecodeShortNameCP is DecodeShortName, but decoding the raw SFN bytes
// through codec's OEM codepage (spec.md section 4.9) when codec is non-nil,
// instead of copying them into the name unchanged.
func DecodeShortNameCP(e RawEntry, codec *codepage.Codec) (string, error) {
	if e.Name[0] == 0x00 || e.Name[0] == 0xE5 {
		return "", errFreeSlot
	}
	body, ext := SplitSFNCP(e.Name, codec)
	body, ext = ApplyCase(body, ext, e.NTRes)
	return JoinName(body, ext), nil
}
