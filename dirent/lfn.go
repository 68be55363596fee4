package dirent

import (
	"github.com/kvemit/fatfs/codepage"
	"github.com/kvemit/fatfs/errors"
)

// LFNOrderLast marks the first fragment written (highest order number), per
// spec.md section 4.4: "order byte (low-6 = index 1..20, bit 6 = last)".
const LFNOrderLast = 0x40

// lfnUnitsPerFragment is 5 + 6 + 2 = 13 UCS-2 code units per fragment,
// spec.md section 6: "NAME1[5 UCS]@1 ... NAME2[6 UCS]@14 ... NAME3[2 UCS]@28".
const lfnUnitsPerFragment = 13

// LFNFragment is one decoded 32-byte LFN directory entry.
type LFNFragment struct {
	Order    uint8
	Units    [13]uint16
	Checksum uint8
}

// Last reports whether this is the first fragment written (bit 6 set).
func (f LFNFragment) Last() bool { return f.Order&LFNOrderLast != 0 }

// Index is the fragment's 1-based sequence number, masking off the "last"
// bit.
func (f LFNFragment) Index() uint8 { return f.Order &^ LFNOrderLast }

// DecodeLFNFragment parses a raw 32-byte LFN slot.
func DecodeLFNFragment(buf []byte) LFNFragment {
	var f LFNFragment
	f.Order = buf[0]
	f.Checksum = buf[13]

	idx := 0
	for i := 0; i < 5; i++ {
		f.Units[idx] = le16(buf[1+i*2 : 3+i*2])
		idx++
	}
	for i := 0; i < 6; i++ {
		f.Units[idx] = le16(buf[14+i*2 : 16+i*2])
		idx++
	}
	for i := 0; i < 2; i++ {
		f.Units[idx] = le16(buf[28+i*2 : 30+i*2])
		idx++
	}
	return f
}

// Encode writes the fragment back into a 32-byte raw slot.
func (f LFNFragment) Encode(buf []byte) {
	buf[0] = f.Order
	buf[11] = AttrLongName
	buf[12] = 0
	buf[13] = f.Checksum
	putLE16(buf[26:28], 0) // MBZ cluster field

	idx := 0
	for i := 0; i < 5; i++ {
		putLE16(buf[1+i*2:3+i*2], f.Units[idx])
		idx++
	}
	for i := 0; i < 6; i++ {
		putLE16(buf[14+i*2:16+i*2], f.Units[idx])
		idx++
	}
	for i := 0; i < 2; i++ {
		putLE16(buf[28+i*2:30+i*2], f.Units[idx])
		idx++
	}
}

// BuildLFNFragments splits name into the 32-byte LFN fragments needed to
// store it, in on-disk write order (highest order number first, with the
// LFNOrderLast bit set on that first fragment), matching spec.md section
// 8's example: "3 LFN entries (order 0x43, 0x02, 0x01)". The final
// fragment is padded with a 0x0000 terminator followed by 0xFFFF filler, per
// the VFAT convention the original source follows. Encoding always uses
// UCS-2LE (spec.md section 4.9), independent of the volume's OEM codepage,
// so a name containing a rune outside the Basic Multilingual Plane reports
// KindInvalidName rather than silently splitting it into a surrogate pair.
func BuildLFNFragments(name string, checksum uint8) ([]LFNFragment, error) {
	units, err := codepage.UCS2{}.Encode(name)
	if err != nil {
		return nil, err
	}

	count := (len(units) + lfnUnitsPerFragment - 1) / lfnUnitsPerFragment
	if count == 0 {
		count = 1
	}
	fragments := make([]LFNFragment, count)

	for i := 0; i < count; i++ {
		var chunk [13]uint16
		for j := 0; j < 13; j++ {
			chunk[j] = 0xFFFF
		}
		start := i * lfnUnitsPerFragment
		end := start + lfnUnitsPerFragment
		if end > len(units) {
			end = len(units)
		}
		n := copy(chunk[:], units[start:end])
		if start+n < len(units) {
			// full chunk, more units follow
		} else if n < lfnUnitsPerFragment {
			chunk[n] = 0x0000 // NUL terminator right after the name's last unit
		}

		order := uint8(i + 1)
		if i == count-1 {
			order |= LFNOrderLast
		}
		// Write order highest-first: fragment i=count-1 (last char group) is
		// physically first on disk.
		fragments[count-1-i] = LFNFragment{Order: order, Units: chunk, Checksum: checksum}
	}
	return fragments, nil
}

// AssembleLFN reassembles a name from fragments collected while walking a
// directory in on-disk (reverse) order -- i.e. fragments[0] is the first one
// encountered, which carries the LFNOrderLast bit and the highest index.
// Verifies the last-bit placement, monotonically decreasing order numbers,
// and a consistent checksum across all fragments; the caller cross-checks
// the returned checksum against the SFN that follows (spec.md section 4.4).
func AssembleLFN(fragments []LFNFragment) (name string, checksum uint8, err error) {
	if len(fragments) == 0 {
		return "", 0, errors.KindIntErr.WithMessage("no LFN fragments to assemble")
	}
	if !fragments[0].Last() {
		return "", 0, errors.KindIntErr.WithMessage("first LFN fragment encountered lacks the last-entry bit")
	}

	expectedIndex := fragments[0].Index()
	checksum = fragments[0].Checksum
	var units []uint16

	for _, f := range fragments {
		if f.Index() != expectedIndex {
			return "", 0, errors.KindIntErr.WithMessage("LFN fragment order numbers are not monotonically decreasing")
		}
		if f.Checksum != checksum {
			return "", 0, errors.KindIntErr.WithMessage("LFN fragments carry inconsistent checksums")
		}
		units = append(units, f.Units[:]...)
		expectedIndex--
	}

	// Reverse: fragments arrived highest-index-first, so concatenation above
	// is also highest-first. The name reads low-to-high index, so reverse
	// the 13-unit blocks.
	ordered := make([]uint16, 0, len(units))
	for i := len(fragments) - 1; i >= 0; i-- {
		start := i * lfnUnitsPerFragment
		ordered = append(ordered, units[start:start+lfnUnitsPerFragment]...)
	}

	// codepage.UCS2.Decode trims at the first NUL terminator itself.
	return codepage.UCS2{}.Decode(ordered), checksum, nil
}

// FragmentsNeeded returns ceil(len(name)/13), spec.md section 4.4's
// "k = ceil(name_len / 13) + 1" entry-allocation count minus the trailing
// SFN slot.
func FragmentsNeeded(name string) (int, error) {
	units, err := codepage.UCS2{}.Encode(name)
	if err != nil {
		return 0, err
	}
	n := (len(units) + lfnUnitsPerFragment - 1) / lfnUnitsPerFragment
	if n == 0 {
		n = 1
	}
	return n, nil
}
