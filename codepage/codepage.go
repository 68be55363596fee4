// Package codepage implements spec.md section 4.9: translation between the
// OEM codepage bytes stored in short directory entries and the API's string
// encoding, plus the always-UCS-2LE encoding used on-disk for long filename
// fragments. Lead-byte (DBCS) detection is delegated to golang.org/x/text's
// CJK encoders/decoders rather than hand-rolled range tables, since the pack
// (soypat-fat) already depends on golang.org/x/text for exactly this family
// of concerns.
package codepage

import (
	"unicode"
	"unicode/utf16"

	"github.com/kvemit/fatfs/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// ID identifies an OEM codepage, matching the CPnnn configuration options in
// spec.md section 6.
type ID int

const (
	CP437 ID = 437
	CP720 ID = 720
	CP737 ID = 737
	CP775 ID = 775
	CP850 ID = 850
	CP852 ID = 852
	CP855 ID = 855
	CP857 ID = 857
	CP860 ID = 860
	CP861 ID = 861
	CP862 ID = 862
	CP863 ID = 863
	CP864 ID = 864
	CP865 ID = 865
	CP866 ID = 866
	CP869 ID = 869
	CP932 ID = 932 // Shift-JIS, DBCS
	CP936 ID = 936 // GBK, DBCS
	CP949 ID = 949 // EUC-KR, DBCS
	CP950 ID = 950 // Big5, DBCS
)

var singleByteTables = map[ID]*charmap.Charmap{
	CP437: charmap.CodePage437,
	CP850: charmap.CodePage850,
	CP852: charmap.CodePage852,
	CP855: charmap.CodePage855,
	CP860: charmap.CodePage860,
	CP862: charmap.CodePage862,
	CP863: charmap.CodePage863,
	CP865: charmap.CodePage865,
	CP866: charmap.CodePage866,
}

var doubleByteTables = map[ID]encoding.Encoding{
	CP932: japanese.ShiftJIS,
	CP936: simplifiedchinese.GBK,
	CP949: korean.EUCKR,
	CP950: traditionalchinese.Big5,
}

// Codec translates between OEM-codepage bytes (as stored in 8.3 short
// entries) and Unicode, and performs the codepage's upper-case folding used
// when forming short names (spec.md section 4.4 "SFN formation").
type Codec struct {
	id  ID
	enc encoding.Encoding
	dbc bool
}

// New returns the Codec for id, or an error if id isn't one of the linked-in
// tables (mirrors spec.md's "CP437...CP950: OEM codepage tables linked in"
// compile-time option -- here it's a runtime registry instead).
func New(id ID) (*Codec, error) {
	if sb, ok := singleByteTables[id]; ok {
		return &Codec{id: id, enc: sb}, nil
	}
	if db, ok := doubleByteTables[id]; ok {
		return &Codec{id: id, enc: db, dbc: true}, nil
	}
	return nil, errors.KindInvalidParameter.WithMessage("unsupported OEM codepage")
}

// ID returns the codepage identifier this Codec was built for.
func (c *Codec) ID() ID { return c.id }

// IsDBCS reports whether this codepage has lead bytes for two-byte
// sequences (CJK codepages).
func (c *Codec) IsDBCS() bool { return c.dbc }

// Decode converts OEM-codepage bytes into a UTF-8 string.
func (c *Codec) Decode(oem []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(oem)
	if err != nil {
		return "", errors.KindInvalidName.WrapError(err)
	}
	return string(out), nil
}

// Encode converts a UTF-8 string into OEM-codepage bytes. Characters that
// cannot be represented in the codepage cause KindInvalidName, matching
// spec.md section 4.9's "values outside the codepage... cause INVALID_NAME".
func (c *Codec) Encode(s string) ([]byte, error) {
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.KindInvalidName.WrapError(err)
	}
	return out, nil
}

// ToUpper folds a single OEM-encoded byte sequence (one rune's worth: one
// byte for SBCS, the lead+trail pair for DBCS) to upper case, round-tripping
// through Unicode the way ChaN's extended wtoupper table does. Used when
// forming an 8.3 basis from a long name (spec.md section 4.4).
func (c *Codec) ToUpper(oem []byte) ([]byte, error) {
	s, err := c.Decode(oem)
	if err != nil {
		return nil, err
	}
	upper := []rune(s)
	for i, r := range upper {
		upper[i] = toUpperRune(r)
	}
	return c.Encode(string(upper))
}

func toUpperRune(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	// Delegate the rest of the Unicode case-folding surface (Latin-1
	// supplement and beyond) to the standard library; ASCII is special
	// cased above only because it's the hot path for 8.3 names.
	return unicode.ToUpper(r)
}

// UCS2 is the on-disk encoding for LFN fragments: always little-endian
// UCS-2, independent of the API/OEM encoding (spec.md section 4.9).
type UCS2 struct{}

// Decode converts a sequence of UCS-2LE code units into a UTF-8 string,
// stopping at the first 0x0000 terminator if present. A rune outside the
// Basic Multilingual Plane cannot be represented in UCS-2; UCS2.Encode
// rejects such runes itself rather than leaving that to its callers.
func (UCS2) Decode(units []uint16) string {
	runes := make([]uint16, 0, len(units))
	for _, u := range units {
		if u == 0x0000 {
			break
		}
		runes = append(runes, u)
	}
	return string(utf16.Decode(runes))
}

// Encode converts a UTF-8 string into UCS-2LE code units. Returns
// errors.KindInvalidName if the string contains a rune outside the BMP
// (surrogate pairs are not representable as single UCS-2 units).
func (UCS2) Encode(s string) ([]uint16, error) {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if r > 0xFFFF {
			return nil, errors.KindInvalidName.WithMessage(
				"character outside the Basic Multilingual Plane cannot be stored in an LFN entry")
		}
		units = append(units, uint16(r))
	}
	return units, nil
}
