package dirent

import (
	"strconv"
	"strings"

	"github.com/kvemit/fatfs/codepage"
	"github.com/kvemit/fatfs/errors"
)

// disallowedSFNChars are stripped while forming an 8.3 basis: the
// path-segment reject list of package pathresolve plus '.', since a dot
// cannot be stored inside an 8.3 body or extension; space and control
// characters are stripped as well.
const disallowedSFNChars = "+.,;=[]\"*:<>?|\x7f"

func isDisallowed(r rune) bool {
	if r < 0x20 || r == ' ' {
		return true
	}
	return strings.ContainsRune(disallowedSFNChars, r)
}

// Basis is the uppercased, stripped 8.3 candidate formed from a long name
// before numeric-tail disambiguation, plus whether forming it lost
// information (spec.md section 4.4: "lossy (lost characters, lower-case
// body that cannot be stored, or length > 8.3)"). Upper-casing alone does not
// make a basis lossy: "inner.txt" forms INNER.TXT with no numeric tail, and
// the original spelling is kept in the LFN entries.
type Basis struct {
	Body  string // up to 8 characters, uppercase, no padding
	Ext   string // up to 3 characters, uppercase, no padding
	Lossy bool
}

// FormBasis derives the 8.3 basis from a long name, per spec.md section
// 4.4's "strip disallowed characters and uppercase" rule. Equivalent to
// FormBasisCP(name, nil): case-folding is ASCII-only, matching the original
// behavior this function had before OEM codepage support was wired in.
func FormBasis(name string) Basis {
	return FormBasisCP(name, nil)
}

// FormBasisCP is FormBasis, but upper-casing non-ASCII runes through codec's
// OEM codepage (spec.md section 4.9's "uppercase using the codepage's
// wtoupper table") when codec is non-nil, instead of leaving them untouched.
func FormBasisCP(name string, codec *codepage.Codec) Basis {
	body, ext, found := strings.Cut(name, ".")
	if !found {
		body, ext = name, ""
	} else if idx := strings.LastIndex(ext, "."); idx >= 0 {
		// "a.b.c" -> body "a.b", ext "c": re-split on the *last* dot.
		body = body + "." + ext[:idx]
		ext = ext[idx+1:]
	}

	lossy := false
	clean := func(s string, maxLen int) string {
		var b strings.Builder
		for _, r := range s {
			if isDisallowed(r) {
				lossy = true
				continue
			}
			b.WriteRune(toUpperRune(r, codec))
		}
		out := b.String()
		if len(out) > maxLen {
			lossy = true
			out = out[:maxLen]
		}
		return out
	}

	cleanBody := clean(body, 8)
	cleanExt := clean(ext, 3)
	if cleanBody == "" {
		cleanBody = "_"
	}
	if len(body) > 8 || len(ext) > 3 {
		lossy = true
	}

	return Basis{Body: cleanBody, Ext: cleanExt, Lossy: lossy}
}

func toUpperRune(r rune, codec *codepage.Codec) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	if r < 0x80 || codec == nil {
		return r
	}
	encoded, err := codec.Encode(string(r))
	if err != nil {
		return r
	}
	upper, err := codec.ToUpper(encoded)
	if err != nil {
		return r
	}
	decoded, err := codec.Decode(upper)
	if err != nil || decoded == "" {
		return r
	}
	return []rune(decoded)[0]
}

// ExistsFunc reports whether the 11-byte padded SFN is already in use in
// the target directory.
type ExistsFunc func(sfn [11]byte) (bool, error)

// pad11 packs body/ext (already <= 8/3 chars, uppercase) into the 11-byte
// fixed-width field, space-padded.
func pad11(body, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], body)
	copy(out[8:11], ext)
	return out
}

// ResolveNumericTail appends "~n" to the basis body until exists reports no
// collision, per spec.md section 4.4. The tail overwrites the end of the
// 8-byte body: the basis REPORTS.202 (from "Reports.2024") becomes
// REPORT~1.202, or REPORT~2.202 if REPORT~1.202 already exists. n ranges
// 1..999999.
func ResolveNumericTail(basis Basis, exists ExistsFunc) ([11]byte, error) {
	if !basis.Lossy {
		candidate := pad11(basis.Body, basis.Ext)
		collide, err := exists(candidate)
		if err != nil {
			return [11]byte{}, err
		}
		if !collide {
			return candidate, nil
		}
	}

	for n := 1; n <= 999999; n++ {
		suffix := "~" + strconv.Itoa(n)
		bodyLen := 8 - len(suffix)
		if bodyLen < 1 {
			break
		}
		body := basis.Body
		if len(body) > bodyLen {
			body = body[:bodyLen]
		}
		candidate := pad11(body+suffix, basis.Ext)
		collide, err := exists(candidate)
		if err != nil {
			return [11]byte{}, err
		}
		if !collide {
			return candidate, nil
		}
	}

	return [11]byte{}, errors.KindExist.WithMessage("exhausted numeric-tail candidates for short name")
}

// MaskE5 re-applies the sanctioned 0x05 substitution before writing, the
// inverse of unmaskE5.
func MaskE5(name [11]byte) [11]byte {
	if name[0] == 0xE5 {
		name[0] = 0x05
	}
	return name
}
