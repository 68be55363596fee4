// Package media supplements spec.md section 6's BPB "media" byte with a
// lookup table of the historical floppy/fixed-disk geometries that byte
// value originally encoded, in the style of the teacher's disks.DiskGeometry
// table (disks/disks.go) -- generalized from an internal, format-time-only
// map into a public lookup any layer (volume mount diagnostics, a CLI
// "media" subcommand) can use to label a recognized geometry.
package media

import (
	"fmt"
	"strings"

	_ "embed"

	"github.com/gocarina/gocsv"
)

//go:embed geometry-table.csv
var geometryCSV string

// Geometry describes one historically defined media-byte/geometry pairing.
type Geometry struct {
	MediaByte       string `csv:"media_byte"`
	Slug            string `csv:"slug"`
	Name            string `csv:"name"`
	FormFactor      string `csv:"form_factor"`
	CapacityKiB     uint   `csv:"capacity_kib"`
	SectorsPerTrack uint   `csv:"sectors_per_track"`
	Heads           uint   `csv:"heads"`
	Tracks          uint   `csv:"tracks"`
}

var (
	bySlug  = map[string]Geometry{}
	byMedia = map[byte][]Geometry{}
)

func init() {
	err := gocsv.UnmarshalToCallback(strings.NewReader(geometryCSV), func(row Geometry) error {
		if _, exists := bySlug[row.Slug]; exists {
			return fmt.Errorf("duplicate media geometry slug %q", row.Slug)
		}
		bySlug[row.Slug] = row

		mediaByte, perr := parseMediaByte(row.MediaByte)
		if perr != nil {
			return perr
		}
		byMedia[mediaByte] = append(byMedia[mediaByte], row)
		return nil
	})
	if err != nil {
		panic(err)
	}
}

func parseMediaByte(s string) (byte, error) {
	s = strings.TrimPrefix(s, "0x")
	var v uint64
	_, err := fmt.Sscanf(s, "%x", &v)
	return byte(v), err
}

// Lookup returns the predefined geometry for a slug such as "fd_1440".
func Lookup(slug string) (Geometry, bool) {
	g, ok := bySlug[slug]
	return g, ok
}

// ForMediaByte returns every known geometry historically associated with a
// BPB media byte value (several floppy form factors share 0xF0/0xF9).
func ForMediaByte(b byte) []Geometry {
	return byMedia[b]
}

// IsFixedDisk reports whether the BPB media byte denotes a partitioned
// fixed disk rather than a removable floppy, per spec.md section 6's media
// byte field ("0xF8: fixed disk").
func IsFixedDisk(b byte) bool { return b == 0xF8 }
