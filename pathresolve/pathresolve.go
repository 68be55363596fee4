// Package pathresolve implements spec.md section 4.5: drive-letter-prefixed
// path parsing, segment splitting/validation, and CWD tracking. Grounded on
// the teacher's drivers/common/basedriver/driver.go normalizePath (POSIX
// Clean + Join against a tracked working directory), generalized from pure
// POSIX paths to FAT's "drive:body" grammar.
package pathresolve

import (
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/kvemit/fatfs/errors"
)

// disallowedChars is the path-segment reject list: control characters
// (handled separately) plus "+,;=[]\"*:<>?|\x7F". A dot is allowed, since it
// separates a name from its extension ("hello.txt"); the "." and ".."
// segments are handled by Parse before validation.
const disallowedChars = "+,;=[]\"*:<>?|\x7f"

// Path is a parsed absolute path: a drive number and an ordered list of
// segments (empty for the drive's root).
type Path struct {
	Drive    int
	Segments []string
}

// String reassembles a Path into its canonical "drive:/a/b/c" form.
func (p Path) String() string {
	return strconv.Itoa(p.Drive) + ":/" + strings.Join(p.Segments, "/")
}

// validateSegment applies spec.md section 4.5's rules: reject control
// characters or any of the disallowed punctuation, but tolerate (and strip)
// leading/trailing whitespace.
func validateSegment(raw string) (string, error) {
	seg := strings.TrimSpace(raw)
	if seg == "" {
		return "", errors.KindInvalidName.WithMessage("empty path segment")
	}
	for _, r := range seg {
		if r < 0x20 || r == 0x7f {
			return "", errors.KindInvalidName.WithMessage("path segment contains a control character")
		}
		if strings.ContainsRune(disallowedChars, r) {
			return "", errors.KindInvalidName.WithMessage("path segment contains a disallowed character")
		}
	}
	return seg, nil
}

// splitBody splits the portion of a path after the optional drive prefix on
// either '/' or '\\', per spec.md section 4.5.
func splitBody(body string) []string {
	return strings.FieldsFunc(body, func(r rune) bool { return r == '/' || r == '\\' })
}

// Parse parses a raw path string against the given default drive and
// current working directory segments (used when the path is relative).
// Absolute paths take the form "N:/a/b"; anything else is resolved relative
// to cwd on defaultDrive.
func Parse(raw string, defaultDrive int, cwd []string) (Path, error) {
	drive := defaultDrive
	body := raw

	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		n, err := strconv.Atoi(raw[:idx])
		if err != nil {
			return Path{}, errors.KindInvalidDrive.WithMessage("drive prefix is not a number")
		}
		drive = n
		body = raw[idx+1:]
	}

	isAbsolute := strings.HasPrefix(body, "/") || strings.HasPrefix(body, "\\")

	rawSegments := splitBody(body)
	var resolved []string
	if !isAbsolute {
		resolved = append(resolved, cwd...)
	}

	for _, s := range rawSegments {
		switch s {
		case ".":
			continue
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
			continue
		}
		clean, err := validateSegment(s)
		if err != nil {
			return Path{}, err
		}
		resolved = append(resolved, clean)
	}

	return Path{Drive: drive, Segments: resolved}, nil
}

// Parent returns the path's containing directory and its final segment
// (the "leaf" name), or ok=false if the path is already a root.
func (p Path) Parent() (parent Path, leaf string, ok bool) {
	if len(p.Segments) == 0 {
		return Path{}, "", false
	}
	leaf = p.Segments[len(p.Segments)-1]
	parent = Path{Drive: p.Drive, Segments: slices.Clone(p.Segments[:len(p.Segments)-1])}
	return parent, leaf, true
}

// IsRoot reports whether the path refers to the drive's root directory.
func (p Path) IsRoot() bool { return len(p.Segments) == 0 }

// CWD tracks a volume's current working directory as a segment list, per
// spec.md section 4.5.
type CWD struct {
	drive    int
	segments []string
}

// NewCWD creates a CWD rooted at the given drive.
func NewCWD(drive int) *CWD { return &CWD{drive: drive} }

// Segments returns the CWD's current segment list.
func (c *CWD) Segments() []string { return slices.Clone(c.segments) }

// Drive returns the CWD's drive number.
func (c *CWD) Drive() int { return c.drive }

// Chdir replaces the CWD with the resolution of raw (which may be relative
// to the current CWD).
func (c *CWD) Chdir(raw string) error {
	p, err := Parse(raw, c.drive, c.segments)
	if err != nil {
		return err
	}
	c.drive = p.Drive
	c.segments = p.Segments
	return nil
}

// Getwd renders the CWD back into its canonical string form.
func (c *CWD) Getwd() string {
	return Path{Drive: c.drive, Segments: c.segments}.String()
}
