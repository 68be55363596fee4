package fatfs

import (
	"strings"
	"time"

	"github.com/kvemit/fatfs/codepage"
	"github.com/kvemit/fatfs/dirent"
	"github.com/kvemit/fatfs/errors"
)

// findEntry scans dir for an entry whose long or short name matches name
// case-insensitively, per FAT's own case-insensitive name comparison
// (spec.md section 4.4).
func findEntry(dir *dirent.Directory, name string) (dirent.Entry, error) {
	r := dirent.NewReader(dir)
	idx := 0
	for {
		entry, next, ok, err := r.Next(idx)
		if err != nil {
			return dirent.Entry{}, err
		}
		if !ok {
			return dirent.Entry{}, errors.KindNoFile.WithMessage("no such file or directory: " + name)
		}
		if strings.EqualFold(entry.Name, name) || strings.EqualFold(entry.ShortName, name) {
			return entry, nil
		}
		idx = next
	}
}

// existsFuncFor builds a dirent.ExistsFunc that checks a padded 11-byte
// candidate SFN against every short name currently in dir, for
// dirent.ResolveNumericTail.
func existsFuncFor(dir *dirent.Directory) dirent.ExistsFunc {
	return func(candidate [11]byte) (bool, error) {
		r := dirent.NewReader(dir)
		idx := 0
		for {
			entry, next, ok, err := r.Next(idx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			if entry.Raw().Name == candidate {
				return true, nil
			}
			idx = next
		}
	}
}

// isExactSFN reports whether name is already a faithful rendering of sfn's
// 11-byte body/extension, in which case no LFN fragments are needed to
// recover it.
func isExactSFN(name string, sfn [11]byte, codec *codepage.Codec) bool {
	body, ext := dirent.SplitSFNCP(sfn, codec)
	return dirent.JoinName(body, ext) == name
}

// createFileEntry allocates and writes a fresh directory entry (an SFN,
// preceded by LFN fragments if name isn't already a faithful 8.3 name),
// per spec.md section 4.4's entry-allocation rule. The entry starts with
// size 0 and no first cluster; callers fill those in afterward.
func createFileEntry(dir *dirent.Directory, name string, attr uint8, now func() time.Time) (dirent.Entry, error) {
	codec := dir.Codec()
	basis := dirent.FormBasisCP(name, codec)
	sfnBytes, err := dirent.ResolveNumericTail(basis, existsFuncFor(dir))
	if err != nil {
		return dirent.Entry{}, err
	}
	sfnBytes = dirent.MaskE5(sfnBytes)

	var frags []dirent.LFNFragment
	checksum := dirent.Checksum(sfnBytes)
	if !isExactSFN(name, sfnBytes, codec) {
		frags, err = dirent.BuildLFNFragments(name, checksum)
		if err != nil {
			return dirent.Entry{}, err
		}
		if want, nerr := dirent.FragmentsNeeded(name); nerr == nil && len(frags) != want {
			return dirent.Entry{}, errors.KindIntErr.WithMessage("LFN fragment count mismatch")
		}
	}

	total := len(frags) + 1
	allocator := dirent.NewAllocator(dir)
	slotStart, err := allocator.Allocate(total)
	if err != nil {
		return dirent.Entry{}, err
	}

	cTime, cTenths := dirent.ToFATTime(now())
	cDate := dirent.ToFATDate(now())

	raw := dirent.RawEntry{
		Name:            sfnBytes,
		Attr:            attr,
		CreateTime:      cTime,
		CreateTimeTenth: cTenths,
		CreateDate:      cDate,
		WriteTime:       cTime,
		WriteDate:       cDate,
		LastAccessDate:  cDate,
	}

	if err := dirent.WriteEntry(dir, slotStart, frags, raw); err != nil {
		return dirent.Entry{}, err
	}

	body, ext := dirent.SplitSFNCP(sfnBytes, codec)
	body, ext = dirent.ApplyCase(body, ext, raw.NTRes)

	return dirent.Entry{
		Name:      name,
		ShortName: dirent.JoinName(body, ext),
		Attr:      raw.Attr,
		SlotStart: slotStart,
		SlotEnd:   slotStart + total,
	}, nil
}

// directoryIsEmpty reports whether dir holds nothing but "." and "..".
func directoryIsEmpty(dir *dirent.Directory) (bool, error) {
	r := dirent.NewReader(dir)
	idx := 0
	for {
		entry, next, ok, err := r.Next(idx)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if entry.ShortName != "." && entry.ShortName != ".." {
			return false, nil
		}
		idx = next
	}
}
