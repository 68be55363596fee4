package dirent

import (
	"github.com/kvemit/fatfs/errors"
	"github.com/kvemit/fatfs/fat"
)

// Entry is a fully decoded directory entry: the SFN fields plus, if present,
// the reassembled long name. SlotStart/SlotEnd describe the half-open slot
// range (LFN fragments, if any, followed by the SFN) so callers can rewrite
// or free the whole group atomically.
type Entry struct {
	Name         string // the LFN if one assembled cleanly, else the SFN
	ShortName    string
	Attr         uint8
	NTRes        uint8
	FirstCluster fat.ClusterID
	FileSize     uint32
	Created      uint64 // packed (date<<16)|time for round-tripping, tenths dropped
	Written      uint64
	LastAccess   uint16

	raw       RawEntry
	SlotStart int
	SlotEnd   int // exclusive; SlotEnd-1 is the SFN slot
}

// IsDirectory reports the directory attribute bit.
func (e Entry) IsDirectory() bool { return e.Attr&AttrDirectory != 0 }

// IsVolumeLabel reports the volume-ID attribute bit with no LFN, per
// spec.md section 4.4's label rule.
func (e Entry) IsVolumeLabel() bool { return e.Attr&AttrVolumeID != 0 }

// Reader walks a Directory assembling LFN+SFN groups into Entry values.
type Reader struct {
	dir *Directory
}

func NewReader(dir *Directory) *Reader { return &Reader{dir: dir} }

// Next scans forward from slot index `from`, returning the next live entry
// (skipping free slots and any LFN set that fails validation, per spec.md
// section 4.4: "On any mismatch ... only the SFN is exposed"). ok is false
// once end-of-directory is reached.
func (r *Reader) Next(from int) (entry Entry, nextIndex int, ok bool, err error) {
	var pending []LFNFragment
	groupStart := from
	idx := from

	for {
		raw, exists, err := r.dir.ReadRaw(idx)
		if err != nil {
			return Entry{}, 0, false, err
		}
		if !exists {
			return Entry{}, 0, false, nil
		}

		switch ClassifyRaw(raw[:]) {
		case KindEndOfDirectory:
			return Entry{}, 0, false, nil

		case KindFree:
			pending = pending[:0]
			groupStart = idx + 1
			idx++
			continue

		case KindLFNFragment:
			pending = append(pending, DecodeLFNFragment(raw[:]))
			idx++
			continue

		case KindShortEntry:
			e := DecodeRawEntry(raw[:])
			shortName, derr := DecodeShortNameCP(e, r.dir.Codec())
			if derr != nil {
				pending = pending[:0]
				groupStart = idx + 1
				idx++
				continue
			}

			entry = Entry{
				Name:         shortName,
				ShortName:    shortName,
				Attr:         e.Attr,
				NTRes:        e.NTRes,
				FirstCluster: e.FirstCluster(),
				FileSize:     e.FileSize,
				Created:      uint64(e.CreateDate)<<16 | uint64(e.CreateTime),
				Written:      uint64(e.WriteDate)<<16 | uint64(e.WriteTime),
				LastAccess:   e.LastAccessDate,
				raw:          e,
				SlotStart:    groupStart,
				SlotEnd:      idx + 1,
			}

			if len(pending) > 0 {
				if longName, checksum, lerr := AssembleLFN(pending); lerr == nil {
					if checksum == Checksum(unmaskE5(e.Name)) {
						entry.Name = longName
					}
				}
			}

			return entry, idx + 1, true, nil

		default:
			idx++
		}
	}
}

// Raw exposes the decoded SFN fields for rename/in-place edits.
func (e Entry) Raw() RawEntry { return e.raw }

// Allocator finds and reserves contiguous free slot runs for new entries.
type Allocator struct {
	dir *Directory
}

func NewAllocator(dir *Directory) *Allocator { return &Allocator{dir: dir} }

// Allocate scans for k consecutive free (free or end-of-directory) slots,
// extending the directory by zero-filled clusters as needed, per spec.md
// section 4.4's entry-allocation rule. It returns the index of the first
// reserved slot; the caller is responsible for writing real entries into
// [index, index+k).
func (a *Allocator) Allocate(k int) (int, error) {
	run := 0
	runStart := 0
	idx := 0

	for {
		raw, exists, err := a.dir.ReadRaw(idx)
		if err != nil {
			return 0, err
		}
		if !exists {
			if err := a.dir.Extend(); err != nil {
				return 0, err
			}
			continue
		}

		if raw[0] == 0x00 || raw[0] == 0xE5 {
			if run == 0 {
				runStart = idx
			}
			run++
			if run == k {
				return runStart, nil
			}
		} else {
			run = 0
		}
		idx++
	}
}

// WriteEntry writes an SFN (optionally preceded by LFN fragments) starting
// at slotStart, which must have been reserved by Allocate.
func WriteEntry(dir *Directory, slotStart int, lfn []LFNFragment, sfn RawEntry) error {
	idx := slotStart
	for _, frag := range lfn {
		var buf [Size]byte
		frag.Encode(buf[:])
		if err := dir.WriteRaw(idx, buf); err != nil {
			return err
		}
		idx++
	}
	var buf [Size]byte
	sfn.Encode(buf[:])
	if err := dir.WriteRaw(idx, buf); err != nil {
		return err
	}
	return nil
}

// FreeEntry marks every slot in [start, end) free, per spec.md section
// 4.4/4.6's delete path (sets the 0xE5 marker rather than zeroing, so later
// slots are not mistaken for end-of-directory).
func FreeEntry(dir *Directory, start, end int) error {
	for idx := start; idx < end; idx++ {
		raw, ok, err := dir.ReadRaw(idx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.KindIntErr.WithMessage("cannot free a slot past the directory's current length")
		}
		raw[0] = 0xE5
		if err := dir.WriteRaw(idx, raw); err != nil {
			return err
		}
	}
	return nil
}
