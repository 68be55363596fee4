package fatfs

import (
	stderrors "errors"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/kvemit/fatfs/dirent"
	"github.com/kvemit/fatfs/errors"
	"github.com/kvemit/fatfs/lock"
)

// Dir is an open directory iterator, per spec.md section 3: an Object plus
// a reader cursor.
type Dir struct {
	fs     *FS
	dir    *dirent.Directory
	reader *dirent.Reader
	cursor int
}

// OpenDir resolves path and returns an iterator over its entries.
func (fs *FS) OpenDir(path string) (*Dir, error) {
	if err := fs.lock(); err != nil {
		return nil, err
	}
	defer fs.unlock()

	p, err := fs.parsePath(path)
	if err != nil {
		return nil, err
	}
	dir, err := fs.resolveDirPath(p.Segments)
	if err != nil {
		return nil, err
	}
	return &Dir{fs: fs, dir: dir, reader: dirent.NewReader(dir)}, nil
}

// ReadDir returns up to n entries (all remaining entries if n <= 0),
// skipping "." / ".." and the volume label. It returns io.EOF if n > 0 and
// no entries remain.
func (d *Dir) ReadDir(n int) ([]FileStat, error) {
	if err := d.fs.lock(); err != nil {
		return nil, err
	}
	defer d.fs.unlock()

	var out []FileStat
	for n <= 0 || len(out) < n {
		entry, next, ok, err := d.reader.Next(d.cursor)
		if err != nil {
			return out, err
		}
		if !ok {
			if n > 0 && len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		d.cursor = next
		if entry.ShortName == "." || entry.ShortName == ".." || entry.IsVolumeLabel() {
			continue
		}
		out = append(out, statFromEntry(entry))
	}
	return out, nil
}

// Rewind resets the iterator to the first entry.
func (d *Dir) Rewind() { d.cursor = 0 }

// Mkdir creates a new subdirectory at path, writing its "." and ".."
// entries, per spec.md section 4.4.
func (fs *FS) Mkdir(path string) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.unlock()

	p, err := fs.parsePath(path)
	if err != nil {
		return err
	}
	parent, leaf, ok := p.Parent()
	if !ok {
		return errors.KindDenied.WithMessage("cannot create the root directory")
	}
	dir, err := fs.resolveDirPath(parent.Segments)
	if err != nil {
		return err
	}
	if _, ferr := findEntry(dir, leaf); ferr == nil {
		return errors.KindExist.WithMessage("directory already exists")
	}

	entry, err := createFileEntry(dir, leaf, dirent.AttrDirectory, fs.now)
	if err != nil {
		return err
	}

	newCluster, err := fs.mounted.FAT.CreateNew()
	if err != nil {
		return err
	}

	raw, ok2, rerr := dir.ReadRaw(entry.SlotEnd - 1)
	if rerr != nil {
		return rerr
	}
	if !ok2 {
		return errors.KindIntErr.WithMessage("directory entry vanished")
	}
	re := dirent.DecodeRawEntry(raw[:])
	re.SetFirstCluster(newCluster)
	var buf [dirent.Size]byte
	re.Encode(buf[:])
	if err := dir.WriteRaw(entry.SlotEnd-1, buf); err != nil {
		return err
	}

	zero := make([]byte, fs.mounted.SectorSize)
	base := fs.mounted.DataBase + uint64(newCluster-2)*uint64(fs.mounted.BPB.SectorsPerCluster)
	for s := uint64(0); s < uint64(fs.mounted.BPB.SectorsPerCluster); s++ {
		if err := fs.mounted.Device.Write(zero, base+s, 1); err != nil {
			return errors.KindDiskErr.WrapError(err)
		}
	}

	parentCluster := dir.StartCluster()
	if len(parent.Segments) == 0 {
		parentCluster = 0
	}

	var dotName, dotdotName [11]byte
	for i := range dotName {
		dotName[i] = ' '
		dotdotName[i] = ' '
	}
	dotName[0] = '.'
	dotdotName[0], dotdotName[1] = '.', '.'

	now := fs.now()
	cTime, cTenths := dirent.ToFATTime(now)
	cDate := dirent.ToFATDate(now)

	dotRaw := dirent.RawEntry{Name: dotName, Attr: dirent.AttrDirectory, CreateTime: cTime, CreateTimeTenth: cTenths, CreateDate: cDate, WriteTime: cTime, WriteDate: cDate, LastAccessDate: cDate}
	dotRaw.SetFirstCluster(newCluster)
	dotdotRaw := dirent.RawEntry{Name: dotdotName, Attr: dirent.AttrDirectory, CreateTime: cTime, CreateTimeTenth: cTenths, CreateDate: cDate, WriteTime: cTime, WriteDate: cDate, LastAccessDate: cDate}
	dotdotRaw.SetFirstCluster(parentCluster)

	sub := fs.newChainDir(newCluster)
	dotRaw.Encode(buf[:])
	if err := sub.WriteRaw(0, buf); err != nil {
		return err
	}
	dotdotRaw.Encode(buf[:])
	return sub.WriteRaw(1, buf)
}

// Remove deletes the file or empty directory at path, freeing its cluster
// chain and marking its directory slots free, per spec.md section 4.4/4.6.
func (fs *FS) Remove(path string) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.unlock()

	p, err := fs.parsePath(path)
	if err != nil {
		return err
	}
	parent, leaf, ok := p.Parent()
	if !ok {
		return errors.KindDenied.WithMessage("cannot remove the root directory")
	}
	dir, err := fs.resolveDirPath(parent.Segments)
	if err != nil {
		return err
	}
	entry, err := findEntry(dir, leaf)
	if err != nil {
		return err
	}

	lockID := lock.ObjectID{
		Volume:    uintptr(fs.mounted.MountID),
		DirClst:   uint32(dir.StartCluster()),
		DirOffset: uint32(entry.SlotStart),
	}
	if err := fs.locks.Acquire(lockID, true); err != nil {
		return err
	}
	defer fs.locks.Release(lockID)

	if entry.IsDirectory() {
		sub := fs.newChainDir(entry.FirstCluster)
		empty, eerr := directoryIsEmpty(sub)
		if eerr != nil {
			return eerr
		}
		if !empty {
			return errors.KindDenied.WithMessage("directory is not empty")
		}
	}

	if entry.FirstCluster != 0 {
		if err := fs.mounted.FAT.Remove(entry.FirstCluster, 0); err != nil {
			return err
		}
	}
	return dirent.FreeEntry(dir, entry.SlotStart, entry.SlotEnd)
}

// RemoveAll removes path and, if it is a directory, every entry beneath it,
// aggregating per-child failures with go-multierror instead of stopping at
// the first one (matching the teacher's CommonDriver.removeDirectory shape,
// generalized to collect rather than abort). It is not an error if path
// doesn't exist.
func (fs *FS) RemoveAll(path string) error {
	st, err := fs.Stat(path)
	if err != nil {
		if stderrors.Is(err, errors.KindNoFile) || stderrors.Is(err, errors.KindNoPath) {
			return nil
		}
		return err
	}
	if !st.IsDir {
		return fs.Remove(path)
	}

	d, err := fs.OpenDir(path)
	if err != nil {
		return err
	}
	entries, err := d.ReadDir(0)
	if err != nil && err != io.EOF {
		return err
	}

	base := strings.TrimRight(path, "/")
	var result *multierror.Error
	for _, e := range entries {
		child := base + "/" + e.Name
		if e.IsDir {
			if rerr := fs.RemoveAll(child); rerr != nil {
				result = multierror.Append(result, rerr)
			}
		} else if rerr := fs.Remove(child); rerr != nil {
			result = multierror.Append(result, rerr)
		}
	}
	if result != nil {
		return errors.KindDenied.WrapError(result)
	}
	return fs.Remove(path)
}

// Rename moves the entry at oldPath to newPath, creating a fresh SFN/LFN
// entry for the new name while preserving the original's size, cluster
// chain, and creation time, and migrating any sharing-table lock.
func (fs *FS) Rename(oldPath, newPath string) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.unlock()

	op, err := fs.parsePath(oldPath)
	if err != nil {
		return err
	}
	np, err := fs.parsePath(newPath)
	if err != nil {
		return err
	}

	oldParent, oldLeaf, ok := op.Parent()
	if !ok {
		return errors.KindDenied.WithMessage("cannot rename the root directory")
	}
	newParent, newLeaf, ok2 := np.Parent()
	if !ok2 {
		return errors.KindDenied.WithMessage("cannot rename onto the root directory")
	}

	oldDir, err := fs.resolveDirPath(oldParent.Segments)
	if err != nil {
		return err
	}
	entry, err := findEntry(oldDir, oldLeaf)
	if err != nil {
		return err
	}

	newDir, err := fs.resolveDirPath(newParent.Segments)
	if err != nil {
		return err
	}
	if newDir.StartCluster() == oldDir.StartCluster() {
		// Same directory: use one Directory (and so one sector window) for
		// both entries, so freeing the old entry below cannot write back a
		// stale copy of the sector that now holds the new one.
		newDir = oldDir
	}
	if _, ferr := findEntry(newDir, newLeaf); ferr == nil {
		return errors.KindExist.WithMessage("rename destination already exists")
	}

	oldRaw := entry.Raw()
	newEntry, err := createFileEntry(newDir, newLeaf, oldRaw.Attr, fs.now)
	if err != nil {
		return err
	}

	updated, ok3, rerr := newDir.ReadRaw(newEntry.SlotEnd - 1)
	if rerr != nil {
		return rerr
	}
	if !ok3 {
		return errors.KindIntErr.WithMessage("directory entry vanished")
	}
	re := dirent.DecodeRawEntry(updated[:])
	re.FileSize = oldRaw.FileSize
	re.FirstClusterHigh = oldRaw.FirstClusterHigh
	re.FirstClusterLow = oldRaw.FirstClusterLow
	re.CreateTime = oldRaw.CreateTime
	re.CreateTimeTenth = oldRaw.CreateTimeTenth
	re.CreateDate = oldRaw.CreateDate
	var buf [dirent.Size]byte
	re.Encode(buf[:])
	if err := newDir.WriteRaw(newEntry.SlotEnd-1, buf); err != nil {
		return err
	}

	oldID := lock.ObjectID{Volume: uintptr(fs.mounted.MountID), DirClst: uint32(oldDir.StartCluster()), DirOffset: uint32(entry.SlotStart)}
	newID := lock.ObjectID{Volume: uintptr(fs.mounted.MountID), DirClst: uint32(newDir.StartCluster()), DirOffset: uint32(newEntry.SlotStart)}
	fs.locks.Rename(oldID, newID)

	return dirent.FreeEntry(oldDir, entry.SlotStart, entry.SlotEnd)
}
