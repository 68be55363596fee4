// Package fatfs implements spec.md section 3's data model (FS/Object/File/
// Dir) and sections 4.4-4.7's directory and file operations, wiring together
// the volume mount, FAT engine, directory engine, path resolver, and object
// sharing table into the single facade callers use to open, read, write,
// rename, and enumerate files on a mounted FAT volume.
//
// Grounded on the teacher's drivers/common/basedriver/driver.go CommonDriver,
// generalized from a pluggable multi-filesystem VFS dispatcher (one
// `implementation` per on-disk format) into a FAT-only facade that talks
// directly to fat.Engine, dirent.Directory/Reader/Allocator, and cache.Window
// instead of through a vtable, since this module serves exactly one format
// family rather than N pluggable ones.
package fatfs

import (
	"strings"
	"time"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/cache"
	"github.com/kvemit/fatfs/codepage"
	"github.com/kvemit/fatfs/dirent"
	"github.com/kvemit/fatfs/errors"
	"github.com/kvemit/fatfs/fat"
	"github.com/kvemit/fatfs/lock"
	"github.com/kvemit/fatfs/media"
	"github.com/kvemit/fatfs/pathresolve"
	"github.com/kvemit/fatfs/volume"
)

// FS is a mounted FAT volume, ready to serve file and directory operations.
type FS struct {
	mounted *volume.Mounted
	opts    volume.Options
	cwd     *pathresolve.CWD
	locks   *lock.Table
	codec   *codepage.Codec
	now     func() time.Time

	// mu is the single per-volume sync object spec.md section 5 requires:
	// every public entry point that touches this volume's cache or FAT
	// state takes it before any mutation and releases it on every exit
	// path. A 1-buffered channel stands in for the teacher's blocking
	// semaphore since it gives Lock a timeout, which sync.Mutex cannot.
	mu          chan struct{}
	lockTimeout time.Duration
}

// lock acquires the volume's sync object, honoring opts.LockTimeout. Every
// public FS/Dir/File entry point must call this before touching cache or FAT
// state and release it (via unlock, typically deferred) on every exit path.
func (fs *FS) lock() error {
	if fs.lockTimeout <= 0 {
		fs.mu <- struct{}{}
		return nil
	}
	select {
	case fs.mu <- struct{}{}:
		return nil
	case <-time.After(fs.lockTimeout):
		return errors.KindTimeout.WithMessage("timed out waiting for the volume lock")
	}
}

// unlock releases the volume's sync object acquired by lock.
func (fs *FS) unlock() { <-fs.mu }

// Mount mounts dev per opts (spec.md section 4.8) and returns the facade
// through which every other operation in this package is performed.
func Mount(dev blockdev.Device, opts volume.Options) (*FS, error) {
	m, err := volume.Mount(dev, opts)
	if err != nil {
		return nil, err
	}
	capacity := opts.ShareLockCapacity
	if capacity <= 0 {
		capacity = 1
	}

	var codec *codepage.Codec
	if opts.Codepage != 0 {
		codec, err = codepage.New(opts.Codepage)
		if err != nil {
			return nil, err
		}
	}

	return &FS{
		mounted:     m,
		opts:        opts,
		cwd:         pathresolve.NewCWD(0),
		locks:       lock.New(capacity),
		codec:       codec,
		now:         opts.Clock(),
		mu:          make(chan struct{}, 1),
		lockTimeout: opts.LockTimeout,
	}, nil
}

// Sync flushes the volume-level state: the FAT window (mirrored to backup
// FAT copies as it goes) and, for FAT32, the FSINFO sector, rewritten through
// the mount's spare window (Mounted.RootWindow) -- spec.md section 4.2's
// volume-level sync step. Blocks cached by open Files are not flushed here;
// File.Sync and File.Close flush them.
func (fs *FS) Sync() error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.unlock()

	if err := fs.mounted.FATWindow.Sync(nil); err != nil {
		return errors.KindDiskErr.WrapError(err)
	}

	var info *cache.FSInfo
	if fs.mounted.Derived.Variant == fat.FAT32 {
		info = &cache.FSInfo{
			Sector:    fs.mounted.FSInfoSector,
			FreeCount: fs.mounted.FreeCount,
			NextFree:  fs.mounted.NextFree,
		}
	}
	if err := fs.mounted.RootWindow.Sync(info); err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	return nil
}

// Chdir changes the volume's tracked current working directory (spec.md
// section 4.5); it does not verify the target exists.
func (fs *FS) Chdir(path string) error { return fs.cwd.Chdir(path) }

// Getwd renders the current working directory back into "drive:/a/b" form.
func (fs *FS) Getwd() string { return fs.cwd.Getwd() }

// GetFree reports the volume's capacity and current free-cluster count,
// triggering a FreeScan if one has never run (spec.md section 4.3).
func (fs *FS) GetFree() (FSStat, error) {
	if err := fs.lock(); err != nil {
		return FSStat{}, err
	}
	defer fs.unlock()

	free, err := fs.mounted.FAT.FreeCount()
	if err != nil {
		return FSStat{}, err
	}
	return FSStat{
		Variant:       fs.mounted.Derived.Variant,
		TotalClusters: fs.mounted.Derived.TotalClusters,
		ClusterBytes:  fs.clusterBytes(),
		FreeClusters:  free,
		Label:         fs.mounted.BPB.Label,
		Media:         fs.mounted.BPB.Media,
	}, nil
}

// MediaGeometries returns every historically defined floppy/fixed-disk
// geometry matching the volume's BPB media byte (several floppy form
// factors share the same byte value), per spec.md section 6.
func (fs *FS) MediaGeometries() []media.Geometry {
	return media.ForMediaByte(fs.mounted.BPB.Media)
}

// Label returns the volume label stored in the root directory's
// AttrVolumeID entry, or "" if none exists.
func (fs *FS) Label() (string, error) {
	if err := fs.lock(); err != nil {
		return "", err
	}
	defer fs.unlock()

	root := fs.rootDirectory()
	r := dirent.NewReader(root)
	idx := 0
	for {
		entry, next, ok, err := r.Next(idx)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		if entry.IsVolumeLabel() {
			return entry.ShortName, nil
		}
		idx = next
	}
}

// SetLabel rewrites (or creates) the root directory's volume label entry.
func (fs *FS) SetLabel(label string) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.unlock()

	root := fs.rootDirectory()

	name := strings.ToUpper(label)
	if len(name) > 11 {
		name = name[:11]
	}
	var nameBytes [11]byte
	for i := range nameBytes {
		nameBytes[i] = ' '
	}
	copy(nameBytes[:], name)

	r := dirent.NewReader(root)
	idx := 0
	for {
		entry, next, ok, err := r.Next(idx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if entry.IsVolumeLabel() {
			raw := entry.Raw()
			raw.Name = nameBytes
			var buf [dirent.Size]byte
			raw.Encode(buf[:])
			return root.WriteRaw(entry.SlotEnd-1, buf)
		}
		idx = next
	}

	allocator := dirent.NewAllocator(root)
	slot, err := allocator.Allocate(1)
	if err != nil {
		return err
	}
	raw := dirent.RawEntry{Name: nameBytes, Attr: dirent.AttrVolumeID}
	var buf [dirent.Size]byte
	raw.Encode(buf[:])
	return root.WriteRaw(slot, buf)
}

func (fs *FS) clusterBytes() uint32 {
	return uint32(fs.mounted.BPB.SectorsPerCluster) * uint32(fs.mounted.SectorSize)
}

func (fs *FS) parsePath(raw string) (pathresolve.Path, error) {
	return pathresolve.Parse(raw, fs.cwd.Drive(), fs.cwd.Segments())
}

// newChainDir builds a Directory over a cluster chain, attaching the
// volume's configured OEM codepage (spec.md section 4.9) so every reader
// built from it decodes short names consistently.
func (fs *FS) newChainDir(start fat.ClusterID) *dirent.Directory {
	m := fs.mounted
	dir := dirent.NewChain(m.Device, m.FAT, m.SectorSize, m.BPB.SectorsPerCluster, m.DataBase, start)
	dir.SetCodec(fs.codec)
	return dir
}

func (fs *FS) rootDirectory() *dirent.Directory {
	m := fs.mounted
	if m.Derived.Variant == fat.FAT32 {
		return fs.newChainDir(m.RootCluster)
	}
	dir := dirent.NewFixedRoot(m.Device, m.SectorSize, m.RootBase, m.RootSectors)
	dir.SetCodec(fs.codec)
	return dir
}

// resolveDirPath walks from the root through each path segment, requiring
// every intermediate component to exist and be a directory, per spec.md
// section 4.5's path resolution rule.
func (fs *FS) resolveDirPath(segments []string) (*dirent.Directory, error) {
	dir := fs.rootDirectory()
	for _, seg := range segments {
		entry, err := findEntry(dir, seg)
		if err != nil {
			return nil, err
		}
		if !entry.IsDirectory() {
			return nil, errors.KindNoPath.WithMessage("path component is not a directory: " + seg)
		}
		dir = fs.newChainDir(entry.FirstCluster)
	}
	return dir, nil
}

func statFromEntry(e dirent.Entry) FileStat {
	date := uint16(e.Written >> 16)
	timePart := uint16(e.Written)
	cDate := uint16(e.Created >> 16)
	cTime := uint16(e.Created)
	return FileStat{
		Name:       e.Name,
		ShortName:  e.ShortName,
		Size:       e.FileSize,
		IsDir:      e.IsDirectory(),
		ReadOnly:   e.Attr&dirent.AttrReadOnly != 0,
		Hidden:     e.Attr&dirent.AttrHidden != 0,
		System:     e.Attr&dirent.AttrSystem != 0,
		Archive:    e.Attr&dirent.AttrArchive != 0,
		ModTime:    dirent.TimeFromFAT(date, timePart, 0),
		CreateTime: dirent.TimeFromFAT(cDate, cTime, 0),
	}
}

// Stat resolves path and returns its directory-entry metadata.
func (fs *FS) Stat(path string) (FileStat, error) {
	if err := fs.lock(); err != nil {
		return FileStat{}, err
	}
	defer fs.unlock()

	p, err := fs.parsePath(path)
	if err != nil {
		return FileStat{}, err
	}
	if p.IsRoot() {
		return FileStat{Name: "/", IsDir: true}, nil
	}
	parent, leaf, _ := p.Parent()
	dir, err := fs.resolveDirPath(parent.Segments)
	if err != nil {
		return FileStat{}, err
	}
	entry, err := findEntry(dir, leaf)
	if err != nil {
		return FileStat{}, err
	}
	return statFromEntry(entry), nil
}

// Chmod sets the read-only/hidden/system/archive attribute bits on path's
// directory entry.
func (fs *FS) Chmod(path string, readOnly, hidden, system, archive bool) error {
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
		return errors.KindDenied.WithMessage("cannot chmod the root directory")
	}
	dir, err := fs.resolveDirPath(parent.Segments)
	if err != nil {
		return err
	}
	entry, err := findEntry(dir, leaf)
	if err != nil {
		return err
	}

	raw := entry.Raw()
	raw.Attr &^= dirent.AttrReadOnly | dirent.AttrHidden | dirent.AttrSystem | dirent.AttrArchive
	if readOnly {
		raw.Attr |= dirent.AttrReadOnly
	}
	if hidden {
		raw.Attr |= dirent.AttrHidden
	}
	if system {
		raw.Attr |= dirent.AttrSystem
	}
	if archive {
		raw.Attr |= dirent.AttrArchive
	}

	var buf [dirent.Size]byte
	raw.Encode(buf[:])
	return dir.WriteRaw(entry.SlotEnd-1, buf)
}
