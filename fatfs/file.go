package fatfs

import (
	"io"

	"github.com/kvemit/fatfs/cache"
	"github.com/kvemit/fatfs/dirent"
	"github.com/kvemit/fatfs/errors"
	"github.com/kvemit/fatfs/fat"
	"github.com/kvemit/fatfs/lock"
)

// maxFileOffset is spec.md section 4.6's Seek constraint: 0 <= off <=
// 2^32-2, one short of the 32-bit file-size field's range.
const maxFileOffset = 1<<32 - 2

// File is an open file handle, per spec.md section 3: an Object plus
// cursor state (offset, current size, dirty flag) and a block-oriented cache
// over its cluster chain for data I/O, generalized from the teacher's
// drivers/common/blockcache.BlockCache the way dirent.Directory generalizes
// clusterToDirentSlice -- one sector-sized block per data sector, addressed
// by a flat index across the whole chain rather than by (cluster, sector).
type File struct {
	obj  *Object
	fs   *FS
	name string

	size       uint32
	offset     uint64
	writable   bool
	appendMode bool

	chain  []fat.ClusterID
	blocks *cache.BlockCache

	modified bool
	closed   bool

	// expandTarget is the size last passed to Expand with commit=false. It
	// is never written to disk and is dropped with the handle.
	expandTarget uint32
}

// blockLBA translates a flat sector index (0 at the start of the chain)
// into its physical LBA via the chain snapshot taken at Open time.
func (f *File) blockLBA(blockIdx uint) (uint64, error) {
	sectorsPerCluster := uint64(f.fs.mounted.BPB.SectorsPerCluster)
	clusterIdx := int(uint64(blockIdx) / sectorsPerCluster)
	if clusterIdx >= len(f.chain) {
		return 0, errors.KindIntErr.WithMessage("block index beyond cluster chain")
	}
	sectorInCluster := uint64(blockIdx) % sectorsPerCluster
	cluster := f.chain[clusterIdx]
	return f.fs.mounted.DataBase + uint64(cluster-2)*sectorsPerCluster + sectorInCluster, nil
}

func (f *File) fetchBlock(blockIdx uint, buf []byte) error {
	lba, err := f.blockLBA(blockIdx)
	if err != nil {
		return err
	}
	return f.fs.mounted.Device.Read(buf, lba, 1)
}

func (f *File) flushBlock(blockIdx uint, buf []byte) error {
	lba, err := f.blockLBA(blockIdx)
	if err != nil {
		return err
	}
	return f.fs.mounted.Device.Write(buf, lba, 1)
}

// resizeBlocks keeps the block cache's block count in step with the current
// cluster chain length, after the chain grows or shrinks.
func (f *File) resizeBlocks() {
	f.blocks.Resize(uint(len(f.chain)) * uint(f.fs.mounted.BPB.SectorsPerCluster))
}

// Open implements spec.md section 4.6's open state machine: resolve
// parent+name, check the sharing table, reject CREATE_NEW collisions,
// truncate if requested, allocate an entry if one doesn't already exist, and
// seed the cursor (0, or EOF for Append).
func (fs *FS) Open(path string, flags OpenFlag) (*File, error) {
	if err := fs.lock(); err != nil {
		return nil, err
	}
	defer fs.unlock()

	p, err := fs.parsePath(path)
	if err != nil {
		return nil, err
	}
	parent, leaf, ok := p.Parent()
	if !ok {
		return nil, errors.KindInvalidName.WithMessage("cannot open the root directory as a file")
	}
	dir, err := fs.resolveDirPath(parent.Segments)
	if err != nil {
		return nil, err
	}

	entry, ferr := findEntry(dir, leaf)
	exists := ferr == nil
	if ferr != nil && !isNoFile(ferr) {
		return nil, ferr
	}

	if exists && flags&CreateNew != 0 {
		return nil, errors.KindExist.WithMessage("file already exists")
	}
	if !exists && flags&(CreateNew|OpenAlways) == 0 {
		return nil, errors.KindNoFile.WithMessage("file does not exist")
	}
	if exists && entry.IsDirectory() {
		return nil, errors.KindInvalidName.WithMessage("cannot open a directory as a file")
	}

	if !exists {
		entry, err = createFileEntry(dir, leaf, dirent.AttrArchive, fs.now)
		if err != nil {
			return nil, err
		}
	}

	lockID := lock.ObjectID{
		Volume:    uintptr(fs.mounted.MountID),
		DirClst:   uint32(dir.StartCluster()),
		DirOffset: uint32(entry.SlotStart),
	}
	writable := flags&Write != 0
	if err := fs.locks.Acquire(lockID, writable); err != nil {
		return nil, err
	}

	obj := &Object{
		fs:           fs,
		mountID:      fs.mounted.MountID,
		attr:         entry.Attr,
		firstCluster: entry.FirstCluster,
		parentDir:    dir,
		slotStart:    entry.SlotStart,
		slotEnd:      entry.SlotEnd,
		lockID:       lockID,
	}

	f := &File{
		obj:        obj,
		fs:         fs,
		name:       leaf,
		size:       entry.FileSize,
		writable:   writable,
		appendMode: flags&Append != 0,
	}
	if entry.FirstCluster != 0 {
		chain, werr := fs.mounted.FAT.Walk(entry.FirstCluster)
		if werr != nil {
			fs.locks.Release(lockID)
			return nil, werr
		}
		f.chain = chain
	}
	f.blocks = cache.New(uint(fs.mounted.SectorSize), uint(len(f.chain))*uint(fs.mounted.BPB.SectorsPerCluster), f.fetchBlock, f.flushBlock)

	if exists && flags&Truncate != 0 {
		if err := f.truncateLocked(); err != nil {
			fs.locks.Release(lockID)
			return nil, err
		}
	}
	if f.appendMode {
		f.offset = uint64(f.size)
	}
	return f, nil
}

func isNoFile(err error) bool {
	de, ok := err.(errors.DriverError)
	return ok && de.Code() == errors.KindNoFile
}

// Read implements io.Reader, crossing cluster boundaries via the chain
// snapshot taken at Open time, per spec.md section 4.6.
func (f *File) Read(p []byte) (int, error) {
	if err := f.fs.lock(); err != nil {
		return 0, err
	}
	defer f.fs.unlock()

	if f.closed {
		return 0, errors.KindInvalidObject.WithMessage("file is closed")
	}
	if f.offset >= uint64(f.size) {
		return 0, io.EOF
	}

	clusterBytes := uint64(f.fs.clusterBytes())
	sectorSize := uint64(f.fs.mounted.SectorSize)
	total := 0
	buf := make([]byte, sectorSize)

	for total < len(p) && f.offset < uint64(f.size) {
		clusterIdx := int(f.offset / clusterBytes)
		if clusterIdx >= len(f.chain) {
			break
		}
		blockIdx := uint(f.offset / sectorSize)
		offsetInSector := f.offset % sectorSize

		if err := f.blocks.Read(blockIdx, buf); err != nil {
			return total, err
		}

		n := uint64(len(p) - total)
		if avail := sectorSize - offsetInSector; avail < n {
			n = avail
		}
		if remaining := uint64(f.size) - f.offset; remaining < n {
			n = remaining
		}

		copy(p[total:total+int(n)], buf[offsetInSector:offsetInSector+n])
		total += int(n)
		f.offset += n
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Write implements io.Writer, extending the cluster chain via the FAT
// engine as the cursor runs past its end, per spec.md section 4.6.
func (f *File) Write(p []byte) (int, error) {
	if err := f.fs.lock(); err != nil {
		return 0, err
	}
	defer f.fs.unlock()

	if f.closed {
		return 0, errors.KindInvalidObject.WithMessage("file is closed")
	}
	if !f.writable {
		return 0, errors.KindDenied.WithMessage("file was not opened for writing")
	}
	if f.appendMode {
		f.offset = uint64(f.size)
	}

	clusterBytes := uint64(f.fs.clusterBytes())
	sectorSize := uint64(f.fs.mounted.SectorSize)
	total := 0
	buf := make([]byte, sectorSize)

	for total < len(p) {
		if f.offset >= maxFileOffset {
			return total, errors.KindDenied.WithMessage("write would exceed the maximum file size")
		}

		clusterIdx := int(f.offset / clusterBytes)
		for clusterIdx >= len(f.chain) {
			var newCluster fat.ClusterID
			var err error
			if len(f.chain) == 0 {
				newCluster, err = f.fs.mounted.FAT.CreateNew()
			} else {
				newCluster, err = f.fs.mounted.FAT.Stretch(f.chain[len(f.chain)-1])
			}
			if err != nil {
				return total, err
			}
			f.chain = append(f.chain, newCluster)
			if f.obj.firstCluster == 0 {
				f.obj.firstCluster = newCluster
			}
			f.resizeBlocks()
		}

		blockIdx := uint(f.offset / sectorSize)
		offsetInSector := f.offset % sectorSize

		n := uint64(len(p) - total)
		if avail := sectorSize - offsetInSector; avail < n {
			n = avail
		}
		if remaining := maxFileOffset - f.offset; remaining < n {
			n = remaining
		}

		if offsetInSector != 0 || n < sectorSize {
			if err := f.blocks.Read(blockIdx, buf); err != nil {
				return total, err
			}
		}
		copy(buf[offsetInSector:offsetInSector+n], p[total:total+int(n)])
		if err := f.blocks.Write(blockIdx, buf); err != nil {
			return total, err
		}

		total += int(n)
		f.offset += n
		if f.offset > uint64(f.size) {
			f.size = uint32(f.offset)
		}
	}

	f.modified = true
	return total, nil
}

// Seek repositions the cursor, per spec.md section 4.6's constraint
// 0 <= off <= 2^32-2; seeking past end-of-file is allowed only for writable
// files (the gap is filled with allocated-but-unwritten clusters on the
// next Write).
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, errors.KindInvalidObject.WithMessage("file is closed")
	}
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = int64(f.offset) + offset
	case io.SeekEnd:
		newOffset = int64(f.size) + offset
	default:
		return 0, errors.KindInvalidParameter.WithMessage("invalid whence")
	}
	if newOffset < 0 || newOffset > maxFileOffset {
		return 0, errors.KindInvalidParameter.WithMessage("seek offset out of range")
	}
	if uint64(newOffset) > uint64(f.size) && !f.writable {
		return 0, errors.KindDenied.WithMessage("cannot seek past end of a read-only file")
	}
	f.offset = uint64(newOffset)
	return newOffset, nil
}

// Truncate frees every cluster beyond the current offset, writes the chain
// terminator (or clears the first-cluster field entirely if the offset is
// 0), and sets size to the current offset, per spec.md section 4.6.
func (f *File) Truncate() error {
	if err := f.fs.lock(); err != nil {
		return err
	}
	defer f.fs.unlock()
	return f.truncateLocked()
}

// truncateLocked is Truncate's body, callable by other File methods that
// already hold f.fs's volume lock.
func (f *File) truncateLocked() error {
	if !f.writable {
		return errors.KindDenied.WithMessage("file was not opened for writing")
	}
	clusterBytes := uint64(f.fs.clusterBytes())
	keepClusters := 0
	if f.offset > 0 {
		keepClusters = int((f.offset + clusterBytes - 1) / clusterBytes)
	}

	if keepClusters < len(f.chain) {
		if keepClusters == 0 {
			if err := f.fs.mounted.FAT.Remove(f.chain[0], 0); err != nil {
				return err
			}
			f.obj.firstCluster = 0
		} else {
			tail := f.chain[keepClusters-1]
			if err := f.fs.mounted.FAT.Remove(f.chain[keepClusters], tail); err != nil {
				return err
			}
		}
		f.chain = f.chain[:keepClusters]
		f.resizeBlocks()
	}

	f.size = uint32(f.offset)
	f.modified = true
	return nil
}

// Expand reserves size bytes' worth of clusters ahead of time, per spec.md
// section 4.6: commit=true links a freshly found contiguous run into the
// chain immediately (the Expand fast path); commit=false only records the
// target size on the handle, leaving the file's size, its directory entry
// and its chain unchanged; the chain grows cluster-by-cluster on the next
// Write.
func (f *File) Expand(size uint32, commit bool) error {
	if err := f.fs.lock(); err != nil {
		return err
	}
	defer f.fs.unlock()

	if !f.writable {
		return errors.KindDenied.WithMessage("file was not opened for writing")
	}
	clusterBytes := f.fs.clusterBytes()
	needed := (size + clusterBytes - 1) / clusterBytes
	have := uint32(len(f.chain))

	if needed <= have {
		if size > f.size {
			f.size = size
			f.modified = true
		}
		return nil
	}

	if !commit {
		f.expandTarget = size
		return nil
	}

	extra := needed - have
	first, err := f.fs.mounted.FAT.FindContiguousRun(extra)
	if err != nil {
		return err
	}
	if err := f.fs.mounted.FAT.LinkRun(first, extra); err != nil {
		return err
	}
	if len(f.chain) > 0 {
		if err := f.fs.mounted.FAT.Set(f.chain[len(f.chain)-1], uint32(first)); err != nil {
			return err
		}
	} else {
		f.obj.firstCluster = first
	}
	for c := first; uint32(len(f.chain)) < needed; c++ {
		f.chain = append(f.chain, c)
	}
	f.resizeBlocks()

	f.size = size
	f.modified = true
	return nil
}

// writeBackDirectoryEntry rewrites the SFN slot's size, first cluster, and
// write timestamp, setting the archive bit per spec.md section 4.4.
func (f *File) writeBackDirectoryEntry() error {
	raw, ok, err := f.obj.parentDir.ReadRaw(f.obj.slotEnd - 1)
	if err != nil {
		return err
	}
	if !ok {
		return errors.KindIntErr.WithMessage("directory entry vanished out from under an open file")
	}
	entry := dirent.DecodeRawEntry(raw[:])
	entry.FileSize = f.size
	entry.SetFirstCluster(f.obj.firstCluster)
	entry.Attr |= dirent.AttrArchive

	now := f.fs.now()
	wTime, _ := dirent.ToFATTime(now)
	entry.WriteTime = wTime
	entry.WriteDate = dirent.ToFATDate(now)

	var buf [dirent.Size]byte
	entry.Encode(buf[:])
	return f.obj.parentDir.WriteRaw(f.obj.slotEnd-1, buf)
}

// Sync flushes the file's dirty blocks, its directory entry (if modified),
// and the volume's FAT window, matching spec.md section 4.6's sync sequence.
func (f *File) Sync() error {
	if err := f.fs.lock(); err != nil {
		return err
	}
	defer f.fs.unlock()
	return f.syncLocked()
}

// syncLocked is Sync's body, callable by other File methods that already
// hold f.fs's volume lock.
func (f *File) syncLocked() error {
	if err := f.blocks.FlushAll(); err != nil {
		return err
	}
	if f.modified {
		if err := f.writeBackDirectoryEntry(); err != nil {
			return err
		}
		f.modified = false
	}
	if err := f.fs.mounted.FATWindow.Store(); err != nil {
		return errors.KindDiskErr.WrapError(err)
	}
	return nil
}

// Close syncs the file and releases its sharing-table lock. Close is
// idempotent.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	if err := f.fs.lock(); err != nil {
		return err
	}
	err := f.syncLocked()
	f.fs.unlock()
	f.fs.locks.Release(f.obj.lockID)
	f.closed = true
	return err
}

// Name returns the name the file was opened with.
func (f *File) Name() string { return f.name }

// Size returns the file's current size in bytes.
func (f *File) Size() uint32 { return f.size }
