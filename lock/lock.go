// Package lock implements spec.md section 4.7: the object sharing table that
// arbitrates concurrent opens of the same file against read/write
// exclusivity. The teacher has no concept of a sharing table at all (its
// driver opens go straight through the OS), so this is grounded directly on
// original_source/src/private/ef_prv_file_lock.c's eEFPrvLockCheck /
// eEFPrvLockInc / eEFPrvLockDec: a fixed-size table of (volume, directory
// cluster, directory offset) triples with a read-count/write-marker field.
package lock

import (
	"sync"

	"github.com/kvemit/fatfs/errors"
)

// writeMarker is the sentinel open-count value meaning "open for writing",
// matching the original source's 0x100 constant.
const writeMarker = 0x100

// ObjectID identifies a directory entry uniquely within a mounted volume:
// the directory's starting cluster (0 for the fixed FAT12/16 root) plus the
// index of the entry's first 32-byte slot within that directory.
type ObjectID struct {
	Volume    uintptr // identifies the owning volume (fatfs passes its mount ID)
	DirClst   uint32
	DirOffset uint32
}

type slot struct {
	id    ObjectID
	count int // 0: free, 1..0xFF: reader count, writeMarker: writer held
}

// Table is a bounded sharing table, sized at construction the way the
// original's EF_CONF_FILE_LOCK macro sizes the static Files[] array.
type Table struct {
	mu    sync.Mutex
	slots []slot
}

// New creates a Table with room for capacity concurrently open objects.
func New(capacity int) *Table {
	return &Table{slots: make([]slot, capacity)}
}

// find returns the index of id's slot, or -1 with the index of a blank slot
// (or -1 if none) when not found.
func (t *Table) find(id ObjectID) (found int, blank int) {
	found, blank = -1, -1
	for i := range t.slots {
		if t.slots[i].count == 0 {
			if blank == -1 {
				blank = i
			}
			continue
		}
		if t.slots[i].id == id {
			found = i
			return
		}
	}
	return
}

// Acquire registers a new open of id for read (write=false) or write
// (write=true) access, matching eEFPrvLockCheck followed by eEFPrvLockInc.
// It returns KindLocked if the object is already open in a conflicting mode,
// or KindTooManyOpenFiles if the table has no room for a new entry.
func (t *Table) Acquire(id ObjectID, write bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, blank := t.find(id)

	if idx == -1 {
		if blank == -1 {
			return errors.KindTooManyOpenFiles.WithMessage("sharing table is full")
		}
		t.slots[blank] = slot{id: id, count: 0}
		idx = blank
	} else {
		if write || t.slots[idx].count == writeMarker {
			return errors.KindLocked.WithMessage("object is already open in a conflicting mode")
		}
	}

	if write {
		t.slots[idx].count = writeMarker
	} else {
		t.slots[idx].count++
	}
	return nil
}

// Release undoes one Acquire call for id. Releasing a write lock always
// frees the slot; releasing a read lock decrements the reader count and
// frees the slot once it reaches zero.
func (t *Table) Release(id ObjectID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, _ := t.find(id)
	if idx == -1 {
		return
	}
	if t.slots[idx].count == writeMarker {
		t.slots[idx] = slot{}
		return
	}
	t.slots[idx].count--
	if t.slots[idx].count <= 0 {
		t.slots[idx] = slot{}
	}
}

// Rename updates every slot referencing from (typically because a directory
// entry moved within its parent during a rename), matching the original's
// "move the lock, don't drop it" behavior across a rename.
func (t *Table) Rename(from, to ObjectID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].count != 0 && t.slots[i].id == from {
			t.slots[i].id = to
		}
	}
}
