package fatfs

import (
	"github.com/kvemit/fatfs/dirent"
	"github.com/kvemit/fatfs/fat"
	"github.com/kvemit/fatfs/lock"
)

// Object is the identity shared by every open File and Dir handle, per
// spec.md section 3: a snapshot of the owning volume's mount ID (stale
// compares it with the FS's current one; no File or Dir method calls
// stale), the entry's attribute byte, its starting cluster, and the
// directory slot range backing it on disk.
type Object struct {
	fs      *FS
	mountID uint32

	attr         uint8
	firstCluster fat.ClusterID

	parentDir *dirent.Directory
	slotStart int
	slotEnd   int // exclusive; slotEnd-1 holds the SFN

	lockID lock.ObjectID
}

func (o *Object) stale() bool { return o.fs == nil || o.mountID != o.fs.mounted.MountID }

// IsDirectory reports the directory attribute bit.
func (o *Object) IsDirectory() bool { return o.attr&dirent.AttrDirectory != 0 }
