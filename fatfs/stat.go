package fatfs

import (
	"time"

	"github.com/kvemit/fatfs/fat"
)

// FileStat is the information Stat and ReadDir report about one directory
// entry, per spec.md section 3's Object attribute fields.
type FileStat struct {
	Name       string
	ShortName  string
	Size       uint32
	IsDir      bool
	ReadOnly   bool
	Hidden     bool
	System     bool
	Archive    bool
	CreateTime time.Time
	ModTime    time.Time
}

// FSStat summarizes a mounted volume's capacity, per spec.md section 4.3's
// free-cluster accounting and section 6's label/media fields.
type FSStat struct {
	Variant       fat.Variant
	TotalClusters uint32
	ClusterBytes  uint32
	FreeClusters  uint32
	Label         string
	Media         uint8
}
