package volume

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/cache"
	"github.com/kvemit/fatfs/codepage"
	"github.com/kvemit/fatfs/errors"
	"github.com/kvemit/fatfs/fat"
)

// Options configures a Mount call, replacing the teacher's compile-time
// #define-style build tags (FS_FAT12/16/32, USE_MBR, USE_GPT, USE_TRIM) with
// runtime fields -- spec.md section 9's redesign note that build-time
// strategy choices become constructor options in a hosted language.
type Options struct {
	ReadOnly bool

	// PartitionSlot selects an MBR partition table entry explicitly
	// (0..3); -1 (the default) auto-selects the first usable entry.
	PartitionSlot int

	AllowFAT12 bool
	AllowFAT16 bool
	AllowFAT32 bool

	TrimOnRemove bool

	// ShareLockCapacity sizes the lock.Table. fatfs.Mount raises a value
	// below 1 to 1, so the sharing table cannot be disabled.
	ShareLockCapacity int

	// Codepage selects the OEM codepage used to decode/encode short names
	// (spec.md section 4.9). Zero disables codepage translation entirely:
	// SFN bytes are then copied into names unchanged.
	Codepage codepage.ID

	// RTC supplies the current time for directory-entry timestamps (spec.md
	// section 4, "Timestamps"; the real-time clock is explicitly an external
	// collaborator per spec.md section 1). Nil falls back to FrozenTimestamp.
	RTC func() time.Time

	// FrozenTimestamp is the constant timestamp stamped on new/modified
	// entries when RTC is nil, per spec.md section 4's "when no RTC is
	// provided, a configured constant is used" rule.
	FrozenTimestamp time.Time

	// LockTimeout bounds how long a call waits to acquire the volume's
	// single sync object (spec.md section 5) before giving up with
	// errors.KindTimeout. Zero means wait forever, matching the teacher's
	// FF_BLOCKING semaphore wait.
	LockTimeout time.Duration
}

// Clock resolves RTC to a callable time source, falling back to
// FrozenTimestamp when none was configured.
func (o Options) Clock() func() time.Time {
	if o.RTC != nil {
		return o.RTC
	}
	frozen := o.FrozenTimestamp
	return func() time.Time { return frozen }
}

// DefaultOptions enables every variant, a modest sharing table, and the
// historical DOS default codepage, matching a typical full build of the
// teacher's FS_FAT12/16/32 + FILE_LOCK + CP437 knobs.
func DefaultOptions() Options {
	return Options{
		PartitionSlot:     -1,
		AllowFAT12:        true,
		AllowFAT16:        true,
		AllowFAT32:        true,
		ShareLockCapacity: 16,
		Codepage:          codepage.CP437,
		RTC:               time.Now,
	}
}

func (o Options) variantAllowed(v fat.Variant) bool {
	switch v {
	case fat.FAT12:
		return o.AllowFAT12
	case fat.FAT16:
		return o.AllowFAT16
	case fat.FAT32:
		return o.AllowFAT32
	default:
		return false
	}
}

// Mounted is the result of a successful Mount: everything a higher layer
// (the root fatfs package) needs to serve file/directory operations.
type Mounted struct {
	Device blockdev.Device

	SectorSize uint16
	VolBase    uint64

	BPB     BPB
	Derived Derived

	FAT          *fat.Engine
	FATWindow    *cache.Window
	RootWindow   *cache.Window
	RootCluster  fat.ClusterID // 0 for a fixed FAT12/16 root
	RootBase     uint64        // first sector of the fixed root, FAT12/16 only
	RootSectors  uint64        // sector count of the fixed root, FAT12/16 only
	DataBase     uint64        // LBA of cluster #2

	FSInfoSector uint64
	FreeCount    uint32 // 0xFFFFFFFF sentinel means unknown
	NextFree     uint32

	MountID uint32
}

const freeCountUnknown = 0xFFFFFFFF

var nextMountID uint32

// Mount implements spec.md section 4.8's state machine: init the device,
// classify the partition scheme, parse the BPB, classify the FAT variant,
// seed FSINFO, and assign a mount ID.
func Mount(dev blockdev.Device, opts Options) (*Mounted, error) {
	if _, err := dev.Init(); err != nil {
		return nil, errors.KindNotReady.WrapError(err)
	}
	status, err := dev.Status()
	if err != nil {
		return nil, errors.KindNotReady.WrapError(err)
	}
	if !status.Ready() {
		return nil, errors.KindNotReady.WithMessage("block device reports not ready")
	}

	sectorSize, err := querySectorSize(dev)
	if err != nil {
		return nil, err
	}

	scheme, err := DetectScheme(dev, sectorSize)
	if err != nil {
		return nil, err
	}

	var volBase uint64
	switch scheme {
	case SchemeSFD:
		volBase = 0
	case SchemeMBR:
		volBase, err = ResolveMBRPartition(dev, sectorSize, opts.PartitionSlot)
	case SchemeGPT:
		volBase, err = ResolveGPTPartition(dev, sectorSize)
	default:
		err = errors.KindNoFilesystem.WithMessage("unrecognized partition scheme")
	}
	if err != nil {
		return nil, err
	}

	vbr := make([]byte, sectorSize)
	if err := dev.Read(vbr, volBase, 1); err != nil {
		return nil, errors.KindDiskErr.WrapError(err)
	}
	bpb, err := ParseBPB(vbr)
	if err != nil {
		return nil, err
	}
	if err := validateBPB(bpb); err != nil {
		return nil, err
	}

	derived, err := bpb.Derive()
	if err != nil {
		return nil, err
	}
	if !opts.variantAllowed(derived.Variant) {
		return nil, errors.KindNoFilesystem.WithMessage("volume's FAT variant is disabled by mount options")
	}

	fatWindow := cache.NewWindow(dev, sectorSize)
	fatWindow.ConfigureFATMirror(volBase+uint64(derived.FirstFATSector), uint64(bpb.fatSize()), bpb.NumFATs)

	geo := fat.Geometry{
		Variant:           derived.Variant,
		FatBase:           volBase + uint64(derived.FirstFATSector),
		SectorsPerFAT:     uint64(bpb.fatSize()),
		NumFATs:           bpb.NumFATs,
		SectorSize:        sectorSize,
		TotalEntries:      derived.TotalClusters,
		TrimEnabled:       opts.TrimOnRemove,
		DataBase:          volBase + uint64(derived.FirstDataSector),
		SectorsPerCluster: bpb.SectorsPerCluster,
	}
	engine := fat.New(geo, fatWindow, dev)

	m := &Mounted{
		Device:      dev,
		SectorSize:  sectorSize,
		VolBase:     volBase,
		BPB:         bpb,
		Derived:     derived,
		FAT:         engine,
		FATWindow:   fatWindow,
		RootWindow:  cache.NewWindow(dev, sectorSize),
		DataBase:    volBase + uint64(derived.FirstDataSector),
		FreeCount:   freeCountUnknown,
	}

	if derived.Variant == fat.FAT32 {
		m.RootCluster = fat.ClusterID(bpb.RootCluster)
		m.FSInfoSector = volBase + uint64(bpb.FSInfoSector)
		if bpb.FSInfoSector != 0 {
			info, ok, ferr := m.RootWindow.ReadFSInfo(m.FSInfoSector)
			if ferr == nil && ok && info.FreeCount != freeCountUnknown {
				m.FreeCount = info.FreeCount
				m.NextFree = info.NextFree
			}
		}
	} else {
		m.RootBase = volBase + uint64(derived.FirstRootDirSector)
		m.RootSectors = uint64(derived.RootDirSectors)
	}

	nextMountID++
	m.MountID = nextMountID
	return m, nil
}

func querySectorSize(dev blockdev.Device) (uint16, error) {
	var size uint16
	if err := dev.Ioctl(blockdev.GetSectorSize, &size); err != nil {
		return 512, nil // devices that don't support the ioctl default to 512
	}
	if size == 0 {
		return 512, nil
	}
	return size, nil
}

// validateBPB aggregates every BPB sanity violation via go-multierror
// instead of failing on the first one, so a diagnostic tool can report every
// problem with a malformed volume at once.
func validateBPB(b BPB) error {
	var result *multierror.Error
	if b.BytesPerSector < 512 || b.BytesPerSector > 4096 {
		result = multierror.Append(result, errors.KindNoFilesystem.WithMessage("bytes-per-sector out of the supported 512..4096 range"))
	}
	if b.SectorsPerCluster == 0 || (b.SectorsPerCluster&(b.SectorsPerCluster-1)) != 0 {
		result = multierror.Append(result, errors.KindNoFilesystem.WithMessage("sectors-per-cluster must be a nonzero power of two"))
	}
	if b.ReservedSectors == 0 {
		result = multierror.Append(result, errors.KindNoFilesystem.WithMessage("reserved sector count is zero"))
	}
	if b.NumFATs == 0 {
		result = multierror.Append(result, errors.KindNoFilesystem.WithMessage("FAT count is zero"))
	}
	if result != nil {
		return errors.KindNoFilesystem.WrapError(result)
	}
	return nil
}
