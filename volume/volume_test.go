package volume_test

import (
	"testing"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/fat"
	"github.com/kvemit/fatfs/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sectorSize = 512

func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// buildFAT16SFD constructs a minimal super-floppy-formatted FAT16 image:
// reserved sectors, two FAT copies, a fixed root, and a data area, entirely
// zeroed except for the fields ParseBPB/Derive actually inspect.
func buildFAT16SFD(t *testing.T) []byte {
	t.Helper()

	const (
		reservedSectors   = 1
		numFATs           = 2
		rootEntries       = 16
		sectorsPerCluster = 1
		sectorsPerFAT     = 2
		dataSectors       = 4200
	)
	rootDirSectors := uint32(rootEntries*32+sectorSize-1) / sectorSize
	totalSectors := reservedSectors + numFATs*sectorsPerFAT + rootDirSectors + dataSectors

	image := make([]byte, sectorSize*totalSectors)
	bpb := image[0:sectorSize]
	putLE16(bpb[11:13], sectorSize)
	bpb[13] = sectorsPerCluster
	putLE16(bpb[14:16], reservedSectors)
	bpb[16] = numFATs
	putLE16(bpb[17:19], rootEntries)
	putLE16(bpb[19:21], uint16(totalSectors))
	bpb[21] = 0xF8
	putLE16(bpb[22:24], sectorsPerFAT)
	bpb[510] = 0x55
	bpb[511] = 0xAA

	return image
}

func TestMount_FAT16_SFD(t *testing.T) {
	image := buildFAT16SFD(t)
	dev := blockdev.NewMemoryDevice(image, sectorSize, uint64(len(image)/sectorSize))

	mounted, err := volume.Mount(dev, volume.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, fat.FAT16, mounted.Derived.Variant)
	assert.Equal(t, uint64(0), mounted.VolBase)
	assert.NotZero(t, mounted.RootSectors)
	assert.NotZero(t, mounted.MountID)
}

func TestMount_RejectsDisallowedVariant(t *testing.T) {
	image := buildFAT16SFD(t)
	dev := blockdev.NewMemoryDevice(image, sectorSize, uint64(len(image)/sectorSize))

	opts := volume.DefaultOptions()
	opts.AllowFAT16 = false
	_, err := volume.Mount(dev, opts)
	assert.Error(t, err)
}

func TestDetectScheme_ProtectiveMBRImpliesGPT(t *testing.T) {
	image := make([]byte, sectorSize*4)
	mbr := image[0:sectorSize]
	mbr[446+4] = 0xEE // protective MBR partition type
	mbr[510] = 0x55
	mbr[511] = 0xAA

	dev := blockdev.NewMemoryDevice(image, sectorSize, 4)
	scheme, err := volume.DetectScheme(dev, sectorSize)
	require.NoError(t, err)
	assert.Equal(t, volume.SchemeGPT, scheme)
}

func TestParseBPB_RejectsZeroedSector(t *testing.T) {
	_, err := volume.ParseBPB(make([]byte, sectorSize))
	assert.Error(t, err)
}
