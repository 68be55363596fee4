package fat_test

import (
	"testing"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/cache"
	"github.com/kvemit/fatfs/fat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, variant fat.Variant, totalEntries uint32) *fat.Engine {
	t.Helper()
	const sectorSize = 512
	const sectorsPerFAT = 32
	image := make([]byte, sectorSize*(sectorsPerFAT+2))
	dev := blockdev.NewMemoryDevice(image, sectorSize, uint64(sectorsPerFAT+2))
	w := cache.NewWindow(dev, sectorSize)
	w.ConfigureFATMirror(1, sectorsPerFAT, 1)

	geo := fat.Geometry{
		Variant:       variant,
		FatBase:       1,
		SectorsPerFAT: sectorsPerFAT,
		NumFATs:       1,
		SectorSize:    sectorSize,
		TotalEntries:  totalEntries,
	}
	return fat.New(geo, w, dev)
}

func TestDetermineVariant(t *testing.T) {
	assert.Equal(t, fat.FAT12, fat.DetermineVariant(100))
	assert.Equal(t, fat.FAT16, fat.DetermineVariant(5000))
	assert.Equal(t, fat.FAT32, fat.DetermineVariant(100000))
}

func TestEngine_FAT12_NibbleStraddle(t *testing.T) {
	e := newEngine(t, fat.FAT12, 4000)

	// Odd and even indices straddle differently; set a handful and verify
	// neighbours are untouched.
	require.NoError(t, e.Set(2, 0x123))
	require.NoError(t, e.Set(3, 0x456))
	require.NoError(t, e.Set(4, 0x789))

	v, status, err := e.Get(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), v)
	assert.Equal(t, fat.StatusNext, status)

	v, _, err = e.Get(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x456), v)

	v, _, err = e.Get(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x789), v)
}

func TestEngine_FAT32_PreservesUpperBits(t *testing.T) {
	e := newEngine(t, fat.FAT32, 100000)

	// Set a value whose reserved upper 4 bits are all ones and confirm Get
	// masks them off, reporting only the low 28 bits.
	require.NoError(t, e.Set(10, 0xF0000005))
	v, _, err := e.Get(10)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v, "reserved bits must not leak into the reported value")
}

func TestEngine_ChainWalkCreateStretchRemove(t *testing.T) {
	e := newEngine(t, fat.FAT16, 4200)

	first, err := e.CreateNew()
	require.NoError(t, err)

	second, err := e.Stretch(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	chain, err := e.Walk(first)
	require.NoError(t, err)
	assert.Equal(t, []fat.ClusterID{first, second}, chain)

	require.NoError(t, e.Remove(first, 0))

	_, status, err := e.Get(first)
	require.NoError(t, err)
	assert.Equal(t, fat.StatusFree, status)
	_, status, err = e.Get(second)
	require.NoError(t, err)
	assert.Equal(t, fat.StatusFree, status)
}

func TestEngine_RemoveTruncatesAtPrev(t *testing.T) {
	e := newEngine(t, fat.FAT16, 4200)

	a, err := e.CreateNew()
	require.NoError(t, err)
	b, err := e.Stretch(a)
	require.NoError(t, err)
	c, err := e.Stretch(b)
	require.NoError(t, err)

	require.NoError(t, e.Remove(c, b))

	chain, err := e.Walk(a)
	require.NoError(t, err)
	assert.Equal(t, []fat.ClusterID{a, b}, chain)

	_, status, err := e.Get(c)
	require.NoError(t, err)
	assert.Equal(t, fat.StatusFree, status)
}

func TestEngine_FreeScanAndCount(t *testing.T) {
	e := newEngine(t, fat.FAT16, 4200)

	free, err := e.FreeScan()
	require.NoError(t, err)
	assert.Equal(t, uint32(4198), free)

	_, err = e.CreateNew()
	require.NoError(t, err)

	count, err := e.FreeCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(4197), count)
}

func TestEngine_FindContiguousRunAndLink(t *testing.T) {
	e := newEngine(t, fat.FAT16, 4200)
	_, err := e.FreeScan()
	require.NoError(t, err)

	start, err := e.FindContiguousRun(5)
	require.NoError(t, err)
	require.NoError(t, e.LinkRun(start, 5))

	chain, err := e.Walk(start)
	require.NoError(t, err)
	assert.Len(t, chain, 5)
}

func TestEngine_WalkDetectsCycle(t *testing.T) {
	e := newEngine(t, fat.FAT16, 10)
	// Build a 2-cluster cycle by hand: 2 -> 3 -> 2.
	require.NoError(t, e.Set(2, 3))
	require.NoError(t, e.Set(3, 2))

	_, err := e.Walk(2)
	assert.Error(t, err)
}
