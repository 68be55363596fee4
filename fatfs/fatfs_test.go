package fatfs_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/fatfs"
	"github.com/kvemit/fatfs/volume"
)

const sectorSize = 512

func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// buildFAT16Image constructs a writable super-floppy FAT16 image large
// enough to actually allocate and chain clusters: one reserved sector, a
// single FAT sized to cover every data cluster, a 16-entry fixed root, and
// 4200 one-sector clusters (enough to classify as FAT16, per
// fat.DetermineVariant's thresholds).
func buildFAT16Image(t *testing.T) []byte {
	t.Helper()

	const (
		reservedSectors   = 1
		numFATs           = 1
		rootEntries       = 16
		sectorsPerCluster = 1
		dataSectors       = 4200
	)
	totalClusters := dataSectors/sectorsPerCluster + 2
	sectorsPerFAT := uint32(totalClusters*2+sectorSize-1) / sectorSize
	rootDirSectors := uint32(rootEntries*32+sectorSize-1) / sectorSize
	totalSectors := reservedSectors + numFATs*int(sectorsPerFAT) + int(rootDirSectors) + dataSectors

	image := make([]byte, sectorSize*totalSectors)
	bpb := image[0:sectorSize]
	putLE16(bpb[11:13], sectorSize)
	bpb[13] = sectorsPerCluster
	putLE16(bpb[14:16], reservedSectors)
	bpb[16] = numFATs
	putLE16(bpb[17:19], rootEntries)
	putLE16(bpb[19:21], uint16(totalSectors))
	bpb[21] = 0xF8
	putLE16(bpb[22:24], uint16(sectorsPerFAT))
	bpb[510] = 0x55
	bpb[511] = 0xAA

	return image
}

func mountTestVolume(t *testing.T) *fatfs.FS {
	t.Helper()
	image := buildFAT16Image(t)
	dev := blockdev.NewMemoryDevice(image, sectorSize, uint64(len(image)/sectorSize))
	fs, err := fatfs.Mount(dev, volume.DefaultOptions())
	require.NoError(t, err)
	return fs
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs := mountTestVolume(t)

	f, err := fs.Open("/hello.txt", fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)

	payload := []byte("hello, fat filesystem")
	n, err := f.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, f.Close())

	rf, err := fs.Open("/hello.txt", fatfs.Read)
	require.NoError(t, err)
	defer rf.Close()

	buf := make([]byte, len(payload))
	n, err = io.ReadFull(rf, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	st, err := fs.Stat("/hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), st.Size)
	assert.False(t, st.IsDir)
}

func TestWriteSpansMultipleClusters(t *testing.T) {
	fs := mountTestVolume(t)

	f, err := fs.Open("/big.bin", fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)

	payload := make([]byte, sectorSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rf, err := fs.Open("/big.bin", fatfs.Read)
	require.NoError(t, err)
	defer rf.Close()

	got := make([]byte, len(payload))
	_, err = io.ReadFull(rf, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestMkdirAndReadDir(t *testing.T) {
	fs := mountTestVolume(t)

	require.NoError(t, fs.Mkdir("/sub"))
	f, err := fs.Open("/sub/inner.txt", fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	d, err := fs.OpenDir("/sub")
	require.NoError(t, err)
	entries, err := d.ReadDir(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "INNER.TXT", entries[0].ShortName)

	top, err := fs.OpenDir("/")
	require.NoError(t, err)
	topEntries, err := top.ReadDir(0)
	require.NoError(t, err)
	require.Len(t, topEntries, 1)
	assert.True(t, topEntries[0].IsDir)
}

func TestLongNameRoundTrip(t *testing.T) {
	fs := mountTestVolume(t)

	longName := "a rather long file name.txt"
	f, err := fs.Open("/"+longName, fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err := fs.Stat("/" + longName)
	require.NoError(t, err)
	assert.Equal(t, longName, st.Name)
	assert.NotEqual(t, longName, st.ShortName)
}

func TestRemoveFreesEntryAndChain(t *testing.T) {
	fs := mountTestVolume(t)

	f, err := fs.Open("/gone.txt", fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)
	_, err = f.Write([]byte("temporary"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Remove("/gone.txt"))

	_, err = fs.Stat("/gone.txt")
	assert.Error(t, err)
}

func TestRenameMovesEntry(t *testing.T) {
	fs := mountTestVolume(t)

	f, err := fs.Open("/old.txt", fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Rename("/old.txt", "/new.txt"))

	_, err = fs.Stat("/old.txt")
	assert.Error(t, err)

	st, err := fs.Stat("/new.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len("payload"), st.Size)
}

func TestTruncateOnReopen(t *testing.T) {
	fs := mountTestVolume(t)

	f, err := fs.Open("/trunc.txt", fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := fs.Open("/trunc.txt", fatfs.Write|fatfs.Truncate)
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	st, err := fs.Stat("/trunc.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.Size)
}

func TestSharingTableRejectsConflictingWriteOpen(t *testing.T) {
	fs := mountTestVolume(t)

	f, err := fs.Open("/locked.txt", fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)
	defer f.Close()

	_, err = fs.Open("/locked.txt", fatfs.Write)
	assert.Error(t, err)
}

func TestGetFreeReflectsAllocations(t *testing.T) {
	fs := mountTestVolume(t)

	before, err := fs.GetFree()
	require.NoError(t, err)

	f, err := fs.Open("/space.bin", fatfs.Write|fatfs.CreateNew)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, sectorSize*2))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	after, err := fs.GetFree()
	require.NoError(t, err)
	assert.Less(t, after.FreeClusters, before.FreeClusters)
}

func TestSetLabelAndLabel(t *testing.T) {
	fs := mountTestVolume(t)

	require.NoError(t, fs.SetLabel("testvol"))
	label, err := fs.Label()
	require.NoError(t, err)
	assert.Equal(t, "TESTVOL", label)
}
