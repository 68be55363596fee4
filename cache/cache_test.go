package cache_test

import (
	"testing"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_LoadStoreRoundTrip(t *testing.T) {
	image := make([]byte, 512*4)
	dev := blockdev.NewMemoryDevice(image, 512, 4)
	w := cache.NewWindow(dev, 512)

	require.NoError(t, w.Load(1))
	copy(w.Buffer(), []byte("hello window"))
	w.MarkDirty()
	require.NoError(t, w.Store())

	require.NoError(t, w.Load(2)) // force eviction of sector 1
	require.NoError(t, w.Load(1))
	assert.Equal(t, "hello window", string(w.Buffer()[:12]))
}

func TestWindow_MirrorsFATCopies(t *testing.T) {
	image := make([]byte, 512*20)
	dev := blockdev.NewMemoryDevice(image, 512, 20)
	w := cache.NewWindow(dev, 512)
	w.ConfigureFATMirror(2, 4, 2) // FAT#0 at sectors [2,6), FAT#1 at [6,10)

	require.NoError(t, w.Load(3))
	copy(w.Buffer(), []byte("fat entry"))
	w.MarkDirty()
	require.NoError(t, w.Store())

	require.NoError(t, w.Load(7)) // mirror of sector 3 in FAT#1
	assert.Equal(t, "fat entry", string(w.Buffer()[:9]))
}

func TestBlockCache_ReadWrite(t *testing.T) {
	backing := make([][]byte, 4)
	for i := range backing {
		backing[i] = make([]byte, 16)
	}

	bc := cache.New(16, 4,
		func(idx uint, buf []byte) error { copy(buf, backing[idx]); return nil },
		func(idx uint, buf []byte) error { copy(backing[idx], buf); return nil },
	)

	require.NoError(t, bc.Write(1, []byte("0123456789abcdef")))
	require.NoError(t, bc.FlushAll())
	assert.Equal(t, []byte("0123456789abcdef"), backing[1])

	readBack := make([]byte, 16)
	require.NoError(t, bc.Read(1, readBack))
	assert.Equal(t, []byte("0123456789abcdef"), readBack)
}
