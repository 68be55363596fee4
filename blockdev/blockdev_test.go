package blockdev_test

import (
	"testing"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDevice_ReadWriteRoundTrip(t *testing.T) {
	image := make([]byte, 512*4)
	dev := blockdev.NewMemoryDevice(image, 512, 4)

	_, err := dev.Init()
	require.NoError(t, err)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, dev.Write(payload, 2, 1))

	readBack := make([]byte, 512)
	require.NoError(t, dev.Read(readBack, 2, 1))
	assert.Equal(t, payload, readBack)
}

func TestMemoryDevice_OutOfBounds(t *testing.T) {
	dev := blockdev.NewMemoryDevice(make([]byte, 512*2), 512, 2)
	buf := make([]byte, 512)
	err := dev.Read(buf, 5, 1)
	assert.Error(t, err)
}

func TestMemoryDevice_Ioctl(t *testing.T) {
	dev := blockdev.NewMemoryDevice(make([]byte, 512*10), 512, 10)

	var count uint64
	require.NoError(t, dev.Ioctl(blockdev.GetSectorCount, &count))
	assert.Equal(t, uint64(10), count)

	var size uint16
	require.NoError(t, dev.Ioctl(blockdev.GetSectorSize, &size))
	assert.Equal(t, uint16(512), size)

	assert.NoError(t, dev.Ioctl(blockdev.CtrlTrim, &[2]uint64{0, 9}))
}
