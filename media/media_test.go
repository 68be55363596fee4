package media_test

import (
	"testing"

	"github.com/kvemit/fatfs/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownSlug(t *testing.T) {
	g, ok := media.Lookup("fd_1440")
	require.True(t, ok)
	assert.Equal(t, uint(1440), g.CapacityKiB)
}

func TestForMediaByteReturnsMultipleFormFactors(t *testing.T) {
	geos := media.ForMediaByte(0xF9)
	assert.GreaterOrEqual(t, len(geos), 2)
}

func TestIsFixedDisk(t *testing.T) {
	assert.True(t, media.IsFixedDisk(0xF8))
	assert.False(t, media.IsFixedDisk(0xF0))
}
