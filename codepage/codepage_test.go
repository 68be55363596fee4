package codepage_test

import (
	"testing"

	"github.com/kvemit/fatfs/codepage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_CP437RoundTrip(t *testing.T) {
	c, err := codepage.New(codepage.CP437)
	require.NoError(t, err)

	encoded, err := c.Encode("HELLO")
	require.NoError(t, err)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", decoded)
}

func TestCodec_ToUpper(t *testing.T) {
	c, err := codepage.New(codepage.CP437)
	require.NoError(t, err)

	upper, err := c.ToUpper([]byte("report"))
	require.NoError(t, err)
	assert.Equal(t, []byte("REPORT"), upper)
}

func TestCodec_UnsupportedCodepage(t *testing.T) {
	_, err := codepage.New(codepage.ID(9999))
	assert.Error(t, err)
}

func TestUCS2_RoundTrip(t *testing.T) {
	var u codepage.UCS2
	units, err := u.Encode("Greetings-from-ChaN")
	require.NoError(t, err)
	assert.Equal(t, "Greetings-from-ChaN", u.Decode(units))
}

func TestUCS2_RejectsAstralPlane(t *testing.T) {
	var u codepage.UCS2
	_, err := u.Encode(string(rune(0x1F600)))
	assert.Error(t, err)
}
