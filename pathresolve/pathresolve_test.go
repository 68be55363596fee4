package pathresolve_test

import (
	"testing"

	"github.com/kvemit/fatfs/pathresolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAbsolute(t *testing.T) {
	p, err := pathresolve.Parse("3:/dir/file", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Drive)
	assert.Equal(t, []string{"dir", "file"}, p.Segments)
}

func TestParseRelativeUsesCWD(t *testing.T) {
	p, err := pathresolve.Parse("sub/leaf", 1, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Drive)
	assert.Equal(t, []string{"a", "b", "sub", "leaf"}, p.Segments)
}

func TestParseDotDotWalksUp(t *testing.T) {
	p, err := pathresolve.Parse("../x", 0, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "x"}, p.Segments)
}

func TestParseRejectsDisallowedCharacters(t *testing.T) {
	_, err := pathresolve.Parse("0:/bad*name", 0, nil)
	assert.Error(t, err)
}

func TestParseTrimsSegmentWhitespace(t *testing.T) {
	p, err := pathresolve.Parse("0:/  spaced  /leaf", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"spaced", "leaf"}, p.Segments)
}

func TestPathParent(t *testing.T) {
	p, _ := pathresolve.Parse("0:/a/b/c", 0, nil)
	parent, leaf, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "c", leaf)
	assert.Equal(t, []string{"a", "b"}, parent.Segments)
}

func TestCWDChdirAndGetwd(t *testing.T) {
	cwd := pathresolve.NewCWD(0)
	require.NoError(t, cwd.Chdir("a/b"))
	assert.Equal(t, "0:/a/b", cwd.Getwd())

	require.NoError(t, cwd.Chdir(".."))
	assert.Equal(t, "0:/a", cwd.Getwd())
}
