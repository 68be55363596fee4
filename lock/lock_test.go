package lock_test

import (
	"testing"

	"github.com/kvemit/fatfs/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireMultipleReaders(t *testing.T) {
	tbl := lock.New(4)
	id := lock.ObjectID{Volume: 1, DirClst: 2, DirOffset: 32}

	require.NoError(t, tbl.Acquire(id, false))
	require.NoError(t, tbl.Acquire(id, false))

	tbl.Release(id)
	tbl.Release(id)
	require.NoError(t, tbl.Acquire(id, true))
}

func TestWriterExcludesReaders(t *testing.T) {
	tbl := lock.New(4)
	id := lock.ObjectID{Volume: 1, DirClst: 2, DirOffset: 32}

	require.NoError(t, tbl.Acquire(id, true))
	assert.Error(t, tbl.Acquire(id, false))

	tbl.Release(id)
	require.NoError(t, tbl.Acquire(id, false))
}

func TestTableFullReturnsTooManyOpenFiles(t *testing.T) {
	tbl := lock.New(1)
	a := lock.ObjectID{DirOffset: 1}
	b := lock.ObjectID{DirOffset: 2}

	require.NoError(t, tbl.Acquire(a, false))
	assert.Error(t, tbl.Acquire(b, false))
}

func TestRenameMovesLock(t *testing.T) {
	tbl := lock.New(4)
	from := lock.ObjectID{DirOffset: 1}
	to := lock.ObjectID{DirOffset: 2}

	require.NoError(t, tbl.Acquire(from, true))
	tbl.Rename(from, to)

	assert.Error(t, tbl.Acquire(to, false))
	require.NoError(t, tbl.Acquire(from, false))
}
