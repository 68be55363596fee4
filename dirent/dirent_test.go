package dirent_test

import (
	"testing"
	"time"

	"github.com/kvemit/fatfs/dirent"
	"github.com/stretchr/testify/assert"
)

func TestRawEntryRoundTrip(t *testing.T) {
	e := dirent.RawEntry{
		Attr:     dirent.AttrArchive,
		FileSize: 12345,
	}
	copy(e.Name[:], "HELLO   TXT")
	e.SetFirstCluster(0x000A1234)

	var buf [dirent.Size]byte
	e.Encode(buf[:])
	decoded := dirent.DecodeRawEntry(buf[:])

	assert.Equal(t, e.Name, decoded.Name)
	assert.Equal(t, e.Attr, decoded.Attr)
	assert.Equal(t, e.FileSize, decoded.FileSize)
	assert.Equal(t, e.FirstCluster(), decoded.FirstCluster())
}

func TestDateTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, time.March, 15, 13, 45, 30, 0, time.UTC)
	date := dirent.ToFATDate(ts)
	timePart, tenths := dirent.ToFATTime(ts)

	back := dirent.TimeFromFAT(date, timePart, tenths)
	assert.Equal(t, ts.Year(), back.Year())
	assert.Equal(t, ts.Month(), back.Month())
	assert.Equal(t, ts.Day(), back.Day())
	assert.Equal(t, ts.Hour(), back.Hour())
	assert.Equal(t, ts.Minute(), back.Minute())
}

func TestChecksumMatchesAssembledLFN(t *testing.T) {
	var sfn [11]byte
	copy(sfn[:], "GREETI~1TXT")
	ck := dirent.Checksum(sfn)

	fragments, err := dirent.BuildLFNFragments("Greetings-from-ChaN.txt", ck)
	assert.NoError(t, err)
	assert.Len(t, fragments, 2)
	assert.True(t, fragments[0].Last())

	name, checksum, err := dirent.AssembleLFN(fragments)
	assert.NoError(t, err)
	assert.Equal(t, "Greetings-from-ChaN.txt", name)
	assert.Equal(t, ck, checksum)
}

func TestAssembleLFNDetectsOrderMismatch(t *testing.T) {
	fragments, err := dirent.BuildLFNFragments("abcdefghijklmnopqrstuvwxyz0123456789", 0x42)
	assert.NoError(t, err)
	require := func(cond bool) {
		if !cond {
			t.Fatalf("expected at least 3 LFN fragments, got %d", len(fragments))
		}
	}
	require(len(fragments) >= 3)

	// Corrupt: drop the middle fragment to break the monotonic sequence.
	fragments = append(fragments[:1], fragments[2:]...)
	_, _, err = dirent.AssembleLFN(fragments)
	assert.Error(t, err)
}

func TestFormBasisStripsAndUppercases(t *testing.T) {
	b := dirent.FormBasis("Reports.2024")
	assert.Equal(t, "REPORTS", b.Body)
	assert.Equal(t, "202", b.Ext)
}

func TestResolveNumericTailCollision(t *testing.T) {
	existing := map[string]bool{
		"REPORT~1202": true,
	}
	exists := func(sfn [11]byte) (bool, error) {
		return existing[string(sfn[:8])+string(sfn[8:11])], nil
	}

	basis := dirent.FormBasis("Reports.2024")
	sfn, err := dirent.ResolveNumericTail(basis, exists)
	assert.NoError(t, err)
	assert.Equal(t, "REPORT~2202", string(sfn[:8])+string(sfn[8:11]))
}

func TestSplitSFNUnmasksE5(t *testing.T) {
	var raw [11]byte
	copy(raw[:], "\x05OO     TXT")
	body, ext := dirent.SplitSFN(raw)
	assert.Equal(t, "\xe5OO", body)
	assert.Equal(t, "TXT", ext)
}
