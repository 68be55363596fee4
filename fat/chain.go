package fat

import (
	"github.com/boljen/go-bitmap"
	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/errors"
)

// maxChainHops caps chain walks at one pass over every possible cluster, so
// a corrupted FAT with a cycle fails fast instead of looping forever --
// grounded on the teacher's drivers/fat/driverbase.go getClusterInChain,
// which carries the same bound under a different name.
func (e *Engine) maxChainHops() uint32 {
	if e.geo.TotalEntries < 2 {
		return 0
	}
	return e.geo.TotalEntries - 2
}

// Walk returns every cluster in the chain starting at start, in order. It
// returns errors.KindIntErr if the chain is longer than the volume has
// clusters (a cycle) or if it encounters StatusBad/StatusFree mid-chain.
func (e *Engine) Walk(start ClusterID) ([]ClusterID, error) {
	if !e.IsValidCluster(start) {
		return nil, errors.KindIntErr.WithMessage("chain does not start on a valid cluster")
	}

	chain := make([]ClusterID, 0, 16)
	cur := start
	limit := e.maxChainHops()

	for i := uint32(0); ; i++ {
		if i > limit {
			return nil, errors.KindIntErr.WithMessage("cluster chain exceeds volume capacity; likely a cycle")
		}
		chain = append(chain, cur)

		value, status, err := e.Get(cur)
		if err != nil {
			return nil, err
		}
		switch status {
		case StatusLast:
			return chain, nil
		case StatusNext:
			cur = ClusterID(value)
		default:
			return nil, errors.KindIntErr.WithMessage("cluster chain references a free or bad cluster")
		}
	}
}

// ensureFreeHint lazily allocates the bitmap accelerator sized to the
// volume's cluster range. It starts all-zero ("unknown/occupied") until
// FreeScan populates it.
func (e *Engine) ensureFreeHint() {
	if e.freeHint == nil {
		e.freeHint = bitmap.NewSlice(int(e.geo.TotalEntries))
	}
}

// FreeScan walks the entire FAT counting free clusters and rebuilding the
// free-cluster bitmap accelerator (DESIGN.md: generalizes the teacher's
// drivers/common/allocatormap.go Allocator, which tracked only allocated
// ranges, into a full free/used map backed by github.com/boljen/go-bitmap).
// FreeCount runs it on first use; the FSINFO free count read at mount is
// not consulted.
func (e *Engine) FreeScan() (uint32, error) {
	e.ensureFreeHint()
	var free uint32
	for c := ClusterID(2); uint32(c) < e.geo.TotalEntries; c++ {
		_, status, err := e.Get(c)
		if err != nil {
			return 0, err
		}
		isFree := status == StatusFree
		e.freeHint.Set(int(c), isFree)
		if isFree {
			free++
		}
	}
	e.freeCount = free
	e.freeValid = true
	return free, nil
}

// FreeCount returns the last known free-cluster count, triggering a full
// FreeScan if one has never run.
func (e *Engine) FreeCount() (uint32, error) {
	if !e.freeValid {
		return e.FreeScan()
	}
	return e.freeCount, nil
}

// nextCandidate returns the next cluster number to probe after c, wrapping
// from the top of the usable range back to 2.
func (e *Engine) nextCandidate(c ClusterID) ClusterID {
	c++
	if uint32(c) >= e.geo.TotalEntries {
		return 2
	}
	return c
}

// findFree scans starting just after lastAlloc (wrapping) for the first
// StatusFree cluster, preferring the bitmap hint when it is warm so a cold
// FAT with a long run of allocated clusters near the start doesn't cost a
// sector load per candidate.
func (e *Engine) findFree() (ClusterID, error) {
	start := e.nextCandidate(e.lastAlloc)
	c := start
	for {
		if e.freeHint != nil && e.freeValid && !e.freeHint.Get(int(c)) {
			c = e.nextCandidate(c)
			if c == start {
				break
			}
			continue
		}
		_, status, err := e.Get(c)
		if err != nil {
			return 0, err
		}
		if status == StatusFree {
			return c, nil
		}
		if e.freeHint != nil {
			e.freeHint.Set(int(c), false)
		}
		c = e.nextCandidate(c)
		if c == start {
			break
		}
	}
	return 0, errors.KindNotEnoughCore.WithMessage("volume has no free clusters")
}

// CreateNew allocates a single new cluster, marks it StatusLast, and returns
// its number. Mirrors spec.md section 4.3's CreateNew operation and the
// teacher's free-scan-from-last-allocation heuristic.
func (e *Engine) CreateNew() (ClusterID, error) {
	c, err := e.findFree()
	if err != nil {
		return 0, err
	}
	if err := e.Set(c, e.geo.lastMarker()); err != nil {
		return 0, err
	}
	e.lastAlloc = c
	if e.freeValid {
		e.freeCount--
	}
	return c, nil
}

// Stretch appends a freshly allocated cluster onto the end of the chain
// whose last member is tail, linking tail -> new and returning new.
func (e *Engine) Stretch(tail ClusterID) (ClusterID, error) {
	next, err := e.CreateNew()
	if err != nil {
		return 0, err
	}
	if err := e.Set(tail, uint32(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// Remove frees every cluster in the chain starting at start. If prev is
// nonzero, prev's entry is rewritten to the chain terminator instead of
// being freed, truncating the chain there rather than deleting it outright
// (spec.md section 4.3, Remove operation). If geo.TrimEnabled is set and a
// device was supplied to New, each contiguous run of freed cluster numbers
// is also passed to blockdev's CtrlTrim, one Ioctl per run.
func (e *Engine) Remove(start ClusterID, prev ClusterID) error {
	if prev != 0 {
		if err := e.Set(prev, e.geo.lastMarker()); err != nil {
			return err
		}
	}

	chain, err := e.Walk(start)
	if err != nil {
		return err
	}
	for _, c := range chain {
		if err := e.Set(c, 0); err != nil {
			return err
		}
		if e.freeValid {
			e.freeCount++
		}
	}
	if e.geo.TrimEnabled && e.dev != nil {
		e.trimRuns(chain)
	}
	return nil
}

// trimRuns groups chain (in traversal order, not necessarily ascending)
// into runs of numerically consecutive cluster numbers and issues one
// CtrlTrim per run -- contiguous cluster numbers back contiguous LBAs, per
// the DataBase/SectorsPerCluster mapping spec.md section 4.8 establishes at
// mount time. A trim failure is non-fatal (spec.md section 4.1: "advisory").
func (e *Engine) trimRuns(chain []ClusterID) {
	sorted := append([]ClusterID(nil), chain...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	spc := uint64(e.geo.SectorsPerCluster)
	i := 0
	for i < len(sorted) {
		runStart := sorted[i]
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		runEnd := sorted[j]

		startLBA := e.geo.DataBase + uint64(runStart-2)*spc
		endLBA := e.geo.DataBase + uint64(runEnd-2)*spc + spc - 1
		arg := [2]uint64{startLBA, endLBA}
		_ = e.dev.Ioctl(blockdev.CtrlTrim, &arg)

		i = j + 1
	}
}

// FindContiguousRun scans for length consecutive free clusters, used by the
// Expand fast-path (spec.md section 4.6) to pre-reserve a run without
// linking it into any chain yet. It returns the first cluster of the run.
func (e *Engine) FindContiguousRun(length uint32) (ClusterID, error) {
	if length == 0 {
		return 0, errors.KindInvalidParameter.WithMessage("run length must be positive")
	}

	var runStart ClusterID
	var runLen uint32

	for c := ClusterID(2); uint32(c) < e.geo.TotalEntries; c++ {
		free := false
		if e.freeHint != nil && e.freeValid {
			free = e.freeHint.Get(int(c))
		} else {
			_, status, err := e.Get(c)
			if err != nil {
				return 0, err
			}
			free = status == StatusFree
		}

		if free {
			if runLen == 0 {
				runStart = c
			}
			runLen++
			if runLen == length {
				return runStart, nil
			}
		} else {
			runLen = 0
		}
	}
	return 0, errors.KindNotEnoughCore.WithMessage("no contiguous run of that length is available")
}

// LinkRun wires up length consecutive clusters starting at first into a
// single chain and marks the last one StatusLast, for use after
// FindContiguousRun reserved the range. Matches the teacher's Expand
// commit path, generalized to any variant.
func (e *Engine) LinkRun(first ClusterID, length uint32) error {
	cur := first
	for i := uint32(1); i < length; i++ {
		next := cur + 1
		if err := e.Set(cur, uint32(next)); err != nil {
			return err
		}
		cur = next
	}
	if err := e.Set(cur, e.geo.lastMarker()); err != nil {
		return err
	}
	if e.freeValid {
		if e.freeCount < length {
			e.freeCount = 0
		} else {
			e.freeCount -= length
		}
	}
	if e.freeHint != nil {
		for i := uint32(0); i < length; i++ {
			e.freeHint.Set(int(first)+int(i), false)
		}
	}
	e.lastAlloc = cur
	return nil
}
