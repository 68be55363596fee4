package cache

import (
	"github.com/boljen/go-bitmap"
	"github.com/kvemit/fatfs/errors"
)

// FetchBlockFunc loads one block's worth of bytes from backing storage into
// buffer, which is always exactly BytesPerBlock() long.
type FetchBlockFunc func(blockIndex uint, buffer []byte) error

// FlushBlockFunc writes one block's worth of bytes from buffer to backing
// storage.
type FlushBlockFunc func(blockIndex uint, buffer []byte) error

// BlockCache is a block-oriented cache giving a contiguous view over an
// object scattered across discontiguous blocks -- used by fatfs.File to
// present a file's cluster chain as a flat run of sectors without re-reading
// sectors it has already loaded. Carried over from the
// teacher's drivers/common/blockcache.BlockCache, generalized to take
// free-standing fetch/flush callbacks instead of being constructed inline
// per file system.
type BlockCache struct {
	loaded        bitmap.Bitmap
	dirty         bitmap.Bitmap
	fetch         FetchBlockFunc
	flush         FlushBlockFunc
	bytesPerBlock uint
	totalBlocks   uint
	data          []byte
}

// New creates a BlockCache of totalBlocks blocks, each bytesPerBlock bytes.
func New(bytesPerBlock, totalBlocks uint, fetch FetchBlockFunc, flush FlushBlockFunc) *BlockCache {
	return &BlockCache{
		loaded:        bitmap.NewSlice(int(totalBlocks)),
		dirty:         bitmap.NewSlice(int(totalBlocks)),
		data:          make([]byte, bytesPerBlock*totalBlocks),
		fetch:         fetch,
		flush:         flush,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
	}
}

func (c *BlockCache) BytesPerBlock() uint { return c.bytesPerBlock }
func (c *BlockCache) TotalBlocks() uint   { return c.totalBlocks }

func (c *BlockCache) sizeToBlocks(size uint) uint {
	return (size + c.bytesPerBlock - 1) / c.bytesPerBlock
}

func (c *BlockCache) checkBounds(start uint, size uint) error {
	blocks := c.sizeToBlocks(size)
	if start+blocks > c.totalBlocks {
		return errors.KindInvalidParameter.WithMessage("block range out of bounds")
	}
	return nil
}

func (c *BlockCache) slice(start, count uint) []byte {
	from := start * c.bytesPerBlock
	to := from + count*c.bytesPerBlock
	return c.data[from:to]
}

func (c *BlockCache) loadRange(start, count uint) error {
	for i := start; i < start+count; i++ {
		if c.loaded.Get(int(i)) {
			continue
		}
		buf := c.slice(i, 1)
		if err := c.fetch(i, buf); err != nil {
			return errors.KindDiskErr.WrapError(err)
		}
		c.loaded.Set(int(i), true)
		c.dirty.Set(int(i), false)
	}
	return nil
}

// FlushRange writes out every dirty block in [start, start+count) and marks
// them clean.
func (c *BlockCache) FlushRange(start, count uint) error {
	if err := c.checkBounds(start, count*c.bytesPerBlock); err != nil {
		return err
	}
	for i := start; i < start+count; i++ {
		if !c.dirty.Get(int(i)) {
			continue
		}
		if err := c.flush(i, c.slice(i, 1)); err != nil {
			return errors.KindDiskErr.WrapError(err)
		}
		c.dirty.Set(int(i), false)
	}
	return nil
}

// FlushAll flushes every dirty block.
func (c *BlockCache) FlushAll() error { return c.FlushRange(0, c.totalBlocks) }

// Read fills buffer starting at block start, loading any missing blocks
// first. buffer need not be a multiple of BytesPerBlock().
func (c *BlockCache) Read(start uint, buffer []byte) error {
	if err := c.checkBounds(start, uint(len(buffer))); err != nil {
		return err
	}
	blocks := c.sizeToBlocks(uint(len(buffer)))
	if err := c.loadRange(start, blocks); err != nil {
		return err
	}
	copy(buffer, c.slice(start, blocks))
	return nil
}

// Write copies buffer into the cache starting at block start, marking every
// touched block dirty. buffer need not be a multiple of BytesPerBlock().
func (c *BlockCache) Write(start uint, buffer []byte) error {
	if err := c.checkBounds(start, uint(len(buffer))); err != nil {
		return err
	}
	blocks := c.sizeToBlocks(uint(len(buffer)))
	copy(c.slice(start, blocks), buffer)
	for i := start; i < start+blocks; i++ {
		c.loaded.Set(int(i), true)
		c.dirty.Set(int(i), true)
	}
	return nil
}

// Resize grows or shrinks the cache, adding/removing blocks at the end. New
// blocks are unloaded and clean.
func (c *BlockCache) Resize(newTotalBlocks uint) {
	newData := make([]byte, newTotalBlocks*c.bytesPerBlock)
	copy(newData, c.data)

	newLoaded := bitmap.NewSlice(int(newTotalBlocks))
	newDirty := bitmap.NewSlice(int(newTotalBlocks))
	copy(newLoaded, c.loaded)
	copy(newDirty, c.dirty)

	c.data = newData
	c.loaded = newLoaded
	c.dirty = newDirty
	c.totalBlocks = newTotalBlocks
}
