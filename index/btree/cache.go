package btree

import (
	"github.com/rs/zerolog"

	"github.com/btree-file-index/btidx/pager"
)

// cacheSlots is the fixed number of decoded node pages kept in memory.
// The bound is part of the tree's contract: every operation must stay
// correct when any page it is not actively holding gets evicted. Do not
// raise it.
const cacheSlots = 3

// nodeCache is a write-back LRU cache of decoded nodes keyed by block
// index. Pages loaded from disk start clean; pages created through
// allocate, or mutated by the tree, are dirty and are written back when
// evicted or flushed.
type nodeCache struct {
	file  *pager.BlockFile
	items map[uint64]*cacheEntry
	head  *cacheEntry // most recently used
	tail  *cacheEntry // least recently used
	log   zerolog.Logger
}

type cacheEntry struct {
	node *node
	prev *cacheEntry
	next *cacheEntry
}

func newNodeCache(file *pager.BlockFile, log zerolog.Logger) *nodeCache {
	return &nodeCache{
		file:  file,
		items: make(map[uint64]*cacheEntry, cacheSlots),
		log:   log,
	}
}

// get returns the node stored in the given block, reading it from disk on
// a miss. The node is moved to the front of the LRU order either way.
func (c *nodeCache) get(blockID uint64) (*node, error) {
	if e, ok := c.items[blockID]; ok {
		c.moveToFront(e)
		return e.node, nil
	}
	if err := c.evictIfFull(); err != nil {
		return nil, err
	}
	b, err := c.file.ReadBlock(blockID)
	if err != nil {
		return nil, err
	}
	n, err := decodeNode(b)
	if err != nil {
		return nil, err
	}
	c.insert(n)
	return n, nil
}

// allocate admits a freshly zeroed node for a block that has never been
// written. The node starts dirty so it reaches disk even if it is never
// touched again.
func (c *nodeCache) allocate(blockID, parentID uint64) (*node, error) {
	if err := c.evictIfFull(); err != nil {
		return nil, err
	}
	n := &node{blockID: blockID, parentID: parentID, dirty: true}
	c.insert(n)
	return n, nil
}

// flushAll writes every dirty resident page back through the block store.
// Residency and LRU order are unchanged.
func (c *nodeCache) flushAll() error {
	for _, e := range c.items {
		if !e.node.dirty {
			continue
		}
		if err := c.file.WriteBlock(e.node.blockID, e.node.encode()); err != nil {
			return err
		}
		e.node.dirty = false
	}
	return nil
}

// evictIfFull makes room for one more page, writing back the LRU victim
// first when it is dirty. The victim's in-memory state is discarded.
func (c *nodeCache) evictIfFull() error {
	for len(c.items) >= cacheSlots {
		victim := c.tail.node
		if victim.dirty {
			if err := c.file.WriteBlock(victim.blockID, victim.encode()); err != nil {
				return err
			}
		}
		c.log.Debug().Uint64("block", victim.blockID).Bool("dirty", victim.dirty).Msg("evict page")
		c.remove(c.tail)
	}
	return nil
}

func (c *nodeCache) insert(n *node) {
	e := &cacheEntry{node: n}
	c.items[n.blockID] = e
	c.pushFront(e)
}

func (c *nodeCache) pushFront(e *cacheEntry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *nodeCache) moveToFront(e *cacheEntry) {
	if c.head == e {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if c.tail == e {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
}

func (c *nodeCache) remove(e *cacheEntry) {
	delete(c.items, e.node.blockID)
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}
