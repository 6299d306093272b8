package btree

import (
	"github.com/rs/zerolog"

	"github.com/btree-file-index/btidx/pager"
)

// Tree is the disk-resident B-tree. It owns the header (root and next-free
// block index) and mediates every structural mutation. Nodes are reached
// exclusively through the page cache; any code path that can admit a page
// re-fetches the nodes it still needs by block index afterwards, because
// the cache holds only three pages.
type Tree struct {
	file  *pager.BlockFile
	cache *nodeCache
	hdr   header
	log   zerolog.Logger
}

// Create makes a brand-new index file with an empty tree. It fails with
// pager.ErrExists when the path is already present.
func Create(path string, log zerolog.Logger) (*Tree, error) {
	file, err := pager.Create(path)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		file:  file,
		cache: newNodeCache(file, log),
		hdr:   header{rootBlock: 0, nextBlock: 1},
		log:   log,
	}
	if err := t.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return t, nil
}

// Open loads the header of an existing index file. It fails with
// pager.ErrMissing when the path is absent and ErrBadMagic when block 0
// does not start with the index magic.
func Open(path string, log zerolog.Logger) (*Tree, error) {
	file, err := pager.Open(path)
	if err != nil {
		return nil, err
	}
	b, err := file.ReadBlock(0)
	if err != nil {
		file.Close()
		return nil, err
	}
	hdr, err := decodeHeader(b)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Tree{file: file, cache: newNodeCache(file, log), hdr: hdr, log: log}, nil
}

// Close flushes every dirty page, rewrites the header, and closes the
// file. All three steps are required for the on-disk image to be
// consistent.
func (t *Tree) Close() error {
	if err := t.cache.flushAll(); err != nil {
		return err
	}
	if err := t.writeHeader(); err != nil {
		return err
	}
	return t.file.Close()
}

// Search returns the value stored under key, or ErrNotFound.
func (t *Tree) Search(key uint64) (uint64, error) {
	if t.hdr.rootBlock == 0 {
		return 0, ErrNotFound
	}
	blockID := t.hdr.rootBlock
	for {
		n, err := t.cache.get(blockID)
		if err != nil {
			return 0, err
		}
		i := 0
		for i < n.numKeys && key > n.keys[i] {
			i++
		}
		if i < n.numKeys && n.keys[i] == key {
			return n.values[i], nil
		}
		// A zero child slot means we ran out of tree: in a leaf every
		// slot is zero, and block 0 is the header so 0 is never a node.
		if n.children[i] == 0 {
			return 0, ErrNotFound
		}
		blockID = n.children[i]
	}
}

// Insert stores the pair under key. Keys are unique: inserting a key that
// is already present fails with ErrDupKey and leaves every stored pair
// unchanged. Nodes split on the way down before the duplicate was found
// stay split.
func (t *Tree) Insert(key, value uint64) error {
	if t.hdr.rootBlock == 0 {
		rootID := t.allocBlock()
		root, err := t.cache.allocate(rootID, 0)
		if err != nil {
			return err
		}
		root.numKeys = 1
		root.keys[0] = key
		root.values[0] = value
		root.dirty = true
		t.hdr.rootBlock = rootID
		return nil
	}

	root, err := t.cache.get(t.hdr.rootBlock)
	if err != nil {
		return err
	}
	if root.numKeys < maxKeys {
		return t.insertNonFull(t.hdr.rootBlock, key, value)
	}

	// Full root: grow the tree by one level, then split the old root as
	// child 0 of the new one. The new root is non-full by construction.
	oldRootID := t.hdr.rootBlock
	newRootID := t.allocBlock()
	newRoot, err := t.cache.allocate(newRootID, 0)
	if err != nil {
		return err
	}
	newRoot.children[0] = oldRootID
	newRoot.dirty = true
	old, err := t.cache.get(oldRootID)
	if err != nil {
		return err
	}
	old.parentID = newRootID
	old.dirty = true
	t.hdr.rootBlock = newRootID
	t.log.Debug().Uint64("old_root", oldRootID).Uint64("new_root", newRootID).Msg("root split")
	if err := t.splitChild(newRootID, 0); err != nil {
		return err
	}
	return t.insertNonFull(newRootID, key, value)
}

// Traverse walks the tree in key order and calls visit once per stored
// pair. A non-nil error from visit aborts the walk.
func (t *Tree) Traverse(visit func(key, value uint64) error) error {
	if t.hdr.rootBlock == 0 {
		return nil
	}
	return t.traverseNode(t.hdr.rootBlock, visit)
}

// allocBlock hands out the next block index. Indices are never reused.
func (t *Tree) allocBlock() uint64 {
	id := t.hdr.nextBlock
	t.hdr.nextBlock++
	return id
}

func (t *Tree) writeHeader() error {
	return t.file.WriteBlock(0, t.hdr.encode())
}

// splitChild splits the full child at position i of the node in
// parentBlock. The child's median pair is promoted into the parent and a
// new sibling block takes the child's upper half. The parent must be
// non-full.
func (t *Tree) splitChild(parentBlock uint64, i int) error {
	parent, err := t.cache.get(parentBlock)
	if err != nil {
		return err
	}
	oldID := parent.children[i]
	old, err := t.cache.get(oldID)
	if err != nil {
		return err
	}
	oldLeaf := old.leaf()

	sibID := t.allocBlock()
	sib, err := t.cache.allocate(sibID, parentBlock)
	if err != nil {
		return err
	}
	// Admitting the sibling may have evicted either page; re-fetch both.
	// The cache holds exactly three pages, so parent, old and sibling are
	// now all resident.
	if old, err = t.cache.get(oldID); err != nil {
		return err
	}
	if parent, err = t.cache.get(parentBlock); err != nil {
		return err
	}

	// Upper half of the old child moves into the sibling.
	const mid = Degree - 1
	sib.numKeys = maxKeys - Degree
	for j := 0; j < sib.numKeys; j++ {
		sib.keys[j] = old.keys[j+Degree]
		sib.values[j] = old.values[j+Degree]
	}
	if !oldLeaf {
		for j := 0; j <= sib.numKeys; j++ {
			sib.children[j] = old.children[j+Degree]
		}
	}

	// Median pair moves up into the parent at position i.
	for j := parent.numKeys; j > i; j-- {
		parent.children[j+1] = parent.children[j]
	}
	parent.children[i+1] = sibID
	for j := parent.numKeys - 1; j >= i; j-- {
		parent.keys[j+1] = parent.keys[j]
		parent.values[j+1] = parent.values[j]
	}
	parent.keys[i] = old.keys[mid]
	parent.values[i] = old.values[mid]
	parent.numKeys++

	// Zero the vacated slots so "zero = unused" keeps holding.
	for j := mid; j < maxKeys; j++ {
		old.keys[j] = 0
		old.values[j] = 0
	}
	if !oldLeaf {
		for j := Degree; j < maxChildren; j++ {
			old.children[j] = 0
		}
	}
	old.numKeys = mid

	parent.dirty = true
	old.dirty = true
	sib.dirty = true

	// The moved children now hang off the sibling. Fetching them can evict
	// the three pages above; they are dirty, so eviction writes them back.
	if !oldLeaf {
		moved, count := sib.children, sib.numKeys
		for j := 0; j <= count; j++ {
			c, err := t.cache.get(moved[j])
			if err != nil {
				return err
			}
			c.parentID = sibID
			c.dirty = true
		}
	}
	t.log.Debug().Uint64("child", oldID).Uint64("sibling", sibID).Uint64("parent", parentBlock).Msg("split child")
	return nil
}

// insertNonFull inserts into the subtree rooted at blockID, whose node is
// known to have room. Full children are split before descending so a
// promotion never has to bubble back up.
func (t *Tree) insertNonFull(blockID uint64, key, value uint64) error {
	n, err := t.cache.get(blockID)
	if err != nil {
		return err
	}
	i := 0
	for i < n.numKeys && key > n.keys[i] {
		i++
	}
	if i < n.numKeys && n.keys[i] == key {
		return ErrDupKey
	}

	if n.leaf() {
		for j := n.numKeys; j > i; j-- {
			n.keys[j] = n.keys[j-1]
			n.values[j] = n.values[j-1]
		}
		n.keys[i] = key
		n.values[i] = value
		n.numKeys++
		n.dirty = true
		return nil
	}

	childID := n.children[i]
	child, err := t.cache.get(childID)
	if err != nil {
		return err
	}
	if child.numKeys == maxKeys {
		if err := t.splitChild(blockID, i); err != nil {
			return err
		}
		// The split changed this node; any earlier view of it or of the
		// child is stale.
		if n, err = t.cache.get(blockID); err != nil {
			return err
		}
		if key == n.keys[i] {
			return ErrDupKey
		}
		if key > n.keys[i] {
			i++
		}
		childID = n.children[i]
	}
	return t.insertNonFull(childID, key, value)
}

func (t *Tree) traverseNode(blockID uint64, visit func(uint64, uint64) error) error {
	n, err := t.cache.get(blockID)
	if err != nil {
		return err
	}
	count := n.numKeys
	for i := 0; i < count; i++ {
		// The recursion below can evict this page; re-fetch and copy the
		// slot out before descending.
		if n, err = t.cache.get(blockID); err != nil {
			return err
		}
		key, value, child := n.keys[i], n.values[i], n.children[i]
		if child != 0 {
			if err := t.traverseNode(child, visit); err != nil {
				return err
			}
		}
		if err := visit(key, value); err != nil {
			return err
		}
	}
	if n, err = t.cache.get(blockID); err != nil {
		return err
	}
	if c := n.children[count]; c != 0 {
		return t.traverseNode(c, visit)
	}
	return nil
}
