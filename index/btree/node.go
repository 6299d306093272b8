// Package btree implements the disk-resident B-tree behind the index file.
//
// File layout (all integers big-endian uint64):
//
//	block 0 (header):
//	  [0..7]    magic "4348PRJ3"
//	  [8..15]   root block index (0 = empty tree)
//	  [16..23]  next free block index (initially 1)
//	  [24..511] reserved, zero
//
//	block N>0 (node):
//	  [0..7]    own block index
//	  [8..15]   parent block index (0 for the root)
//	  [16..23]  key count n, 0 <= n <= 19
//	  [24..]    19 keys, 19 values, 20 child block indices
//	  [488..511] reserved, zero
//
// A node is a leaf iff all of its child slots are zero; block 0 is the
// header, so 0 doubles as the "no child" sentinel. Unused key, value and
// child slots are zero.
package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btree-file-index/btidx/pager"
)

const (
	// Degree is the minimum degree T of the tree.
	Degree = 10

	maxKeys     = 2*Degree - 1 // 19
	maxChildren = 2 * Degree   // 20
	minKeys     = Degree - 1   // 9, for every node except the root
)

// Magic identifies an index file. It occupies the first 8 bytes of block 0.
const Magic = "4348PRJ3"

var (
	// ErrBadMagic means block 0 does not carry the index file magic.
	ErrBadMagic = errors.New("btree: invalid magic")
	// ErrCorrupt means a node block failed structural validation.
	ErrCorrupt = errors.New("btree: corrupt node")
	// ErrNotFound is returned by Search for an absent key.
	ErrNotFound = errors.New("btree: key not found")
	// ErrDupKey is returned by Insert when the key is already present.
	ErrDupKey = errors.New("btree: duplicate key")
)

// header is the in-memory image of block 0. It is loaded at open, mutated
// in memory, and written back on close.
type header struct {
	rootBlock uint64 // 0 while the tree is empty
	nextBlock uint64 // next block index to hand out, never reused
}

func decodeHeader(b *pager.Block) (header, error) {
	if !bytes.Equal(b[0:8], []byte(Magic)) {
		return header{}, ErrBadMagic
	}
	return header{
		rootBlock: binary.BigEndian.Uint64(b[8:16]),
		nextBlock: binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

func (h header) encode() *pager.Block {
	b := new(pager.Block)
	copy(b[0:8], Magic)
	binary.BigEndian.PutUint64(b[8:16], h.rootBlock)
	binary.BigEndian.PutUint64(b[16:24], h.nextBlock)
	return b
}

// node is the decoded image of one non-header block. Child and parent
// links are block indices, never in-memory references.
type node struct {
	blockID  uint64
	parentID uint64
	numKeys  int
	keys     [maxKeys]uint64
	values   [maxKeys]uint64
	children [maxChildren]uint64
	dirty    bool
}

func decodeNode(b *pager.Block) (*node, error) {
	n := &node{
		blockID:  binary.BigEndian.Uint64(b[0:8]),
		parentID: binary.BigEndian.Uint64(b[8:16]),
	}
	count := binary.BigEndian.Uint64(b[16:24])
	if count > maxKeys {
		return nil, fmt.Errorf("%w: block %d claims %d keys", ErrCorrupt, n.blockID, count)
	}
	n.numKeys = int(count)
	off := 24
	for i := 0; i < maxKeys; i++ {
		n.keys[i] = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
	}
	for i := 0; i < maxKeys; i++ {
		n.values[i] = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
	}
	for i := 0; i < maxChildren; i++ {
		n.children[i] = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
	}
	return n, nil
}

func (n *node) encode() *pager.Block {
	b := new(pager.Block)
	binary.BigEndian.PutUint64(b[0:8], n.blockID)
	binary.BigEndian.PutUint64(b[8:16], n.parentID)
	binary.BigEndian.PutUint64(b[16:24], uint64(n.numKeys))
	off := 24
	for i := 0; i < maxKeys; i++ {
		binary.BigEndian.PutUint64(b[off:off+8], n.keys[i])
		off += 8
	}
	for i := 0; i < maxKeys; i++ {
		binary.BigEndian.PutUint64(b[off:off+8], n.values[i])
		off += 8
	}
	for i := 0; i < maxChildren; i++ {
		binary.BigEndian.PutUint64(b[off:off+8], n.children[i])
		off += 8
	}
	return b
}

// leaf reports whether the node has no children. Only the child slots up
// to numKeys are meaningful; the rest are zero by invariant.
func (n *node) leaf() bool {
	for i := 0; i <= n.numKeys; i++ {
		if n.children[i] != 0 {
			return false
		}
	}
	return true
}
