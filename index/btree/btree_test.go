package btree

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btree-file-index/btidx/pager"
)

func newTestTree(t *testing.T) (*Tree, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.idx")
	tree, err := Create(path, zerolog.Nop())
	require.NoError(t, err)
	return tree, path
}

func readNodeAt(t *testing.T, bf *pager.BlockFile, id uint64) *node {
	t.Helper()
	b, err := bf.ReadBlock(id)
	require.NoError(t, err)
	n, err := decodeNode(b)
	require.NoError(t, err)
	return n
}

// checkInvariants opens the closed index file directly and verifies every
// structural property of the tree: occupancy bounds, strict key order,
// key-range containment, the nonzero-child prefix, zeroed unused slots,
// parent links, and that the header's next block is one past the highest
// reachable block.
func checkInvariants(t *testing.T, path string) {
	t.Helper()
	bf, err := pager.Open(path)
	require.NoError(t, err)
	defer bf.Close()

	b, err := bf.ReadBlock(0)
	require.NoError(t, err)
	hdr, err := decodeHeader(b)
	require.NoError(t, err)

	if hdr.rootBlock == 0 {
		assert.Equal(t, uint64(1), hdr.nextBlock)
		return
	}

	maxSeen := uint64(0)
	var walk func(id, parent uint64, isRoot bool, lo, hi *uint64)
	walk = func(id, parent uint64, isRoot bool, lo, hi *uint64) {
		if id > maxSeen {
			maxSeen = id
		}
		n := readNodeAt(t, bf, id)
		assert.Equal(t, id, n.blockID, "stored block index")
		assert.Equal(t, parent, n.parentID, "parent link of block %d", id)

		if isRoot {
			assert.GreaterOrEqual(t, n.numKeys, 1, "root occupancy")
		} else {
			assert.GreaterOrEqual(t, n.numKeys, minKeys, "occupancy of block %d", id)
		}
		assert.LessOrEqual(t, n.numKeys, maxKeys)

		for i := 0; i < n.numKeys; i++ {
			if i > 0 {
				assert.Less(t, n.keys[i-1], n.keys[i], "key order in block %d", id)
			}
			if lo != nil {
				assert.Greater(t, n.keys[i], *lo, "lower bound in block %d", id)
			}
			if hi != nil {
				assert.Less(t, n.keys[i], *hi, "upper bound in block %d", id)
			}
		}
		for i := n.numKeys; i < maxKeys; i++ {
			assert.Zero(t, n.keys[i], "unused key slot in block %d", id)
			assert.Zero(t, n.values[i], "unused value slot in block %d", id)
		}

		if n.leaf() {
			return
		}
		for i := 0; i <= n.numKeys; i++ {
			assert.NotZero(t, n.children[i], "child slot %d of internal block %d", i, id)
		}
		for i := n.numKeys + 1; i < maxChildren; i++ {
			assert.Zero(t, n.children[i], "unused child slot in block %d", id)
		}
		for i := 0; i <= n.numKeys; i++ {
			clo, chi := lo, hi
			if i > 0 {
				k := n.keys[i-1]
				clo = &k
			}
			if i < n.numKeys {
				k := n.keys[i]
				chi = &k
			}
			walk(n.children[i], id, false, clo, chi)
		}
	}
	walk(hdr.rootBlock, 0, true, nil, nil)
	assert.Equal(t, maxSeen+1, hdr.nextBlock, "next block index")
}

func collect(t *testing.T, tree *Tree) (keys, values []uint64) {
	t.Helper()
	require.NoError(t, tree.Traverse(func(k, v uint64) error {
		keys = append(keys, k)
		values = append(values, v)
		return nil
	}))
	return keys, values
}

func TestEmptyTree(t *testing.T) {
	tree, path := newTestTree(t)

	_, err := tree.Search(5)
	assert.ErrorIs(t, err, ErrNotFound)

	keys, _ := collect(t, tree)
	assert.Empty(t, keys)

	require.NoError(t, tree.Close())
	checkInvariants(t, path)
}

func TestInsertAndSearch(t *testing.T) {
	tree, path := newTestTree(t)

	require.NoError(t, tree.Insert(5, 50))
	v, err := tree.Search(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), v)

	_, err = tree.Search(6)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tree.Close())
	checkInvariants(t, path)
}

func TestTraversalOrder(t *testing.T) {
	tree, path := newTestTree(t)

	pairs := [][2]uint64{{10, 1}, {20, 2}, {5, 3}, {6, 4}, {12, 5}}
	for _, p := range pairs {
		require.NoError(t, tree.Insert(p[0], p[1]))
	}

	keys, values := collect(t, tree)
	assert.Equal(t, []uint64{5, 6, 10, 12, 20}, keys)
	assert.Equal(t, []uint64{3, 4, 1, 5, 2}, values)

	require.NoError(t, tree.Close())
	checkInvariants(t, path)
}

func TestDuplicateInsertRejected(t *testing.T) {
	tree, path := newTestTree(t)

	require.NoError(t, tree.Insert(7, 70))
	err := tree.Insert(7, 71)
	assert.ErrorIs(t, err, ErrDupKey)

	v, err := tree.Search(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), v, "rejected insert must not change the stored value")

	// The same holds once the tree has real depth.
	for k := uint64(100); k < 200; k++ {
		require.NoError(t, tree.Insert(k, k))
	}
	assert.ErrorIs(t, tree.Insert(150, 0), ErrDupKey)
	v, err = tree.Search(150)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), v)

	require.NoError(t, tree.Close())
	checkInvariants(t, path)
}

func TestRootSplitOnTwentiethInsert(t *testing.T) {
	tree, path := newTestTree(t)

	for k := uint64(1); k <= 19; k++ {
		require.NoError(t, tree.Insert(k, k*10))
	}
	require.NoError(t, tree.Insert(20, 200))
	require.NoError(t, tree.Close())

	bf, err := pager.Open(path)
	require.NoError(t, err)
	defer bf.Close()

	b, err := bf.ReadBlock(0)
	require.NoError(t, err)
	hdr, err := decodeHeader(b)
	require.NoError(t, err)

	root := readNodeAt(t, bf, hdr.rootBlock)
	require.Equal(t, 1, root.numKeys, "root key count after the split")
	assert.Equal(t, uint64(10), root.keys[0], "promoted median")
	assert.False(t, root.leaf())

	left := readNodeAt(t, bf, root.children[0])
	right := readNodeAt(t, bf, root.children[1])
	assert.Equal(t, 9, left.numKeys)
	assert.True(t, left.leaf())
	assert.Equal(t, 10, right.numKeys, "key 20 lands in the right half")
	assert.True(t, right.leaf())

	checkInvariants(t, path)
}

func TestMonotonicInsertTwoHundred(t *testing.T) {
	tree, path := newTestTree(t)

	for k := uint64(1); k <= 200; k++ {
		require.NoError(t, tree.Insert(k, k+1000))
	}

	keys, values := collect(t, tree)
	require.Len(t, keys, 200)
	for i, k := range keys {
		assert.Equal(t, uint64(i+1), k)
		assert.Equal(t, k+1000, values[i])
	}

	require.NoError(t, tree.Close())
	checkInvariants(t, path)
}

func TestRandomInsertInvariants(t *testing.T) {
	tree, path := newTestTree(t)

	const count = 500
	rng := rand.New(rand.NewSource(42))
	perm := rng.Perm(count)
	for _, p := range perm {
		k := uint64(p + 1)
		require.NoError(t, tree.Insert(k, k*3))
	}

	for k := uint64(1); k <= count; k++ {
		v, err := tree.Search(k)
		require.NoError(t, err, "key %d", k)
		assert.Equal(t, k*3, v)
	}

	keys, _ := collect(t, tree)
	require.Len(t, keys, count)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}

	require.NoError(t, tree.Close())
	checkInvariants(t, path)
}

func TestReopenSeesSameState(t *testing.T) {
	tree, path := newTestTree(t)

	rng := rand.New(rand.NewSource(7))
	inserted := make(map[uint64]uint64)
	for len(inserted) < 300 {
		k := uint64(rng.Intn(10_000)) + 1
		if _, ok := inserted[k]; ok {
			continue
		}
		inserted[k] = k ^ 0xABCD
		require.NoError(t, tree.Insert(k, k^0xABCD))
	}
	before, _ := collect(t, tree)
	require.NoError(t, tree.Close())

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	after, _ := collect(t, reopened)
	assert.Equal(t, before, after)

	for k, v := range inserted {
		got, err := reopened.Search(k)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestOpenRejectsCorruptMagic(t *testing.T) {
	tree, path := newTestTree(t)
	require.NoError(t, tree.Insert(1, 1))
	require.NoError(t, tree.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = Open(path, zerolog.Nop())
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestCreateRefusesExistingFile(t *testing.T) {
	tree, path := newTestTree(t)
	require.NoError(t, tree.Close())

	_, err := Create(path, zerolog.Nop())
	assert.ErrorIs(t, err, pager.ErrExists)
}

func TestInsertAcrossReopens(t *testing.T) {
	tree, path := newTestTree(t)
	for k := uint64(1); k <= 50; k++ {
		require.NoError(t, tree.Insert(k, k))
	}
	require.NoError(t, tree.Close())

	tree, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	for k := uint64(51); k <= 100; k++ {
		require.NoError(t, tree.Insert(k, k))
	}
	require.NoError(t, tree.Close())

	tree, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	keys, _ := collect(t, tree)
	require.Len(t, keys, 100)
	for i, k := range keys {
		assert.Equal(t, uint64(i+1), k)
	}
	require.NoError(t, tree.Close())
	checkInvariants(t, path)
}
