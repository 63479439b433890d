package btree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPropertyRandomizedInsertDeleteStaysConsistent drives a tree through a
// long randomized sequence of inserts and deletes against a plain map
// oracle, checking after every batch that Get/RangeScan agree with the
// oracle and that the tree's own structural invariants still hold.
func TestPropertyRandomizedInsertDeleteStaysConsistent(t *testing.T) {
	tr := newTestTree(t, 512)
	rng := rand.New(rand.NewSource(42))

	oracle := make(map[int][]byte)
	const universe = 400

	for batch := 0; batch < 20; batch++ {
		for op := 0; op < 50; op++ {
			n := rng.Intn(universe)
			if rng.Intn(3) == 0 {
				if _, ok := oracle[n]; ok {
					require.NoError(t, tr.Delete(seqKey(n)))
					delete(oracle, n)
				}
			} else if _, ok := oracle[n]; !ok {
				// Insert keeps duplicates rather than overwriting, so
				// only absent keys are inserted to keep the map oracle exact.
				require.NoError(t, tr.Insert(seqKey(n), val(n)))
				oracle[n] = val(n)
			}
		}

		for n, want := range oracle {
			got, err := tr.Get(seqKey(n))
			require.NoError(t, err, "key %d", n)
			assert.Equal(t, want, got)
		}

		report, err := tr.ValidateIndex(nil)
		require.NoError(t, err)
		assert.True(t, report.OK, "batch %d: problems: %v", batch, report.Problems)
	}

	kvs, err := tr.RangeScan(nil, nil)
	require.NoError(t, err)

	var wantKeys []int
	for n := range oracle {
		wantKeys = append(wantKeys, n)
	}
	sort.Ints(wantKeys)

	require.Len(t, kvs, len(wantKeys))
	for i, n := range wantKeys {
		assert.Equal(t, seqKey(n), kvs[i].Key)
		assert.Equal(t, oracle[n], kvs[i].Value)
	}
}

// TestPropertyRangeScanMatchesSortedOracle checks RangeScan's boundary
// semantics (inclusive on both ends) against a sorted slice oracle for an
// assortment of sub-ranges once the tree has grown past a single leaf.
func TestPropertyRangeScanMatchesSortedOracle(t *testing.T) {
	tr := newTestTree(t, 256)

	const n = 300
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(seqKey(i), val(i)))
	}

	cases := []struct{ lo, hi int }{
		{0, 0}, {0, n - 1}, {150, 160}, {n - 5, n - 1}, {37, 37},
	}
	for _, c := range cases {
		kvs, err := tr.RangeScan(seqKey(c.lo), seqKey(c.hi))
		require.NoError(t, err)
		require.Len(t, kvs, c.hi-c.lo+1)
		for i, kv := range kvs {
			assert.Equal(t, seqKey(c.lo+i), kv.Key)
		}
	}
}
