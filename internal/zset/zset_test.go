package zset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matteso1/zindex/internal/hashindex"
)

func newSet() *SortedSet {
	return New(DefaultConfig())
}

// Scenario: three members queried from the lowest possible key.
func TestSortedSet_RangeFromMinimum(t *testing.T) {
	z := newSet()
	assert.True(t, z.Add([]byte("alice"), 3.5))
	assert.True(t, z.Add([]byte("bob"), 1.0))
	assert.True(t, z.Add([]byte("carol"), 2.0))

	m, ok := z.RangeQuery(math.Inf(-1), nil, 0)
	require.True(t, ok)
	assert.Equal(t, Member{Name: "bob", Score: 1.0}, m)

	m, ok = z.RangeQuery(math.Inf(-1), nil, 2)
	require.True(t, ok)
	assert.Equal(t, "alice", m.Name)

	_, ok = z.RangeQuery(math.Inf(-1), nil, 3)
	assert.False(t, ok)
	_, ok = z.RangeQuery(math.Inf(-1), nil, -1)
	assert.False(t, ok)
}

func TestSortedSet_RemoveShrinksSet(t *testing.T) {
	z := newSet()
	z.Add([]byte("alice"), 3.5)
	z.Add([]byte("bob"), 1.0)
	z.Add([]byte("carol"), 2.0)
	require.Equal(t, 3, z.Len())

	m, ok := z.Remove([]byte("bob"))
	require.True(t, ok)
	assert.Equal(t, Member{Name: "bob", Score: 1.0}, m)

	_, ok = z.Lookup([]byte("bob"))
	assert.False(t, ok)
	assert.Equal(t, 2, z.Len())

	_, ok = z.Remove([]byte("bob"))
	assert.False(t, ok)
	assert.Equal(t, 2, z.Len())
	require.NoError(t, z.Validate())
}

func TestSortedSet_UpdateKeepsOneEntry(t *testing.T) {
	z := newSet()
	assert.True(t, z.Add([]byte("x"), 1.0))
	assert.False(t, z.Add([]byte("x"), 9.0))

	assert.Equal(t, 1, z.Len())
	m, ok := z.Lookup([]byte("x"))
	require.True(t, ok)
	assert.Equal(t, 9.0, m.Score)

	all := z.Range(math.Inf(-1), nil, 0, 10)
	assert.Equal(t, []Member{{Name: "x", Score: 9.0}}, all)
	require.NoError(t, z.Validate())
}

func TestSortedSet_DisposeReleasesEverything(t *testing.T) {
	z := newSet()
	for i := 0; i < 1000; i++ {
		z.Add([]byte(fmt.Sprintf("member-%04d", i)), float64(i%17))
	}
	require.Equal(t, 1000, z.Len())
	require.Positive(t, z.NameBytes())

	z.Dispose()

	assert.Equal(t, 0, z.Len())
	assert.Equal(t, 0, z.NameBytes())
	assert.Equal(t, 0, z.Slots())
	assert.Panics(t, func() { z.Add([]byte("late"), 1) })
	assert.Panics(t, func() { z.Lookup([]byte("member-0001")) })
	assert.Panics(t, func() { z.Dispose() })
}

func TestSortedSet_RemoveReleasesNameBytes(t *testing.T) {
	z := newSet()
	z.Add([]byte("abc"), 1)
	z.Add([]byte("de"), 2)
	assert.Equal(t, 5, z.NameBytes())

	z.Remove([]byte("abc"))
	assert.Equal(t, 2, z.NameBytes())
	z.Remove([]byte("de"))
	assert.Equal(t, 0, z.NameBytes())
}

func TestSortedSet_TieBreakByName(t *testing.T) {
	z := newSet()
	for _, n := range []string{"d", "b", "a", "c", "ab"} {
		z.Add([]byte(n), 5)
	}
	z.Add([]byte("z"), 1)

	var names []string
	for _, m := range z.Range(math.Inf(-1), nil, 0, 100) {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"z", "a", "ab", "b", "c", "d"}, names)

	m, ok := z.RangeQuery(5, []byte("abc"), 0)
	require.True(t, ok)
	assert.Equal(t, "b", m.Name)

	m, ok = z.RangeQuery(5, []byte("abc"), -2)
	require.True(t, ok)
	assert.Equal(t, "a", m.Name)
}

func TestSortedSet_RangeQueryPastEnd(t *testing.T) {
	z := newSet()
	z.Add([]byte("a"), 1)
	z.Add([]byte("b"), 2)

	// Nothing is at or after (3, ""), so even a negative offset finds nothing.
	_, ok := z.RangeQuery(3, nil, -1)
	assert.False(t, ok)

	assert.Empty(t, z.Range(3, nil, 0, 10))
	assert.Empty(t, z.Range(0, nil, 0, 0))
	assert.Equal(t, []Member{{Name: "b", Score: 2}}, z.Range(0, nil, 1, 10))
}

func TestSortedSet_EmptyNameAndBinaryNames(t *testing.T) {
	z := newSet()
	assert.True(t, z.Add([]byte{}, 1))
	assert.True(t, z.Add([]byte{0x00, 0xff}, 1))
	assert.False(t, z.Add(nil, 2))

	m, ok := z.Lookup(nil)
	require.True(t, ok)
	assert.Equal(t, 2.0, m.Score)
	m, ok = z.Lookup([]byte{0x00, 0xff})
	require.True(t, ok)
	assert.Equal(t, "\x00\xff", m.Name)
	require.NoError(t, z.Validate())
}

func TestSortedSet_AddCopiesName(t *testing.T) {
	z := newSet()
	name := []byte("mutable")
	z.Add(name, 1)
	name[0] = 'M'

	_, ok := z.Lookup([]byte("mutable"))
	assert.True(t, ok)
	require.NoError(t, z.Validate())
}

func TestSortedSet_NaNScorePanics(t *testing.T) {
	z := newSet()
	assert.Panics(t, func() { z.Add([]byte("n"), math.NaN()) })
	assert.Equal(t, 0, z.Len())
}

func TestSortedSet_Rank(t *testing.T) {
	z := newSet()
	for i := 0; i < 50; i++ {
		z.Add([]byte(fmt.Sprintf("m%02d", i)), float64(50-i))
	}

	rank, ok := z.Rank([]byte("m49"))
	require.True(t, ok)
	assert.Equal(t, int64(0), rank)
	rank, ok = z.Rank([]byte("m00"))
	require.True(t, ok)
	assert.Equal(t, int64(49), rank)

	_, ok = z.Rank([]byte("nope"))
	assert.False(t, ok)
}

func TestSortedSet_CollidingHasher(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hasher = func([]byte) uint64 { return 42 }
	z := New(cfg)

	for i := 0; i < 100; i++ {
		z.Add([]byte(fmt.Sprintf("k%d", i)), float64(i))
	}
	for i := 0; i < 100; i += 3 {
		_, ok := z.Remove([]byte(fmt.Sprintf("k%d", i)))
		require.True(t, ok)
	}
	require.NoError(t, z.Validate())
	assert.Equal(t, 66, z.Len())
}

// Random operations against a map-backed model. Checks balance, size, and
// ordering invariants and that the indexes never diverge.
func TestSortedSet_RandomOperationsMatchModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cfg := DefaultConfig()
	cfg.Index = hashindex.Config{InitialCapacity: 4, MaxLoadFactor: 8, MigrationBatch: 4}
	z := New(cfg)
	model := make(map[string]float64)

	for step := 0; step < 20000; step++ {
		name := fmt.Sprintf("n%d", rng.Intn(1500))
		switch op := rng.Intn(10); {
		case op < 6:
			score := float64(rng.Intn(200)) / 4
			_, existed := model[name]
			assert.Equal(t, !existed, z.Add([]byte(name), score))
			model[name] = score
		case op < 9:
			_, existed := model[name]
			m, ok := z.Remove([]byte(name))
			assert.Equal(t, existed, ok)
			if ok {
				assert.Equal(t, model[name], m.Score)
			}
			delete(model, name)
		default:
			m, ok := z.Lookup([]byte(name))
			want, existed := model[name]
			assert.Equal(t, existed, ok)
			if ok {
				assert.Equal(t, want, m.Score)
			}
		}
		if step%500 == 0 {
			require.NoError(t, z.Validate(), "step %d", step)
		}
	}
	require.NoError(t, z.Validate())
	require.Equal(t, len(model), z.Len())

	want := make([]Member, 0, len(model))
	for n, s := range model {
		want = append(want, Member{Name: n, Score: s})
	}
	sort.Slice(want, func(i, j int) bool {
		if want[i].Score != want[j].Score {
			return want[i].Score < want[j].Score
		}
		return want[i].Name < want[j].Name
	})
	assert.Equal(t, want, z.Range(math.Inf(-1), nil, 0, int64(len(model)+1)))

	for i, m := range want {
		rank, ok := z.Rank([]byte(m.Name))
		require.True(t, ok)
		assert.Equal(t, int64(i), rank)
	}
}

func BenchmarkSortedSet_Add(b *testing.B) {
	z := newSet()
	names := make([][]byte, b.N)
	for i := range names {
		names[i] = []byte(fmt.Sprintf("member%010d", i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		z.Add(names[i], float64(i%1000))
	}
}

func BenchmarkSortedSet_RangeQuery(b *testing.B) {
	z := newSet()
	n := 100000
	for i := 0; i < n; i++ {
		z.Add([]byte(fmt.Sprintf("member%010d", i)), float64(i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		z.RangeQuery(float64(i%n), nil, 10)
	}
}
