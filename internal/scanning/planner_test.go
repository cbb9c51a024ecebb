package scanning

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertPermutation(t *testing.T, order []int, start, end int) {
	t.Helper()
	require.Len(t, order, end-start+1)
	seen := make(map[int]bool, len(order))
	for _, port := range order {
		require.GreaterOrEqual(t, port, start)
		require.LessOrEqual(t, port, end)
		require.False(t, seen[port], "port %d repeated", port)
		seen[port] = true
	}
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		out = append(out, p)
	}
	return out
}

func TestOrderIsPermutation(t *testing.T) {
	ranges := []struct {
		start, end int
	}{
		{1, 1},
		{5, 5},
		{1, 10},
		{1, 100},
		{20, 30},
		{1, 1024},
		{2990, 3310},
		{7990, 8100},
		{1, 25000},
	}
	traversals := []Traversal{TraversalSequential, TraversalBFS, TraversalDFS, TraversalAdaptive}

	planners := map[string]*Planner{
		"default hint":   NewPlanner(WithSeed(7)),
		"discovery hint": NewPlanner(WithSeed(7), WithDiscoveryHint(func() bool { return true })),
	}

	for name, planner := range planners {
		for _, traversal := range traversals {
			for _, r := range ranges {
				t.Run(name+"/"+string(traversal), func(t *testing.T) {
					assertPermutation(t, planner.Order(traversal, r.start, r.end), r.start, r.end)
				})
			}
		}
	}
}

func TestSequentialOrder(t *testing.T) {
	assert.Equal(t, seq(10, 20), NewPlanner().Order(TraversalSequential, 10, 20))
}

func TestUnknownTraversalFallsBackToSequential(t *testing.T) {
	assert.Equal(t, seq(1, 5), NewPlanner().Order(Traversal("zigzag"), 1, 5))
}

func TestPriorityScore(t *testing.T) {
	tests := []struct {
		port     int
		expected int
	}{
		{22, 10},
		{443, 10},
		{3306, 9},
		{9200, 9},
		{8080, 8},
		{3000, 8},
		{135, 7},
		{587, 6},
		{161, 5},
		{4000, 4},
		{389, 3},
		{11211, 3},
		{12345, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, PriorityScore(tt.port), "port %d", tt.port)
	}
}

func TestBFSOrder(t *testing.T) {
	t.Run("visits priority buckets from highest to lowest", func(t *testing.T) {
		order := NewPlanner(WithSeed(42)).Order(TraversalBFS, 1, 5000)
		for i := 1; i < len(order); i++ {
			assert.GreaterOrEqual(t, PriorityScore(order[i-1]), PriorityScore(order[i]),
				"port %d before %d", order[i-1], order[i])
		}
	})

	t.Run("same seed gives same order", func(t *testing.T) {
		a := NewPlanner(WithRand(rand.New(rand.NewPCG(1, 2)))).Order(TraversalBFS, 1, 1024)
		b := NewPlanner(WithRand(rand.New(rand.NewPCG(1, 2)))).Order(TraversalBFS, 1, 1024)
		assert.Equal(t, a, b)
	})

	t.Run("critical ports come first", func(t *testing.T) {
		order := NewPlanner(WithSeed(3)).Order(TraversalBFS, 1, 100)
		first := slices.Clone(order[:6])
		slices.Sort(first)
		assert.Equal(t, []int{21, 22, 23, 25, 53, 80}, first)
	})
}

func TestDFSOrder(t *testing.T) {
	t.Run("clusters first then remaining ports ascending", func(t *testing.T) {
		order := NewPlanner().Order(TraversalDFS, 1, 100)

		expected := []int{21, 22, 23, 25, 53, 80}
		for p := 1; p <= 100; p++ {
			if !slices.Contains([]int{21, 22, 23, 25, 53, 80}, p) {
				expected = append(expected, p)
			}
		}
		assert.Equal(t, expected, order)
	})

	t.Run("related ports follow their key port", func(t *testing.T) {
		order := NewPlanner().Order(TraversalDFS, 1, 9000)

		idx := slices.Index(order, 80)
		require.GreaterOrEqual(t, idx, 0)
		assert.Equal(t, []int{3000, 8000, 8443, 8080}, order[idx+1:idx+5])

		idx = slices.Index(order, 22)
		require.GreaterOrEqual(t, idx, 0)
		assert.Equal(t, 2222, order[idx+1])

		idx = slices.Index(order, 3306)
		require.GreaterOrEqual(t, idx, 0)
		assert.Equal(t, 3307, order[idx+1])
	})

	t.Run("related ports outside the range are skipped", func(t *testing.T) {
		order := NewPlanner().Order(TraversalDFS, 20, 90)
		idx := slices.Index(order, 80)
		require.GreaterOrEqual(t, idx, 0)
		assert.Equal(t, 20, order[idx+1])
	})
}

func TestAdaptiveOrder(t *testing.T) {
	t.Run("default hint visits critical ports then the rest", func(t *testing.T) {
		order := NewPlanner().Order(TraversalAdaptive, 1, 100)

		expected := []int{21, 22, 23, 25, 53, 80}
		for p := 1; p <= 100; p++ {
			if !slices.Contains([]int{21, 22, 23, 25, 53, 80}, p) {
				expected = append(expected, p)
			}
		}
		assert.Equal(t, expected, order)
	})

	t.Run("discovery hint explores each group in turn", func(t *testing.T) {
		planner := NewPlanner(WithDiscoveryHint(func() bool { return true }))
		order := planner.Order(TraversalAdaptive, 1, 10000)

		prefix := []int{
			// critical
			21, 22, 23, 25, 53, 80, 110, 143, 443, 993, 995, 3389,
			// database
			3306, 5432, 1433, 1521, 6379, 5984, 9200,
			// web
			8080, 8443, 8000, 3000, 9000, 8081,
			// messaging
			587, 465, 5672,
			// admin
			5985, 5986, 135, 139, 445,
			// monitoring
			161, 9090, 5601, 8086,
			// development
			4000, 5000,
		}
		require.GreaterOrEqual(t, len(order), len(prefix))
		assert.Equal(t, prefix, order[:len(prefix)])
		assert.Equal(t, 1, order[len(prefix)])
	})
}

func TestParseTraversal(t *testing.T) {
	for _, name := range []string{"sequential", "bfs", "dfs", "adaptive"} {
		got, ok := ParseTraversal(name)
		assert.True(t, ok)
		assert.Equal(t, Traversal(name), got)
	}
	_, ok := ParseTraversal("random")
	assert.False(t, ok)
}
