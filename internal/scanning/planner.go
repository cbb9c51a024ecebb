package scanning

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// Traversal names a port ordering strategy.
type Traversal string

// Supported traversal strategies.
const (
	TraversalSequential Traversal = "sequential"
	TraversalBFS        Traversal = "bfs"
	TraversalDFS        Traversal = "dfs"
	TraversalAdaptive   Traversal = "adaptive"
)

// ParseTraversal returns the traversal named s.
func ParseTraversal(s string) (Traversal, bool) {
	switch t := Traversal(s); t {
	case TraversalSequential, TraversalBFS, TraversalDFS, TraversalAdaptive:
		return t, true
	default:
		return "", false
	}
}

// Port group names.
const (
	GroupCritical    = "critical"
	GroupDatabase    = "database"
	GroupWeb         = "web"
	GroupMessaging   = "messaging"
	GroupAdmin       = "admin"
	GroupMonitoring  = "monitoring"
	GroupDevelopment = "development"
)

type portGroup struct {
	name  string
	ports []int
}

// portGroups is kept in its declaration order; adaptive traversal walks the
// non-critical groups in this order.
var portGroups = []portGroup{
	{GroupCritical, []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 993, 995, 3389}},
	{GroupDatabase, []int{3306, 5432, 1433, 1521, 6379, 27017, 5984, 9200}},
	{GroupWeb, []int{80, 443, 8080, 8443, 8000, 3000, 9000, 8081}},
	{GroupMessaging, []int{25, 587, 465, 110, 143, 993, 995, 5672, 15672}},
	{GroupAdmin, []int{22, 23, 3389, 5985, 5986, 135, 139, 445}},
	{GroupMonitoring, []int{161, 9090, 3000, 5601, 8086, 9000}},
	{GroupDevelopment, []int{8080, 8443, 3000, 4000, 5000, 8000, 9000, 8081}},
}

// priorityOrder lists groups by descending priority score.
var priorityOrder = []struct {
	group string
	score int
}{
	{GroupCritical, 10},
	{GroupDatabase, 9},
	{GroupWeb, 8},
	{GroupAdmin, 7},
	{GroupMessaging, 6},
	{GroupMonitoring, 5},
	{GroupDevelopment, 4},
}

// dfsClusters is the order dfs descends into the groups.
var dfsClusters = []string{
	GroupCritical, GroupWeb, GroupDatabase, GroupAdmin, GroupMessaging, GroupMonitoring, GroupDevelopment,
}

// relatedPorts are pushed by dfs after visiting the key port.
var relatedPorts = map[int][]int{
	80:   {8080, 8443, 8000, 3000},
	443:  {8443, 8080},
	3306: {3307, 33060},
	22:   {2222, 22222},
}

const (
	priorityWellKnown = 3
	priorityDefault   = 1
)

var groupIndex = func() map[string]map[int]struct{} {
	idx := make(map[string]map[int]struct{}, len(portGroups))
	for _, g := range portGroups {
		set := make(map[int]struct{}, len(g.ports))
		for _, p := range g.ports {
			set[p] = struct{}{}
		}
		idx[g.name] = set
	}
	return idx
}()

func groupPorts(name string) []int {
	for _, g := range portGroups {
		if g.name == name {
			return g.ports
		}
	}
	return nil
}

// PriorityScore is the score of the highest priority group containing port.
func PriorityScore(port int) int {
	for _, p := range priorityOrder {
		if _, ok := groupIndex[p.group][port]; ok {
			return p.score
		}
	}
	if _, ok := wellKnownServices[port]; ok {
		return priorityWellKnown
	}
	return priorityDefault
}

// DiscoveryHint reports whether services have already been discovered. When
// it returns true, adaptive traversal explores each non-critical group
// before the remaining ports.
type DiscoveryHint func() bool

// NoDiscovery is the default hint. It never reports discoveries.
func NoDiscovery() bool { return false }

// Planner produces port visiting orders. It is safe for concurrent use.
type Planner struct {
	mu   sync.Mutex
	rng  *rand.Rand
	hint DiscoveryHint
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithRand sets the random source bfs shuffles with.
func WithRand(r *rand.Rand) PlannerOption {
	return func(p *Planner) {
		p.rng = r
	}
}

// WithSeed seeds the bfs random source. A zero seed keeps the time-seeded
// default.
func WithSeed(seed int64) PlannerOption {
	return func(p *Planner) {
		if seed != 0 {
			p.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
		}
	}
}

// WithDiscoveryHint sets the adaptive traversal gate.
func WithDiscoveryHint(hint DiscoveryHint) PlannerOption {
	return func(p *Planner) {
		if hint != nil {
			p.hint = hint
		}
	}
}

// NewPlanner creates a planner.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{hint: NoDiscovery}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		now := uint64(time.Now().UnixNano())
		p.rng = rand.New(rand.NewPCG(now, now>>1|1))
	}
	return p
}

// Order returns the visiting order for [start, end] under traversal. Every
// strategy yields a permutation of the range; unknown strategies fall back
// to sequential.
func (p *Planner) Order(traversal Traversal, start, end int) []int {
	if end < start {
		return []int{}
	}
	switch traversal {
	case TraversalBFS:
		return p.bfs(start, end)
	case TraversalDFS:
		return dfs(start, end)
	case TraversalAdaptive:
		return p.adaptive(start, end)
	default:
		return sequential(start, end)
	}
}

func sequential(start, end int) []int {
	order := make([]int, 0, end-start+1)
	for port := start; port <= end; port++ {
		order = append(order, port)
	}
	return order
}

func (p *Planner) bfs(start, end int) []int {
	buckets := make(map[int][]int)
	for port := start; port <= end; port++ {
		score := PriorityScore(port)
		buckets[score] = append(buckets[score], port)
	}

	scores := make([]int, 0, len(buckets))
	for score := range buckets {
		scores = append(scores, score)
	}
	slices.Sort(scores)
	slices.Reverse(scores)

	order := make([]int, 0, end-start+1)
	p.mu.Lock()
	for _, score := range scores {
		bucket := buckets[score]
		p.rng.Shuffle(len(bucket), func(i, j int) {
			bucket[i], bucket[j] = bucket[j], bucket[i]
		})
		order = append(order, bucket...)
	}
	p.mu.Unlock()
	return order
}

func dfs(start, end int) []int {
	inRange := func(port int) bool { return port >= start && port <= end }

	clustered := make(map[int]struct{})
	for _, name := range dfsClusters {
		for port := range groupIndex[name] {
			clustered[port] = struct{}{}
		}
	}

	stack := make([]int, 0, end-start+1)
	// Unclustered ports sit at the bottom of the stack so they are visited last.
	for port := end; port >= start; port-- {
		if _, ok := clustered[port]; !ok {
			stack = append(stack, port)
		}
	}
	for i := len(dfsClusters) - 1; i >= 0; i-- {
		var ports []int
		for _, port := range groupPorts(dfsClusters[i]) {
			if inRange(port) {
				ports = append(ports, port)
			}
		}
		slices.Sort(ports)
		for j := len(ports) - 1; j >= 0; j-- {
			stack = append(stack, ports[j])
		}
	}

	visited := make(map[int]struct{}, end-start+1)
	order := make([]int, 0, end-start+1)
	for len(stack) > 0 {
		port := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[port]; seen {
			continue
		}
		visited[port] = struct{}{}
		order = append(order, port)

		for _, related := range relatedPorts[port] {
			if _, seen := visited[related]; !seen && inRange(related) {
				stack = append(stack, related)
			}
		}
	}
	return order
}

func (p *Planner) adaptive(start, end int) []int {
	visited := make(map[int]struct{}, end-start+1)
	order := make([]int, 0, end-start+1)
	visit := func(port int) {
		if port < start || port > end {
			return
		}
		if _, seen := visited[port]; seen {
			return
		}
		visited[port] = struct{}{}
		order = append(order, port)
	}

	for _, port := range groupPorts(GroupCritical) {
		visit(port)
	}

	if p.hint() {
		for _, g := range portGroups {
			if g.name == GroupCritical {
				continue
			}
			for _, port := range g.ports {
				visit(port)
			}
		}
	}

	for port := start; port <= end; port++ {
		visit(port)
	}
	return order
}
