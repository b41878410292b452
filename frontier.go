package diver

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/benbjohnson/immutable"
	"github.com/cespare/xxhash/v2"
)

// Run is the record of one finished concrete execution.
type Run struct {
	ID     string
	Seq    int    // order in which the run finished
	Parent string // run whose branch point produced the input, if any
	Input  Input  // concrete values of the inputs the run declared
	Path   []Branch
	Status Status
	Reason string
	Err    error
}

// Constraints returns the path condition of the run.
func (r *Run) Constraints() []Expr {
	a := make([]Expr, 0, len(r.Path))
	for _, b := range r.Path {
		if !b.Concrete() {
			a = append(a, b.Constraint())
		}
	}
	return a
}

// BranchPoint identifies a branch of a finished run to negate.
type BranchPoint struct {
	Run     *Run
	Index   int    // index into Run.Path
	Key     uint64 // structural key: prefix polarities, position, negated direction
	retries int
}

// Branch returns the branch to negate.
func (bp *BranchPoint) Branch() Branch { return bp.Run.Path[bp.Index] }

// Pos returns the program location of the branch.
func (bp *BranchPoint) Pos() string { return bp.Run.Path[bp.Index].Pos }

// Constraints returns the path prefix before the branch asserted as taken,
// followed by the negated branch condition.
func (bp *BranchPoint) Constraints() []Expr {
	a := make([]Expr, 0, bp.Index+1)
	for _, b := range bp.Run.Path[:bp.Index] {
		if !b.Concrete() {
			a = append(a, b.Constraint())
		}
	}
	return append(a, bp.Branch().Negated())
}

// String returns the string representation of the branch point.
func (bp *BranchPoint) String() string {
	return fmt.Sprintf("%s#%d@%s", bp.Run.ID, bp.Index, bp.Pos())
}

// branchKey hashes the positions and polarities of path[:i] followed by the
// position of path[i] and the direction dir.
func branchKey(path []Branch, i int, dir bool) uint64 {
	d := xxhash.New()
	for _, b := range path[:i] {
		d.WriteString(b.Pos)
		d.Write(polarity(b.Taken))
	}
	d.WriteString(path[i].Pos)
	d.Write(polarity(dir))
	return d.Sum64()
}

func polarity(v bool) []byte {
	if v {
		return []byte{0, 1}
	}
	return []byte{0, 0}
}

// Strategy chooses which pending branch point to explore next.
type Strategy interface {
	// Returns the index of the next branch point. points is never empty
	// and is ordered by insertion.
	Select(points []*BranchPoint) int
}

// NewStrategy returns a strategy by name: "dfs", "bfs", "random" or a
// comma-separated list of those, which are alternated round-robin.
func NewStrategy(name string, seed int64) (Strategy, error) {
	var a []Strategy
	for _, s := range splitList(name) {
		switch s {
		case "dfs":
			a = append(a, NewDFSStrategy())
		case "bfs":
			a = append(a, NewBFSStrategy())
		case "random":
			a = append(a, NewRandomStrategy(rand.New(rand.NewSource(seed))))
		default:
			return nil, fmt.Errorf("diver: unknown strategy: %q", s)
		}
	}
	switch len(a) {
	case 0:
		return NewDFSStrategy(), nil
	case 1:
		return a[0], nil
	default:
		return NewMultiStrategy(a...), nil
	}
}

var _ Strategy = (*MultiStrategy)(nil)

// MultiStrategy represents a Strategy that chooses a strategy round-robin.
type MultiStrategy struct {
	strategies []Strategy
	index      int
}

// NewMultiStrategy returns a new instance of MultiStrategy.
func NewMultiStrategy(strategies ...Strategy) *MultiStrategy {
	return &MultiStrategy{strategies: strategies}
}

// Select delegates to the next strategy.
func (s *MultiStrategy) Select(points []*BranchPoint) int {
	strategy := s.strategies[s.index]
	if s.index++; s.index >= len(s.strategies) {
		s.index = 0
	}
	return strategy.Select(points)
}

// DFSStrategy explores the most recently discovered branch point first.
// Since a run's branch points are added in path order, the deepest branch
// of the newest run is negated first.
type DFSStrategy struct{}

// NewDFSStrategy returns a new instance of DFSStrategy.
func NewDFSStrategy() *DFSStrategy { return &DFSStrategy{} }

// Select returns the last branch point.
func (s *DFSStrategy) Select(points []*BranchPoint) int { return len(points) - 1 }

// BFSStrategy explores branch points in the order they were discovered.
type BFSStrategy struct{}

// NewBFSStrategy returns a new instance of BFSStrategy.
func NewBFSStrategy() *BFSStrategy { return &BFSStrategy{} }

// Select returns the first branch point.
func (s *BFSStrategy) Select(points []*BranchPoint) int { return 0 }

type RandomStrategy struct {
	rand *rand.Rand
}

func NewRandomStrategy(rand *rand.Rand) *RandomStrategy {
	return &RandomStrategy{rand: rand}
}

// Select returns a random branch point.
func (s *RandomStrategy) Select(points []*BranchPoint) int {
	return s.rand.Intn(len(points))
}

// FrontierStats holds counters for a frontier.
type FrontierStats struct {
	Pending   int `yaml:"pending"`
	Deferred  int `yaml:"deferred"`
	Covered   int `yaml:"covered"`   // distinct (prefix, branch, direction) keys executed
	Sat       int `yaml:"sat"`       // branch points that produced an input
	Unsat     int `yaml:"unsat"`     // infeasible branch points
	Unknown   int `yaml:"unknown"`   // solver answers of unknown, including retries
	Abandoned int `yaml:"abandoned"` // unknown branch points out of retries
	Skipped   int `yaml:"skipped"`   // branch points covered before being solved
}

// Frontier is the set of branch points not yet explored in both directions.
// It is safe for concurrent use.
type Frontier struct {
	mu         sync.Mutex
	strategy   Strategy
	maxRetries int

	pending  []*BranchPoint
	deferred []*BranchPoint

	// Keys of branch directions taken by some run, and keys of branch
	// points ever enqueued. Both are sets keyed by branchKey.
	covered *immutable.SortedMap
	seen    *immutable.SortedMap

	stats FrontierStats
}

// NewFrontier returns a new frontier that selects with strategy. Branch points
// with an unknown answer are retried up to maxRetries times.
func NewFrontier(strategy Strategy, maxRetries int) *Frontier {
	if strategy == nil {
		strategy = NewDFSStrategy()
	}
	return &Frontier{
		strategy:   strategy,
		maxRetries: maxRetries,
		covered:    immutable.NewSortedMap(&uint64Comparer{}),
		seen:       immutable.NewSortedMap(&uint64Comparer{}),
	}
}

// Expand marks every branch direction taken by run as covered and adds a
// branch point for each symbolic branch whose other direction is neither
// covered nor already enqueued. Returns the number of branch points added.
func (f *Frontier) Expand(run *Run) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, b := range run.Path {
		f.covered = f.covered.Set(branchKey(run.Path, i, b.Taken), struct{}{})
	}

	var n int
	for i, b := range run.Path {
		if b.Concrete() {
			continue
		}
		key := branchKey(run.Path, i, !b.Taken)
		if f.isCovered(key) {
			continue
		} else if _, ok := f.seen.Get(key); ok {
			continue
		}
		f.seen = f.seen.Set(key, struct{}{})
		f.pending = append(f.pending, &BranchPoint{Run: run, Index: i, Key: key})
		n++
	}
	return n
}

func (f *Frontier) isCovered(key uint64) bool {
	_, ok := f.covered.Get(key)
	return ok
}

// Next removes and returns the next branch point to solve. Branch points
// covered since they were enqueued are dropped. Deferred branch points are
// returned once no other work is pending.
func (f *Frontier) Next() (*BranchPoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if len(f.pending) == 0 {
			if len(f.deferred) == 0 {
				return nil, false
			}
			f.pending, f.deferred = f.deferred, nil
		}

		i := f.strategy.Select(f.pending)
		bp := f.pending[i]
		f.pending = append(f.pending[:i], f.pending[i+1:]...)

		if f.isCovered(bp.Key) {
			f.stats.Skipped++
			continue
		}
		return bp, true
	}
}

// Resolve records the solver answer for a branch point returned by Next.
// Unknown answers are deferred until the retry budget is spent.
func (f *Frontier) Resolve(bp *BranchPoint, status Satisfiability) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch status {
	case Sat:
		f.stats.Sat++
	case Unsat:
		f.stats.Unsat++
	default:
		f.stats.Unknown++
		if bp.retries < f.maxRetries {
			bp.retries++
			f.deferred = append(f.deferred, bp)
		} else {
			f.stats.Abandoned++
		}
	}
}

// Len returns the number of branch points pending or deferred.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) + len(f.deferred)
}

// Covered returns true if some run took the given direction of path[i]
// after the same prefix.
func (f *Frontier) Covered(path []Branch, i int, dir bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isCovered(branchKey(path, i, dir))
}

// Stats returns a snapshot of the frontier counters.
func (f *Frontier) Stats() FrontierStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := f.stats
	stats.Pending, stats.Deferred = len(f.pending), len(f.deferred)
	stats.Covered = f.covered.Len()
	return stats
}

// uint64Comparer compares branch keys in a SortedMap.
type uint64Comparer struct{}

func (c *uint64Comparer) Compare(a, b interface{}) int {
	if x, y := a.(uint64), b.(uint64); x < y {
		return -1
	} else if x > y {
		return 1
	}
	return 0
}
