// Package query plans and executes conjunctive queries: a set of node
// searches connected by binary operators.
//
// Basic usage:
//
//	q := query.New(query.DefaultOptions())
//	np := q.AddNode(annosearch.NewExactValueSearch(db, "tiger", "cat", "NP"))
//	tok := q.AddNode(annosearch.NewTokenSearch(db))
//	q.AddOperator(dominance, np, tok, join.Seed)
//	for {
//	    tuple, err := q.Next()
//	    if errors.Is(err, query.ErrExhausted) {
//	        break
//	    }
//	    ...
//	}
package query

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/join"
	"github.com/sanonone/annisdb/pkg/metrics"
	"github.com/sanonone/annisdb/pkg/operators"
)

var (
	// ErrInvalidPlan is returned when the registered nodes and operators do
	// not form an executable query.
	ErrInvalidPlan = errors.New("invalid query plan")
	// ErrExhausted is returned by Next when no result is pending.
	ErrExhausted = errors.New("query exhausted")
)

var defaultPool = sync.OnceValue(func() *join.WorkerPool {
	return join.NewWorkerPool(0)
})

// Options configures the execution of a query.
type Options struct {
	// Pool runs the workers of parallel joins. Nil uses a process wide pool
	// sized by the number of logical cores.
	Pool *join.WorkerPool
	// Parallel tunes parallel nested loop joins.
	Parallel join.ParallelOptions
	// DefaultStrategy is used for operators parsed without an explicit
	// strategy.
	DefaultStrategy join.Strategy
	Logger          *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Parallel:        join.DefaultParallelOptions(),
		DefaultStrategy: join.Seed,
	}
}

type operatorEntry struct {
	op       operators.Operator
	lhs, rhs int
	strategy join.Strategy
}

// Query is a conjunction of node searches and operators between them. The
// execution plan is built on the first call to HasNext or Next and dropped
// whenever a node or operator is added.
//
// A Query is not safe for concurrent use.
type Query struct {
	id     uuid.UUID
	opts   Options
	logger *slog.Logger

	nodes []annosearch.EstimatedSearch
	ops   []operatorEntry

	plan *plan
}

func New(opts Options) *Query {
	if opts.Pool == nil {
		opts.Pool = defaultPool()
	}
	id := uuid.New()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Query{
		id:     id,
		opts:   opts,
		logger: logger.With("query", id.String()),
	}
}

// ID identifies the query in log output.
func (q *Query) ID() string {
	return q.id.String()
}

// AddNode adds a query variable and returns its index.
func (q *Query) AddNode(search annosearch.EstimatedSearch) int {
	q.invalidate()
	q.nodes = append(q.nodes, search)
	return len(q.nodes) - 1
}

// AddOperator constrains the variables lhs and rhs with op. The strategy is
// a hint: Seed is only used when one side is a plain node search.
func (q *Query) AddOperator(op operators.Operator, lhs, rhs int, strategy join.Strategy) {
	q.invalidate()
	q.ops = append(q.ops, operatorEntry{op: op, lhs: lhs, rhs: rhs, strategy: strategy})
}

// NumNodes returns the number of query variables.
func (q *Query) NumNodes() int {
	return len(q.nodes)
}

func (q *Query) invalidate() {
	if q.plan != nil {
		q.plan.close()
		q.plan = nil
	}
}

func (q *Query) ensurePlan() (*plan, error) {
	if q.plan != nil {
		return q.plan, nil
	}
	p, err := q.build()
	if err != nil {
		return nil, err
	}
	q.plan = p
	q.logger.Debug("query plan built", "nodes", len(q.nodes), "operators", len(q.ops), "plan", p.String())
	return p, nil
}

// HasNext reports whether another result tuple is pending.
func (q *Query) HasNext() (bool, error) {
	p, err := q.ensurePlan()
	if err != nil {
		return false, err
	}
	for _, w := range p.sources {
		if !w.peek() {
			return false, nil
		}
	}
	return true, nil
}

// Next returns the next result tuple, indexed by variable. It returns
// ErrExhausted when no result is pending.
func (q *Query) Next() ([]types.Match, error) {
	ok, err := q.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrExhausted
	}
	tuple := make([]types.Match, len(q.plan.sources))
	for i, w := range q.plan.sources {
		m, _ := w.Next()
		tuple[i] = m
	}
	metrics.QueryResultsTotal.Inc()
	return tuple, nil
}

// Reset restarts the enumeration from the first result.
func (q *Query) Reset() {
	if q.plan != nil {
		q.plan.reset()
	}
}

// Close stops the workers of parallel joins. The query can still be used
// afterwards, the plan is rebuilt on demand.
func (q *Query) Close() {
	q.invalidate()
}

// Plan describes the execution plan, one line per partition.
func (q *Query) Plan() string {
	p, err := q.ensurePlan()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return p.String()
}

// partition is a set of variables already joined into one tuple stream.
type partition struct {
	vars     []int
	source   join.TupleIterator
	estimate float64
	desc     string
	// search is set while the partition is a single unconstrained node search
	search annosearch.EstimatedSearch
}

func (p *partition) pos(v int) int {
	for i, pv := range p.vars {
		if pv == v {
			return i
		}
	}
	return -1
}

func estimate(search annosearch.EstimatedSearch) float64 {
	if c := search.GuessMaxCount(); c >= 0 {
		return float64(c)
	}
	return math.MaxInt32
}

func (q *Query) build() (*plan, error) {
	if len(q.nodes) == 0 {
		return nil, fmt.Errorf("%w: query has no nodes", ErrInvalidPlan)
	}
	partOf := make([]*partition, len(q.nodes))
	for i, n := range q.nodes {
		n.Reset()
		partOf[i] = &partition{
			vars:     []int{i},
			source:   join.FromSearch(n),
			estimate: estimate(n),
			desc:     fmt.Sprintf("#%d %s", i+1, n),
			search:   n,
		}
	}

	for i, e := range q.ops {
		if e.lhs < 0 || e.lhs >= len(q.nodes) || e.rhs < 0 || e.rhs >= len(q.nodes) {
			return nil, fmt.Errorf("%w: operator %d (%s) references #%d and #%d, query has %d nodes",
				ErrInvalidPlan, i, e.op, e.lhs+1, e.rhs+1, len(q.nodes))
		}
		if e.lhs == e.rhs {
			return nil, fmt.Errorf("%w: operator %d (%s) relates #%d to itself", ErrInvalidPlan, i, e.op, e.lhs+1)
		}

		lp, rp := partOf[e.lhs], partOf[e.rhs]
		if lp == rp {
			lp.source = join.NewFilter(lp.source, e.op, lp.pos(e.lhs), lp.pos(e.rhs))
			lp.desc = fmt.Sprintf("filter(%s, #%d %s #%d)", lp.desc, e.lhs+1, e.op, e.rhs+1)
			lp.search = nil
			continue
		}
		merged := q.join(e, lp, rp)
		for _, v := range merged.vars {
			partOf[v] = merged
		}
	}

	p := &plan{sources: make([]*wrapIterator, len(q.nodes))}
	for v, part := range partOf {
		if p.sources[v] != nil {
			continue
		}
		state := newJoinState(part.source, len(part.vars))
		p.states = append(p.states, state)
		p.descs = append(p.descs, part.desc)
		for i, pv := range part.vars {
			p.sources[pv] = state.wrappers[i]
		}
	}
	return p, nil
}

// join merges two partitions under the operator e.
func (q *Query) join(e operatorEntry, lp, rp *partition) *partition {
	lhsIdx, rhsIdx := lp.pos(e.lhs), rp.pos(e.rhs)
	merged := &partition{estimate: lp.estimate * rp.estimate * e.op.Selectivity()}
	strategy := e.strategy

	switch {
	case strategy == join.Seed && rp.search != nil:
		merged.source = join.NewSeed(e.op, lp.source, lhsIdx, rp.search)
		merged.vars = concatVars(lp.vars, rp.vars)
		merged.desc = fmt.Sprintf("(%s %s[seed] %s)", lp.desc, e.op, rp.desc)
		return merged
	case strategy == join.Seed && lp.search != nil && e.op.IsCommutative():
		merged.source = join.NewSeed(e.op, rp.source, rhsIdx, lp.search)
		merged.vars = concatVars(rp.vars, lp.vars)
		merged.desc = fmt.Sprintf("(%s %s[seed] %s)", rp.desc, e.op, lp.desc)
		return merged
	case strategy == join.Seed:
		q.logger.Debug("seed join needs a node search on one side, using nested loop", "operator", e.op.String())
		strategy = join.NestedLoop
	}

	leftIsOuter := lp.estimate <= rp.estimate
	if strategy == join.ParallelNestedLoop {
		merged.source = join.NewParallelNestedLoop(e.op, lp.source, rp.source, lhsIdx, rhsIdx, leftIsOuter, q.opts.Pool, q.opts.Parallel)
	} else {
		merged.source = join.NewNestedLoop(e.op, lp.source, rp.source, lhsIdx, rhsIdx, leftIsOuter)
	}
	merged.vars = concatVars(lp.vars, rp.vars)
	merged.desc = fmt.Sprintf("(%s %s[%s] %s)", lp.desc, e.op, strategy, rp.desc)
	return merged
}

func concatVars(a, b []int) []int {
	vars := make([]int, 0, len(a)+len(b))
	vars = append(vars, a...)
	return append(vars, b...)
}

type plan struct {
	// sources has one wrapper per query variable
	sources []*wrapIterator
	states  []*joinState
	descs   []string
}

func (p *plan) reset() {
	for _, s := range p.states {
		s.reset()
	}
}

func (p *plan) close() {
	for _, s := range p.states {
		s.close()
	}
}

func (p *plan) String() string {
	return strings.Join(p.descs, "\n")
}
