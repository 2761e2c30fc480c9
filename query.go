package tinybase

import "errors"

// Query compiles a Condition over a Table into a set of candidate ids and
// then materializes it through select, update, or delete. A zero-value
// condition (no WithCondition call) matches every record currently in the
// table.
type Query[T any] struct {
	table     *Table[T]
	condition Condition[T]
}

// NewQuery starts a Query over tbl with no condition (matches everything).
func NewQuery[T any](tbl *Table[T]) *Query[T] {
	return &Query[T]{table: tbl}
}

// WithCondition attaches c to the query and returns q for chaining.
func (q *Query[T]) WithCondition(c Condition[T]) *Query[T] {
	q.condition = c
	return q
}

func (q *Query[T]) eval() (idSet, error) {
	if q.condition == nil {
		return q.table.universe()
	}
	return q.condition.eval(q.table)
}

// Select decodes and returns every matching record, in ascending id order.
// Ids whose record has since been deleted (a stale index entry) are
// silently skipped rather than surfaced as an error.
func (q *Query[T]) Select() ([]T, error) {
	set, err := q.eval()
	if err != nil {
		return nil, err
	}
	ids := set.sortedIds()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		rec, err := q.table.Get(id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// BulkResult carries the best-effort outcome of a Query.Update or
// Query.Delete: every id that succeeded contributes its prior value to Ok;
// every id that failed contributes its error to Failed. Ids whose record
// no longer exists are skipped and appear in neither. One record's failure
// never aborts the sweep.
type BulkResult[T any] struct {
	Ok     []T
	Failed map[RecordId]error
}

// Update applies transform to every matching record and rewrites it through
// Table.Update, continuing past individual failures.
func (q *Query[T]) Update(transform func(T) T) (BulkResult[T], error) {
	set, err := q.eval()
	if err != nil {
		return BulkResult[T]{}, err
	}
	ids := set.sortedIds()
	res := BulkResult[T]{Failed: make(map[RecordId]error)}
	for _, id := range ids {
		rec, err := q.table.Get(id)
		if err != nil {
			res.Failed[id] = err
			continue
		}
		if rec == nil {
			continue
		}
		old, err := q.table.Update(id, transform(*rec))
		if err != nil {
			res.Failed[id] = err
			continue
		}
		res.Ok = append(res.Ok, old)
	}
	return res, nil
}

// Delete removes every matching record through Table.Delete, continuing
// past individual failures.
func (q *Query[T]) Delete() (BulkResult[T], error) {
	set, err := q.eval()
	if err != nil {
		return BulkResult[T]{}, err
	}
	ids := set.sortedIds()
	res := BulkResult[T]{Failed: make(map[RecordId]error)}
	for _, id := range ids {
		old, err := q.table.Delete(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			res.Failed[id] = err
			continue
		}
		res.Ok = append(res.Ok, old)
	}
	return res, nil
}

// QueryOperator selects how LegacyQuery combines its accumulated By steps.
type QueryOperator int

const (
	QueryAnd QueryOperator = iota
	QueryOr
)

// LegacyQuery is the two-call chained query surface: chain By calls, then
// pick the combining operator at execution time. It is semantically
// equivalent to assembling the same Conditions with And/Or directly and
// produces identical results, since it desugars into exactly that.
type LegacyQuery[T any] struct {
	table *Table[T]
	steps []Condition[T]
}

// NewLegacyQuery starts the legacy chained-By surface over tbl.
func NewLegacyQuery[T any](tbl *Table[T]) *LegacyQuery[T] {
	return &LegacyQuery[T]{table: tbl}
}

// By appends one more equality predicate to the chain.
func (q *LegacyQuery[T]) By(c Condition[T]) *LegacyQuery[T] {
	q.steps = append(q.steps, c)
	return q
}

// Execute combines every chained By step with op and returns the resulting
// Query, ready for Select/Update/Delete.
func (q *LegacyQuery[T]) Execute(op QueryOperator) *Query[T] {
	if len(q.steps) == 0 {
		return NewQuery(q.table)
	}
	combined := q.steps[0]
	for _, c := range q.steps[1:] {
		if op == QueryOr {
			combined = Or(combined, c)
		} else {
			combined = And(combined, c)
		}
	}
	return NewQuery(q.table).WithCondition(combined)
}
