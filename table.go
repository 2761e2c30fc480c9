package tinybase

import (
	"log/slog"
	"sync"
)

// Table is the primary storage for records of type T: a primary tree
// mapping RecordId -> encoded T, a persisted id counter, and the registry
// of Indexes and Constraints declared against it.
//
// Indexes and constraints live only in memory; opening an existing table
// discovers its primary tree and id counter but does not recover its
// indexes, since an index's key function is Go code, not data. Callers
// must re-declare every index and constraint each time they open the
// table.
type Table[T any] struct {
	store   *Store
	name    string
	primary *Tree
	codec   Codec[T]
	logger  *slog.Logger

	// mu serializes the full span from constraint evaluation through batch
	// commit: insert, update, delete, CreateIndex, and Constraint all hold
	// it. Reads (Get, Index.Select, Query.Select) do not take it and may
	// run concurrently with a writer.
	mu          sync.Mutex
	indexes     map[string]anyIndex[T]
	indexOrder  []anyIndex[T]
	constraints []Constraint[T]
}

// OpenTable opens or creates a table named name in store, using msgpack as
// the record codec. Use OpenTableWithCodec to supply a different Codec[T].
func OpenTable[T any](store *Store, name string) (*Table[T], error) {
	return OpenTableWithCodec[T](store, name, Msgpack[T]())
}

// OpenTableWithCodec is OpenTable with an explicit record Codec.
func OpenTableWithCodec[T any](store *Store, name string, codec Codec[T]) (*Table[T], error) {
	primary, err := store.OpenTree(name)
	if err != nil {
		return nil, err
	}
	return &Table[T]{
		store:   store,
		name:    name,
		primary: primary,
		codec:   codec,
		logger:  store.logger,
		indexes: make(map[string]anyIndex[T]),
	}, nil
}

// Name returns the table's name.
func (tbl *Table[T]) Name() string { return tbl.name }

// Get fetches and decodes the record stored at id, or returns nil, nil on
// a miss.
func (tbl *Table[T]) Get(id RecordId) (*T, error) {
	raw, err := tbl.primary.Get(encodeRecordId(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var rec T
	if err := tbl.codec.Decode(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert checks every registered constraint, allocates the next RecordId,
// and commits the record together with every index entry and the bumped
// counter in a single atomic batch. No side effect is visible if a
// constraint fails.
func (tbl *Table[T]) Insert(rec T) (RecordId, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	if err := tbl.checkConstraints(&rec); err != nil {
		return 0, err
	}
	for _, idx := range tbl.indexOrder {
		if err := idx.checkUnique(&rec, 0); err != nil {
			return 0, err
		}
	}

	id, err := tbl.peekNextId()
	if err != nil {
		return 0, err
	}

	data, err := tbl.codec.Encode(nil, &rec)
	if err != nil {
		return 0, err
	}

	ops := make([]Op, 0, 2+len(tbl.indexOrder))
	ops = append(ops, PutOp(tbl.primary, encodeRecordId(id), data))
	ops = append(ops, PutOp(tbl.primary, []byte(counterKey), encodeCounter(uint64(id)+1)))
	for _, idx := range tbl.indexOrder {
		op, err := idx.putOpFor(id, &rec)
		if err != nil {
			return 0, err
		}
		ops = append(ops, op)
	}

	if err := tbl.store.Batch(ops); err != nil {
		return 0, err
	}
	tbl.logger.Debug("tinybase: insert", "table", tbl.name, "id", uint64(id))
	return id, nil
}

// Update fails with NotFoundError if id is absent. Otherwise it checks
// every constraint against newRec (unique indexes are checked against the
// existing record at id to allow no-op rewrites), then atomically rewrites
// the primary record and every index entry, and returns the old record.
func (tbl *Table[T]) Update(id RecordId, newRec T) (T, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	var zero T

	raw, err := tbl.primary.Get(encodeRecordId(id))
	if err != nil {
		return zero, err
	}
	if raw == nil {
		return zero, &NotFoundError{Table: tbl.name, Id: id}
	}
	var oldRec T
	if err := tbl.codec.Decode(raw, &oldRec); err != nil {
		return zero, err
	}

	if err := tbl.checkConstraints(&newRec); err != nil {
		return zero, err
	}
	for _, idx := range tbl.indexOrder {
		if err := idx.checkUnique(&newRec, id); err != nil {
			return zero, err
		}
	}

	data, err := tbl.codec.Encode(nil, &newRec)
	if err != nil {
		return zero, err
	}

	ops := make([]Op, 0, 1+2*len(tbl.indexOrder))
	for _, idx := range tbl.indexOrder {
		delOp, err := idx.removeOpFor(id, &oldRec)
		if err != nil {
			return zero, err
		}
		putOp, err := idx.putOpFor(id, &newRec)
		if err != nil {
			return zero, err
		}
		ops = append(ops, delOp, putOp)
	}
	ops = append(ops, PutOp(tbl.primary, encodeRecordId(id), data))

	if err := tbl.store.Batch(ops); err != nil {
		return zero, err
	}
	tbl.logger.Debug("tinybase: update", "table", tbl.name, "id", uint64(id))
	return oldRec, nil
}

// Delete fails with NotFoundError if id is absent. Otherwise it atomically
// removes the primary record and every index entry derived from it, and
// returns the removed record. Deleting an already-deleted id is idempotent
// in effect (it keeps returning NotFoundError without corrupting state).
func (tbl *Table[T]) Delete(id RecordId) (T, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	var zero T

	raw, err := tbl.primary.Get(encodeRecordId(id))
	if err != nil {
		return zero, err
	}
	if raw == nil {
		return zero, &NotFoundError{Table: tbl.name, Id: id}
	}
	var rec T
	if err := tbl.codec.Decode(raw, &rec); err != nil {
		return zero, err
	}

	ops := make([]Op, 0, 1+len(tbl.indexOrder))
	ops = append(ops, DeleteOp(tbl.primary, encodeRecordId(id)))
	for _, idx := range tbl.indexOrder {
		op, err := idx.removeOpFor(id, &rec)
		if err != nil {
			return zero, err
		}
		ops = append(ops, op)
	}

	if err := tbl.store.Batch(ops); err != nil {
		return zero, err
	}
	tbl.logger.Debug("tinybase: delete", "table", tbl.name, "id", uint64(id))
	return rec, nil
}

// Constraint registers c. Check constraints are appended to the
// evaluation-order list consulted by Insert/Update. Unique constraints act
// immediately, promoting their index (scanning for duplicate keys first)
// rather than being stored for later evaluation.
func (tbl *Table[T]) Constraint(c Constraint[T]) error {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	if c.kind == ConstraintUnique {
		if _, ok := tbl.indexes[c.name]; !ok {
			return &IndexMissingError{Table: tbl.name, Index: c.name}
		}
		if err := c.promote(tbl); err != nil {
			return err
		}
		tbl.logger.Debug("tinybase: unique constraint registered", "table", tbl.name, "index", c.name)
		return nil
	}

	tbl.constraints = append(tbl.constraints, c)
	tbl.logger.Debug("tinybase: check constraint registered", "table", tbl.name, "name", c.name)
	return nil
}

// checkConstraints evaluates every registered Check constraint in
// registration order, short-circuiting on the first failure. Unique
// constraints are not evaluated here: their own index enforces uniqueness
// directly (see Table.Insert/Update calling anyIndex.checkUnique).
func (tbl *Table[T]) checkConstraints(rec *T) error {
	for _, c := range tbl.constraints {
		if c.kind != ConstraintCheck {
			continue
		}
		if !c.pred(rec) {
			return &ConstraintViolatedError{Name: c.name, Kind: ConstraintCheck}
		}
	}
	return nil
}

// peekNextId reads the persisted counter without mutating it; the caller
// is expected to include the bumped counter in the same batch as the new
// record.
func (tbl *Table[T]) peekNextId() (RecordId, error) {
	v, err := tbl.primary.Get([]byte(counterKey))
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 1, nil
	}
	next, err := decodeCounter(v)
	if err != nil {
		return 0, err
	}
	return RecordId(next), nil
}

// universe returns the set of every RecordId currently in the primary
// tree, used by Not and by a Query with no condition.
func (tbl *Table[T]) universe() (idSet, error) {
	out := newIdSet()
	var scanErr error
	err := tbl.primary.ScanPrefix(nil, func(k, _ []byte) bool {
		if !isRecordKey(k) {
			return true
		}
		id, derr := decodeRecordId(k)
		if derr != nil {
			scanErr = derr
			return false
		}
		out.add(id)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// TableStats reports size accounting for a table's primary tree and its
// registered indexes.
type TableStats struct {
	Rows       int
	DataSize   int64
	DataAlloc  int64
	IndexStats map[string]bucketStats
}

// Stats reports best-effort size accounting for the table and its indexes.
func (tbl *Table[T]) Stats() (TableStats, error) {
	tbl.mu.Lock()
	indexes := append([]anyIndex[T](nil), tbl.indexOrder...)
	tbl.mu.Unlock()

	ps, err := tbl.primary.Stats()
	if err != nil {
		return TableStats{}, err
	}
	rows := ps.KeyN
	if rows > 0 {
		rows-- // exclude the reserved counter entry
	}
	out := TableStats{
		Rows:       rows,
		DataSize:   ps.LeafInuse,
		DataAlloc:  ps.TotalAlloc(),
		IndexStats: make(map[string]bucketStats, len(indexes)),
	}
	for _, idx := range indexes {
		is, err := idx.tree().Stats()
		if err != nil {
			return TableStats{}, err
		}
		out.IndexStats[idx.Name()] = is
	}
	return out, nil
}
