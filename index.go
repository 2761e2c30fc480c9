package tinybase

import "fmt"

// Index is a derived mapping from a caller-supplied key function T -> K to
// the set of RecordIds sharing that key, maintained on every write to the
// owning Table. An Index never references its Table: it only holds its
// own secondary Tree and the key function, so it can be shared freely with
// Conditions without creating an ownership cycle.
type Index[K any, T any] struct {
	name   string
	tr     *Tree
	keyFn  func(*T) K
	unique bool
	codec  Codec[K]
}

// Name returns the index's short name (unique within its table).
func (idx *Index[K, T]) Name() string { return idx.name }

// Unique reports whether the index currently enforces uniqueness.
func (idx *Index[K, T]) Unique() bool { return idx.unique }

func (idx *Index[K, T]) tree() *Tree { return idx.tr }

// Stats reports best-effort size accounting for the index's secondary
// tree.
func (idx *Index[K, T]) Stats() (bucketStats, error) {
	return idx.tr.Stats()
}

func (idx *Index[K, T]) encodeKey(key K) ([]byte, error) {
	return idx.codec.Encode(nil, &key)
}

func (idx *Index[K, T]) encodeKeyOf(rec *T) ([]byte, error) {
	key := idx.keyFn(rec)
	return idx.encodeKey(key)
}

func compositeIndexKey(keyBytes []byte, id RecordId) []byte {
	buf := appendRaw(make([]byte, 0, len(keyBytes)+8), keyBytes)
	return appendFixedUint64(buf, uint64(id))
}

// Select returns the RecordIds currently mapped to key, in ascending id
// order. A key with no matching record yields a nil slice.
func (idx *Index[K, T]) Select(key K) ([]RecordId, error) {
	set, err := idx.selectSet(key)
	if err != nil {
		return nil, err
	}
	return set.sortedIds(), nil
}

func (idx *Index[K, T]) selectSet(key K) (idSet, error) {
	keyBytes, err := idx.encodeKey(key)
	if err != nil {
		return nil, err
	}
	out := newIdSet()
	if idx.unique {
		v, err := idx.tr.Get(keyBytes)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return out, nil
		}
		id, err := decodeRecordId(v)
		if err != nil {
			return nil, err
		}
		out.add(id)
		return out, nil
	}

	var scanErr error
	err = idx.tr.ScanPrefix(keyBytes, func(k, _ []byte) bool {
		if len(k) < 8 {
			return true
		}
		id, derr := decodeRecordId(k[len(k)-8:])
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

// putOpFor builds the Op that records rec's membership under id. Called
// only by Table during a batched write.
func (idx *Index[K, T]) putOpFor(id RecordId, rec *T) (Op, error) {
	keyBytes, err := idx.encodeKeyOf(rec)
	if err != nil {
		return Op{}, err
	}
	if idx.unique {
		return PutOp(idx.tr, keyBytes, encodeRecordId(id)), nil
	}
	return PutOp(idx.tr, compositeIndexKey(keyBytes, id), nil), nil
}

// removeOpFor builds the Op that retracts rec's membership for id. Called
// only by Table during a batched write.
func (idx *Index[K, T]) removeOpFor(id RecordId, rec *T) (Op, error) {
	keyBytes, err := idx.encodeKeyOf(rec)
	if err != nil {
		return Op{}, err
	}
	if idx.unique {
		return DeleteOp(idx.tr, keyBytes), nil
	}
	return DeleteOp(idx.tr, compositeIndexKey(keyBytes, id)), nil
}

// checkUnique fails with ConstraintViolatedError if another record already
// holds rec's key in a unique index. allowId exempts a record (its own
// current id during an update) so that no-op rewrites succeed; pass 0 on
// insert, since 0 is never a live RecordId.
func (idx *Index[K, T]) checkUnique(rec *T, allowId RecordId) error {
	if !idx.unique {
		return nil
	}
	keyBytes, err := idx.encodeKeyOf(rec)
	if err != nil {
		return err
	}
	v, err := idx.tr.Get(keyBytes)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	existing, err := decodeRecordId(v)
	if err != nil {
		return err
	}
	if existing != allowId {
		return &ConstraintViolatedError{
			Name:   idx.name,
			Kind:   ConstraintUnique,
			Reason: fmt.Sprintf("key already used by record %d", uint64(existing)),
		}
	}
	return nil
}

// anyIndex is the type-erased view of Index[K, T] that Table[T] keeps in
// its index registry; it hides K so a table can hold indexes of different
// key types in one slice while By still binds K at the call site.
type anyIndex[T any] interface {
	Name() string
	Unique() bool
	tree() *Tree
	putOpFor(id RecordId, rec *T) (Op, error)
	removeOpFor(id RecordId, rec *T) (Op, error)
	checkUnique(rec *T, allowId RecordId) error
}

// CreateIndex opens or creates the named index on tbl. If the index is new
// and the table already has records, it is back-filled from the primary
// tree; back-fill fails with ConstraintViolatedError if unique is set and
// the existing data contains duplicate keys, leaving no partial secondary
// tree visible. Re-declaring an index whose secondary tree already exists
// (from an earlier successful CreateIndex) reuses it as-is.
func CreateIndex[K any, T any](tbl *Table[T], name string, keyFn func(*T) K, unique bool) (*Index[K, T], error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	if _, exists := tbl.indexes[name]; exists {
		return nil, &IndexAlreadyExistsError{Table: tbl.name, Index: name}
	}

	treeName := tbl.name + "_" + name
	existed, err := tbl.store.treeExists(treeName)
	if err != nil {
		return nil, err
	}

	idx := &Index[K, T]{name: name, tr: &Tree{store: tbl.store, name: treeName}, keyFn: keyFn, unique: unique, codec: Msgpack[K]()}

	if !existed {
		if err := backfillIndex(tbl, idx); err != nil {
			return nil, err
		}
	}
	// The tree is only created once back-fill has succeeded, so a failed
	// creation leaves nothing behind that a later CreateIndex would reuse.
	if idx.tr, err = tbl.store.OpenTree(treeName); err != nil {
		return nil, err
	}

	tbl.indexes[name] = idx
	tbl.indexOrder = append(tbl.indexOrder, idx)
	tbl.logger.Debug("tinybase: index created", "table", tbl.name, "index", name, "unique", unique, "backfilled", !existed)
	return idx, nil
}

// backfillIndex scans tbl's primary tree and populates idx from scratch.
// It is only called for a newly created, empty secondary tree.
func backfillIndex[K any, T any](tbl *Table[T], idx *Index[K, T]) error {
	seen := make(map[string]RecordId)
	var ops []Op
	var failErr error

	err := tbl.primary.ScanPrefix(nil, func(k, v []byte) bool {
		if !isRecordKey(k) {
			return true
		}
		id, derr := decodeRecordId(k)
		if derr != nil {
			failErr = derr
			return false
		}
		var rec T
		if derr := tbl.codec.Decode(v, &rec); derr != nil {
			failErr = derr
			return false
		}
		keyBytes, derr := idx.encodeKeyOf(&rec)
		if derr != nil {
			failErr = derr
			return false
		}
		if idx.unique {
			if prev, dup := seen[string(keyBytes)]; dup {
				failErr = &ConstraintViolatedError{
					Name:   idx.name,
					Kind:   ConstraintUnique,
					Reason: fmt.Sprintf("records %d and %d share a key", uint64(prev), uint64(id)),
				}
				return false
			}
			seen[string(keyBytes)] = id
			ops = append(ops, PutOp(idx.tr, keyBytes, encodeRecordId(id)))
		} else {
			ops = append(ops, PutOp(idx.tr, compositeIndexKey(keyBytes, id), nil))
		}
		return true
	})
	if err != nil {
		return err
	}
	if failErr != nil {
		return failErr
	}
	if len(ops) == 0 {
		return nil
	}
	return tbl.store.Batch(ops)
}

// promoteToUnique converts an existing non-unique index to unique in
// place, failing with ConstraintViolatedError (and leaving the index
// untouched) if two different ids currently share a key.
func promoteToUnique[K any, T any](tbl *Table[T], idx *Index[K, T]) error {
	seen := make(map[string]RecordId)
	var conflict error

	err := idx.tr.ScanPrefix(nil, func(k, _ []byte) bool {
		if len(k) < 8 {
			return true
		}
		keyBytes := string(k[:len(k)-8])
		id, derr := decodeRecordId(k[len(k)-8:])
		if derr != nil {
			conflict = derr
			return false
		}
		if prev, dup := seen[keyBytes]; dup && prev != id {
			conflict = &ConstraintViolatedError{
				Name:   idx.name,
				Kind:   ConstraintUnique,
				Reason: fmt.Sprintf("records %d and %d share a key", uint64(prev), uint64(id)),
			}
			return false
		}
		seen[keyBytes] = id
		return true
	})
	if err != nil {
		return err
	}
	if conflict != nil {
		return conflict
	}

	var ops []Op
	err = idx.tr.ScanPrefix(nil, func(k, _ []byte) bool {
		ops = append(ops, DeleteOp(idx.tr, append([]byte(nil), k...)))
		return true
	})
	if err != nil {
		return err
	}
	for keyBytes, id := range seen {
		ops = append(ops, PutOp(idx.tr, []byte(keyBytes), encodeRecordId(id)))
	}
	if len(ops) > 0 {
		if err := tbl.store.Batch(ops); err != nil {
			return err
		}
	}
	idx.unique = true
	return nil
}
