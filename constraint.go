package tinybase

// Constraint is a check predicate or a uniqueness promotion registered on a
// Table, evaluated on every insert and update. Table.Insert and Table.Update
// evaluate registered Check constraints in registration order, short-circuiting on
// the first failure; Unique constraints instead act once, at registration
// time, by promoting their index.
type Constraint[T any] struct {
	kind    ConstraintKind
	name    string
	pred    func(*T) bool
	promote func(tbl *Table[T]) error
}

// Check registers a predicate that every inserted or updated record must
// satisfy. A false return fails the write with ConstraintViolatedError
// before any batch is assembled.
func Check[T any](name string, pred func(*T) bool) Constraint[T] {
	return Constraint[T]{kind: ConstraintCheck, name: name, pred: pred}
}

// Unique builds a Constraint that marks idx unique. Registering it against
// an index already created with unique=true is a no-op; registering it
// against a populated non-unique index triggers a verification scan that
// fails with ConstraintViolatedError if the index currently holds duplicate
// keys.
func Unique[K any, T any](idx *Index[K, T]) Constraint[T] {
	return Constraint[T]{
		kind: ConstraintUnique,
		name: idx.name,
		promote: func(tbl *Table[T]) error {
			if idx.unique {
				return nil
			}
			return promoteToUnique[K, T](tbl, idx)
		},
	}
}
