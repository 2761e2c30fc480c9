/*
Package tinybase implements a small embedded database on top of an ordered
key-value store.

We implement:

1. Tables, typed collections of records keyed by an auto-assigned RecordId.

2. Indexes, allowing quick lookup of table rows by a caller-supplied key
function, optionally enforcing uniqueness.

3. Constraints, predicates checked on every insert and update.

4. Queries, compiling a boolean tree of per-index equality predicates into
a set of candidate ids and then applying select, update, or delete.

# Technical details

**Trees.** Each table owns a primary tree (RecordId -> encoded record) and
one secondary tree per index. Trees are disjoint namespaces inside a Store,
backed by either bbolt (persistent) or an in-memory map (temporary/tests).

**Record ids.** RecordIds are 8-byte big-endian unsigned integers, assigned
from a per-table counter stored under the reserved key "__counter__" in the
primary tree. Ids are never reused.

**Index keys.** Non-unique indexes store composite keys of the form
encode(K) ++ recordIdBytes, so that a prefix scan over encode(K) yields all
ids sharing that key, in insertion order. Unique indexes store encode(K)
alone, mapping directly to a single RecordId.

**Atomicity.** Every write to a table (insert, update, delete, index
back-fill, constraint promotion) is prepared as a list of tree/key/value
operations and committed through a single Store.Batch call, so the record,
its index entries, and the id counter become visible together or not at
all.
*/
package tinybase
