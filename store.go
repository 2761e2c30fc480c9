package tinybase

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Options configures a Store.
type Options struct {
	// Temporary forces an in-memory backend even when Open is given a path.
	// A Store opened with an empty path is always temporary.
	Temporary bool

	// Logger receives structured debug events (batch commits, index
	// creation/promotion, constraint registration). Defaults to
	// slog.Default() when nil.
	Logger *slog.Logger

	// Verbose additionally logs the contents of every committed batch.
	Verbose bool

	// MmapSize overrides bbolt's initial mmap size for persistent stores.
	MmapSize int
}

// Store owns the underlying key-value backend and hands out named Trees.
type Store struct {
	mu        sync.Mutex
	st        storage
	path      string
	temporary bool
	logger    *slog.Logger
	verbose   bool
	closed    bool
}

// Open opens a persistent store at path, or an in-memory store when path is
// empty or opt.Temporary is set.
func Open(path string, opt Options) (*Store, error) {
	temporary := opt.Temporary || path == ""

	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var st storage
	if temporary {
		st = newMemStorage()
	} else {
		bopt := *bbolt.DefaultOptions
		bopt.Timeout = 10 * time.Second
		if opt.MmapSize != 0 {
			bopt.InitialMmapSize = opt.MmapSize
		}
		bdb, err := bbolt.Open(path, 0666, &bopt)
		if err != nil {
			return nil, backendErrf("open", err)
		}
		st = newBoltStorage(bdb)
	}

	s := &Store{
		st:        st,
		path:      path,
		temporary: temporary,
		logger:    logger,
		verbose:   opt.Verbose,
	}
	s.logger.Debug("tinybase: opened store", "path", path, "temporary", temporary)
	return s, nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close flushes and invalidates the store and every Tree/Table/Index
// derived from it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.st.Close()
}

// Tree is a handle to a disjoint, named, ordered byte-key namespace inside
// a Store.
type Tree struct {
	store *Store
	name  string
}

func (t *Tree) Name() string { return t.name }

// OpenTree returns a handle to the named tree, creating it if absent.
func (s *Store) OpenTree(name string) (*Tree, error) {
	err := s.update(func(tx storageTx) error {
		_, err := tx.CreateBucket(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Tree{store: s, name: name}, nil
}

// treeExists reports whether name has already been created, without
// creating it.
func (s *Store) treeExists(name string) (bool, error) {
	var exists bool
	err := s.view(func(tx storageTx) error {
		exists = tx.Bucket(name) != nil
		return nil
	})
	return exists, err
}

// OpKind distinguishes the two operations a Batch can carry.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is a single put-or-delete against one tree, as submitted to Batch.
type Op struct {
	Tree  *Tree
	Key   []byte
	Kind  OpKind
	Value []byte // ignored for OpDelete
}

// PutOp builds an Op that writes key=value into t.
func PutOp(t *Tree, key, value []byte) Op { return Op{Tree: t, Key: key, Kind: OpPut, Value: value} }

// DeleteOp builds an Op that removes key from t.
func DeleteOp(t *Tree, key []byte) Op { return Op{Tree: t, Key: key, Kind: OpDelete} }

// Batch applies ops atomically: either all of them become visible, or none
// do. ops may span multiple trees.
func (s *Store) Batch(ops []Op) error {
	if s.verbose {
		for _, op := range ops {
			s.logger.Debug("tinybase: batch op",
				"tree", op.Tree.name, "kind", batchOpName(op.Kind),
				"key", hexstr(op.Key), "value", hexstr(op.Value))
		}
	}
	err := s.update(func(tx storageTx) error {
		for _, op := range ops {
			b, err := tx.CreateBucket(op.Tree.name)
			if err != nil {
				return err
			}
			switch op.Kind {
			case OpPut:
				if err := b.Put(op.Key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("tinybase: batch committed", "ops", len(ops))
	return nil
}

func batchOpName(k OpKind) string {
	if k == OpDelete {
		return "delete"
	}
	return "put"
}

// Get reads a single key from the tree. Returns nil, nil on a miss.
func (t *Tree) Get(key []byte) ([]byte, error) {
	var out []byte
	err := t.store.view(func(tx storageTx) error {
		b := tx.Bucket(t.name)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanPrefix calls fn for every key/value pair whose key starts with prefix,
// in ascending key order, until fn returns false or the prefix is exhausted.
// A nil prefix scans the whole tree.
func (t *Tree) ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	return t.store.view(func(tx storageTx) error {
		b := tx.Bucket(t.name)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}

// Stats returns bucket-level size accounting for the tree (best effort).
func (t *Tree) Stats() (bucketStats, error) {
	var out bucketStats
	err := t.store.view(func(tx storageTx) error {
		b := tx.Bucket(t.name)
		if b == nil {
			return nil
		}
		out = b.Stats()
		return nil
	})
	return out, err
}

func (s *Store) view(fn func(tx storageTx) error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return backendErrf("view", ErrClosed)
	}
	tx, err := s.st.BeginTx(false)
	if err != nil {
		return backendErrf("begin", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return nil
}

func (s *Store) update(fn func(tx storageTx) error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return backendErrf("update", ErrClosed)
	}
	tx, err := s.st.BeginTx(true)
	if err != nil {
		return backendErrf("begin", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return backendErrf("commit", err)
	}
	return nil
}
