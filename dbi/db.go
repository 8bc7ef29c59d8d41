package dbi

import (
	"fmt"
	"iter"
	"math/rand/v2"
)

// DB is a record store: a Mapping whose payloads are records of a Schema
type DB struct {
	m      Mapping
	schema *Schema
}

// NewDB wraps an already opened mapping. Close closes m.
func NewDB(m Mapping, schema *Schema) *DB {
	return &DB{
		m:      m,
		schema: schema,
	}
}

// OpenDB opens the mapping at path and uses it to store records of schema
func OpenDB(path string, schema *Schema, opts *Options) (*DB, error) {
	m, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewDB(m, schema), nil
}

func (db *DB) Mapping() Mapping {
	return db.m
}

func (db *DB) Schema() *Schema {
	return db.schema
}

func (db *DB) Get(id int) (*Record, error) {
	s, err := db.m.Get(id)
	if err != nil {
		return nil, err
	}
	return db.schema.Deserialize(id, s)
}

// Set replaces the record with a given id. On success r.ID is set to id
func (db *DB) Set(id int, r *Record) error {
	s, err := db.schema.Serialize(r)
	if err != nil {
		return err
	}
	if err = db.m.Set(id, s); err != nil {
		return err
	}
	r.ID = id
	return nil
}

// Add stores a new record and sets r.ID to its id
func (db *DB) Add(r *Record) (int, error) {
	s, err := db.schema.Serialize(r)
	if err != nil {
		return 0, err
	}
	id, err := db.m.Add(s)
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// Remove deletes a record and returns it
func (db *DB) Remove(id int) (*Record, error) {
	s, err := db.m.Remove(id)
	if err != nil {
		return nil, err
	}
	return db.schema.Deserialize(id, s)
}

// All returns all records in the order of the underlying mapping
func (db *DB) All() (iter.Seq[*Record], func() error) {
	return db.Select(nil)
}

// Select returns records for which pred returns true. nil pred selects all.
// Iteration stops at the first record that can't be deserialized.
func (db *DB) Select(pred func(r *Record) bool) (iter.Seq[*Record], func() error) {
	var iterErr error
	seq := func(yield func(*Record) bool) {
		iterErr = nil
		pairs, errFn := db.m.Iterate()
		for id, s := range pairs {
			r, err := db.schema.Deserialize(id, s)
			if err != nil {
				iterErr = err
				return
			}
			if pred != nil && !pred(r) {
				continue
			}
			if !yield(r) {
				return
			}
		}
		iterErr = errFn()
	}
	return seq, func() error { return iterErr }
}

// Random returns a uniformly chosen record, reading the store once.
// ErrNotFound if the store is empty.
func (db *DB) Random() (*Record, error) {
	pairs, errFn := db.m.Iterate()
	n := 0
	var id int
	var s string
	for pid, ps := range pairs {
		n++
		// reservoir sampling: keep n-th item with probability 1/n
		if rand.IntN(n) == 0 {
			id, s = pid, ps
		}
	}
	if err := errFn(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: no records", ErrNotFound)
	}
	return db.schema.Deserialize(id, s)
}

// Count returns the number of live records
func (db *DB) Count() (int, error) {
	pairs, errFn := db.m.Iterate()
	n := 0
	for range pairs {
		n++
	}
	return n, errFn()
}

func (db *DB) Flush() error {
	return db.m.Flush()
}

func (db *DB) Vacuum() error {
	return db.m.Vacuum()
}

func (db *DB) Close() error {
	return db.m.Close()
}
