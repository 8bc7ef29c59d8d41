package dbi

import (
	"fmt"
	"iter"
	"strings"

	"github.com/cockroachdb/pebble"
)

// Mapping stores string payloads under integer ids allocated by Add.
//
// Implementations are not safe for concurrent use: a Mapping has a single
// writer. Use Synchronized (or a Registry) to share one between goroutines.
// Nothing protects a file from being opened by two processes.
type Mapping interface {
	// Get returns the payload of a live record, ErrNotFound otherwise
	Get(id int) (string, error)
	// Set replaces the payload of an allocated id. It doesn't have to
	// preserve the position of the record in the backing store.
	Set(id int, s string) error
	// Add stores s under a new id and returns the id
	Add(s string) (int, error)
	// Remove deletes a record and returns its payload, ErrNotFound if absent
	Remove(id int) (string, error)
	// Iterate returns a sequence of live (id, payload) pairs in no
	// particular order. The sequence can be ranged over many times,
	// each pass reads the store again. The returned func reports the
	// error that ended the last pass early.
	Iterate() (iter.Seq2[int, string], func() error)
	// Flush writes buffered state to durable storage
	Flush() error
	// Close flushes, compacts if needed and releases resources.
	// The Mapping can't be used afterwards.
	Close() error
	// Vacuum drops removed records from the backing store, if the
	// backend keeps them around
	Vacuum() error
}

// Kind selects a Mapping implementation
type Kind int

const (
	// KindFlat is a single text file with one record per line
	KindFlat Kind = iota
	// KindPebble is a pebble key-value database directory
	KindPebble
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindPebble:
		return "pebble"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses a backend name as accepted on the command line.
// "cdb" is accepted as an alias for pebble.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flat":
		return KindFlat, nil
	case "pebble", "cdb":
		return KindPebble, nil
	}
	return 0, fmt.Errorf("unknown mapping kind '%s', expected flat or pebble", s)
}

// DefaultMaxSize is the id capacity of a new flat file: ids are written
// with 7 digits
const DefaultMaxSize = 1000 * 1000

type Options struct {
	Kind Kind
	// MaxSize bounds ids of a newly created flat file: ids are written
	// with as many digits as MaxSize+1 has. Ignored when opening an
	// existing file. 0 means DefaultMaxSize
	MaxSize int
	// if true, fsync after every write
	// this makes things much slower
	Sync bool
	// optional, for KindPebble
	Pebble *pebble.Options
}

// Open opens or creates a mapping at path. nil opts means a flat file
// with DefaultMaxSize capacity.
func Open(path string, opts *Options) (Mapping, error) {
	if opts == nil {
		opts = &Options{}
	}
	// avoid returning a nil *FlatFile wrapped in a non-nil Mapping
	switch opts.Kind {
	case KindFlat:
		f, err := OpenFlatFile(path, opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	case KindPebble:
		p, err := OpenPebble(path, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown mapping kind %s", opts.Kind)
}

// payloads are stored one per line so they can't contain newlines.
// We enforce it for every backend so that they stay interchangeable
func validatePayload(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("%w: payload cannot contain newlines", ErrInvalidPayload)
	}
	return nil
}
