package dbi

import (
	"iter"
	"path/filepath"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

type registryEntry struct {
	sm   *SyncMapping
	refs int
}

// Registry shares one open mapping per path between users in a process.
// A path is opened on first Open and closed when the last handle is closed.
type Registry struct {
	entries *xsync.MapOf[string, registryEntry]
}

func NewRegistry() *Registry {
	return &Registry{
		entries: xsync.NewMapOf[string, registryEntry](),
	}
}

func registryKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Open returns a handle to the mapping at path. Options only matter
// for the first Open of a path.
func (r *Registry) Open(path string, opts *Options) (Mapping, error) {
	key := registryKey(path)
	var openErr error
	e, ok := r.entries.Compute(key, func(old registryEntry, loaded bool) (registryEntry, bool) {
		if loaded {
			old.refs++
			return old, false
		}
		m, err := Open(path, opts)
		if err != nil {
			openErr = err
			return old, true
		}
		return registryEntry{sm: Synchronized(m), refs: 1}, false
	})
	if !ok {
		return nil, openErr
	}
	return &registryHandle{r: r, key: key, sm: e.sm}, nil
}

// Len returns the number of open paths
func (r *Registry) Len() int {
	return r.entries.Size()
}

// Refs returns the number of open handles for path
func (r *Registry) Refs(path string) int {
	e, ok := r.entries.Load(registryKey(path))
	if !ok {
		return 0
	}
	return e.refs
}

func (r *Registry) release(key string) error {
	var closeErr error
	r.entries.Compute(key, func(old registryEntry, loaded bool) (registryEntry, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		if old.refs > 0 {
			return old, false
		}
		closeErr = old.sm.Close()
		return old, true
	})
	return closeErr
}

type registryHandle struct {
	r      *Registry
	key    string
	sm     *SyncMapping
	closed atomic.Bool
}

var _ Mapping = &registryHandle{}

func (h *registryHandle) Unwrap() Mapping {
	return h.sm
}

func (h *registryHandle) Get(id int) (string, error) {
	if h.closed.Load() {
		return "", ErrClosed
	}
	return h.sm.Get(id)
}

func (h *registryHandle) Set(id int, s string) error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.sm.Set(id, s)
}

func (h *registryHandle) Add(s string) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	return h.sm.Add(s)
}

func (h *registryHandle) Remove(id int) (string, error) {
	if h.closed.Load() {
		return "", ErrClosed
	}
	return h.sm.Remove(id)
}

func (h *registryHandle) Iterate() (iter.Seq2[int, string], func() error) {
	if h.closed.Load() {
		return func(yield func(int, string) bool) {}, func() error { return ErrClosed }
	}
	return h.sm.Iterate()
}

func (h *registryHandle) Flush() error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.sm.Flush()
}

func (h *registryHandle) Vacuum() error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.sm.Vacuum()
}

// Close releases the handle. The mapping is closed with the last handle.
func (h *registryHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.r.release(h.key)
}
