package dbi

import (
	"iter"
	"sync"
)

// SyncMapping makes a Mapping safe for use from multiple goroutines
type SyncMapping struct {
	mu sync.Mutex
	m  Mapping
}

var _ Mapping = &SyncMapping{}

// Synchronized wraps m with a mutex
func Synchronized(m Mapping) *SyncMapping {
	return &SyncMapping{m: m}
}

func (sm *SyncMapping) Unwrap() Mapping {
	return sm.m
}

// NextID returns the next id of the wrapped mapping, 0 if it doesn't track it
func (sm *SyncMapping) NextID() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	id, _ := nextIDOf(sm.m)
	return id
}

func (sm *SyncMapping) reserveIDs(next int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return reserveIDs(sm.m, next)
}

func (sm *SyncMapping) Get(id int) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.m.Get(id)
}

func (sm *SyncMapping) Set(id int, s string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.m.Set(id, s)
}

func (sm *SyncMapping) Add(s string) (int, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.m.Add(s)
}

func (sm *SyncMapping) Remove(id int) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.m.Remove(id)
}

type idPayload struct {
	id int
	s  string
}

// Iterate reads all records into memory under the lock and yields them
// after releasing it, so the caller can modify the mapping while ranging
func (sm *SyncMapping) Iterate() (iter.Seq2[int, string], func() error) {
	var iterErr error
	seq := func(yield func(int, string) bool) {
		var snapshot []idPayload
		sm.mu.Lock()
		pairs, errFn := sm.m.Iterate()
		for id, s := range pairs {
			snapshot = append(snapshot, idPayload{id, s})
		}
		iterErr = errFn()
		sm.mu.Unlock()
		if iterErr != nil {
			return
		}
		for _, e := range snapshot {
			if !yield(e.id, e.s) {
				return
			}
		}
	}
	return seq, func() error { return iterErr }
}

func (sm *SyncMapping) Flush() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.m.Flush()
}

func (sm *SyncMapping) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.m.Close()
}

func (sm *SyncMapping) Vacuum() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.m.Vacuum()
}
