package dbi

import (
	"errors"
	"fmt"
	"iter"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/kjk/dbi/log"
)

// nextIDKey holds the next id as a decimal string. Every other key is
// a decimal id.
const nextIDKey = "nextId"

// PebbleMapping is a Mapping stored in a pebble database. Removed
// records are deleted right away so there is nothing to vacuum.
type PebbleMapping struct {
	db        *pebble.DB
	path      string
	nextID    int
	writeOpts *pebble.WriteOptions
	closed    bool
}

var _ Mapping = &PebbleMapping{}

func idKey(id int) []byte {
	return []byte(strconv.Itoa(id))
}

// OpenPebble opens or creates a pebble database in directory path.
// Only opts.Sync and opts.Pebble are used.
func OpenPebble(path string, opts *Options) (*PebbleMapping, error) {
	if opts == nil {
		opts = &Options{}
	}
	popts := &pebble.Options{}
	if opts.Pebble != nil {
		// pebble.Open() fills in defaults, don't change caller's options
		o := *opts.Pebble
		popts = &o
	}
	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, storageErr(path, err)
	}
	p := &PebbleMapping{
		db:        db,
		path:      path,
		writeOpts: pebble.NoSync,
	}
	if opts.Sync {
		p.writeOpts = pebble.Sync
	}
	if err = p.loadNextID(); err != nil {
		db.Close()
		return nil, err
	}
	log.Verbosef("dbi: opened pebble db '%s', next id: %d\n", path, p.nextID)
	return p, nil
}

func (p *PebbleMapping) loadNextID() error {
	v, closer, err := p.db.Get([]byte(nextIDKey))
	if errors.Is(err, pebble.ErrNotFound) {
		p.nextID = 1
		err = p.db.Set([]byte(nextIDKey), idKey(p.nextID), p.writeOpts)
		if err != nil {
			return storageErr(p.path, err)
		}
		return nil
	}
	if err != nil {
		return storageErr(p.path, err)
	}
	s := string(v)
	closer.Close()
	p.nextID, err = strconv.Atoi(s)
	if err != nil || p.nextID < 1 {
		return storageErrf(p.path, "invalid %s value %q", nextIDKey, s)
	}
	return nil
}

// Path returns the database directory
func (p *PebbleMapping) Path() string {
	return p.path
}

// NextID returns the id the next Add will allocate
func (p *PebbleMapping) NextID() int {
	return p.nextID
}

func (p *PebbleMapping) checkOpen() error {
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *PebbleMapping) get(id int) (string, error) {
	v, closer, err := p.db.Get(idKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", notFoundErr(id)
	}
	if err != nil {
		return "", storageErr(p.path, err)
	}
	// v is only valid until closer.Close()
	s := string(v)
	closer.Close()
	return s, nil
}

func (p *PebbleMapping) Get(id int) (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}
	if id < 1 {
		return "", notFoundErr(id)
	}
	return p.get(id)
}

// Set writes the payload of an id allocated by Add
func (p *PebbleMapping) Set(id int, s string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := validatePayload(s); err != nil {
		return err
	}
	if id < 1 || id >= p.nextID {
		return fmt.Errorf("%w: id %d was never allocated", ErrNotFound, id)
	}
	if err := p.db.Set(idKey(id), []byte(s), p.writeOpts); err != nil {
		return storageErr(p.path, err)
	}
	return nil
}

// Add writes the new counter and the record in a single batch so either
// both or none are persisted
func (p *PebbleMapping) Add(s string) (int, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	if err := validatePayload(s); err != nil {
		return 0, err
	}
	id := p.nextID
	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(nextIDKey), idKey(id+1), nil); err != nil {
		return 0, storageErr(p.path, err)
	}
	if err := b.Set(idKey(id), []byte(s), nil); err != nil {
		return 0, storageErr(p.path, err)
	}
	if err := b.Commit(p.writeOpts); err != nil {
		return 0, storageErr(p.path, err)
	}
	p.nextID = id + 1
	return id, nil
}

// reserveIDs moves the counter forward so that the next Add allocates
// next. No-op if the counter is already at or past next.
func (p *PebbleMapping) reserveIDs(next int) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if next <= p.nextID {
		return nil
	}
	if err := p.db.Set([]byte(nextIDKey), idKey(next), p.writeOpts); err != nil {
		return storageErr(p.path, err)
	}
	p.nextID = next
	return nil
}

func (p *PebbleMapping) Remove(id int) (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}
	if id < 1 {
		return "", notFoundErr(id)
	}
	s, err := p.get(id)
	if err != nil {
		return "", err
	}
	if err = p.db.Delete(idKey(id), p.writeOpts); err != nil {
		return "", storageErr(p.path, err)
	}
	return s, nil
}

// Iterate returns records in the order of their keys, which is the
// lexicographic order of decimal ids
func (p *PebbleMapping) Iterate() (iter.Seq2[int, string], func() error) {
	var iterErr error
	seq := func(yield func(int, string) bool) {
		iterErr = p.checkOpen()
		if iterErr != nil {
			return
		}
		it, err := p.db.NewIter(&pebble.IterOptions{})
		if err != nil {
			iterErr = storageErr(p.path, err)
			return
		}
		defer func() {
			if err := it.Close(); err != nil && iterErr == nil {
				iterErr = storageErr(p.path, err)
			}
		}()

		for ok := it.First(); ok; ok = it.Next() {
			key := string(it.Key())
			if key == nextIDKey {
				continue
			}
			id, err := strconv.Atoi(key)
			if err != nil {
				iterErr = storageErrf(p.path, "invalid key %q", key)
				return
			}
			v, err := it.ValueAndErr()
			if err != nil {
				iterErr = storageErr(p.path, err)
				return
			}
			if !yield(id, string(v)) {
				return
			}
		}
		if err := it.Error(); err != nil {
			iterErr = storageErr(p.path, err)
		}
	}
	return seq, func() error { return iterErr }
}

func (p *PebbleMapping) Flush() error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.db.Flush(); err != nil {
		return storageErr(p.path, err)
	}
	return nil
}

// Vacuum is a no-op, pebble compacts deleted keys on its own
func (p *PebbleMapping) Vacuum() error {
	return p.checkOpen()
}

func (p *PebbleMapping) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.db.Close(); err != nil {
		return storageErr(p.path, err)
	}
	log.Event("dbi.close", "path", p.path, "kind", KindPebble.String())
	return nil
}
