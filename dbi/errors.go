package dbi

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get and Remove when there's no live
	// record with a given id. Callers are expected to handle it.
	ErrNotFound = errors.New("dbi: record not found")
	// ErrStorage means the backing file or database can't be used:
	// corrupt header, malformed line, unopenable location
	ErrStorage = errors.New("dbi: storage error")
	// ErrSchema is returned when a record schema is malformed
	ErrSchema = errors.New("dbi: schema error")
	// ErrCapacity is returned by the flat file mapping when the next id
	// doesn't fit in the fixed id width of the file
	ErrCapacity = errors.New("dbi: id capacity exceeded")
	// ErrClosed is returned by all operations after Close
	ErrClosed = errors.New("dbi: mapping is closed")
	// ErrInvalidPayload is returned for payloads that contain newlines
	ErrInvalidPayload = errors.New("dbi: invalid payload")
)

func notFoundErr(id int) error {
	return fmt.Errorf("%w: id %d", ErrNotFound, id)
}

func storageErr(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, path, err)
}

func storageErrf(path string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrStorage, path, fmt.Sprintf(format, args...))
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
