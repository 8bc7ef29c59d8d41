package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Some references:
// - https://www.slideshare.net/nan1nan1/eat-my-data
// - https://lwn.net/Articles/457667/

var (
	// ErrCancelled is returned by calls subsequent to Cancel()
	ErrCancelled = errors.New("cancelled")

	defaultPerm = os.FileMode(0644)

	_ io.WriteCloser  = &File{}
	_ io.StringWriter = &File{}
	_ io.ReaderFrom   = &File{}
)

// File writes to a temporary file in the directory of the destination
// and renames it over the destination on Close.
// The destination is either fully replaced or left untouched.
type File struct {
	dstPath string
	dir     string
	tmpFile *os.File
	err     error

	tmpPath string // for debugging
}

// New creates new File. If dstPath already exists, its permission bits
// are carried over to the replacement, otherwise the file gets 0644.
func New(dstPath string) (*File, error) {
	dir, fName := filepath.Split(dstPath)
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if fName == "" {
		return nil, &os.PathError{Op: "open", Path: dstPath, Err: os.ErrInvalid}
	}

	perm := defaultPerm
	if st, err := os.Stat(dstPath); err == nil {
		if !st.Mode().IsRegular() {
			return nil, &os.PathError{Op: "open", Path: dstPath, Err: os.ErrInvalid}
		}
		perm = st.Mode().Perm()
	}

	// the leading dot keeps the temp file out of the way of directory listings
	tmpFile, err := os.CreateTemp(dir, "."+fName+".tmp-")
	if err != nil {
		return nil, err
	}
	// CreateTemp always uses 0600
	if err = tmpFile.Chmod(perm); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}

	return &File{
		dstPath: dstPath,
		dir:     dir,
		tmpFile: tmpFile,
		tmpPath: tmpFile.Name(),
	}, nil
}

func (f *File) handleError(err error) error {
	if err == nil {
		return nil
	}
	// remember the first error
	if f.err == nil {
		f.err = err
	}
	// cleanup i.e. delete temporary file
	_ = f.Close()
	return err
}

// Write writes data to a file
func (f *File) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmpFile.Write(d)
	return n, f.handleError(err)
}

func (f *File) WriteString(s string) (n int, err error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err = f.tmpFile.WriteString(s)
	return n, f.handleError(err)
}

// ReadFrom copies r into the file until EOF
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := io.Copy(f.tmpFile, r)
	return n, f.handleError(err)
}

// Path returns the destination path
func (f *File) Path() string {
	return f.dstPath
}

func (f *File) alreadyClosed() bool {
	return f.tmpFile == nil
}

// Cancel removes the temp file without touching the destination.
// Subsequent calls return ErrCancelled. A no-op after a successful Close.
func (f *File) Cancel() {
	if f == nil || f.alreadyClosed() {
		return
	}
	f.err = ErrCancelled
	_ = f.Close()
}

// RemoveIfNotClosed is Cancel meant for defer: it cleans up the temp
// file if we return early (or panic) before Close.
func (f *File) RemoveIfNotClosed() {
	f.Cancel()
}

// Close syncs the temp file and renames it over the destination.
// Can be called multiple times; later calls return the first error.
func (f *File) Close() error {
	if f.alreadyClosed() {
		return f.err
	}
	tmpFile := f.tmpFile
	f.tmpFile = nil

	// https://www.joeshaw.org/dont-defer-close-on-writable-files/
	errSync := tmpFile.Sync()
	errClose := tmpFile.Close()

	didRename := false
	defer func() {
		if !didRename {
			_ = os.Remove(f.tmpPath)
		}
	}()

	if f.err != nil {
		return f.err
	}

	err := errSync
	if err == nil {
		err = errClose
	}

	if err == nil {
		err = os.Rename(f.tmpPath, f.dstPath)
		didRename = (err == nil)
		// the rename is only durable once the directory entry is synced
		fdir, _ := os.Open(f.dir)
		if fdir != nil {
			_ = fdir.Sync()
			_ = fdir.Close()
		}
	}

	if f.err == nil {
		f.err = err
	}
	return f.err
}
