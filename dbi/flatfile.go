package dbi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kjk/dbi/atomicfile"
	"github.com/kjk/dbi/log"
	"github.com/kjk/dbi/u"
)

// FlatFile is a Mapping stored in a single text file:
//
//	000003
//	000001:first payload
//	------:removed payload
//	000002:second payload
//
// The first line is the next id to allocate. Every other line is
// <id>:<payload>. Ids are zero-padded to a width fixed when the file is
// created. Removing a record overwrites its id with dashes in place,
// Vacuum (called by Close) rewrites the file without those lines.
//
// No file handle is kept open between calls.
type FlatFile struct {
	path   string
	width  int
	nextID int
	sync   bool
	closed bool
}

var _ Mapping = &FlatFile{}

// digitWidth returns the smallest id width that can allocate ids up to
// maxSize. The counter is stored in the same width and goes up to
// maxSize+1.
func digitWidth(maxSize int) int {
	if maxSize < 1 {
		return 1
	}
	return len(strconv.Itoa(maxSize + 1))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// OpenFlatFile opens the flat file mapping at path, creating it if it
// doesn't exist. Only opts.MaxSize and opts.Sync are used.
func OpenFlatFile(path string, opts *Options) (*FlatFile, error) {
	if opts == nil {
		opts = &Options{}
	}
	f := &FlatFile{
		path: path,
		sync: opts.Sync,
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		maxSize := opts.MaxSize
		if maxSize <= 0 {
			maxSize = DefaultMaxSize
		}
		f.width = digitWidth(maxSize)
		if err = f.create(); err != nil {
			return nil, err
		}
		log.Verbosef("dbi: created '%s', id width: %d\n", path, f.width)
		return f, nil
	}
	if err != nil {
		return nil, storageErr(path, err)
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, storageErr(path, err)
	}
	hdr := strings.TrimRight(line, "\r\n")
	if !isDigits(hdr) {
		return nil, storageErrf(path, "invalid header line %q", hdr)
	}
	f.width = len(hdr)
	f.nextID, err = strconv.Atoi(hdr)
	if err != nil {
		return nil, storageErr(path, err)
	}
	if f.nextID < 1 {
		return nil, storageErrf(path, "invalid next id %d", f.nextID)
	}
	log.Verbosef("dbi: opened '%s', next id: %d, id width: %d\n", path, f.nextID, f.width)
	return f, nil
}

// create writes a new file whose header allocates id 1 first
func (f *FlatFile) create() error {
	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return storageErr(f.path, err)
	}
	f.nextID = 1
	_, err = file.WriteString(f.canonicalID(f.nextID) + "\n")
	if err == nil && f.sync {
		err = file.Sync()
	}
	err2 := file.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(f.path)
		return storageErr(f.path, err)
	}
	return nil
}

// Path returns the path of the backing file
func (f *FlatFile) Path() string {
	return f.path
}

// Width returns the number of digits of ids in the file
func (f *FlatFile) Width() int {
	return f.width
}

// NextID returns the id the next Add will allocate
func (f *FlatFile) NextID() int {
	return f.nextID
}

// MaxID returns the largest id that can be allocated
func (f *FlatFile) MaxID() int {
	// the counter must fit in width digits after allocating the id
	n := 1
	for range f.width {
		n *= 10
	}
	return n - 2
}

func (f *FlatFile) canonicalID(id int) string {
	return fmt.Sprintf("%0*d", f.width, id)
}

func (f *FlatFile) tombstone() string {
	return strings.Repeat("-", f.width)
}

func isTombstone(lineID string) bool {
	return strings.HasPrefix(lineID, "-")
}

func (f *FlatFile) joinLine(id int, s string) string {
	return f.canonicalID(id) + ":" + s + "\n"
}

func (f *FlatFile) checkOpen() error {
	if f.closed {
		return ErrClosed
	}
	return nil
}

// scanLines calls fn for every record line after the header, with the
// id part, the payload and the offset of the line within the file.
// Scanning stops when fn returns false.
func (f *FlatFile) scanLines(file *os.File, fn func(lineID, s string, off int64) bool) error {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return storageErr(f.path, err)
	}
	r := bufio.NewReader(file)
	hdr, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return storageErr(f.path, err)
	}
	off := int64(len(hdr))
	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return storageErr(f.path, err)
		}
		if line == "" {
			return nil
		}
		lineLen := int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		lineID, s, ok := strings.Cut(line, ":")
		if !ok {
			return storageErrf(f.path, "malformed line at offset %d: %q", off, line)
		}
		if !fn(lineID, s, off) {
			return nil
		}
		off += lineLen
		if err == io.EOF {
			return nil
		}
	}
}

func (f *FlatFile) Get(id int) (string, error) {
	if err := f.checkOpen(); err != nil {
		return "", err
	}
	if id < 1 {
		return "", notFoundErr(id)
	}
	file, err := os.Open(f.path)
	if err != nil {
		return "", storageErr(f.path, err)
	}
	defer file.Close()

	want := f.canonicalID(id)
	var res string
	found := false
	err = f.scanLines(file, func(lineID, s string, _ int64) bool {
		if lineID == want {
			res = s
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", notFoundErr(id)
	}
	return res, nil
}

// removeInFile replaces the id of every line for id with the tombstone.
// Files written by older tools could have more than one line per id
// so we don't stop at the first match.
// Returns the payload of the first match.
func (f *FlatFile) removeInFile(file *os.File, id int) (string, bool, error) {
	want := f.canonicalID(id)
	tomb := []byte(f.tombstone())
	var res string
	found := false
	var writeErr error
	err := f.scanLines(file, func(lineID, s string, off int64) bool {
		if lineID != want {
			return true
		}
		// same width as the id so the line keeps its length
		if _, writeErr = file.WriteAt(tomb, off); writeErr != nil {
			return false
		}
		if !found {
			res = s
			found = true
		}
		return true
	})
	if writeErr != nil {
		return "", false, storageErr(f.path, writeErr)
	}
	if err != nil {
		return "", false, err
	}
	return res, found, nil
}

func (f *FlatFile) closeFile(file *os.File, err error) error {
	if err == nil && f.sync {
		err = file.Sync()
	}
	err2 := file.Close()
	if err != nil {
		return err
	}
	if err2 != nil {
		return storageErr(f.path, err2)
	}
	return nil
}

func (f *FlatFile) Remove(id int) (res string, err error) {
	if err := f.checkOpen(); err != nil {
		return "", err
	}
	if id < 1 {
		return "", notFoundErr(id)
	}
	file, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return "", storageErr(f.path, err)
	}
	defer func() {
		err = f.closeFile(file, err)
	}()

	s, found, err := f.removeInFile(file, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", notFoundErr(id)
	}
	return s, nil
}

func (f *FlatFile) appendLine(file *os.File, line string) error {
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return storageErr(f.path, err)
	}
	// a file edited by hand might not end with a newline
	if end > 0 {
		last := []byte{0}
		if _, err = file.ReadAt(last, end-1); err != nil {
			return storageErr(f.path, err)
		}
		if last[0] != '\n' {
			line = "\n" + line
		}
	}
	if _, err := file.WriteString(line); err != nil {
		return storageErr(f.path, err)
	}
	return nil
}

// Set tombstones the current line for id (if any) and appends a new one.
// The id must have been allocated by Add.
func (f *FlatFile) Set(id int, s string) (err error) {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := validatePayload(s); err != nil {
		return err
	}
	if id < 1 || id >= f.nextID {
		return fmt.Errorf("%w: id %d was never allocated", ErrNotFound, id)
	}
	file, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return storageErr(f.path, err)
	}
	defer func() {
		err = f.closeFile(file, err)
	}()

	if _, _, err = f.removeInFile(file, id); err != nil {
		return err
	}
	return f.appendLine(file, f.joinLine(id, s))
}

// Add persists the incremented counter before appending the record.
// If we crash in between, the id is lost but never handed out twice.
func (f *FlatFile) Add(s string) (id int, err error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if err := validatePayload(s); err != nil {
		return 0, err
	}
	id = f.nextID
	if id > f.MaxID() {
		return 0, fmt.Errorf("%w: next id %d doesn't fit in %d digits of '%s'", ErrCapacity, id+1, f.width, f.path)
	}
	file, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return 0, storageErr(f.path, err)
	}
	defer func() {
		err = f.closeFile(file, err)
		if err != nil {
			id = 0
		}
	}()

	// the header has a fixed width so we only rewrite the digits
	if _, err = file.WriteAt([]byte(f.canonicalID(id+1)), 0); err != nil {
		return 0, storageErr(f.path, err)
	}
	f.nextID = id + 1
	if err = f.appendLine(file, f.joinLine(id, s)); err != nil {
		return 0, err
	}
	return id, nil
}

// reserveIDs moves the counter forward so that the next Add allocates
// next. Skipped ids are never allocated. No-op if the counter is
// already at or past next.
func (f *FlatFile) reserveIDs(next int) (err error) {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if next <= f.nextID {
		return nil
	}
	if next > f.MaxID()+1 {
		return fmt.Errorf("%w: next id %d doesn't fit in %d digits of '%s'", ErrCapacity, next, f.width, f.path)
	}
	file, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return storageErr(f.path, err)
	}
	defer func() {
		err = f.closeFile(file, err)
	}()

	if _, err = file.WriteAt([]byte(f.canonicalID(next)), 0); err != nil {
		return storageErr(f.path, err)
	}
	f.nextID = next
	return nil
}

func (f *FlatFile) Iterate() (iter.Seq2[int, string], func() error) {
	var iterErr error
	seq := func(yield func(int, string) bool) {
		iterErr = f.checkOpen()
		if iterErr != nil {
			return
		}
		file, err := os.Open(f.path)
		if err != nil {
			iterErr = storageErr(f.path, err)
			return
		}
		defer file.Close()

		var convErr error
		iterErr = f.scanLines(file, func(lineID, s string, off int64) bool {
			if isTombstone(lineID) {
				return true
			}
			// Get and Remove only match ids of the file's width
			if len(lineID) != f.width || !isDigits(lineID) {
				convErr = storageErrf(f.path, "invalid id %q at offset %d", lineID, off)
				return false
			}
			id, err := strconv.Atoi(lineID)
			if err != nil || id < 1 {
				convErr = storageErrf(f.path, "invalid id %q at offset %d", lineID, off)
				return false
			}
			return yield(id, s)
		})
		if iterErr == nil {
			iterErr = convErr
		}
	}
	return seq, func() error { return iterErr }
}

// Flush is a no-op, every write goes straight to the file
func (f *FlatFile) Flush() error {
	return f.checkOpen()
}

// Vacuum rewrites the file without removed records. The new content is
// written to a temporary file which then replaces the original.
func (f *FlatFile) Vacuum() error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	timeStart := time.Now()
	in, err := os.Open(f.path)
	if err != nil {
		return storageErr(f.path, err)
	}
	defer in.Close()

	out, err := atomicfile.New(f.path)
	if err != nil {
		return storageErr(f.path, err)
	}
	defer out.RemoveIfNotClosed()

	r := bufio.NewReader(in)
	w := bufio.NewWriter(out)
	nKept, nDropped := 0, 0
	isHeader := true
	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return storageErr(f.path, err)
		}
		if line == "" {
			break
		}
		if !isHeader && isTombstone(line) {
			nDropped++
		} else {
			if !isHeader {
				nKept++
			}
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			w.WriteString(line)
		}
		isHeader = false
		if err == io.EOF {
			break
		}
	}
	if err = w.Flush(); err != nil {
		return storageErr(f.path, err)
	}
	// on windows we can't rename over a file that is open
	in.Close()
	if err = out.Close(); err != nil {
		return storageErr(f.path, err)
	}
	log.EventWithDuration("dbi.vacuum", time.Since(timeStart), "path", f.path, "kept", nKept, "dropped", nDropped, "size", u.FileSize(f.path))
	return nil
}

// Close vacuums the file. It's marked closed even if Vacuum fails, the
// file is still valid in that case.
func (f *FlatFile) Close() error {
	if f.closed {
		return nil
	}
	err := f.Vacuum()
	f.closed = true
	return err
}
