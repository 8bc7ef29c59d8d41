package dbi

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/kjk/dbi/atomicfile"
	"github.com/kjk/dbi/u"
)

// exportWidth is the minimum id width of exported files
const exportWidth = 6

type unwrapper interface {
	Unwrap() Mapping
}

// nextIDOf returns the next id of m, looking through wrappers.
// false if m doesn't track it.
func nextIDOf(m Mapping) (int, bool) {
	for m != nil {
		if n, ok := m.(interface{ NextID() int }); ok {
			id := n.NextID()
			return id, id > 0
		}
		uw, ok := m.(unwrapper)
		if !ok {
			break
		}
		m = uw.Unwrap()
	}
	return 0, false
}

func widthOf(m Mapping) int {
	for m != nil {
		if w, ok := m.(interface{ Width() int }); ok {
			return w.Width()
		}
		uw, ok := m.(unwrapper)
		if !ok {
			break
		}
		m = uw.Unwrap()
	}
	return 0
}

// readSorted reads all live records of m ordered by id.
// Returns the id that should be allocated next.
func readSorted(m Mapping) ([]idPayload, int, error) {
	var res []idPayload
	pairs, errFn := m.Iterate()
	for id, s := range pairs {
		res = append(res, idPayload{id, s})
	}
	if err := errFn(); err != nil {
		return nil, 0, err
	}
	slices.SortFunc(res, func(a, b idPayload) int {
		return cmp.Compare(a.id, b.id)
	})
	nextID := 1
	if len(res) > 0 {
		nextID = res[len(res)-1].id + 1
	}
	if n, ok := nextIDOf(m); ok && n > nextID {
		nextID = n
	}
	return res, nextID, nil
}

// Export writes records of m to w in flat file format, ordered by id and
// without removed records. Returns the number of records written.
func Export(w io.Writer, m Mapping) (int, error) {
	entries, nextID, err := readSorted(m)
	if err != nil {
		return 0, err
	}
	width := max(exportWidth, widthOf(m), len(strconv.Itoa(nextID)))
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%0*d\n", width, nextID)
	for _, e := range entries {
		fmt.Fprintf(bw, "%0*d:%s\n", width, e.id, e.s)
	}
	return len(entries), bw.Flush()
}

// parseExport reads a file in flat file format. Removed records are skipped.
func parseExport(r io.Reader) ([]idPayload, int, error) {
	br := bufio.NewReader(r)
	hdr, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	hdr = strings.TrimRight(hdr, "\r\n")
	nextID, err := strconv.Atoi(hdr)
	if !isDigits(hdr) || err != nil || nextID < 1 {
		return nil, 0, fmt.Errorf("%w: invalid header line %q", ErrStorage, hdr)
	}
	var res []idPayload
	seen := map[int]bool{}
	for lineNo := 2; ; lineNo++ {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, 0, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		if line == "" {
			break
		}
		line = strings.TrimRight(line, "\r\n")
		lineID, s, ok := strings.Cut(line, ":")
		if !ok {
			return nil, 0, fmt.Errorf("%w: malformed line %d: %q", ErrStorage, lineNo, line)
		}
		if !isTombstone(lineID) {
			id, convErr := strconv.Atoi(lineID)
			if !isDigits(lineID) || convErr != nil || id < 1 {
				return nil, 0, fmt.Errorf("%w: invalid id %q in line %d", ErrStorage, lineID, lineNo)
			}
			if seen[id] {
				return nil, 0, fmt.Errorf("%w: duplicate id %d in line %d", ErrStorage, id, lineNo)
			}
			seen[id] = true
			res = append(res, idPayload{id, s})
		}
		if err == io.EOF {
			break
		}
	}
	slices.SortFunc(res, func(a, b idPayload) int {
		return cmp.Compare(a.id, b.id)
	})
	if len(res) > 0 {
		nextID = max(nextID, res[len(res)-1].id+1)
	}
	return res, nextID, nil
}

type idReserver interface {
	reserveIDs(next int) error
}

// reserveIDs moves the counter of m forward to next, looking through
// wrappers. errors.ErrUnsupported if m can't do it.
func reserveIDs(m Mapping, next int) error {
	for m != nil {
		if r, ok := m.(idReserver); ok {
			return r.reserveIDs(next)
		}
		uw, ok := m.(unwrapper)
		if !ok {
			break
		}
		m = uw.Unwrap()
	}
	return errors.ErrUnsupported
}

// burnIDs allocates and removes ids until the next id is at least next.
// Only for mappings that can't reserve ids, it's slow for large gaps.
func burnIDs(dst Mapping, next int) error {
	for {
		if n, ok := nextIDOf(dst); ok && n >= next {
			return nil
		}
		id, err := dst.Add("")
		if err != nil {
			return err
		}
		if _, err = dst.Remove(id); err != nil {
			return err
		}
		if id+1 >= next {
			return nil
		}
	}
}

// skipTo makes next the id allocated by the next Add of dst
func skipTo(dst Mapping, next int) error {
	err := reserveIDs(dst, next)
	if errors.Is(err, errors.ErrUnsupported) {
		return burnIDs(dst, next)
	}
	return err
}

// replay adds entries to dst so that they get the same ids. Ids in
// between are skipped without being allocated, so dst must not have
// allocated any of entries' ids yet. Afterwards the next id of dst is
// at least nextID.
func replay(dst Mapping, entries []idPayload, nextID int) error {
	for _, e := range entries {
		if n, ok := nextIDOf(dst); ok && n > e.id {
			return fmt.Errorf("%w: destination already allocated id %d", ErrStorage, e.id)
		}
		if err := skipTo(dst, e.id); err != nil {
			return err
		}
		id, err := dst.Add(e.s)
		if err != nil {
			return err
		}
		if id != e.id {
			return fmt.Errorf("%w: destination already allocated id %d, added as %d", ErrStorage, e.id, id)
		}
	}
	return skipTo(dst, nextID)
}

// Import adds records exported by Export to m, keeping their ids.
// Returns the number of records imported.
func Import(r io.Reader, m Mapping) (int, error) {
	entries, nextID, err := parseExport(r)
	if err != nil {
		return 0, err
	}
	if err = replay(m, entries, nextID); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Copy adds records of src to dst, keeping their ids
func Copy(dst Mapping, src Mapping) (int, error) {
	entries, nextID, err := readSorted(src)
	if err != nil {
		return 0, err
	}
	if err = replay(dst, entries, nextID); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ExportFile exports m to a file at path, compressed based on file
// extension (.gz, .br, .zst). The file is replaced atomically.
func ExportFile(path string, m Mapping) (n int, err error) {
	codec := u.CodecForPath(path)
	f, err := atomicfile.New(path)
	if err != nil {
		return 0, err
	}
	defer f.RemoveIfNotClosed()

	w, err := u.NewCompressWriter(f, codec)
	if err != nil {
		return 0, err
	}
	n, err = Export(w, m)
	if err != nil {
		return 0, err
	}
	if err = w.Close(); err != nil {
		return 0, err
	}
	if err = f.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// ImportFile imports a file created by ExportFile
func ImportFile(path string, m Mapping) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r, err := u.NewDecompressReader(f, u.CodecForPath(path))
	if err != nil {
		return 0, err
	}
	n, err := Import(r, m)
	err2 := r.Close()
	return n, errors.Join(err, err2)
}
