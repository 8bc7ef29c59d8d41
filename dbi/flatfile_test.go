package dbi

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert"
	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

func assertFileContent(t *testing.T, path string, exp string) {
	t.Helper()
	d, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile('%s') failed with '%s'", path, err)
	}
	got := string(d)
	if got == exp {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(exp),
		B:        difflib.SplitLines(got),
		FromFile: "expected",
		ToFile:   path,
		Context:  2,
	})
	t.Fatalf("unexpected content of '%s':\n%s", path, diff)
}

func assertErrorIs(t *testing.T, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error '%s', got '%v'", target, err)
	}
}

func writeFile(t *testing.T, path string, s string) {
	t.Helper()
	err := os.WriteFile(path, []byte(s), 0644)
	assert.NoError(t, err)
}

func openFlat(t *testing.T, path string, maxSize int) *FlatFile {
	t.Helper()
	f, err := OpenFlatFile(path, &Options{MaxSize: maxSize})
	assert.NoError(t, err)
	return f
}

func collect(t *testing.T, m Mapping) map[int]string {
	t.Helper()
	res := map[int]string{}
	pairs, errFn := m.Iterate()
	for id, s := range pairs {
		if _, dup := res[id]; dup {
			t.Fatalf("id %d returned twice, got so far:\n%s", id, spew.Sdump(res))
		}
		res[id] = s
	}
	assert.NoError(t, errFn())
	return res
}

func TestDigitWidth(t *testing.T) {
	tests := []struct {
		maxSize int
		exp     int
	}{
		{0, 1},
		{5, 1},
		{8, 1},
		{9, 2},
		{10, 2},
		{98, 2},
		{99, 3},
		{100, 3},
		{999, 4},
		{1000, 4},
		{10000, 5},
		{DefaultMaxSize, 7},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, digitWidth(test.maxSize), "maxSize: %d", test.maxSize)
	}
}

func TestFlatFileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.txt")
	f := openFlat(t, path, 1000)
	assert.Equal(t, 4, f.Width())
	assertFileContent(t, path, "0001\n")

	id, err := f.Add("hello")
	assert.NoError(t, err)
	assert.Equal(t, 1, id)
	assertFileContent(t, path, "0002\n0001:hello\n")

	s, err := f.Get(1)
	assert.NoError(t, err)
	assert.Equal(t, "hello", s)

	s, err = f.Remove(1)
	assert.NoError(t, err)
	assert.Equal(t, "hello", s)
	assertFileContent(t, path, "0002\n----:hello\n")

	_, err = f.Get(1)
	assertErrorIs(t, err, ErrNotFound)
	_, err = f.Remove(1)
	assertErrorIs(t, err, ErrNotFound)

	assert.NoError(t, f.Close())
	assertFileContent(t, path, "0002\n")
}

func TestFlatFileIterateSkipsRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	f := openFlat(t, path, 0)
	defer f.Close()

	id1, err := f.Add("a")
	assert.NoError(t, err)
	id2, err := f.Add("b")
	assert.NoError(t, err)
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, id2)
	_, err = f.Remove(id1)
	assert.NoError(t, err)

	assert.Equal(t, map[int]string{2: "b"}, collect(t, f))
	// every pass reads the file again
	_, err = f.Add("c")
	assert.NoError(t, err)
	assert.Equal(t, map[int]string{2: "b", 3: "c"}, collect(t, f))
}

func TestFlatFileIterateStopsEarly(t *testing.T) {
	f := openFlat(t, filepath.Join(t.TempDir(), "db.txt"), 0)
	defer f.Close()
	for _, s := range []string{"a", "b", "c"} {
		_, err := f.Add(s)
		assert.NoError(t, err)
	}
	pairs, errFn := f.Iterate()
	n := 0
	for range pairs {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
	assert.NoError(t, errFn())
}

func TestFlatFileIdsNotReused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	f := openFlat(t, path, 1000)
	id, err := f.Add("a")
	assert.NoError(t, err)
	_, err = f.Remove(id)
	assert.NoError(t, err)
	assert.NoError(t, f.Vacuum())
	assertFileContent(t, path, "0002\n")

	id, err = f.Add("b")
	assert.NoError(t, err)
	assert.Equal(t, 2, id)
	assert.Equal(t, 3, f.NextID())
}

func TestFlatFileVacuumIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	f := openFlat(t, path, 100)
	defer f.Close()
	for _, s := range []string{"a", "b", "c", "d"} {
		_, err := f.Add(s)
		assert.NoError(t, err)
	}
	_, err := f.Remove(2)
	assert.NoError(t, err)
	_, err = f.Remove(4)
	assert.NoError(t, err)

	assert.NoError(t, f.Vacuum())
	exp := "005\n001:a\n003:c\n"
	assertFileContent(t, path, exp)
	assert.NoError(t, f.Vacuum())
	assertFileContent(t, path, exp)
	assert.Equal(t, map[int]string{1: "a", 3: "c"}, collect(t, f))
}

func TestFlatFileSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	f := openFlat(t, path, 100)
	defer f.Close()
	_, err := f.Add("a")
	assert.NoError(t, err)
	_, err = f.Add("b")
	assert.NoError(t, err)

	assert.NoError(t, f.Set(1, "A"))
	s, err := f.Get(1)
	assert.NoError(t, err)
	assert.Equal(t, "A", s)
	assertFileContent(t, path, "003\n---:a\n002:b\n001:A\n")

	// a removed id can be set again
	_, err = f.Remove(2)
	assert.NoError(t, err)
	assert.NoError(t, f.Set(2, "B"))
	assert.Equal(t, map[int]string{1: "A", 2: "B"}, collect(t, f))
	assert.Equal(t, 3, f.NextID())

	assertErrorIs(t, f.Set(3, "x"), ErrNotFound)
	assertErrorIs(t, f.Set(0, "x"), ErrNotFound)
	assertErrorIs(t, f.Set(-1, "x"), ErrNotFound)
}

func TestFlatFileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	f := openFlat(t, path, 1000)
	_, err := f.Add("first")
	assert.NoError(t, err)
	_, err = f.Add("second: with colon")
	assert.NoError(t, err)
	_, err = f.Remove(1)
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	// MaxSize only applies to new files
	f = openFlat(t, path, 100)
	assert.Equal(t, 4, f.Width())
	assert.Equal(t, 3, f.NextID())
	s, err := f.Get(2)
	assert.NoError(t, err)
	assert.Equal(t, "second: with colon", s)
	id, err := f.Add("third")
	assert.NoError(t, err)
	assert.Equal(t, 3, id)
	assert.NoError(t, f.Close())
	assertFileContent(t, path, "0004\n0002:second: with colon\n0003:third\n")
}

func TestFlatFileEmptyPayload(t *testing.T) {
	f := openFlat(t, filepath.Join(t.TempDir(), "db.txt"), 0)
	defer f.Close()
	id, err := f.Add("")
	assert.NoError(t, err)
	s, err := f.Get(id)
	assert.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestFlatFileCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	f := openFlat(t, path, 8)
	defer f.Close()
	assert.Equal(t, 1, f.Width())
	assert.Equal(t, 8, f.MaxID())
	for i := 1; i <= 8; i++ {
		id, err := f.Add("x")
		assert.NoError(t, err)
		assert.Equal(t, i, id)
	}
	_, err := f.Add("x")
	assertErrorIs(t, err, ErrCapacity)
	// the file is still usable
	assert.Equal(t, 9, f.NextID())
	assert.Equal(t, 8, len(collect(t, f)))
	_, err = f.Remove(8)
	assert.NoError(t, err)
	_, err = f.Add("x")
	assertErrorIs(t, err, ErrCapacity)
}

func TestFlatFileInvalidPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	f := openFlat(t, path, 100)
	defer f.Close()
	_, err := f.Add("two\nlines")
	assertErrorIs(t, err, ErrInvalidPayload)
	_, err = f.Add("cr\r")
	assertErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, 1, f.NextID())

	id, err := f.Add("ok")
	assert.NoError(t, err)
	assertErrorIs(t, f.Set(id, "bad\n"), ErrInvalidPayload)
	assertFileContent(t, path, "002\n001:ok\n")
}

func TestFlatFileCorrupt(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"not_a_number", "abc\n"},
		{"zero", "0000\n"},
		{"negative", "-001\n0001:x\n"},
		{"spaces", " 12\n"},
	}
	for _, test := range tests {
		path := filepath.Join(dir, test.name+".txt")
		writeFile(t, path, test.content)
		_, err := OpenFlatFile(path, nil)
		assertErrorIs(t, err, ErrStorage)
	}

	path := filepath.Join(dir, "no_colon.txt")
	writeFile(t, path, "0003\n0001:a\n0002 b\n")
	f := openFlat(t, path, 0)
	_, err := f.Get(2)
	assertErrorIs(t, err, ErrStorage)
	pairs, errFn := f.Iterate()
	for range pairs {
	}
	assertErrorIs(t, errFn(), ErrStorage)
}

func TestFlatFileIterateRejectsBadIds(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"short", "0003\n0001:a\n12:x\n"},
		{"long", "0003\n0001:a\n00002:x\n"},
		{"plus", "0003\n+002:x\n"},
		{"zero", "0003\n0000:x\n"},
	}
	for _, test := range tests {
		path := filepath.Join(dir, test.name+".txt")
		writeFile(t, path, test.content)
		f := openFlat(t, path, 0)
		pairs, errFn := f.Iterate()
		for id := range pairs {
			assert.Equal(t, 1, id, test.name)
		}
		assertErrorIs(t, errFn(), ErrStorage)
		assert.NoError(t, f.Close())
	}
}

func TestFlatFileDuplicateLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	writeFile(t, path, "0003\n0001:a\n0002:b\n0001:c\n")
	f := openFlat(t, path, 0)
	defer f.Close()

	s, err := f.Remove(1)
	assert.NoError(t, err)
	assert.Equal(t, "a", s)
	_, err = f.Get(1)
	assertErrorIs(t, err, ErrNotFound)
	assertFileContent(t, path, "0003\n----:a\n0002:b\n----:c\n")
}

func TestFlatFileNoTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	writeFile(t, path, "002\n001:x")
	f := openFlat(t, path, 0)
	s, err := f.Get(1)
	assert.NoError(t, err)
	assert.Equal(t, "x", s)

	id, err := f.Add("y")
	assert.NoError(t, err)
	assert.Equal(t, 2, id)
	assertFileContent(t, path, "003\n001:x\n002:y\n")
	assert.NoError(t, f.Close())
}

func TestFlatFileClosed(t *testing.T) {
	f := openFlat(t, filepath.Join(t.TempDir(), "db.txt"), 0)
	_, err := f.Add("a")
	assert.NoError(t, err)
	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())

	_, err = f.Get(1)
	assertErrorIs(t, err, ErrClosed)
	_, err = f.Add("b")
	assertErrorIs(t, err, ErrClosed)
	assertErrorIs(t, f.Set(1, "b"), ErrClosed)
	_, err = f.Remove(1)
	assertErrorIs(t, err, ErrClosed)
	assertErrorIs(t, f.Flush(), ErrClosed)
	assertErrorIs(t, f.Vacuum(), ErrClosed)
	pairs, errFn := f.Iterate()
	for range pairs {
		t.Fatal("closed mapping yielded a record")
	}
	assertErrorIs(t, errFn(), ErrClosed)
}

func TestFlatFileMissingDir(t *testing.T) {
	_, err := OpenFlatFile(filepath.Join(t.TempDir(), "no", "such", "db.txt"), nil)
	assertErrorIs(t, err, ErrStorage)
}

func TestFlatFileSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.txt")
	f, err := OpenFlatFile(path, &Options{MaxSize: 100, Sync: true})
	assert.NoError(t, err)
	_, err = f.Add("a")
	assert.NoError(t, err)
	assert.NoError(t, f.Flush())
	assert.NoError(t, f.Close())
	assertFileContent(t, path, "002\n001:a\n")
}
