package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func assertFileExists(t *testing.T, path string) {
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file '%s' doesn't exist, os.Stat() failed with '%s'", path, err)
	}
	if !st.Mode().IsRegular() {
		t.Fatalf("Path '%s' exists but is not a file (mode: %d)", path, int(st.Mode()))
	}
}

func assertFileNotExists(t *testing.T, path string) {
	_, err := os.Stat(path)
	if err == nil {
		t.Fatalf("file '%s' exist, expected to not exist", path)
	}
}

func assertNoError(t *testing.T, err error) {
	if err != nil {
		t.Fatalf("error: %s", err)
	}
}

func assertError(t *testing.T, err error) {
	if err == nil {
		t.Fatal("expected to get an error")
	}
}

func assertFileContent(t *testing.T, path string, exp string) {
	d, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile('%s') failed with '%s'", path, err)
	}
	if string(d) != exp {
		t.Fatalf("path: '%s', expected content: %q, got: %q", path, exp, string(d))
	}
}

func assertPerm(t *testing.T, path string, exp os.FileMode) {
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("os.Stat('%s') failed with '%s'", path, err)
	}
	if st.Mode().Perm() != exp {
		t.Fatalf("path: '%s', expected perm: %v, got: %v", path, exp, st.Mode().Perm())
	}
}

func TestSimulateError(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "db.txt")
	f, err := New(dst)
	assertNoError(t, err)
	assertFileExists(t, f.tmpPath)
	_, err = f.Write([]byte("foo"))
	assertNoError(t, err)
	errSimulated := errors.New("simulated")
	f.err = errSimulated
	err = f.Close()
	if err != errSimulated {
		t.Fatalf("got unexpected error")
	}
	assertFileNotExists(t, f.tmpPath)
	assertFileNotExists(t, dst)
	// on second Close() should get the same error
	err = f.Close()
	if err != errSimulated {
		t.Fatalf("got unexpected error")
	}
}

func writeWithPanicCancel(t *testing.T, f *File) {
	defer f.RemoveIfNotClosed()

	_, err := f.WriteString("0002\n")
	assertNoError(t, err)
	panic("simulating a crash")
}

func TestCancelOnPanicKeepsDestination(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "db.txt")
	err := os.WriteFile(dst, []byte("0001\n"), 0644)
	assertNoError(t, err)

	f, err := New(dst)
	assertNoError(t, err)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected to panic")
			}
		}()
		writeWithPanicCancel(t, f)
	}()
	assertFileNotExists(t, f.tmpPath)
	assertFileContent(t, dst, "0001\n")
}

func TestReplace(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "db.txt")
	err := os.WriteFile(dst, []byte("0003\n0001:a\n----:b\n"), 0640)
	assertNoError(t, err)

	f, err := New(dst)
	assertNoError(t, err)
	assertFileExists(t, f.tmpPath)
	if f.Path() != dst {
		t.Fatalf("expected Path() to be '%s', got '%s'", dst, f.Path())
	}
	_, err = f.WriteString("0003\n")
	assertNoError(t, err)
	_, err = f.ReadFrom(strings.NewReader("0001:a\n"))
	assertNoError(t, err)
	err = f.Close()
	assertNoError(t, err)
	assertFileNotExists(t, f.tmpPath)
	assertFileContent(t, dst, "0003\n0001:a\n")
	assertPerm(t, dst, 0640)

	// calling Close twice is a no-op
	err = f.Close()
	assertNoError(t, err)
}

func TestNewFileGetsDefaultPerm(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "db.txt")
	f, err := New(dst)
	assertNoError(t, err)
	_, err = f.Write([]byte("0001\n"))
	assertNoError(t, err)
	assertNoError(t, f.Close())
	assertFileContent(t, dst, "0001\n")
	assertPerm(t, dst, defaultPerm)
}

func TestCancelSetsErrorState(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "db.txt")
	f, err := New(dst)
	assertNoError(t, err)
	f.Cancel()
	_, err = f.Write([]byte("foo"))
	if err != ErrCancelled {
		t.Fatalf("expected err to be %v, got %v", ErrCancelled, err)
	}
	for range 2 {
		err = f.Close()
		if err != ErrCancelled {
			t.Fatalf("expected err to be %v, got %v", ErrCancelled, err)
		}
	}
	assertFileNotExists(t, dst)
}

func TestInvalidDestination(t *testing.T) {
	dir := t.TempDir()
	// we can't create files in directories that don't exist
	// so verify we do an early check
	f, err := New(filepath.Join(dir, "foo", "bar.txt"))
	assertError(t, err)
	if f != nil {
		t.Fatalf("expected f to be nil, got %v", f)
	}

	// a directory can't be replaced
	f, err = New(dir + string(filepath.Separator))
	assertError(t, err)
	if f != nil {
		t.Fatalf("expected f to be nil, got %v", f)
	}
}
