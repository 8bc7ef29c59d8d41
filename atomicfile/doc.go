/*
Package atomicfile replaces a file so that readers see either the old
content or the complete new content, never a partial write.

To write to files in a robust way we should:

- handle error returned by `Close()`

- handle error returned by `Write()`

- remove partially written file if `Write()` or `Close()` returned an error

dbi uses it to compact the flat-file mapping:

	func rewrite(path string, lines []string) error {
		w, err := atomicfile.New(path)
		if err != nil {
			return err
		}
		defer w.RemoveIfNotClosed()

		for _, line := range lines {
			if _, err = w.WriteString(line); err != nil {
				return err
			}
		}
		return w.Close()
	}

To learn more see https://presstige.io/p/atomicfile-22143bf788b542fda2262ca7aee57ae4
*/
package atomicfile
