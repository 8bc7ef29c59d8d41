package u

import (
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

type Codec int

const (
	CodecNone Codec = iota
	CodecGzip
	CodecBrotli
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecGzip:
		return "gzip"
	case CodecBrotli:
		return "brotli"
	case CodecZstd:
		return "zstd"
	}
	return fmt.Sprintf("Codec(%d)", int(c))
}

// CodecForPath picks a codec from file extension
// TODO: could sniff file content instead of checking file extension
func CodecForPath(path string) Codec {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".gz":
		return CodecGzip
	case ".br":
		return CodecBrotli
	case ".zst", ".zstd":
		return CodecZstd
	}
	return CodecNone
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

func zstdNewWriter(dst io.Writer) (*zstd.Encoder, error) {
	// in my tests:
	// - zstd.SpeedBestCompression is much slower and not much better
	// - default concurrency is GONUMPROCS() but adding concurrency of any value
	//   doesn't consistently speed things up
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
}

// NewCompressWriter wraps w so that data written to it is compressed.
// Close() flushes compressed data but doesn't close w
func NewCompressWriter(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case CodecBrotli:
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	case CodecZstd:
		return zstdNewWriter(w)
	}
	return nil, fmt.Errorf("unknown codec %s", codec)
}

// NewDecompressReader wraps r to decompress data compressed with codec.
// Close() releases decoder resources but doesn't close r
func NewDecompressReader(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecGzip:
		return gzip.NewReader(r)
	case CodecBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unknown codec %s", codec)
}
