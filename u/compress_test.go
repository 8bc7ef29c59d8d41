package u

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/alecthomas/assert"
)

func TestCodecForPath(t *testing.T) {
	tests := []struct {
		path string
		exp  Codec
	}{
		{"quotes.db", CodecNone},
		{"quotes.db.gz", CodecGzip},
		{"quotes.db.br", CodecBrotli},
		{"quotes.db.BR", CodecBrotli},
		{"quotes.db.zst", CodecZstd},
		{"quotes.db.zstd", CodecZstd},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, CodecForPath(test.path), test.path)
	}
}

func TestCompressRoundtrip(t *testing.T) {
	d := []byte("000004\n000001:\"first\",1\n000003:\"third\",3\n" + strings.Repeat("000002:x\n", 100))
	for _, codec := range []Codec{CodecNone, CodecGzip, CodecBrotli, CodecZstd} {
		var buf bytes.Buffer
		w, err := NewCompressWriter(&buf, codec)
		assert.NoError(t, err, codec.String())
		_, err = w.Write(d)
		assert.NoError(t, err)
		assert.NoError(t, w.Close())
		if codec != CodecNone {
			assert.True(t, buf.Len() < len(d), "%s didn't compress", codec)
		}

		r, err := NewDecompressReader(&buf, codec)
		assert.NoError(t, err, codec.String())
		got, err := io.ReadAll(r)
		assert.NoError(t, err)
		assert.NoError(t, r.Close())
		assert.Equal(t, d, got, codec.String())
	}
}

func TestUnknownCodec(t *testing.T) {
	_, err := NewCompressWriter(io.Discard, Codec(42))
	assert.Error(t, err)
	_, err = NewDecompressReader(strings.NewReader(""), Codec(42))
	assert.Error(t, err)
	assert.Equal(t, "Codec(42)", Codec(42).String())
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "12 bytes", FormatSize(12))
	assert.Equal(t, "1 kB", FormatSize(1024))
	assert.Equal(t, "1.50 MB", FormatSize(1024*1024*3/2))
}
