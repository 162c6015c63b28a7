package valdir

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the stream wrapped around a tar archive.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
	CompressionS2   Compression = "s2"
)

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic    = []byte{0x04, 0x22, 0x4d, 0x18}
	s2Magic     = []byte("\xff\x06\x00\x00S2sTwO")
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

// detectCompression sniffs the stream header. Anything unrecognized is read
// as a plain tar.
func detectCompression(r *bufio.Reader) Compression {
	head, _ := r.Peek(len(s2Magic))
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(head, lz4Magic):
		return CompressionLZ4
	case bytes.HasPrefix(head, s2Magic), bytes.HasPrefix(head, snappyMagic):
		return CompressionS2
	default:
		return CompressionNone
	}
}

// archive is an open tar stream over a possibly compressed file.
type archive struct {
	*tar.Reader
	compression Compression
	closers     []func() error
}

// openArchive opens path and wraps it in the decompressor its header calls for.
func openArchive(path string) (*archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	a := &archive{closers: []func() error{f.Close}}
	br := bufio.NewReader(f)
	a.compression = detectCompression(br)

	var r io.Reader
	switch a.compression {
	case CompressionGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to read gzip header: %w", err)
		}
		a.closers = append(a.closers, zr.Close)
		r = zr
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		a.closers = append(a.closers, func() error { zr.Close(); return nil })
		r = zr
	case CompressionLZ4:
		r = lz4.NewReader(br)
	case CompressionS2:
		r = s2.NewReader(br)
	default:
		r = br
	}

	a.Reader = tar.NewReader(r)
	return a, nil
}

// Close releases the decompressor and the file.
func (a *archive) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
