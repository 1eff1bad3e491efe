package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog/log"
)

// readCloser pairs a decoding reader with the closers of every layer beneath it.
type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openSource opens path and wraps it in a decompressor chosen by extension:
// .gz, .zst and .lz4 are decoded transparently, anything else is read as is.
func openSource(path string) (io.ReadCloser, error) {
	log.Debug().Msgf("Opening source file: %s", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rc := &readCloser{closers: []func() error{file.Close}}
	buffered := bufio.NewReaderSize(file, 1<<20)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(buffered)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		rc.Reader = zr
		rc.closers = append(rc.closers, zr.Close)
	case ".zst":
		zr, err := zstd.NewReader(buffered)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		rc.Reader = zr
		rc.closers = append(rc.closers, func() error { zr.Close(); return nil })
	case ".lz4":
		rc.Reader = lz4.NewReader(buffered)
	default:
		rc.Reader = buffered
	}
	return rc, nil
}
