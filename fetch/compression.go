package fetch

import (
	"compress/bzip2"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// compression is the wrapper format of a downloaded file, taken from the URL suffix.
type compression int

const (
	compressionNone compression = iota
	compressionGZ
	compressionBZ2
	compressionXZ
	compressionZSTD
)

func compressionFromPath(p string) compression {
	p = strings.ToLower(p)
	switch {
	case strings.HasSuffix(p, ".gz"):
		return compressionGZ
	case strings.HasSuffix(p, ".bz2"):
		return compressionBZ2
	case strings.HasSuffix(p, ".xz"):
		return compressionXZ
	case strings.HasSuffix(p, ".zst"):
		return compressionZSTD
	default:
		return compressionNone
	}
}

func (c compression) ext() string {
	switch c {
	case compressionGZ:
		return ".gz"
	case compressionBZ2:
		return ".bz2"
	case compressionXZ:
		return ".xz"
	case compressionZSTD:
		return ".zst"
	default:
		return ""
	}
}

// reader wraps r with a streaming decompressor.
func (c compression) reader(r io.Reader) (io.Reader, func() error, error) {
	switch c {
	case compressionNone:
		return r, func() error { return nil }, nil

	case compressionGZ:
		gzReader, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzReader, gzReader.Close, nil

	case compressionBZ2:
		// bzip2.NewReader doesn't need closing
		return bzip2.NewReader(r), func() error { return nil }, nil

	case compressionXZ:
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xzReader, func() error { return nil }, nil

	case compressionZSTD:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return decoder, func() error {
			decoder.Close()
			return nil
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported compression type: %d", c)
	}
}
