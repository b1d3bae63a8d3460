package volume

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"

	"github.com/krolaw/zipstream"
	"github.com/xi2/xz"
)

type Compression byte

const (
	CompressionInvalid Compression = iota
	CompressionNone
	CompressionGzip
	CompressionZip
	CompressionXZ
	CompressionBZip2
)

var byteCodeSigs = map[Compression][]byte{
	CompressionGzip:  {0x1f, 0x8b, 0x08},
	CompressionZip:   {0x50, 0x4b, 0x03, 0x04},
	CompressionXZ:    {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
	CompressionBZip2: {0x42, 0x5a, 0x68},
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZip:
		return "zip"
	case CompressionXZ:
		return "xz"
	case CompressionBZip2:
		return "bzip2"
	}
	return "invalid"
}

// DetectCompression peeks at the leading bytes of r and matches them against
// known signatures. Byte code signatures from
// https://stackoverflow.com/a/19127748/199475
func DetectCompression(r *bufio.Reader) (Compression, error) {
	buff, err := r.Peek(6)
	if err != nil && err != io.EOF {
		return CompressionInvalid, err
	}
	if len(buff) == 0 {
		return CompressionInvalid, io.ErrUnexpectedEOF
	}

	// Match known signatures
Outer:
	for dt, sig := range byteCodeSigs {
		if len(buff) < len(sig) {
			continue
		}
		for position := range sig {
			if buff[position] != sig[position] {
				continue Outer
			}
		}
		return dt, nil
	}

	return CompressionNone, nil
}

// DetectFileCompression opens path only long enough to sniff its signature.
func DetectFileCompression(path string) (Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return CompressionInvalid, err
	}
	defer f.Close()

	return DetectCompression(bufio.NewReader(f))
}

// MaybeDecompress wraps r in the decompressor matching its signature. Streams
// without a known signature are returned as-is.
func MaybeDecompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	dt, err := DetectCompression(br)
	if err != nil {
		return nil, err
	}

	switch dt {
	case CompressionGzip:
		return gzip.NewReader(br)
	case CompressionZip:
		// Only the first entry of the archive is read.
		zr := zipstream.NewReader(br)
		if _, err := zr.Next(); err != nil {
			return nil, err
		}
		return &readCloserFaker{zr}, nil
	case CompressionBZip2:
		return &readCloserFaker{bzip2.NewReader(br)}, nil
	case CompressionXZ:
		reader, err := xz.NewReader(br, 0)
		if err != nil {
			return nil, err
		}
		return &readCloserFaker{reader}, nil
	}

	return &readCloserFaker{br}, nil
}

// readCloserFaker "upgrades" readers that don't need to be closed
type readCloserFaker struct {
	io.Reader
}

func (c *readCloserFaker) Close() error {
	return nil
}
