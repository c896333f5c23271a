package anvil

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const (
	// PageSize is the allocation unit of a region file. Sectors, the header
	// tables and the file size are all multiples of it.
	PageSize = 4096

	// Entries is the number of chunk slots per region, and therefore the
	// number of entries in each header table.
	Entries = 1024

	// headerSize covers the two reserved header pages.
	headerSize = 2 * PageSize

	// recordHeaderSize is the fixed per-record overhead: the 4-byte length
	// field plus the compression byte.
	recordHeaderSize = 5
)

// ErrNotExist is returned when the region file is missing on disk. The path
// is re-checked by every operation, never cached.
var ErrNotExist = errors.New("anvil: region file does not exist")

var (
	// ErrCorrupt is returned when the container violates the format, e.g. a
	// file size that is not a positive multiple of the page size, an unknown
	// compression type or an undecodable record.
	ErrCorrupt = errors.New("anvil: corrupt region file")

	// ErrSlotRange is returned when a slot index falls outside [0, Entries).
	ErrSlotRange = errors.New("anvil: slot out of range")

	// ErrSectorRange is returned when a sector does not fit the 3-byte
	// offset and 1-byte count of a location entry.
	ErrSectorRange = errors.New("anvil: sector out of range")

	// ErrWorldLocked is returned when another process holds the world lock.
	ErrWorldLocked = errors.New("anvil: world is locked by another process")
)

var errNoCodec = errors.New("anvil: no document codec configured")

// SlotIndex converts chunk coordinates to the [0, Entries) header table
// slot. Coordinates may be negative.
func SlotIndex(x, z int) int {
	return (x & 31) + (z&31)*32
}

// --------------------------------------------------------------------

// A Document is a parsed chunk payload. The container never inspects it;
// its concrete shape is owned by the Codec.
type Document = any

// A Codec translates between documents and their serialized form. Region
// files store the serialized bytes, compressed.
type Codec interface {
	Marshal(doc Document) ([]byte, error)
	Unmarshal(data []byte) (Document, error)
}

// --------------------------------------------------------------------

// Compression is the compression type of a stored chunk record.
type Compression byte

// Supported compression types. Writers always emit ZlibCompression, readers
// accept all three.
const (
	GzipCompression Compression = iota + 1
	ZlibCompression
	NoCompression
)

func (c Compression) isValid() bool {
	return c >= GzipCompression && c <= NoCompression
}

// compress encodes plain with the receiver's codec.
func (c Compression) compress(plain []byte) ([]byte, error) {
	switch c {
	case GzipCompression, ZlibCompression:
		buf := new(bytes.Buffer)

		var zw io.WriteCloser
		if c == GzipCompression {
			zw = gzip.NewWriter(buf)
		} else {
			zw = zlib.NewWriter(buf)
		}
		if _, err := zw.Write(plain); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case NoCompression:
		return plain, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression type %d", ErrCorrupt, c)
	}
}

// decompress decodes a stored record payload. Unknown types and undecodable
// streams report the container as corrupt.
func (c Compression) decompress(stored []byte) ([]byte, error) {
	switch c {
	case GzipCompression, ZlibCompression:
		var zr io.ReadCloser
		var err error
		if c == GzipCompression {
			zr, err = gzip.NewReader(bytes.NewReader(stored))
		} else {
			zr, err = zlib.NewReader(bytes.NewReader(stored))
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		plain, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return plain, zr.Close()
	case NoCompression:
		return stored, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression type %d", ErrCorrupt, c)
	}
}
