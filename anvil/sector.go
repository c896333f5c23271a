package anvil

import "fmt"

// Location entries encode the page offset in 3 bytes, the page count in one.
const (
	maxPageOffset = 1<<24 - 1
	maxPageCount  = 1<<8 - 1
)

// A Sector is a contiguous run of pages within a region file, the half-open
// page range [Offset, Offset+Count). The zero value doubles as the absent
// location entry.
type Sector struct {
	Offset uint32 // position in pages from the start of the file
	Count  uint32 // length in pages
}

// End returns the first page offset past the sector.
func (s Sector) End() uint32 { return s.Offset + s.Count }

// ByteOffset returns the sector's position within the file in bytes.
func (s Sector) ByteOffset() int64 { return int64(s.Offset) * PageSize }

// ByteSize returns the sector's length in bytes.
func (s Sector) ByteSize() int64 { return int64(s.Count) * PageSize }

// Less reports whether s ends at or before the start of o. It orders any
// two non-overlapping sectors and treats adjacent ones as ordered; sectors
// that intersect are mutually un-ordered.
func (s Sector) Less(o Sector) bool { return s.End() <= o.Offset }

// Intersects reports whether s and o share at least one page.
func (s Sector) Intersects(o Sector) bool {
	if s.Offset <= o.Offset {
		return s.End() > o.Offset
	}
	return o.End() > s.Offset
}

// MarshalBinary encodes the sector as a 4-byte location entry: the 3-byte
// big-endian page offset followed by the count byte. Sectors exceeding
// those widths return ErrSectorRange rather than encoding truncated.
func (s Sector) MarshalBinary() ([]byte, error) {
	if s.Offset > maxPageOffset || s.Count > maxPageCount {
		return nil, fmt.Errorf("%w: %s", ErrSectorRange, s)
	}
	return []byte{
		byte(s.Offset >> 16),
		byte(s.Offset >> 8),
		byte(s.Offset),
		byte(s.Count),
	}, nil
}

// UnmarshalBinary decodes a 4-byte location entry.
func (s *Sector) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return fmt.Errorf("%w: location entry must be 4 bytes, got %d", ErrCorrupt, len(data))
	}
	s.Offset = uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
	s.Count = uint32(data[3])
	return nil
}

func (s Sector) String() string {
	return fmt.Sprintf("Sector(offset=%d, count=%d)", s.Offset, s.Count)
}
