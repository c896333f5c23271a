package anvil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// RegionFile provides access to a single region container. It keeps the
// parsed location table and a sorted list of occupied sectors in memory,
// while the file itself is re-opened and re-validated on every operation,
// so no handle outlives a call.
//
// A RegionFile assumes it is the only writer of its file. It is not safe
// for concurrent use; callers serialize access externally (see World).
type RegionFile struct {
	path  string
	codec Codec

	index   [Entries]Sector // location table, the zero value marks an absent chunk
	sectors []Sector        // occupied page ranges, ordered by offset
}

// Open opens an existing region file and parses its location table. The
// codec is only needed by the document operations and may be nil.
func Open(path string, codec Codec) (*RegionFile, error) {
	r := &RegionFile{path: path, codec: codec}

	f, err := r.open(os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table := make([]byte, PageSize)
	if _, err := f.ReadAt(table, 0); err != nil {
		return nil, err
	}

	r.sectors = []Sector{{Offset: 0, Count: 2}} // the reserved header pages
	for i := 0; i < Entries; i++ {
		var s Sector
		if err := s.UnmarshalBinary(table[i*4 : i*4+4]); err != nil {
			return nil, err
		}
		if s.Offset < 2 || s.Count == 0 { // absent, or pointing into the header
			continue
		}
		r.index[i] = s
		r.insert(s)
	}
	return r, nil
}

// Create writes a fresh, all-zero container at path and opens it. The file
// consists of the two header pages only and must not exist yet.
func Create(path string, codec Codec) (*RegionFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(make([]byte, headerSize)); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return Open(path, codec)
}

// Path returns the file path the region was opened with.
func (r *RegionFile) Path() string { return r.path }

// open stats and validates the container on behalf of a single operation
// and returns an open handle. Callers close it on every exit path.
func (r *RegionFile) open(flag int) (*os.File, error) {
	fi, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, r.path)
		}
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrCorrupt, r.path)
	}
	if size := fi.Size(); size < headerSize || size%PageSize != 0 {
		return nil, fmt.Errorf("%w: invalid file size %d", ErrCorrupt, size)
	}
	return os.OpenFile(r.path, flag, 0644)
}

// --------------------------------------------------------------------

// Allocate returns a sector large enough to hold size bytes, found by a
// first-fit scan of the gaps between occupied sectors; when no gap fits,
// the sector is placed at the end of the file. Requests smaller than one
// page take one page.
//
// With reserve set the sector is recorded as occupied right away, so a
// later call cannot hand out the same pages before the caller commits a
// location entry for them.
func (r *RegionFile) Allocate(size int64, reserve bool) Sector {
	count := uint32((size + PageSize - 1) / PageSize)
	if count == 0 {
		count = 1
	}

	s := Sector{Count: count}
	for i := 0; i+1 < len(r.sectors); i++ {
		gap := int64(r.sectors[i+1].Offset) - int64(r.sectors[i].End())
		if gap >= int64(count) {
			s.Offset = r.sectors[i].End()
			if reserve {
				r.insert(s)
			}
			return s
		}
	}

	s.Offset = r.sectors[len(r.sectors)-1].End()
	if reserve {
		r.insert(s)
	}
	return s
}

// insert adds s to the sector list, keeping it ordered by offset.
func (r *RegionFile) insert(s Sector) {
	i := sort.Search(len(r.sectors), func(i int) bool {
		return s.Less(r.sectors[i])
	})
	r.sectors = append(r.sectors, Sector{})
	copy(r.sectors[i+1:], r.sectors[i:])
	r.sectors[i] = s
}

// remove drops the list entry equal to s. The binary search position is
// verified by an equality check, so only the sector actually owned by the
// caller's slot is released.
func (r *RegionFile) remove(s Sector) {
	i := sort.Search(len(r.sectors), func(i int) bool {
		return !r.sectors[i].Less(s)
	})
	if i < len(r.sectors) && r.sectors[i] == s {
		r.sectors = append(r.sectors[:i], r.sectors[i+1:]...)
	}
}

// --------------------------------------------------------------------

// HasChunk reports whether a record exists for the chunk at coordinates
// x, z. Only the on-disk location entry is consulted.
func (r *RegionFile) HasChunk(x, z int) (bool, error) {
	f, err := r.open(os.O_RDONLY)
	if err != nil {
		return false, err
	}
	defer f.Close()

	off, err := r.entryOffset(f, SlotIndex(x, z))
	if err != nil {
		return false, err
	}
	return off != 0, nil
}

// ReadRaw returns the decompressed record of the chunk at coordinates x, z,
// or nil when the chunk is absent. Absence is not an error.
func (r *RegionFile) ReadRaw(x, z int) ([]byte, error) {
	f, err := r.open(os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return r.readRecord(f, SlotIndex(x, z))
}

// ReadDocument reads the chunk's record and parses it with the configured
// codec. Like ReadRaw it returns nil, nil when the chunk is absent.
func (r *RegionFile) ReadDocument(x, z int) (Document, error) {
	if r.codec == nil {
		return nil, errNoCodec
	}
	data, err := r.ReadRaw(x, z)
	if err != nil || data == nil {
		return nil, err
	}
	return r.codec.Unmarshal(data)
}

// WriteDocument serializes the document with the configured codec,
// compresses it and stores it as the record of the chunk at coordinates
// x, z, replacing any previous record. The pages freed by the previous
// record are returned to the allocator first, so a rewrite of similar
// size usually lands on the same pages.
//
// The data pages, the location entry and the timestamp entry are written
// separately; there is no atomic commit across them.
func (r *RegionFile) WriteDocument(x, z int, doc Document) error {
	if r.codec == nil {
		return errNoCodec
	}
	plain, err := r.codec.Marshal(doc)
	if err != nil {
		return err
	}
	return r.writeRecord(SlotIndex(x, z), plain)
}

func (r *RegionFile) writeRecord(slot int, plain []byte) error {
	stored, err := ZlibCompression.compress(plain)
	if err != nil {
		return err
	}

	if r.index[slot].Count != 0 {
		if err := r.DeleteSector(slot, false); err != nil {
			return err
		}
	}

	sector := r.Allocate(int64(len(stored))+recordHeaderSize, true)
	entry, err := sector.MarshalBinary()
	if err != nil {
		r.remove(sector)
		return err
	}

	f, err := r.open(os.O_RDWR)
	if err != nil {
		r.remove(sector)
		return err
	}
	defer f.Close()

	// Assemble the full sector, zero padding included, and write it out in
	// a single call.
	record := make([]byte, sector.ByteSize())
	binary.BigEndian.PutUint32(record, uint32(len(stored))+1)
	record[4] = byte(ZlibCompression)
	copy(record[recordHeaderSize:], stored)

	if _, err := f.WriteAt(record, sector.ByteOffset()); err != nil {
		r.remove(sector)
		return err
	}
	if _, err := f.WriteAt(entry, int64(slot)*4); err != nil {
		r.remove(sector)
		return err
	}
	r.index[slot] = sector

	return r.stampSlot(f, slot, time.Now())
}

// DeleteSector removes the record held by slot: the location entry is
// zeroed on disk and the sector returns to the allocator. Deleting an
// empty slot is a no-op. With zeroData set the freed pages are overwritten
// with zeroes as well; otherwise the stale record bytes stay on disk.
func (r *RegionFile) DeleteSector(slot int, zeroData bool) error {
	if slot < 0 || slot >= Entries {
		return fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}
	sector := r.index[slot]
	if sector.Count == 0 {
		return nil
	}

	f, err := r.open(os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte{0, 0, 0, 0}, int64(slot)*4); err != nil {
		return err
	}
	r.index[slot] = Sector{}
	r.remove(sector)

	if zeroData {
		page := make([]byte, PageSize)
		for i := uint32(0); i < sector.Count; i++ {
			if _, err := f.WriteAt(page, int64(sector.Offset+i)*PageSize); err != nil {
				return err
			}
		}
	}
	return nil
}

// --------------------------------------------------------------------

// WriteTimestamp stamps the slot's timestamp entry with the current time.
// WriteDocument does this implicitly.
func (r *RegionFile) WriteTimestamp(slot int) error {
	if slot < 0 || slot >= Entries {
		return fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}

	f, err := r.open(os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()

	return r.stampSlot(f, slot, time.Now())
}

// ReadTimestamp returns the slot's last-modified time. Slots that were
// never stamped read back as the Unix epoch.
func (r *RegionFile) ReadTimestamp(slot int) (time.Time, error) {
	if slot < 0 || slot >= Entries {
		return time.Time{}, fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}

	f, err := r.open(os.O_RDONLY)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	var b [4]byte
	if _, err := f.ReadAt(b[:], PageSize+int64(slot)*4); err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(binary.BigEndian.Uint32(b[:])), 0), nil
}

func (r *RegionFile) stampSlot(f *os.File, slot int, t time.Time) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(t.Unix()))
	_, err := f.WriteAt(b[:], PageSize+int64(slot)*4)
	return err
}

// --------------------------------------------------------------------

// entryOffset reads the 3-byte page offset of the slot's location entry.
func (r *RegionFile) entryOffset(f *os.File, slot int) (uint32, error) {
	var b [3]byte
	if _, err := f.ReadAt(b[:], int64(slot)*4); err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

func (r *RegionFile) readRecord(f *os.File, slot int) ([]byte, error) {
	if r.index[slot].Count == 0 {
		return nil, nil
	}

	off, err := r.entryOffset(f, slot)
	if err != nil {
		return nil, err
	}
	if off == 0 { // deleted on disk
		return nil, nil
	}

	var head [recordHeaderSize]byte
	if _, err := f.ReadAt(head[:], int64(off)*PageSize); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated record in slot %d", ErrCorrupt, slot)
		}
		return nil, err
	}

	// The length counts the compression byte plus the payload. A single
	// count byte caps sectors at 255 pages, anything longer cannot have a
	// valid location entry.
	length := binary.BigEndian.Uint32(head[:4])
	if length == 0 || length > maxPageCount*PageSize {
		return nil, fmt.Errorf("%w: record length %d in slot %d", ErrCorrupt, length, slot)
	}

	comp := Compression(head[4])
	if !comp.isValid() {
		return nil, fmt.Errorf("%w: unknown compression type %d in slot %d", ErrCorrupt, comp, slot)
	}

	stored := make([]byte, length-1)
	if _, err := f.ReadAt(stored, int64(off)*PageSize+recordHeaderSize); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated record in slot %d", ErrCorrupt, slot)
		}
		return nil, err
	}
	return comp.decompress(stored)
}
