package anvil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
)

const lockFile = "session.lock"

// Options contain World specific options.
type Options struct {
	// Codec parses and serializes chunk documents. May be nil if only the
	// raw operations are used.
	Codec Codec

	// CacheSize is the number of parsed regions kept open in the LRU cache.
	// Default: 64.
	CacheSize int
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.CacheSize < 1 {
		oo.CacheSize = 64
	}

	return &oo
}

type regionPos struct{ x, z int }

// World manages the region files of a world directory and serializes all
// access to them. It holds an exclusive file lock on the directory for its
// lifetime, so no second process, or second World, can mutate the same
// files.
type World struct {
	dir  string
	opt  *Options
	lock *flock.Flock

	mu      sync.RWMutex
	regions *lru.Cache[regionPos, *RegionFile]
}

// OpenWorld opens a world directory, creating it when missing, and takes
// its session lock. ErrWorldLocked is returned when another holder has it.
func OpenWorld(dir string, o *Options) (*World, error) {
	o = o.norm()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	held, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, fmt.Errorf("%w: %s", ErrWorldLocked, dir)
	}

	regions, err := lru.New[regionPos, *RegionFile](o.CacheSize)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	return &World{dir: dir, opt: o, lock: lock, regions: regions}, nil
}

// Close releases the session lock. The world must not be used afterwards.
func (w *World) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.regions.Purge()
	return w.lock.Unlock()
}

// Dir returns the world directory.
func (w *World) Dir() string { return w.dir }

// Region returns the region at region coordinates rx, rz, opening and
// caching it on first use. ErrNotExist is returned when the region file
// was never created; the write operations create regions on demand.
//
// The returned RegionFile is shared with the cache and only safe to use
// while no other World operation runs.
func (w *World) Region(rx, rz int) (*RegionFile, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.region(rx, rz)
}

// HasChunk reports whether a record exists for the chunk at chunk
// coordinates x, z. Chunks of regions that were never created are absent,
// not an error.
func (w *World) HasChunk(x, z int) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	r, err := w.region(x>>5, z>>5)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return r.HasChunk(x, z)
}

// ReadRaw returns the decompressed record of the chunk at chunk
// coordinates x, z, or nil when the chunk or its whole region is absent.
func (w *World) ReadRaw(x, z int) ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	r, err := w.region(x>>5, z>>5)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return r.ReadRaw(x, z)
}

// ReadDocument is ReadRaw parsed through the world's codec.
func (w *World) ReadDocument(x, z int) (Document, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	r, err := w.region(x>>5, z>>5)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return r.ReadDocument(x, z)
}

// WriteDocument stores the document as the record of the chunk at chunk
// coordinates x, z, creating the region file when needed.
func (w *World) WriteDocument(x, z int, doc Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	r, err := w.region(x>>5, z>>5)
	if errors.Is(err, ErrNotExist) {
		r, err = w.createRegion(x>>5, z>>5)
	}
	if err != nil {
		return err
	}
	return r.WriteDocument(x, z, doc)
}

// Timestamp returns the last-modified time recorded for the chunk at chunk
// coordinates x, z, or the Unix epoch when it was never stamped.
func (w *World) Timestamp(x, z int) (time.Time, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	r, err := w.region(x>>5, z>>5)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return time.Unix(0, 0), nil
		}
		return time.Time{}, err
	}
	return r.ReadTimestamp(SlotIndex(x, z))
}

// --------------------------------------------------------------------

// regionName returns the file name of the region at region coordinates
// rx, rz, e.g. r.0.-1.mca.
func regionName(rx, rz int) string {
	return fmt.Sprintf("r.%d.%d.mca", rx, rz)
}

func (w *World) region(rx, rz int) (*RegionFile, error) {
	pos := regionPos{rx, rz}
	if r, ok := w.regions.Get(pos); ok {
		return r, nil
	}

	r, err := Open(filepath.Join(w.dir, regionName(rx, rz)), w.opt.Codec)
	if err != nil {
		return nil, err
	}
	w.regions.Add(pos, r)
	return r, nil
}

func (w *World) createRegion(rx, rz int) (*RegionFile, error) {
	r, err := Create(filepath.Join(w.dir, regionName(rx, rz)), w.opt.Codec)
	if err != nil {
		return nil, err
	}
	w.regions.Add(regionPos{rx, rz}, r)
	return r, nil
}
