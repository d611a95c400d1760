package shm

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	internalshm "github.com/srediag/shm-exchange/internal/shm"
)

// Segment file layout. Every field is little endian and 8-aligned.
//
//	header  | magic u64 | version u32 | _ u32 | capacity u64 | used u64 | objects u64 | _ (24 bytes) |
//	entry   | total u32 | state u32 | elemSize u32 | count u32 | nameLen u32 | _ u32 | name | data |
//
// Entries are appended at used. A deleted entry becomes a tombstone and is
// reused by the next registration that fits into it.
const (
	segmentMagic   uint64 = 0x31474553584d4853 // "SHMXSEG1"
	segmentVersion uint32 = 1

	headerSize     = 64
	offMagic       = 0
	offVersion     = 8
	offCapacity    = 16
	offUsed        = 24
	offObjectCount = 32

	entryHeaderSize = 24
	offEntryTotal   = 0
	offEntryState   = 4
	offEntryElem    = 8
	offEntryCount   = 12
	offEntryNameLen = 16

	entryLive    uint32 = 1
	entryDeleted uint32 = 2
)

// Segment is a process-local handle on a named shared memory segment.
// Object data is only valid between Lock and Unlock, or for objects whose
// users synchronize through atomics.
type Segment struct {
	id                 string
	region             *internalshm.MappedRegion
	mutex              *Mutex
	clearOnDestruction atomic.Bool
	// objects caches name to entry offset. Entries are validated before use
	// since another process may have deleted or reused them.
	objects cmap.ConcurrentMap[string, int]
}

// ID returns the segment identifier.
func (s *Segment) ID() string { return s.id }

// ClearOnDestruction reports whether the segment is unlinked when its handle is deleted.
func (s *Segment) ClearOnDestruction() bool { return s.clearOnDestruction.Load() }

// Lock acquires the inter-process segment mutex.
func (s *Segment) Lock() error { return s.mutex.Lock() }

// Unlock releases the inter-process segment mutex.
func (s *Segment) Unlock() error { return s.mutex.Unlock() }

func (s *Segment) mem() []byte { return s.region.Addr }

func (s *Segment) u32(off int) uint32 { return binary.LittleEndian.Uint32(s.mem()[off:]) }

func (s *Segment) putU32(off int, v uint32) { binary.LittleEndian.PutUint32(s.mem()[off:], v) }

func (s *Segment) used() int { return int(internalshm.AtomicLoadUint64(s.mem(), offUsed)) }

func (s *Segment) capacity() int { return int(internalshm.AtomicLoadUint64(s.mem(), offCapacity)) }

func (s *Segment) objectCount() int {
	return int(internalshm.AtomicLoadUint64(s.mem(), offObjectCount))
}

// initialize writes the header of a fresh segment. Callers hold the segment lock.
func (s *Segment) initialize() error {
	mem := s.mem()
	switch internalshm.AtomicLoadUint64(mem, offMagic) {
	case segmentMagic:
		if v := binary.LittleEndian.Uint32(mem[offVersion:]); v != segmentVersion {
			return fmt.Errorf("%w: %s has version %d", ErrCorruptSegment, s.id, v)
		}
		return nil
	case 0:
		binary.LittleEndian.PutUint32(mem[offVersion:], segmentVersion)
		internalshm.AtomicStoreUint64(mem, offCapacity, uint64(len(mem)))
		internalshm.AtomicStoreUint64(mem, offUsed, headerSize)
		internalshm.AtomicStoreUint64(mem, offObjectCount, 0)
		internalshm.AtomicStoreUint64(mem, offMagic, segmentMagic)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrCorruptSegment, s.id)
	}
}

func align8(n int) int { return (n + 7) &^ 7 }

type entry struct {
	off      int
	total    int
	state    uint32
	elemSize int
	count    int
	name     string
}

func (e entry) dataOff() int { return e.off + entryHeaderSize + align8(len(e.name)) }

func (e entry) dataLen() int { return e.elemSize * e.count }

// entryAt decodes the entry at off, reporting false when it is not well formed.
func (s *Segment) entryAt(off, used int) (entry, bool) {
	if off < headerSize || off+entryHeaderSize > used {
		return entry{}, false
	}
	e := entry{
		off:      off,
		total:    int(s.u32(off + offEntryTotal)),
		state:    s.u32(off + offEntryState),
		elemSize: int(s.u32(off + offEntryElem)),
		count:    int(s.u32(off + offEntryCount)),
	}
	nameLen := int(s.u32(off + offEntryNameLen))
	if e.total < entryHeaderSize || e.total%8 != 0 || off+e.total > used {
		return entry{}, false
	}
	if entryHeaderSize+align8(nameLen)+align8(e.elemSize*e.count) > e.total {
		return entry{}, false
	}
	e.name = string(s.mem()[off+entryHeaderSize : off+entryHeaderSize+nameLen])
	return e, true
}

// walk visits entries in file order until fn returns false.
// It reports false when the table is malformed.
func (s *Segment) walk(fn func(entry) bool) bool {
	used := s.used()
	if used < headerSize || used > s.capacity() || s.capacity() > len(s.mem()) {
		return false
	}
	for off := headerSize; off < used; {
		e, ok := s.entryAt(off, used)
		if !ok {
			return false
		}
		if !fn(e) {
			return true
		}
		off += e.total
	}
	return true
}

// lookup finds the live entry called name. Callers hold the segment lock.
func (s *Segment) lookup(name string) (entry, bool) {
	if off, ok := s.objects.Get(name); ok {
		if e, ok := s.entryAt(off, s.used()); ok && e.state == entryLive && e.name == name {
			return e, true
		}
		s.objects.Remove(name)
	}
	var found entry
	var ok bool
	s.walk(func(e entry) bool {
		if e.state == entryLive && e.name == name {
			found, ok = e, true
			return false
		}
		return true
	})
	if ok {
		s.objects.Set(name, found.off)
	}
	return found, ok
}

// register returns the data of object name, creating it zero filled with
// count elements of elemSize bytes when it does not exist. An existing object
// with another layout is deleted and reported as UnexpectedSizeError.
// Callers hold the segment lock.
func (s *Segment) register(name string, elemSize, count int) ([]byte, error) {
	if e, ok := s.lookup(name); ok {
		if e.elemSize == elemSize && e.count == count {
			return s.data(e), nil
		}
		expected, given := e.count, count
		if e.elemSize != elemSize {
			expected, given = e.dataLen(), elemSize*count
		}
		s.remove(e)
		return nil, &UnexpectedSizeError{Segment: s.id, Object: name, Expected: expected, Given: given}
	}
	return s.allocate(name, elemSize, count)
}

// find returns the data of an existing object whatever its layout.
// Callers hold the segment lock.
func (s *Segment) find(name string) (entry, []byte, bool) {
	e, ok := s.lookup(name)
	if !ok {
		return entry{}, nil, false
	}
	return e, s.data(e), true
}

func (s *Segment) data(e entry) []byte {
	return s.mem()[e.dataOff() : e.dataOff()+e.dataLen() : e.dataOff()+e.dataLen()]
}

func (s *Segment) allocate(name string, elemSize, count int) ([]byte, error) {
	need := entryHeaderSize + align8(len(name)) + align8(elemSize*count)

	off, total := -1, need
	s.walk(func(e entry) bool {
		if e.state == entryDeleted && e.total >= need {
			off, total = e.off, e.total
			return false
		}
		return true
	})
	if off < 0 {
		used := s.used()
		if used+need > s.capacity() {
			return nil, &AllocationError{Segment: s.id, Object: name}
		}
		off = used
		clear(s.mem()[off : off+need])
		internalshm.AtomicStoreUint64(s.mem(), offUsed, uint64(used+need))
	}

	s.putU32(off+offEntryTotal, uint32(total))
	s.putU32(off+offEntryElem, uint32(elemSize))
	s.putU32(off+offEntryCount, uint32(count))
	s.putU32(off+offEntryNameLen, uint32(len(name)))
	copy(s.mem()[off+entryHeaderSize:], name)
	e := entry{off: off, total: total, elemSize: elemSize, count: count, name: name}
	clear(s.mem()[e.dataOff() : off+total])
	s.putU32(off+offEntryState, entryLive)
	internalshm.AtomicStoreUint64(s.mem(), offObjectCount, uint64(s.objectCount()+1))
	s.objects.Set(name, off)
	return s.data(e), nil
}

func (s *Segment) remove(e entry) {
	s.putU32(e.off+offEntryState, entryDeleted)
	if n := s.objectCount(); n > 0 {
		internalshm.AtomicStoreUint64(s.mem(), offObjectCount, uint64(n-1))
	}
	if e.off+e.total == s.used() {
		internalshm.AtomicStoreUint64(s.mem(), offUsed, uint64(e.off))
	}
	s.objects.Remove(e.name)
}

// DeleteObject removes the named object from the segment. Deleting a missing
// object is not an error.
func (s *Segment) DeleteObject(name string) error {
	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()
	if e, ok := s.lookup(name); ok {
		s.remove(e)
	}
	return nil
}

// HasObject reports whether the named object is registered.
func (s *Segment) HasObject(name string) (bool, error) {
	if err := s.Lock(); err != nil {
		return false, err
	}
	defer s.Unlock()
	_, ok := s.lookup(name)
	return ok, nil
}

// Info returns the memory usage of the segment.
func (s *Segment) Info() (SegmentInfo, error) {
	if err := s.Lock(); err != nil {
		return SegmentInfo{}, err
	}
	defer s.Unlock()
	info := SegmentInfo{ID: s.id, Size: s.capacity()}
	tombstones, live := 0, 0
	sane := s.walk(func(e entry) bool {
		switch e.state {
		case entryLive:
			live++
		case entryDeleted:
			tombstones += e.total
		}
		return true
	})
	info.Free = s.capacity() - s.used() + tombstones
	info.Used = info.Size - info.Free
	info.Objects = s.objectCount()
	info.HasIssues = !sane || live != info.Objects
	return info, nil
}

// Object is a live view on a registered object. Data aliases shared memory
// and stays valid until the object is deleted or the segment is closed.
type Object struct {
	Name     string
	ElemSize int
	Count    int
	Data     []byte
}

// Register returns the named object, creating it zero filled on first use.
// Later registrations must agree on elemSize and count.
func (s *Segment) Register(name string, elemSize, count int) (*Object, error) {
	if err := s.Lock(); err != nil {
		return nil, err
	}
	defer s.Unlock()
	data, err := s.register(name, elemSize, count)
	if err != nil {
		return nil, err
	}
	return &Object{Name: name, ElemSize: elemSize, Count: count, Data: data}, nil
}

func (s *Segment) close() error {
	var firstErr error
	if s.mutex != nil {
		if err := s.mutex.Close(); err != nil {
			firstErr = err
		}
	}
	if s.region != nil {
		if err := internalshm.UnmapRegion(s.region); err != nil && firstErr == nil {
			firstErr = err
		}
		s.region = nil
	}
	return firstErr
}
