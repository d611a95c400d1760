package shm

import (
	"cmp"
	"slices"
	"strconv"
	"unsafe"
)

// Scalar is the set of fixed size types stored by value in a segment.
type Scalar interface {
	~bool | ~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 | ~complex64 | ~complex128
}

// Key is a Scalar usable as an ordered map key.
type Key interface {
	Scalar
	cmp.Ordered
}

func sizeOf[T Scalar]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func asBytes[T Scalar](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*sizeOf[T]())
}

// withObject runs fn on the data of object objectID of segmentID under the
// segment lock, registering it on first use. The segment is created if needed.
func withObject(r *Registry, segmentID, objectID string, elemSize, count int, fn func([]byte)) error {
	s, err := r.segment(segmentID, true)
	if err != nil {
		return err
	}
	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()
	data, err := s.register(objectID, elemSize, count)
	if err != nil {
		return err
	}
	fn(data)
	return nil
}

// SetArray writes values into object objectID. The first access fixes the
// number of elements, writing another number fails with ErrUnexpectedSize.
func SetArray[T Scalar](r *Registry, segmentID, objectID string, values []T) error {
	return withObject(r, segmentID, objectID, sizeOf[T](), len(values), func(data []byte) {
		copy(data, asBytes(values))
	})
}

// GetArray reads n elements from object objectID, registering it zero filled
// when nobody did yet.
func GetArray[T Scalar](r *Registry, segmentID, objectID string, n int) ([]T, error) {
	out := make([]T, n)
	err := withObject(r, segmentID, objectID, sizeOf[T](), n, func(data []byte) {
		copy(asBytes(out), data)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set writes a single value into object objectID.
func Set[T Scalar](r *Registry, segmentID, objectID string, value T) error {
	return SetArray(r, segmentID, objectID, []T{value})
}

// Get reads a single value from object objectID.
func Get[T Scalar](r *Registry, segmentID, objectID string) (T, error) {
	values, err := GetArray[T](r, segmentID, objectID, 1)
	if err != nil {
		var zero T
		return zero, err
	}
	return values[0], nil
}

// SetBytes writes b into object objectID, sized len(b) on first access.
func SetBytes(r *Registry, segmentID, objectID string, b []byte) error {
	return SetArray(r, segmentID, objectID, b)
}

// GetBytes reads object objectID whatever its registered length.
// It fails with NonExistingSegmentError or returns nil when the object is absent.
func GetBytes(r *Registry, segmentID, objectID string) ([]byte, error) {
	s, err := r.segment(segmentID, false)
	if err != nil {
		return nil, err
	}
	if err := s.Lock(); err != nil {
		return nil, err
	}
	defer s.Unlock()
	_, data, ok := s.find(objectID)
	if !ok {
		return nil, nil
	}
	return slices.Clone(data), nil
}

// SetString writes str into object objectID.
func SetString(r *Registry, segmentID, objectID, str string) error {
	return SetBytes(r, segmentID, objectID, []byte(str))
}

// GetString reads object objectID as a string.
func GetString(r *Registry, segmentID, objectID string) (string, error) {
	b, err := GetBytes(r, segmentID, objectID)
	return string(b), err
}

// SetPair writes a pair as the objects "<objectID>_first" and "<objectID>_second".
func SetPair[A, B Scalar](r *Registry, segmentID, objectID string, first A, second B) error {
	if err := Set(r, segmentID, objectID+"_first", first); err != nil {
		return err
	}
	return Set(r, segmentID, objectID+"_second", second)
}

// GetPair reads a pair written by SetPair.
func GetPair[A, B Scalar](r *Registry, segmentID, objectID string) (A, B, error) {
	var second B
	first, err := Get[A](r, segmentID, objectID+"_first")
	if err != nil {
		return first, second, err
	}
	second, err = Get[B](r, segmentID, objectID+"_second")
	return first, second, err
}

// SetMap writes m as pairs "<objectID>_<n>", n numbering the keys in ascending order.
func SetMap[K Key, V Scalar](r *Registry, segmentID, objectID string, m map[K]V) error {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for n, k := range keys {
		if err := SetPair(r, segmentID, objectID+"_"+strconv.Itoa(n), k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

// GetMap reads the n pairs written by SetMap.
func GetMap[K Key, V Scalar](r *Registry, segmentID, objectID string, n int) (map[K]V, error) {
	m := make(map[K]V, n)
	for i := 0; i < n; i++ {
		k, v, err := GetPair[K, V](r, segmentID, objectID+"_"+strconv.Itoa(i))
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// SetStringMap writes every value of m as the object "<objectID>_<key>".
func SetStringMap[V Scalar](r *Registry, segmentID, objectID string, m map[string]V) error {
	for k, v := range m {
		if err := Set(r, segmentID, objectID+"_"+k, v); err != nil {
			return err
		}
	}
	return nil
}

// GetStringMap reads the values of keys written by SetStringMap.
func GetStringMap[V Scalar](r *Registry, segmentID, objectID string, keys []string) (map[string]V, error) {
	m := make(map[string]V, len(keys))
	for _, k := range keys {
		v, err := Get[V](r, segmentID, objectID+"_"+k)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
