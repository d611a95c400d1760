package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	internalshm "github.com/srediag/shm-exchange/internal/shm"
)

const (
	lockSuffix = ".lock"
	condSuffix = ".cond"
)

// Registry maps segment identifiers to process-local handles.
// Handles are created on first request and shared by later requests.
type Registry struct {
	dir         string
	prefix      string
	segmentSize atomic.Uint32

	mu       sync.Mutex // serializes segment creation and deletion
	segments cmap.ConcurrentMap[string, *Segment]

	tracer trace.Tracer
	opens  metric.Int64Counter
	clears metric.Int64Counter
}

// NewRegistry returns a Registry for config. A nil config means DefaultConfig.
func NewRegistry(config *Config) (*Registry, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	r := &Registry{
		dir:      config.Dir,
		prefix:   config.Prefix,
		segments: cmap.New[*Segment](),
		tracer:   config.Tracer,
	}
	r.segmentSize.Store(config.SegmentSize)
	if r.tracer == nil {
		r.tracer = tracenoop.NewTracerProvider().Tracer("shm")
	}
	meter := config.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("shm")
	}
	var err error
	if r.opens, err = meter.Int64Counter("shm.segment.opens",
		metric.WithDescription("Segments mapped by this process")); err != nil {
		return nil, err
	}
	if r.clears, err = meter.Int64Counter("shm.segment.clears",
		metric.WithDescription("Segments unlinked by this process")); err != nil {
		return nil, err
	}
	return r, nil
}

var (
	defaultRegistry     *Registry
	defaultRegistryErr  error
	defaultRegistryOnce sync.Once
)

// Default returns the process wide Registry built from DefaultConfig.
func Default() (*Registry, error) {
	defaultRegistryOnce.Do(func() {
		defaultRegistry, defaultRegistryErr = NewRegistry(DefaultConfig())
	})
	return defaultRegistry, defaultRegistryErr
}

// Dir returns the directory holding the files of this registry.
func (r *Registry) Dir() string { return r.dir }

// SegmentSize returns the capacity of newly created segments.
func (r *Registry) SegmentSize() uint32 { return r.segmentSize.Load() }

// SetSegmentSizes sets the capacity of newly created segments to multiplier*SegmentSizeUnit.
// Existing segments keep their size.
func (r *Registry) SetSegmentSizes(multiplier uint32) error {
	if multiplier == 0 {
		return errors.New("segment size multiplier must be positive")
	}
	r.segmentSize.Store(multiplier * SegmentSizeUnit)
	return nil
}

// SetDefaultSegmentSizes restores DefaultSegmentSize.
func (r *Registry) SetDefaultSegmentSizes() {
	r.segmentSize.Store(DefaultSegmentSize)
}

func (r *Registry) path(id, suffix string) (string, error) {
	if id == "" || strings.ContainsRune(id, os.PathSeparator) || strings.ContainsRune(id, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	return filepath.Join(r.dir, r.prefix+id+suffix), nil
}

// GetSegment returns the handle of segment id, mapping it on first use.
// When create is false and the segment does not exist a NonExistingSegmentError
// is returned. clearOnDestruction is recorded on the handle, the last call wins.
func (r *Registry) GetSegment(id string, clearOnDestruction, create bool) (*Segment, error) {
	s, err := r.segment(id, create)
	if err != nil {
		return nil, err
	}
	s.clearOnDestruction.Store(clearOnDestruction)
	return s, nil
}

// segment returns the handle of id without touching its clear flag.
func (r *Registry) segment(id string, create bool) (*Segment, error) {
	if s, ok := r.segments.Get(id); ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.segments.Get(id); ok {
		return s, nil
	}

	ctx, span := r.tracer.Start(context.Background(), "shm.OpenSegment",
		trace.WithAttributes(attribute.String("shm.segment", id), attribute.Bool("shm.create", create)))
	defer span.End()

	s, err := r.open(ctx, id, create)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	r.segments.Set(id, s)
	r.opens.Add(ctx, 1, metric.WithAttributes(attribute.String("shm.segment", id)))
	internalLogger.Debugf("segment %s mapped, %d bytes", id, len(s.mem()))
	return s, nil
}

func (r *Registry) open(ctx context.Context, id string, create bool) (*Segment, error) {
	path, err := r.path(id, "")
	if err != nil {
		return nil, err
	}
	exists := internalshm.Exists(path)
	if !exists && !create {
		return nil, &NonExistingSegmentError{Segment: id}
	}
	size := int(r.segmentSize.Load())
	if !exists && !internalshm.CanCreate(uint64(size), path) {
		return nil, &AllocationError{Segment: id}
	}

	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Path: path, Size: size, Create: create})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, internalshm.ErrNotInitialized) {
			return nil, &NonExistingSegmentError{Segment: id}
		}
		return nil, fmt.Errorf("map segment %s: %w", id, err)
	}
	if len(region.Addr) < headerSize {
		_ = internalshm.UnmapRegion(region)
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrCorruptSegment, id, len(region.Addr))
	}

	mutex, err := NewMutex(r, id+"_mutex", false)
	if err != nil {
		_ = internalshm.UnmapRegion(region)
		return nil, err
	}
	s := &Segment{id: id, region: region, mutex: mutex, objects: cmap.New[int]()}
	if err := s.Lock(); err != nil {
		_ = s.close()
		return nil, err
	}
	err = s.initialize()
	_ = s.Unlock()
	if err != nil {
		_ = s.close()
		return nil, err
	}
	return s, nil
}

// DeleteSegment drops the local handle of id. The shared object is unlinked
// when the handle was requested with clearOnDestruction. Deleting an unknown
// segment is not an error.
func (r *Registry) DeleteSegment(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.segments.Pop(id)
	if !ok {
		return nil
	}
	err := s.close()
	if s.ClearOnDestruction() {
		if cerr := r.unlink(id); err == nil {
			err = cerr
		}
	}
	return err
}

// ClearSharedMemory unlinks the shared object of id for every process and drops
// the local handle if any. Processes that still map it keep their view.
func (r *Registry) ClearSharedMemory(id string) error {
	_, span := r.tracer.Start(context.Background(), "shm.ClearSharedMemory",
		trace.WithAttributes(attribute.String("shm.segment", id)))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if s, ok := r.segments.Pop(id); ok {
		err = s.close()
	}
	if cerr := r.unlink(id); err == nil {
		err = cerr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Registry) unlink(id string) error {
	path, err := r.path(id, "")
	if err != nil {
		return err
	}
	if err := internalshm.Unlink(path); err != nil {
		return err
	}
	if err := CleanMutex(r, id+"_mutex"); err != nil {
		return err
	}
	r.clears.Add(context.Background(), 1, metric.WithAttributes(attribute.String("shm.segment", id)))
	internalLogger.Debugf("segment %s unlinked", id)
	return nil
}

// SegmentExists reports whether the shared object of id exists, whether or
// not this process mapped it.
func (r *Registry) SegmentExists(id string) bool {
	path, err := r.path(id, "")
	if err != nil {
		return false
	}
	return internalshm.Exists(path)
}

// DeleteAllSegments drops every local handle, honoring each clear flag.
func (r *Registry) DeleteAllSegments() error {
	var errs []error
	for _, id := range r.segments.Keys() {
		if err := r.DeleteSegment(id); err != nil {
			errs = append(errs, fmt.Errorf("segment %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// GetSegmentInfo returns the memory usage of segment id, mapping it if needed.
func (r *Registry) GetSegmentInfo(id string) (SegmentInfo, error) {
	s, err := r.segment(id, false)
	if err != nil {
		return SegmentInfo{}, err
	}
	return s.Info()
}

// WaitForSegment polls until segment id has been created by another process
// or ctx is done.
func (r *Registry) WaitForSegment(ctx context.Context, id string) (*Segment, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0

	return backoff.RetryWithData(func() (*Segment, error) {
		s, err := r.segment(id, false)
		if err != nil && !errors.Is(err, ErrNonExistingSegment) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	}, backoff.WithContext(b, ctx))
}
