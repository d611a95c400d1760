package shm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	internalshm "github.com/srediag/shm-exchange/internal/shm"
)

const (
	// DefaultSegmentSize is the capacity of a segment unless configured otherwise.
	DefaultSegmentSize = 65536
	// SegmentSizeUnit is the granularity of configured segment sizes.
	SegmentSizeUnit = 1025
	// DefaultPrefix is prepended to every file created in Config.Dir.
	DefaultPrefix = "shmx."
)

// Config holds the parameters shared by every object of a Registry.
type Config struct {
	// Dir is the directory holding segments, lock files and condition words.
	Dir string
	// Prefix is prepended to every file name, so unrelated users of Dir do not collide.
	Prefix string
	// SegmentSize is the capacity in bytes of newly created segments.
	// Either DefaultSegmentSize or a multiple of SegmentSizeUnit.
	SegmentSize uint32
	// Tracer records spans around segment lifecycle operations. Nil means no-op.
	Tracer trace.Tracer
	// Meter records segment lifecycle counters. Nil means no-op.
	Meter metric.Meter
}

// DefaultConfig returns a Config using /dev/shm when available.
func DefaultConfig() *Config {
	return &Config{
		Dir:         internalshm.DefaultDir(),
		Prefix:      DefaultPrefix,
		SegmentSize: DefaultSegmentSize,
	}
}

// VerifyConfig reports the first invalid field of config.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.Dir == "" {
		return errors.New("Dir must not be empty")
	}
	info, err := os.Stat(config.Dir)
	if err != nil {
		return fmt.Errorf("Dir %s: %w", config.Dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("Dir %s is not a directory", config.Dir)
	}
	if strings.ContainsRune(config.Prefix, os.PathSeparator) {
		return fmt.Errorf("Prefix %q must not contain a path separator", config.Prefix)
	}
	if config.SegmentSize < SegmentSizeUnit {
		return fmt.Errorf("SegmentSize must be at least %d, got %d", SegmentSizeUnit, config.SegmentSize)
	}
	if config.SegmentSize != DefaultSegmentSize && config.SegmentSize%SegmentSizeUnit != 0 {
		return fmt.Errorf("SegmentSize must be a multiple of %d, got %d", SegmentSizeUnit, config.SegmentSize)
	}
	return nil
}
