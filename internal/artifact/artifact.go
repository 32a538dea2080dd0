// Package artifact turns a captured report into the byte blob uploaded to
// Cloud Profiler: an uncompressed pprof protobuf, then gzip.
package artifact

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/pprof/profile"
	"github.com/klauspost/compress/gzip"
)

// ErrNilReport is returned when there is nothing to serialize.
var ErrNilReport = errors.New("report is nil")

// PprofSerializer encodes reports as pprof protobuf.
type PprofSerializer struct{}

// Serialize validates the report and writes it uncompressed.
func (PprofSerializer) Serialize(report *profile.Profile) ([]byte, error) {
	if report == nil {
		return nil, ErrNilReport
	}
	if err := report.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	var buf bytes.Buffer
	if err := report.WriteUncompressed(&buf); err != nil {
		return nil, fmt.Errorf("failed to write profile: %w", err)
	}
	return buf.Bytes(), nil
}

// GzipCompressor gzips artifacts. The zero value uses gzip.DefaultCompression.
type GzipCompressor struct {
	Level int
}

// Compress returns data as a gzip stream. Write and Close errors are returned
// rather than producing a truncated stream.
func (c GzipCompressor) Compress(data []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("failed to write gzip stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}
