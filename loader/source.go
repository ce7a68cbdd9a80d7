package loader

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Blob is one fetched copy of the dataset.
type Blob struct {
	Data         []byte
	LastModified time.Time
}

// Source is a remote (or local) dataset location.
type Source interface {
	// Fetch downloads the dataset.
	Fetch(ctx context.Context) (Blob, error)
	// LastModified probes the modification time without downloading. The
	// zero time means the source cannot tell.
	LastModified(ctx context.Context) (time.Time, error)
	// Format reports how the blob is encoded.
	Format() Format
	// String identifies the source; it keys the cache.
	String() string
}

// FileSource reads the dataset from the local filesystem.
type FileSource struct {
	path   string
	format Format
}

// NewFileSource builds a source for path; the format follows the extension.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, format: FormatFromName(path)}
}

func (s *FileSource) Fetch(ctx context.Context) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return Blob{}, fmt.Errorf("stat dataset: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Blob{}, fmt.Errorf("read dataset: %w", err)
	}
	return Blob{Data: data, LastModified: info.ModTime()}, nil
}

func (s *FileSource) LastModified(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat dataset: %w", err)
	}
	return info.ModTime(), nil
}

func (s *FileSource) Format() Format { return s.format }

func (s *FileSource) String() string { return "file://" + s.path }
