// Package storage defines the artifact file-system abstraction.
package storage

import (
	"io"
	"time"
)

// FileInfo describes one file under the storage root.
type FileInfo struct {
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for artifact file operations. Paths are relative
// to the provider root.
type Provider interface {
	// List returns metadata for every file under dir whose name ends in ext.
	List(dir, ext string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Open returns a reader for the file at path.
	Open(path string) (io.ReadCloser, error)
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// WriteFunc atomically writes whatever fn produces to path.
	WriteFunc(path string, fn func(io.Writer) error) error
	// Delete removes the file at path.
	Delete(path string) error
	// Abs returns the absolute path for path.
	Abs(path string) (string, error)
}
