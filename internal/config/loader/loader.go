// Package loader reads configuration layers from TOML files, GANTRY_*
// environment variables, and key=value assignments.
package loader

import (
	"io/fs"
	"os"
)

// Loader reads one configuration source into a nested map.
// A missing source yields nil, nil.
type Loader interface {
	Load() (map[string]any, error)
}

// FileSystem is the file access a file loader needs.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}
