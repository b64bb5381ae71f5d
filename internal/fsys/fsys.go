// Package fsys abstracts the filesystem metadata the scanner consumes, so
// the walk can run against the local OS or any go-billy filesystem.
package fsys

import (
	"os"
	"time"
)

// Attributes is the metadata of a single filesystem entry.
type Attributes struct {
	CreatedAt  time.Time
	ModifiedAt time.Time
	Name       string
	Size       int64
	Dev        uint64
	Inode      uint64
	Nlink      uint64
	Mode       os.FileMode
	HasInode   bool
	IsDir      bool
	IsSymlink  bool
}

// Perm returns the permission bits.
func (a Attributes) Perm() os.FileMode {
	return a.Mode.Perm()
}

// ReadOnly reports whether no write bit is set.
func (a Attributes) ReadOnly() bool {
	return a.Mode.Perm()&0o222 == 0
}

// Provider is the filesystem metadata source used by the scanner.
type Provider interface {
	// Exists reports whether path exists (without following a final symlink).
	Exists(path string) bool

	// ListDirectory returns the names of the immediate children of path.
	ListDirectory(path string) ([]string, error)

	// Lstat returns metadata for path without following a final symlink.
	Lstat(path string) (Attributes, error)

	// Stat returns metadata for path, following symlinks.
	Stat(path string) (Attributes, error)

	// ReadSymlinkTarget returns the target of the symlink at path.
	ReadSymlinkTarget(path string) (string, error)
}
