package engine

import (
	"os"
	"time"

	"github.com/bamsammich/tally/internal/fsys"
)

// Class selects one of the three POSIX permission classes.
type Class uint

const (
	Owner Class = 6
	Group Class = 3
	Other Class = 0
)

// Permissions holds the nine rwx bits of an entry.
type Permissions uint16

func (p Permissions) bit(c Class, b uint16) bool {
	return uint16(p)>>c&b != 0
}

// Readable reports whether class c has read access.
func (p Permissions) Readable(c Class) bool { return p.bit(c, 4) }

// Writable reports whether class c has write access.
func (p Permissions) Writable(c Class) bool { return p.bit(c, 2) }

// Executable reports whether class c has execute (or search) access.
func (p Permissions) Executable(c Class) bool { return p.bit(c, 1) }

// String renders the bits the way ls does, e.g. "rwxr-x---".
func (p Permissions) String() string {
	return os.FileMode(p).Perm().String()[1:]
}

// FileNode is one discovered filesystem entry. It is a value: the scanner
// keeps no reference after handing it to the observer.
type FileNode struct {
	CreatedAt   time.Time
	ModifiedAt  time.Time
	Name        string
	Path        string // absolute
	Size        int64
	Inode       uint64
	Depth       int // 0 for the scan root
	Permissions Permissions
	HasInode    bool
	IsDir       bool
}

func newFileNode(path string, a fsys.Attributes, depth int) FileNode {
	return FileNode{
		Name:        a.Name,
		Path:        path,
		Size:        a.Size,
		IsDir:       a.IsDir,
		CreatedAt:   a.CreatedAt,
		ModifiedAt:  a.ModifiedAt,
		Permissions: Permissions(a.Perm()),
		Inode:       a.Inode,
		HasInode:    a.HasInode,
		Depth:       depth,
	}
}
