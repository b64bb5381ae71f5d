package fsys

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
)

// Billy adapts a go-billy filesystem (memfs, osfs, chroots) to Provider.
// Inode data is only available when the underlying FileInfo carries a
// platform stat structure.
type Billy struct {
	fs billy.Filesystem
}

// NewBilly wraps fs.
func NewBilly(fs billy.Filesystem) *Billy {
	return &Billy{fs: fs}
}

func (b *Billy) Exists(path string) bool {
	_, err := b.fs.Lstat(path)
	return err == nil
}

func (b *Billy) ListDirectory(path string) ([]string, error) {
	infos, err := b.fs.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("billy: readdir %s: %w", path, err)
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

func (b *Billy) Lstat(path string) (Attributes, error) {
	info, err := b.fs.Lstat(path)
	if err != nil {
		return Attributes{}, fmt.Errorf("billy: lstat %s: %w", path, err)
	}
	attrs := fileInfoToAttributes(info)
	attrs.Name = filepath.Base(path)
	return attrs, nil
}

func (b *Billy) Stat(path string) (Attributes, error) {
	info, err := b.fs.Stat(path)
	if err != nil {
		return Attributes{}, fmt.Errorf("billy: stat %s: %w", path, err)
	}
	attrs := fileInfoToAttributes(info)
	attrs.Name = filepath.Base(path)
	return attrs, nil
}

func (b *Billy) ReadSymlinkTarget(path string) (string, error) {
	target, err := b.fs.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("billy: readlink %s: %w", path, err)
	}
	return target, nil
}
