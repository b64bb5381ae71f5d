package fsys

import (
	"fmt"
	"os"
	"path/filepath"
)

// Compile-time interface checks.
var (
	_ Provider = (*Local)(nil)
	_ Provider = (*Billy)(nil)
)

// Local reads metadata from the host filesystem.
type Local struct{}

// NewLocal creates a provider for the host filesystem.
func NewLocal() *Local {
	return &Local{}
}

func (*Local) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (*Local) ListDirectory(path string) ([]string, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dir %s: %w", path, err)
	}
	defer fd.Close()

	names, err := fd.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	return names, nil
}

func (*Local) Lstat(path string) (Attributes, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Attributes{}, fmt.Errorf("lstat %s: %w", path, err)
	}
	attrs := fileInfoToAttributes(info)
	attrs.CreatedAt = birthTime(path, info, false)
	return attrs, nil
}

func (*Local) Stat(path string) (Attributes, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Attributes{}, fmt.Errorf("stat %s: %w", path, err)
	}
	attrs := fileInfoToAttributes(info)
	attrs.Name = filepath.Base(path)
	attrs.CreatedAt = birthTime(path, info, true)
	return attrs, nil
}

func (*Local) ReadSymlinkTarget(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("readlink %s: %w", path, err)
	}
	return target, nil
}

// fileInfoToAttributes converts os.FileInfo to Attributes, pulling inode
// data from the platform stat structure when available.
func fileInfoToAttributes(info os.FileInfo) Attributes {
	attrs := Attributes{
		Name:       info.Name(),
		Size:       info.Size(),
		Mode:       info.Mode(),
		ModifiedAt: info.ModTime(),
		CreatedAt:  info.ModTime(),
		IsDir:      info.IsDir(),
		IsSymlink:  info.Mode()&os.ModeSymlink != 0,
	}
	fillStatFields(info, &attrs)
	return attrs
}
