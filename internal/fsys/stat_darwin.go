//go:build darwin

package fsys

import (
	"os"
	"syscall"
	"time"
)

// fillStatFields extracts inode fields from syscall.Stat_t into attrs.
func fillStatFields(info os.FileInfo, attrs *Attributes) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	attrs.Dev = uint64(stat.Dev) //nolint:gosec // G115: dev_t is int32 on darwin, always non-negative
	attrs.Inode = stat.Ino
	attrs.Nlink = uint64(stat.Nlink)
	attrs.HasInode = true
}

// birthTime reads Birthtimespec, which darwin records for every file.
func birthTime(_ string, info os.FileInfo, _ bool) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec)
}
