//go:build linux

package fsys

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// fillStatFields extracts inode fields from syscall.Stat_t into attrs.
func fillStatFields(info os.FileInfo, attrs *Attributes) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	attrs.Dev = stat.Dev
	attrs.Inode = stat.Ino
	attrs.Nlink = uint64(stat.Nlink) //nolint:unconvert // uint32 on some arches
	attrs.HasInode = true
}

// birthTime asks statx for the creation time. Filesystems that do not record
// it fall back to the inode change time.
func birthTime(path string, info os.FileInfo, follow bool) time.Time {
	fallback := info.ModTime()
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		fallback = time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
	}

	flags := unix.AT_SYMLINK_NOFOLLOW
	if follow {
		flags = 0
	}
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, flags, unix.STATX_BTIME, &stx); err != nil {
		return fallback
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return fallback
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
}
