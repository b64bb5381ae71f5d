//go:build !linux && !darwin

package fsys

import (
	"os"
	"time"
)

func fillStatFields(_ os.FileInfo, _ *Attributes) {}

func birthTime(_ string, info os.FileInfo, _ bool) time.Time {
	return info.ModTime()
}
