package engine

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/bamsammich/tally/internal/filter"
)

// DefaultMaxErrors bounds the per-scan error log.
const DefaultMaxErrors = 1000

// ScanConfig is the immutable configuration of one scan.
type ScanConfig struct {
	// ExcludePaths are skipped on exact match. Relative entries are made
	// absolute against the working directory.
	ExcludePaths []string
	// Extensions, when non-empty, is an allow-list for files.
	Extensions       []string
	ProgressInterval time.Duration // 0 delivers every update
	MaxConcurrency   int
	MaxDepth         int // 0 = unlimited
	MaxErrors        int
	FollowSymlinks   bool
	IncludeHidden    bool
}

// DefaultScanConfig returns the configuration used when none is supplied.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxConcurrency: min(runtime.NumCPU(), 8),
		MaxErrors:      DefaultMaxErrors,
	}
}

// scanPlan is a normalised ScanConfig with lookup sets built once.
type scanPlan struct {
	exclude    map[string]struct{}
	extensions map[string]struct{}
	ScanConfig
}

func (c ScanConfig) normalize() scanPlan {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = min(runtime.NumCPU(), 8)
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.ProgressInterval < 0 {
		c.ProgressInterval = 0
	}
	c.ExcludePaths = append([]string(nil), c.ExcludePaths...)
	c.Extensions = append([]string(nil), c.Extensions...)

	p := scanPlan{
		ScanConfig: c,
		exclude:    make(map[string]struct{}, len(c.ExcludePaths)),
		extensions: filter.ParseExtensions(c.Extensions),
	}
	for _, e := range c.ExcludePaths {
		if abs, err := filepath.Abs(e); err == nil {
			e = abs
		}
		p.exclude[filepath.Clean(e)] = struct{}{}
	}
	return p
}

func (p *scanPlan) excluded(path string) bool {
	_, ok := p.exclude[path]
	return ok
}

// allowsExtension applies the extension allow-list to a file name.
func (p *scanPlan) allowsExtension(name string) bool {
	if len(p.extensions) == 0 {
		return true
	}
	_, ok := p.extensions[filter.Extension(name)]
	return ok
}

// descend reports whether a directory at depth may be listed.
func (p *scanPlan) descend(depth int) bool {
	return p.MaxDepth == 0 || depth < p.MaxDepth
}
