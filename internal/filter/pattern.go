package filter

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
)

// matcher tests one item against a compiled rule pattern.
type matcher func(path string, attrs Attributes) bool

// newTextMatcher compiles pattern as a regular expression applied to the
// string selected by field. A pattern that does not compile degrades to
// plain substring containment instead of failing.
func newTextMatcher(pattern string, field func(string, Attributes) string) matcher {
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Debug("filter pattern is not a valid regexp, using substring match",
			"pattern", pattern, "error", err)
		return func(path string, attrs Attributes) bool {
			return strings.Contains(field(path, attrs), pattern)
		}
	}
	return func(path string, attrs Attributes) bool {
		return re.MatchString(field(path, attrs))
	}
}

// newExtensionMatcher matches a case-insensitive pipe-delimited list such as
// "jpg|png|.GIF". Items without an extension never match.
func newExtensionMatcher(pattern string) matcher {
	exts := ParseExtensions(strings.Split(pattern, "|"))
	return func(_ string, attrs Attributes) bool {
		ext := Extension(attrs.Name)
		if ext == "" {
			return false
		}
		_, ok := exts[ext]
		return ok
	}
}

// newSizeMatcher matches a comparator expression such as ">1MB". A
// malformed expression never matches. Directories never match.
func newSizeMatcher(pattern string) matcher {
	expr, err := ParseSizeExpr(pattern)
	if err != nil {
		slog.Debug("ignoring malformed size rule", "pattern", pattern, "error", err)
		return func(string, Attributes) bool { return false }
	}
	return func(_ string, attrs Attributes) bool {
		return !attrs.IsDir && expr.Match(attrs.Size)
	}
}

// newAttributeMatcher matches any of the pipe-delimited coarse flags
// readonly, hidden, symlink and hardlink. Unknown flags never match.
func newAttributeMatcher(pattern string) matcher {
	var flags []string
	for _, f := range strings.Split(pattern, "|") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			flags = append(flags, f)
		}
	}
	return func(_ string, attrs Attributes) bool {
		for _, f := range flags {
			switch f {
			case "readonly":
				if attrs.ReadOnly {
					return true
				}
			case "hidden":
				if attrs.Hidden {
					return true
				}
			case "symlink":
				if attrs.IsSymlink {
					return true
				}
			case "hardlink":
				if attrs.Nlink > 1 {
					return true
				}
			}
		}
		return false
	}
}

// Extension returns the lowercase extension of name without the leading dot.
func Extension(name string) string {
	ext := filepath.Ext(name)
	if len(ext) <= 1 {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// ParseExtensions normalises a list of extensions ("JPG", ".png", " gif ")
// into a lowercase set without leading dots. Empty entries are dropped.
func ParseExtensions(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, e := range list {
		e = strings.ToLower(strings.TrimSpace(e))
		e = strings.TrimPrefix(e, ".")
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

// IsHidden reports whether name is a dot-file.
func IsHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
