package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a human-readable size string into bytes.
// Supports: 100, 100B, 100K, 100KB, 100M, 100MB, 100G, 100GB, 100T, 100TB
// (case-insensitive). Uses powers of 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	upper := strings.ToUpper(s)
	// "KB" and friends reduce to their one-letter form.
	if len(upper) >= 2 && strings.HasSuffix(upper, "B") && strings.ContainsAny(upper[len(upper)-2:len(upper)-1], "KMGT") {
		upper = upper[:len(upper)-1]
	}

	multiplier := int64(1)
	numStr := upper

	switch upper[len(upper)-1:] {
	case "B":
		numStr = upper[:len(upper)-1]
	case "K":
		multiplier = 1024
		numStr = upper[:len(upper)-1]
	case "M":
		multiplier = 1024 * 1024
		numStr = upper[:len(upper)-1]
	case "G":
		multiplier = 1024 * 1024 * 1024
		numStr = upper[:len(upper)-1]
	case "T":
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = upper[:len(upper)-1]
	default:
		// No suffix, try parsing as plain number.
	}

	numStr = strings.TrimSpace(numStr)
	if numStr == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	// Try integer first, then float.
	if n, err := strconv.ParseInt(numStr, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size: %q", s)
		}
		return n * multiplier, nil
	}

	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	return int64(f * float64(multiplier)), nil
}

// Comparator is the relational operator of a size expression.
type Comparator int

const (
	Equal Comparator = iota
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
)

var comparatorNames = [...]string{
	Equal:          "=",
	Less:           "<",
	LessOrEqual:    "<=",
	Greater:        ">",
	GreaterOrEqual: ">=",
}

func (c Comparator) String() string {
	if int(c) < len(comparatorNames) {
		return comparatorNames[c]
	}
	return "?"
}

// SizeExpr is a parsed size predicate such as ">1MB".
type SizeExpr struct {
	Op    Comparator
	Bytes int64
}

// ParseSizeExpr parses a comparator followed by a size, e.g. ">1MB",
// "<100KB", "=0", ">= 2G". A bare size means equality.
func ParseSizeExpr(s string) (SizeExpr, error) {
	s = strings.TrimSpace(s)

	var expr SizeExpr
	switch {
	case strings.HasPrefix(s, ">="):
		expr.Op, s = GreaterOrEqual, s[2:]
	case strings.HasPrefix(s, "<="):
		expr.Op, s = LessOrEqual, s[2:]
	case strings.HasPrefix(s, "=="):
		expr.Op, s = Equal, s[2:]
	case strings.HasPrefix(s, ">"):
		expr.Op, s = Greater, s[1:]
	case strings.HasPrefix(s, "<"):
		expr.Op, s = Less, s[1:]
	case strings.HasPrefix(s, "="):
		expr.Op, s = Equal, s[1:]
	}

	n, err := ParseSize(s)
	if err != nil {
		return SizeExpr{}, fmt.Errorf("size expression: %w", err)
	}
	expr.Bytes = n
	return expr, nil
}

// Match reports whether size satisfies the expression.
func (e SizeExpr) Match(size int64) bool {
	switch e.Op {
	case Less:
		return size < e.Bytes
	case LessOrEqual:
		return size <= e.Bytes
	case Greater:
		return size > e.Bytes
	case GreaterOrEqual:
		return size >= e.Bytes
	default:
		return size == e.Bytes
	}
}

func (e SizeExpr) String() string {
	return e.Op.String() + strconv.FormatInt(e.Bytes, 10)
}
