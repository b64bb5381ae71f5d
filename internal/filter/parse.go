package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadFile reads rules from a file and adds them to the filter. Each line
// holds one rule, "[+|-] <type> <pattern> [@priority]": a leading "+" makes
// an include rule, "-" or no prefix an exclude rule. Blank lines and lines
// starting with "#" are skipped.
func (f *Filter) LoadFile(path string) error {
	fd, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rules file: %w", err)
	}
	defer fd.Close()

	rules, err := ParseRules(fd)
	if err != nil {
		return fmt.Errorf("rules file %s: %w", path, err)
	}
	for _, r := range rules {
		f.AddRule(r)
	}
	return nil
}

// ParseRules reads rules in the LoadFile format from r.
func ParseRules(r io.Reader) ([]Rule, error) {
	var rules []Rule
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip blank lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := ParseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("line-%d", lineNum)
		}
		rules = append(rules, rule)
	}
	return rules, scanner.Err()
}

// ParseRule parses a single "[+|-] <type> <pattern> [@priority]" rule.
// The pattern may contain spaces; a trailing "@N" token sets the priority.
func ParseRule(line string) (Rule, error) {
	line = strings.TrimSpace(line)
	rule := Rule{Operation: Exclude, Enabled: true}

	switch {
	case strings.HasPrefix(line, "+"):
		rule.Operation = Include
		line = strings.TrimSpace(line[1:])
	case strings.HasPrefix(line, "-"):
		line = strings.TrimSpace(line[1:])
	}

	typeName, rest, ok := strings.Cut(line, " ")
	if !ok {
		return Rule{}, fmt.Errorf("rule %q: missing pattern", line)
	}
	typ, err := ParseRuleType(typeName)
	if err != nil {
		return Rule{}, err
	}
	if typ == RuleCustom {
		return Rule{}, fmt.Errorf("custom rules cannot be declared in text")
	}
	rule.Type = typ

	rest = strings.TrimSpace(rest)
	if i := strings.LastIndex(rest, " @"); i >= 0 {
		if prio, err := strconv.Atoi(rest[i+2:]); err == nil {
			rule.Priority = prio
			rest = strings.TrimSpace(rest[:i])
		}
	}
	if rest == "" {
		return Rule{}, fmt.Errorf("rule %q: missing pattern", line)
	}
	rule.Pattern = rest
	return rule, nil
}
