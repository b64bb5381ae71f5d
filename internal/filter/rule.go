package filter

import (
	"fmt"
	"strings"
)

// RuleType selects which attribute of an item a rule's pattern applies to.
type RuleType int

const (
	RuleSize RuleType = iota + 1
	RuleExtension
	RuleName
	RulePath
	RuleAttribute
	RuleCustom
)

var ruleTypeNames = [...]string{
	RuleSize:      "size",
	RuleExtension: "extension",
	RuleName:      "name",
	RulePath:      "path",
	RuleAttribute: "attribute",
	RuleCustom:    "custom",
}

func (t RuleType) String() string {
	if t > 0 && int(t) < len(ruleTypeNames) {
		return ruleTypeNames[t]
	}
	return "unknown"
}

// ParseRuleType converts a rule type name (or common short form) to a RuleType.
func ParseRuleType(s string) (RuleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "size":
		return RuleSize, nil
	case "extension", "ext", "fileextension":
		return RuleExtension, nil
	case "name":
		return RuleName, nil
	case "path":
		return RulePath, nil
	case "attribute", "attr":
		return RuleAttribute, nil
	case "custom":
		return RuleCustom, nil
	default:
		return 0, fmt.Errorf("unknown rule type %q", s)
	}
}

// Operation says what a matching rule does to the item.
type Operation int

const (
	Include Operation = iota
	Exclude
)

func (o Operation) String() string {
	if o == Exclude {
		return "exclude"
	}
	return "include"
}

// ParseOperation converts "include"/"exclude" (or "+"/"-") to an Operation.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "include", "+":
		return Include, nil
	case "exclude", "-":
		return Exclude, nil
	default:
		return 0, fmt.Errorf("unknown rule operation %q", s)
	}
}

// Rule is a single user-defined include or exclude rule.
type Rule struct {
	// Match is consulted only for RuleCustom rules.
	Match     func(path string, attrs Attributes) bool
	ID        string
	Pattern   string
	Priority  int
	Type      RuleType
	Operation Operation
	Enabled   bool
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s %q (prio %d)", r.Operation, r.Type, r.Pattern, r.Priority)
}

// compiledRule pairs a rule with its precompiled matcher.
type compiledRule struct {
	rule  Rule
	match matcher
	seq   int // insertion order, used to keep equal priorities stable
}

func compileRule(r Rule, seq int) compiledRule {
	cr := compiledRule{rule: r, seq: seq}
	switch r.Type {
	case RuleSize:
		cr.match = newSizeMatcher(r.Pattern)
	case RuleExtension:
		cr.match = newExtensionMatcher(r.Pattern)
	case RuleName:
		cr.match = newTextMatcher(r.Pattern, func(_ string, a Attributes) string { return a.Name })
	case RulePath:
		cr.match = newTextMatcher(r.Pattern, func(p string, _ Attributes) string { return p })
	case RuleAttribute:
		cr.match = newAttributeMatcher(r.Pattern)
	case RuleCustom:
		fn := r.Match
		cr.match = func(path string, attrs Attributes) bool {
			return fn != nil && fn(path, attrs)
		}
	default:
		cr.match = func(string, Attributes) bool { return false }
	}
	return cr
}
