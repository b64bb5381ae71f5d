package main

import (
	"fmt"
	"strings"

	"github.com/bamsammich/tally/internal/filter"
)

// ruleFlag is a repeatable pflag.Value that keeps --rule values in
// command-line order.
type ruleFlag struct {
	rules []filter.Rule
}

func (f *ruleFlag) String() string {
	parts := make([]string, len(f.rules))
	for i, r := range f.rules {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

func (*ruleFlag) Type() string { return "rule" }

func (f *ruleFlag) Set(val string) error {
	r, err := filter.ParseRule(val)
	if err != nil {
		return err
	}
	r.ID = fmt.Sprintf("flag-%d", len(f.rules)+1)
	f.rules = append(f.rules, r)
	return nil
}
