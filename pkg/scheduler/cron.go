package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expression is a parsed 5-field cron expression
// (minute hour day-of-month month day-of-week).
//
// Each field supports `*` (any), `a,b,c` (list), `a-b` (inclusive
// range), `*/n` (every value divisible by n), an exact integer, or any
// comma-separated mix of ranges and integers. Step syntax matches on
// value mod n == 0, so `*/15` in the minute field means minutes
// 0, 15, 30, and 45.
type Expression struct {
	fields [5]fieldMatcher
}

// fieldBounds holds the valid value range per cron field position
var fieldBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses a 5-field cron expression
func ParseCron(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron expression %q must have 5 fields, got %d", expr, len(parts))
	}

	var e Expression
	for i, part := range parts {
		m, err := parseField(part, fieldBounds[i].min, fieldBounds[i].max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", fieldBounds[i].name, part, err)
		}
		e.fields[i] = m
	}
	return &e, nil
}

// Matches reports whether the expression fires at the given instant.
// All five fields must match.
func (e *Expression) Matches(t time.Time) bool {
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, m := range e.fields {
		if !m.matches(values[i]) {
			return false
		}
	}
	return true
}

type fieldMatcher interface {
	matches(v int) bool
}

type anyMatcher struct{}

func (anyMatcher) matches(int) bool { return true }

type stepMatcher struct{ n int }

func (m stepMatcher) matches(v int) bool { return v%m.n == 0 }

type rangeMatcher struct{ lo, hi int }

func (m rangeMatcher) matches(v int) bool { return v >= m.lo && v <= m.hi }

type valueMatcher struct{ v int }

func (m valueMatcher) matches(v int) bool { return v == m.v }

// listMatcher matches if any member matches
type listMatcher []fieldMatcher

func (m listMatcher) matches(v int) bool {
	for _, sub := range m {
		if sub.matches(v) {
			return true
		}
	}
	return false
}

func parseField(s string, min, max int) (fieldMatcher, error) {
	if s == "*" {
		return anyMatcher{}, nil
	}

	if rest, ok := strings.CutPrefix(s, "*/"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("step must be a positive integer")
		}
		return stepMatcher{n: n}, nil
	}

	parts := strings.Split(s, ",")
	matchers := make(listMatcher, 0, len(parts))
	for _, part := range parts {
		m, err := parseAtom(part, min, max)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	if len(matchers) == 1 {
		return matchers[0], nil
	}
	return matchers, nil
}

// parseAtom parses one list member: an exact value or an inclusive range
func parseAtom(s string, min, max int) (fieldMatcher, error) {
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		start, err := parseValue(lo, min, max)
		if err != nil {
			return nil, err
		}
		end, err := parseValue(hi, min, max)
		if err != nil {
			return nil, err
		}
		if start > end {
			return nil, fmt.Errorf("range %s is inverted", s)
		}
		return rangeMatcher{lo: start, hi: end}, nil
	}

	v, err := parseValue(s, min, max)
	if err != nil {
		return nil, err
	}
	return valueMatcher{v: v}, nil
}

func parseValue(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", v, min, max)
	}
	return v, nil
}
