// Package cron validates and evaluates the cron expressions behind
// scheduled tasks. Expressions use the standard 5-field form, an
// optional seconds field in front, the @hourly family of aliases, and
// the Quartz extensions L, LW, DW and N#K.
package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// ErrInvalid marks a cron expression that failed validation or has no
// reachable fire time.
var ErrInvalid = errors.New("invalid cron expression")

// horizon caps the next-fire search. An expression with no fire time
// within a year of the reference has none at all.
const horizon = 366 * 24 * time.Hour

var aliases = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dayNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

type fieldSpec struct {
	name     string
	min, max int
	names    map[string]int
	dom      bool // allows L, LW, DW
	dow      bool // allows L, N#K
}

var fiveFields = []fieldSpec{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31, dom: true},
	{name: "month", min: 1, max: 12, names: monthNames},
	{name: "day-of-week", min: 0, max: 7, names: dayNames, dow: true},
}

var sixFields = append([]fieldSpec{{name: "second", min: 0, max: 59}}, fiveFields...)

type canonEntry struct {
	canon string
	err   error
}

var (
	cacheMu    sync.RWMutex
	canonCache = map[string]canonEntry{}
	validCache = map[string]error{}
)

// canonical expands aliases, collapses whitespace, uppercases tokens,
// rewrites a bare L in the weekday field to Saturday and runs the
// per-field syntax checks. Results are memoized by input string.
func canonical(expr string) (string, error) {
	cacheMu.RLock()
	e, ok := canonCache[expr]
	cacheMu.RUnlock()
	if ok {
		return e.canon, e.err
	}

	canon, err := buildCanonical(expr)
	cacheMu.Lock()
	canonCache[expr] = canonEntry{canon: canon, err: err}
	cacheMu.Unlock()
	return canon, err
}

func buildCanonical(expr string) (string, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty expression", ErrInvalid)
	}
	if strings.HasPrefix(trimmed, "@") {
		expanded, ok := aliases[strings.ToLower(trimmed)]
		if !ok {
			return "", fmt.Errorf("%w: unknown alias %q", ErrInvalid, trimmed)
		}
		trimmed = expanded
	}

	fields := strings.Fields(strings.ToUpper(trimmed))
	var specs []fieldSpec
	switch len(fields) {
	case 5:
		specs = fiveFields
	case 6:
		specs = sixFields
	default:
		return "", fmt.Errorf("%w: %d fields, want 5 or 6", ErrInvalid, len(fields))
	}

	for i, field := range fields {
		fs := specs[i]
		items := strings.Split(field, ",")
		for j, item := range items {
			norm, err := normalizeItem(fs, item)
			if err != nil {
				return "", fmt.Errorf("%w: %s field: %v", ErrInvalid, fs.name, err)
			}
			items[j] = norm
		}
		fields[i] = strings.Join(items, ",")
	}
	return strings.Join(fields, " "), nil
}

// normalizeItem validates one comma-list item and rewrites it to its
// canonical form: names become numbers, a bare L in the weekday field
// becomes Saturday.
func normalizeItem(fs fieldSpec, item string) (string, error) {
	if item == "" {
		return "", errors.New("empty list item")
	}
	if item == "*" {
		return "*", nil
	}

	if fs.dom {
		switch item {
		case "L", "LW":
			return item, nil
		}
		if day, ok := strings.CutSuffix(item, "W"); ok && !strings.ContainsAny(day, "-/,") {
			n, err := strconv.Atoi(day)
			if err != nil {
				return "", fmt.Errorf("bad nearest-weekday form %q", item)
			}
			if n < fs.min || n > fs.max {
				return "", fmt.Errorf("day %d out of range %d-%d", n, fs.min, fs.max)
			}
			return fmt.Sprintf("%dW", n), nil
		}
	}

	if fs.dow {
		if item == "L" {
			return "6", nil
		}
		if day, nth, ok := strings.Cut(item, "#"); ok {
			n, err := resolveValue(fs, day)
			if err != nil {
				return "", err
			}
			k, err := strconv.Atoi(nth)
			if err != nil || k < 1 || k > 5 {
				return "", fmt.Errorf("occurrence %q out of range 1-5", nth)
			}
			return fmt.Sprintf("%d#%d", n, k), nil
		}
	}

	base, step, hasStep := strings.Cut(item, "/")
	suffix := ""
	if hasStep {
		s, err := strconv.Atoi(step)
		if err != nil {
			return "", fmt.Errorf("bad step %q", step)
		}
		if s <= 0 {
			return "", fmt.Errorf("step %d must be positive", s)
		}
		if base != "*" && !strings.Contains(base, "-") {
			return "", fmt.Errorf("step needs a range or * base in %q", item)
		}
		suffix = fmt.Sprintf("/%d", s)
	}
	if base == "*" {
		return "*" + suffix, nil
	}
	if lo, hi, isRange := strings.Cut(base, "-"); isRange {
		l, err := resolveValue(fs, lo)
		if err != nil {
			return "", err
		}
		h, err := resolveValue(fs, hi)
		if err != nil {
			return "", err
		}
		if l > h {
			return "", fmt.Errorf("range %q runs backwards", base)
		}
		return fmt.Sprintf("%d-%d%s", l, h, suffix), nil
	}
	n, err := resolveValue(fs, base)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func resolveValue(fs fieldSpec, token string) (int, error) {
	if fs.names != nil {
		if v, ok := fs.names[token]; ok {
			return v, nil
		}
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("bad value %q", token)
	}
	if n < fs.min || n > fs.max {
		return 0, fmt.Errorf("value %d out of range %d-%d", n, fs.min, fs.max)
	}
	return n, nil
}

// Validate reports whether expr is usable: syntax checks pass, the
// evaluator accepts it, and a fire time exists within a year of now.
// Verdicts are memoized by canonical string.
func Validate(expr string) error {
	canon, err := canonical(expr)
	if err != nil {
		return err
	}

	cacheMu.RLock()
	verdict, ok := validCache[canon]
	cacheMu.RUnlock()
	if ok {
		return verdict
	}

	verdict = validateCanonical(canon)
	cacheMu.Lock()
	validCache[canon] = verdict
	cacheMu.Unlock()
	return verdict
}

func validateCanonical(canon string) error {
	if !gronx.New().IsValid(canon) {
		return fmt.Errorf("%w: %s", ErrInvalid, canon)
	}
	if _, err := nextAfter(canon, time.Now()); err != nil {
		return err
	}
	return nil
}

// Next returns the first fire time strictly after from. The reference
// is floored to the minute, or to the second for 6-field expressions.
func Next(expr string, from time.Time) (time.Time, error) {
	canon, err := canonical(expr)
	if err != nil {
		return time.Time{}, err
	}
	return nextAfter(canon, from)
}

func nextAfter(canon string, from time.Time) (time.Time, error) {
	ref := from.Truncate(time.Minute)
	if len(strings.Fields(canon)) == 6 {
		ref = from.Truncate(time.Second)
	}
	tick, err := gronx.NextTickAfter(canon, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s has no upcoming fire time", ErrInvalid, canon)
	}
	if tick.Sub(ref) > horizon {
		return time.Time{}, fmt.Errorf("%w: %s has no fire time within a year", ErrInvalid, canon)
	}
	return tick, nil
}

// NextN returns up to n successive fire times strictly after from.
func NextN(expr string, from time.Time, n int) ([]time.Time, error) {
	canon, err := canonical(expr)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, n)
	ref := from
	for i := 0; i < n; i++ {
		tick, err := nextAfter(canon, ref)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			break
		}
		out = append(out, tick)
		ref = tick
	}
	return out, nil
}

// IsDue reports whether a stored next-run timestamp has come due.
// Empty or malformed timestamps are never due.
func IsDue(nextRun string, now time.Time) bool {
	if nextRun == "" {
		return false
	}
	ts, err := time.Parse(time.RFC3339, nextRun)
	if err != nil {
		return false
	}
	return !now.Before(ts)
}
