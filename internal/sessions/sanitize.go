package sessions

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/droverhq/drover/internal/config"
)

// dangerousChars are stripped from free-text answers before they are
// echoed back into the agent conversation.
const dangerousChars = "<>&\"'`"

// SanitizeAnswer strips dangerous characters and bounds the answer at
// config.MaxAnswerLen runes.
func SanitizeAnswer(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(dangerousChars, r) {
			return -1
		}
		return r
	}, s)
	return truncateRunes(s, config.MaxAnswerLen)
}

// TruncateLabel bounds an option label at config.MaxOptionLabelLen
// runes. Labels are display text only, so nothing is stripped.
func TruncateLabel(s string) string {
	return truncateRunes(s, config.MaxOptionLabelLen)
}

// SanitizeValue applies SanitizeAnswer across the shapes an answer can
// take: string, string list, bool or null. Option ids picked from a
// well-formed question contain no dangerous characters, so they pass
// through unchanged.
func SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return SanitizeAnswer(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = SanitizeAnswer(s)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// AnswerText renders an answer value for the human-readable tool
// result line.
func AnswerText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, AnswerText(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", val)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
