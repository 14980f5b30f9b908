package secrets

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// SetEntry writes key=value into the dotenv file at path, replacing an
// existing assignment in place and appending otherwise. Comments, blank
// lines and the order of other entries survive the rewrite.
func SetEntry(path, key, value string) error {
	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}

	entry := key + "=" + quoteValue(value)

	replaced := false
	for i, line := range lines {
		if name, ok := entryName(line); ok && name == key {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	out := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(path, []byte(out), 0o600)
}

// entryName extracts the key of an assignment line. Comments and blank
// lines report false.
func entryName(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	name, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(name), true
}

// readLines returns the file's lines. A missing file reads as empty.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// quoteValue double-quotes values containing whitespace or shell
// metacharacters so the file stays loadable as a dotenv.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, " \t\"'\\#$") {
		return v
	}
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
