package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadDotenv reads a .env file and exports every variable that is not
// already set in the process environment. A missing file is not an error.
func LoadDotenv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	vars, err := parseDotenv(f)
	if err != nil {
		return err
	}
	for key, value := range vars {
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return nil
}

// parseDotenv extracts KEY=VALUE pairs, skipping blanks and # comments and
// stripping matching surrounding quotes from values.
func parseDotenv(f *os.File) (map[string]string, error) {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		vars[key] = value
	}
	return vars, scanner.Err()
}
