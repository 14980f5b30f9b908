package secrets

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"

	"github.com/droverhq/drover/internal/config"
)

// StorePath returns the default secrets file path:
// $DROVER_PATH/secrets.env.
func StorePath() string {
	return filepath.Join(config.DroverPath(), "secrets.env")
}

// Store is an age-encrypted credential file. Every value on disk is an
// ENC[age:...] blob; plaintext never touches the file.
type Store struct {
	path     string
	identity *age.X25519Identity
}

// Open loads the store at path using the key at keyPath, generating a
// fresh identity on first use.
func Open(path, keyPath string) (*Store, error) {
	if err := GenerateIdentity(keyPath); err != nil {
		return nil, err
	}
	identity, err := LoadIdentity(keyPath)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, identity: identity}, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Set encrypts plaintext and writes it under name, replacing any
// previous value.
func (s *Store) Set(name, plaintext string) error {
	blob, err := Encrypt(plaintext, s.identity.Recipient())
	if err != nil {
		return err
	}
	return SetEntry(s.path, name, blob)
}

// Get decrypts and returns the value stored under name.
func (s *Store) Get(name string) (string, error) {
	entries, err := s.entries()
	if err != nil {
		return "", err
	}
	blob, ok := entries[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return Decrypt(blob, s.identity)
}

// Names returns the stored secret names, sorted. Values stay on disk.
func (s *Store) Names() ([]string, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Env decrypts every secret into KEY=VALUE pairs for the agent
// subprocess environment. Entries that fail to decrypt are skipped.
func (s *Store) Env() ([]string, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		plaintext, err := Decrypt(entries[name], s.identity)
		if err != nil {
			continue
		}
		out = append(out, name+"="+plaintext)
	}
	return out, nil
}

// entries reads the raw name → blob pairs. A missing file reads as
// empty.
func (s *Store) entries() (map[string]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("open secrets: %w", err)
	}
	defer f.Close()

	entries := make(map[string]string)
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
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		if !IsEncrypted(value) {
			continue
		}
		entries[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	return entries, nil
}
