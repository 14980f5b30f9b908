// Package secrets keeps agent credentials encrypted at rest. Values
// are age-encrypted ENC[age:...] blobs in a dotenv-shaped file and are
// only decrypted into the agent subprocess environment.
package secrets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/droverhq/drover/internal/config"
)

const (
	encPrefix = "ENC[age:"
	encSuffix = "]"
)

// KeyPath returns the default age key file path: $DROVER_PATH/.age-key.
func KeyPath() string {
	return filepath.Join(config.DroverPath(), ".age-key")
}

// GenerateIdentity writes a fresh X25519 key pair to path with 0o600.
// An existing key is left untouched, so the call is safe on every boot.
func GenerateIdentity(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	var b strings.Builder
	fmt.Fprintln(&b, "# created by drover")
	fmt.Fprintf(&b, "# public key: %s\n", identity.Recipient())
	fmt.Fprintln(&b, identity)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// LoadIdentity reads the X25519 private key from path.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer file.Close()

	ids, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", path)
}

// Encrypt seals plaintext for the recipient and wraps the ciphertext
// as an ENC[age:...] blob, base64 inside so it fits on one dotenv line.
func Encrypt(plaintext string, recipient *age.X25519Recipient) (string, error) {
	var sealed bytes.Buffer
	wc, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return "", fmt.Errorf("seal value: %w", err)
	}
	if _, err := io.WriteString(wc, plaintext); err != nil {
		return "", fmt.Errorf("seal value: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("seal value: %w", err)
	}
	return armor(sealed.Bytes()), nil
}

// Decrypt unwraps an ENC[age:...] blob back to plaintext.
func Decrypt(blob string, identity *age.X25519Identity) (string, error) {
	sealed, err := unarmor(blob)
	if err != nil {
		return "", err
	}

	rc, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return "", fmt.Errorf("unseal value: %w", err)
	}
	plaintext, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("unseal value: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether s is an ENC[age:...] blob.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix) && strings.HasSuffix(s, encSuffix)
}

func armor(ciphertext []byte) string {
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext) + encSuffix
}

func unarmor(blob string) ([]byte, error) {
	if !IsEncrypted(blob) {
		return nil, fmt.Errorf("value is not an ENC[age:...] blob")
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(blob, encPrefix), encSuffix)
	ciphertext, err := base64.StdEncoding.DecodeString(inner)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return ciphertext, nil
}
