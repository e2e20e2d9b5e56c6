// Package cfg is sealfs's configuration surface: a single Config struct
// bound from CLI flags via pflag/viper, the way gcsfuse's own cfg package
// binds its (much larger) flag set.
package cfg

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sealfs/sealfs/internal/aead"
)

// ResolvedPath is an absolute filesystem path, made absolute with
// filepath.Abs; symlinks in it are not resolved. Config
// fields of this type accept a relative path on the command line or in a
// config file and store the absolute form.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	resolved, err := resolvePath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(resolved)
	return nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	return abs, nil
}

// Cipher selects the AEAD algorithm new data directories are initialized
// with (spec §2's Cipher Suite).
type Cipher string

const (
	AES256GCM        Cipher = "aes256-gcm"
	ChaCha20Poly1305 Cipher = "chacha20-poly1305"
)

func (c *Cipher) UnmarshalText(text []byte) error {
	v := Cipher(strings.ToLower(string(text)))
	if !slices.Contains([]Cipher{AES256GCM, ChaCha20Poly1305}, v) {
		return fmt.Errorf("invalid cipher %q: must be one of %q, %q", text, AES256GCM, ChaCha20Poly1305)
	}
	*c = v
	return nil
}

// Suite returns the aead.Suite this Cipher selects.
func (c Cipher) Suite() aead.Suite {
	if c == ChaCha20Poly1305 {
		return aead.ChaCha20
	}
	return aead.AES256GCM
}

// LogFormat selects the default logger's text/json output.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

func (f *LogFormat) UnmarshalText(text []byte) error {
	v := LogFormat(strings.ToLower(string(text)))
	if v != LogFormatText && v != LogFormatJSON {
		return fmt.Errorf("invalid log format %q: must be %q or %q", text, LogFormatText, LogFormatJSON)
	}
	*f = v
	return nil
}
